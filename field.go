// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldscope

import "strings"

// Field is the abstract leaf of the document tree: a typed, addressed node
// whose value, display string and size are computed lazily and cached on
// first access. FieldSet (a composite Field) and every concrete leaf kind
// in leaves.go implement this interface, so format authors can add new
// leaf kinds without touching the driver.
type Field interface {
	// Name is unique among its parent's children once the parent is
	// sealed; it may end with "[]" until the driver assigns it a unique
	// index (see FieldSet.assignUniqueName).
	Name() string

	// Parent returns the owning FieldSet, or nil for the root.
	Parent() *FieldSet

	// Address is the field's bit offset relative to its parent's start.
	Address() uint64

	// Size returns the field's size in bits. For a FieldSet whose producer
	// is still live, computing the size may pull the remaining children.
	Size() (uint64, error)

	// Description is an optional human-readable string.
	Description() string

	// Endian is the field's byte/bit order, inherited from its parent
	// unless the field overrides it.
	Endian() Endian

	// Value returns the field's decoded value: an integer, float, string,
	// []byte, time.Time, or (for a FieldSet) the set itself.
	Value() (interface{}, error)

	// Display returns a human string rendering of Value.
	Display() (string, error)

	// RawDisplay returns a display string that never fails to decode,
	// falling back to a byte-escaped rendering when Value/Display would
	// otherwise error (e.g. a charset decoding failure).
	RawDisplay() (string, error)

	// IsFieldSet reports whether this Field is itself a composite
	// (FieldSet); used by the driver's auto-fix and truncation logic.
	IsFieldSet() bool

	// AbsoluteAddress is the sum of addresses from the root to this field,
	// i.e. its bit offset within the root InputStream.
	AbsoluteAddress() uint64

	// Path is the "/"-joined chain of names from the root to this field.
	Path() string
}

// baseField holds the state and accessors common to every concrete Field
// implementation (leaves.go) and to FieldSet itself.
type baseField struct {
	name        string
	parent      *FieldSet
	address     uint64
	description string
	endian      Endian
}

func newBaseField(parent *FieldSet, name string, description string) baseField {
	endian := BigEndian
	address := uint64(0)
	if parent != nil {
		endian = parent.endian
		address = parent.currentSize
	}
	return baseField{
		name:        name,
		parent:      parent,
		address:     address,
		description: description,
		endian:      endian,
	}
}

func (b *baseField) Name() string        { return b.name }
func (b *baseField) Parent() *FieldSet   { return b.parent }
func (b *baseField) Address() uint64     { return b.address }
func (b *baseField) Description() string { return b.description }
func (b *baseField) Endian() Endian      { return b.endian }
func (b *baseField) IsFieldSet() bool    { return false }

// setName and setAddress back the mutableField interface the field-set
// driver uses to assign a unique array name or fix up an address; format
// authors never call these directly.
func (b *baseField) setName(n string)    { b.name = n }
func (b *baseField) setAddress(a uint64) { b.address = a }

// AbsoluteAddress sums addresses from the root down to this field.
func (b *baseField) AbsoluteAddress() uint64 {
	addr := b.address
	for p := b.parent; p != nil; p = p.parent {
		addr += p.address
	}
	return addr
}

// Path joins names from the root down to this field with "/". The root
// itself is addressed as "/".
func (b *baseField) Path() string {
	if b.parent == nil {
		return "/"
	}
	parts := []string{b.name}
	for p := b.parent; p != nil && p.parent != nil; p = p.parent {
		parts = append(parts, p.name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/")
}

// stream returns the InputStream a leaf field reads from. Only called on
// leaves, whose parent is never nil.
func (b *baseField) stream() *InputStream {
	return b.parent.stream
}
