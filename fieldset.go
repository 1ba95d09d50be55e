// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldscope

import (
	"fmt"
	"strings"

	"github.com/saferwall/fieldscope/log"
)

// mutableField is satisfied by every concrete Field the driver itself may
// rename or re-address: the array-suffix rename on a duplicate name, and
// the address fixups replaceField/writeFieldsIn perform. Format authors
// never need it; it stays unexported.
type mutableField interface {
	Field
	setName(string)
	setAddress(uint64)
}

// FieldSet is a lazily-filled, ordered collection of named fields read
// from a shared InputStream. It is itself a Field (a composite one), so
// a tree of FieldSets and leaves forms the document. A CreateFieldsFunc
// supplied at construction acts as the format's producer: the driver
// pulls one field at a time from it and only pulls more when a caller
// actually needs them (by index, by name, or by asking for the total
// size), so an unreferenced tail of a large container is never decoded.
type FieldSet struct {
	baseField

	stream *InputStream
	root   *FieldSet

	size        *uint64 // nil until known; never changes once set
	currentSize uint64

	fields          *orderedUniqueMap
	fieldArrayCount map[string]int
	arrayCache      map[string]*FakeArray

	createFieldsFn CreateFieldsFunc
	producer       *producer

	eventHandler       *EventHandler // this set's local listeners
	globalEventHandler *EventHandler // root-only; reached by every raise

	options *Options
	helper  *log.Helper
}

func newFieldSetCommon(parent *FieldSet, name, description string, size *uint64, endian Endian, opts *Options, createFields CreateFieldsFunc) *FieldSet {
	fs := &FieldSet{
		size:            size,
		fields:          newOrderedUniqueMap(),
		fieldArrayCount: make(map[string]int),
		arrayCache:      make(map[string]*FakeArray),
		createFieldsFn:  createFields,
	}
	fs.baseField = baseField{
		name:        name,
		parent:      parent,
		description: description,
		endian:      endian,
	}
	if parent != nil {
		fs.baseField.address = parent.currentSize
		fs.root = parent.root
		fs.stream = parent.stream
		fs.options = parent.options
	} else {
		fs.root = fs
	}
	if opts != nil {
		fs.options = opts
	}
	if fs.options == nil {
		fs.options = DefaultOptions()
	}
	fs.helper = fs.options.helper()
	fs.producer = startProducer(fs, createFields)
	return fs
}

// NewRootFieldSet creates the document's root field set. It owns stream
// and has no parent; every descendant FieldSet reaches it through root.
func NewRootFieldSet(name, description string, stream *InputStream, endian Endian, opts *Options, createFields CreateFieldsFunc) *FieldSet {
	fs := newFieldSetCommon(nil, name, description, nil, endian, opts, createFields)
	fs.stream = stream
	return fs
}

// NewChildFieldSet creates a field set inside parent. size is its size in
// bits, or nil to compute it lazily by feeding to completion. endian is
// nil to inherit parent's endian, or a pointer to override it.
func NewChildFieldSet(parent *FieldSet, name, description string, size *uint64, endian *Endian, createFields CreateFieldsFunc) *FieldSet {
	e := parent.endian
	if endian != nil {
		e = *endian
	}
	return newFieldSetCommon(parent, name, description, size, e, parent.options, createFields)
}

func (fs *FieldSet) optsAutoFix() bool { return fs.options.autoFix() }

// IsFieldSet reports true, overriding baseField's default.
func (fs *FieldSet) IsFieldSet() bool { return true }

// Value returns the field set itself: a composite field's "value" is the
// set of its children.
func (fs *FieldSet) Value() (interface{}, error) { return fs, nil }

// Display renders a short summary: path and total number of fields,
// feeding to completion first.
func (fs *FieldSet) Display() (string, error) {
	n, err := fs.Len()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("<%s, %d fields>", fs.Path(), n), nil
}

// RawDisplay is the same as Display: a FieldSet has no charset-dependent
// rendering that could fail the way a leaf's might.
func (fs *FieldSet) RawDisplay() (string, error) { return fs.Display() }

// Size returns the set's size in bits, feeding to completion first if it
// isn't known yet.
func (fs *FieldSet) Size() (uint64, error) {
	if fs.size == nil {
		if err := fs.feedAll(); err != nil {
			return 0, err
		}
	}
	if fs.size == nil {
		return 0, newParserError(fs.Path(), "size still unknown after feeding to completion")
	}
	return *fs.size, nil
}

// Len returns the number of fields, feeding to completion first.
func (fs *FieldSet) Len() (int, error) {
	if err := fs.feedAll(); err != nil {
		return 0, err
	}
	return fs.fields.Len(), nil
}

// CurrentLength returns the number of fields read so far, without feeding.
func (fs *FieldSet) CurrentLength() int { return fs.fields.Len() }

// CurrentSize returns the cumulative size in bits of the fields read so
// far, without feeding.
func (fs *FieldSet) CurrentSize() uint64 { return fs.currentSize }

// Done reports whether the producer has finished (normally or via an
// auto-fix truncation/seal).
func (fs *FieldSet) Done() bool { return fs.producer == nil }

// EOF reports whether fs has consumed every bit available to it under the
// nearest sized ancestor, so a format's own createFields loop can stop
// yielding without needing to know a final count ahead of time.
func (fs *FieldSet) EOF() bool { return fs.eof() }

// Peek reads nbytes at the current feed position without advancing it or
// creating a field, for a producer that needs to branch on upcoming bytes
// before deciding which field to yield next.
func (fs *FieldSet) Peek(nbytes uint64) ([]byte, error) {
	return fs.stream.ReadBytes(fs.AbsoluteAddress()+fs.currentSize, nbytes)
}

// StreamSize returns the root InputStream's total size in bits, and false
// if the underlying source's size isn't known (e.g. an unseekable pipe).
func (fs *FieldSet) StreamSize() (uint64, bool) {
	return fs.stream.Size()
}

// checkSize walks from fs up through sized ancestors, accumulating address
// offsets, to find how many bits remain before the nearest known boundary
// once size more bits are consumed from fs. ok is false only when no
// ancestor (including the root, whose stream size may itself be unknown)
// can answer yet and strict is false, meaning the caller should treat the
// question as "can't tell, don't block on it".
func (fs *FieldSet) checkSize(size uint64, strict bool) (dsize int64, ok bool, err error) {
	field := fs
	for field.size == nil {
		if field.parent == nil {
			if !strict {
				return 0, false, nil
			}
			if field.stream.SizeGE(size) {
				return 0, true, nil
			}
			return 0, false, newInputStreamError(fs.Path(), "not enough data to confirm size")
		}
		size += field.address
		field = field.parent
	}
	return int64(*field.size) - int64(size), true, nil
}

func (fs *FieldSet) eof() bool {
	d, ok, err := fs.checkSize(fs.currentSize+1, true)
	if err != nil {
		return true
	}
	if !ok {
		return false
	}
	return d < 0
}

// assignUniqueName turns a "prefix[]" name into "prefix[N]" for the next
// unused N in this set, the array-naming convention a format's producer
// uses for repeated fields (spec §5 "Array naming").
func (fs *FieldSet) assignUniqueName(mf mutableField) {
	key := strings.TrimSuffix(mf.Name(), "[]")
	n := fs.fieldArrayCount[key]
	fs.fieldArrayCount[key] = n + 1
	mf.setName(fmt.Sprintf("%s[%d]", key, n))
}

// addField appends field, fixing its address if the producer yielded it
// out of order, checking it still fits within the nearest sized ancestor,
// and retrying with a renamed, unique name on a name collision. stop is
// true when the caller should treat this as the producer's last field and
// seal the set.
func (fs *FieldSet) addField(field Field) (stop bool, err error) {
	mf, mutable := field.(mutableField)
	if strings.HasSuffix(field.Name(), "[]") && mutable {
		fs.assignUniqueName(mf)
	}
	if field.Address() != fs.currentSize && mutable {
		mf.setAddress(fs.currentSize)
	}

	size, sizeErr := field.Size()
	askStop := false
	if sizeErr != nil {
		child, isSet := field.(*FieldSet)
		if isSet && child.fields.Len() > 0 && child.eof() {
			if _, err := child.stopFeeding(); err != nil {
				return false, err
			}
			askStop = true
			size, err = field.Size()
			if err != nil {
				return false, err
			}
		} else {
			fs.helper.Warnf("error getting size of %s: %v", field.Path(), sizeErr)
			return false, sizeErr
		}
	}

	dsize, ok, csErr := fs.checkSize(field.Address()+size, false)
	if csErr != nil {
		return false, csErr
	}
	tooLarge := ok && dsize < 0
	if tooLarge || (field.IsFieldSet() && size == 0) {
		if !fs.optsAutoFix() {
			return false, newParserError(field.Path(), "field %s is too large", field.Path())
		}
		truncated, fixErr := fs.fixFieldSize(field, int64(size)+dsize)
		if fixErr != nil {
			return false, fixErr
		}
		if !truncated {
			return true, nil
		}
		size, err = field.Size()
		if err != nil {
			return false, err
		}
	}

	fs.currentSize += size
	if fs.options.Debug {
		fs.helper.Debugf("%s: added %s at %d, %d bits", fs.Path(), field.Name(), field.Address(), size)
	}
	if err := fs.fields.Append(field.Name(), field); err != nil {
		if !mutable {
			return false, newParserError(fs.Path(), "duplicate field name %s", field.Name())
		}
		fs.helper.Warnf("duplicate field name %s in %s", field.Name(), fs.Path())
		mf.setName(field.Name() + "[]")
		fs.assignUniqueName(mf)
		if err := fs.fields.Append(field.Name(), field); err != nil {
			return false, newParserError(fs.Path(), "duplicate field name %s", field.Name())
		}
	}
	return askStop, nil
}

// fixFieldSize is the auto-fix path for a field that doesn't fit: a child
// field set with room for a smaller version of itself is truncated in
// place and kept; otherwise the field is dropped entirely (and this set's
// own size sealed, if it wasn't already) and the caller stops feeding.
func (fs *FieldSet) fixFieldSize(field Field, newSize int64) (truncated bool, err error) {
	fs.helper.Warnf("autofix: %s is too large, adjusting", field.Path())
	if newSize > 0 {
		if child, isSet := field.(*FieldSet); isSet {
			if sz, szErr := child.Size(); szErr == nil && sz > 0 {
				if err := child.truncate(uint64(newSize)); err != nil {
					return false, err
				}
				return true, nil
			}
		}
		if fs.size == nil {
			sealed := fs.currentSize + uint64(newSize)
			fs.size = &sealed
		}
	}
	return false, nil
}

// truncate shrinks fs to size bits, dropping or recursively truncating
// trailing fields that no longer fit and padding the last surviving field
// with a raw field if it now straddles the new boundary.
func (fs *FieldSet) truncate(size uint64) error {
	if size < fs.currentSize {
		fs.helper.Warnf("truncating %s recursively", fs.Path())
		fs.size = &size
		var last Field
		for fs.fields.Len() > 0 {
			last = fs.fields.ValueByIndex(fs.fields.Len() - 1)
			if last.Address() < size {
				break
			}
			fs.fields.DeleteAt(fs.fields.Len() - 1)
			last = nil
		}
		if last == nil {
			return newParserError(fs.Path(), "truncate left no surviving fields")
		}
		fs.currentSize = last.Address()
		remaining := size - last.Address()
		lastSize, err := last.Size()
		if err != nil {
			return err
		}
		if remaining < lastSize {
			if child, isSet := last.(*FieldSet); isSet {
				if err := child.truncate(remaining); err != nil {
					return err
				}
			} else {
				fs.fields.DeleteAt(fs.fields.Len() - 1)
				raw := newRawField(fs, "raw[]", remaining)
				if err := fs.fields.Append(raw.Name(), raw); err != nil {
					return err
				}
			}
		}
		fs.currentSize = *fs.size
	} else {
		fs.size = &size
	}
	if fs.size != nil && *fs.size == fs.currentSize {
		if fs.producer != nil {
			fs.producer.Stop()
		}
		fs.producer = nil
	}
	return nil
}

// fixLastField is the auto-fix path once fs.size is known but the fields
// read so far overrun or undershoot it: trailing fields beyond size are
// deleted, and a shortfall is padded with a single raw field.
func (fs *FieldSet) fixLastField() (Field, error) {
	fs.producer = nil
	for *fs.size < fs.currentSize {
		idx := fs.fields.Len() - 1
		removed := fs.fields.ValueByIndex(idx)
		removedSize, err := removed.Size()
		if err != nil {
			return nil, err
		}
		fs.fields.DeleteAt(idx)
		fs.currentSize -= removedSize
		fs.helper.Warnf("autofix: delete field %s", removed.Path())
	}
	remaining := *fs.size - fs.currentSize
	var field Field
	if remaining > 0 {
		field = newRawField(fs, "raw[]", remaining)
		fs.currentSize += remaining
		if err := fs.fields.Append(field.Name(), field); err != nil {
			return nil, err
		}
	}
	fs.helper.Warnf("autofix: fixed parser error in %s", fs.Path())
	return field, nil
}

// stopFeeding seals fs once its producer has no more fields: an
// until-now-unknown size becomes the current size, and a known size that
// disagrees with it is either repaired (auto-fix) or reported.
func (fs *FieldSet) stopFeeding() (Field, error) {
	var newField Field
	if fs.size == nil {
		if fs.parent != nil {
			sz := fs.currentSize
			fs.size = &sz
		}
	} else if *fs.size != fs.currentSize {
		if !fs.optsAutoFix() {
			return nil, newParserError(fs.Path(), "invalid size for %s: expected %d bits, got %d", fs.Path(), *fs.size, fs.currentSize)
		}
		f, err := fs.fixLastField()
		if err != nil {
			return nil, err
		}
		newField = f
	}
	fs.producer = nil
	return newField, nil
}

// fixFeedError is the auto-fix path for an error raised while pulling a
// field from the producer (as opposed to one raised while sizing a field
// the producer already yielded). recovered is false when auto-fix does
// not apply and feedErr should propagate to the caller unchanged.
func (fs *FieldSet) fixFeedError(feedErr error) (field Field, recovered bool, err error) {
	if fs.size == nil || !fs.optsAutoFix() {
		return nil, false, nil
	}
	fs.helper.Warnf("%v", feedErr)
	f, err := fs.fixLastField()
	if err != nil {
		return nil, false, err
	}
	return f, true, nil
}

// feedUntil pulls fields until one named name is added (returning it) or
// the producer is exhausted (returning nil, nil).
func (fs *FieldSet) feedUntil(name string) (Field, error) {
	for fs.producer != nil {
		field, perr, ok := fs.producer.Next()
		if !ok {
			if perr != nil {
				_, recovered, err := fs.fixFeedError(perr)
				if err != nil {
					return nil, err
				}
				if !recovered {
					return nil, perr
				}
				return nil, nil
			}
			if _, err := fs.stopFeeding(); err != nil {
				return nil, err
			}
			return nil, nil
		}
		stop, err := fs.addField(field)
		if err != nil {
			return nil, err
		}
		if stop {
			if _, err := fs.stopFeeding(); err != nil {
				return nil, err
			}
			return nil, nil
		}
		if field.Name() == name {
			return field, nil
		}
	}
	return nil, nil
}

// readFirstFields ensures at least number fields have been read, pulling
// more only if needed.
func (fs *FieldSet) readFirstFields(number int) (int, error) {
	if fs.producer == nil {
		return 0, nil
	}
	remaining := number - fs.fields.Len()
	if remaining <= 0 {
		return 0, nil
	}
	return fs.readMoreFields(remaining)
}

// readMoreFields pulls up to number additional fields, stopping early if
// the producer finishes first.
func (fs *FieldSet) readMoreFields(number int) (int, error) {
	if fs.producer == nil {
		return 0, nil
	}
	added := 0
	for i := 0; i < number; i++ {
		field, perr, ok := fs.producer.Next()
		if !ok {
			if perr != nil {
				_, recovered, err := fs.fixFeedError(perr)
				if err != nil {
					return added, err
				}
				if !recovered {
					return added, perr
				}
				return added + 1, nil
			}
			newField, err := fs.stopFeeding()
			if err != nil {
				return added, err
			}
			if newField != nil {
				added++
			}
			return added, nil
		}
		stop, err := fs.addField(field)
		if err != nil {
			return added, err
		}
		added++
		if stop {
			if _, err := fs.stopFeeding(); err != nil {
				return added, err
			}
			return added, nil
		}
	}
	return added, nil
}

// feedAll drains the producer completely.
func (fs *FieldSet) feedAll() error {
	for fs.producer != nil {
		field, perr, ok := fs.producer.Next()
		if !ok {
			if perr != nil {
				_, recovered, err := fs.fixFeedError(perr)
				if err != nil {
					return err
				}
				if !recovered {
					return perr
				}
				return nil
			}
			_, err := fs.stopFeeding()
			return err
		}
		stop, err := fs.addField(field)
		if err != nil {
			return err
		}
		if stop {
			_, err := fs.stopFeeding()
			return err
		}
	}
	return nil
}

// Close stops this set's producer goroutine, if it is still running, and
// recursively closes every child FieldSet materialized so far. Call it
// when abandoning a tree before some of its FieldSets have fed to
// completion (a partial Field/FieldByIndex lookup that never reaches
// EOF) so their producer goroutines don't block forever waiting to be
// resumed; feedAll/stopFeeding already clear fs.producer on the normal
// completion path, so Close is a no-op there.
func (fs *FieldSet) Close() {
	if fs.producer != nil {
		fs.producer.Stop()
		fs.producer = nil
	}
	for _, f := range fs.fields.Values() {
		if child, ok := f.(*FieldSet); ok {
			child.Close()
		}
	}
}

// Reset restarts feeding from scratch: the producer is stopped and
// relaunched, fields and array counters are cleared, but name, value,
// description and size are preserved.
func (fs *FieldSet) Reset() {
	if fs.producer != nil {
		fs.producer.Stop()
	}
	fs.fields = newOrderedUniqueMap()
	fs.fieldArrayCount = make(map[string]int)
	fs.arrayCache = make(map[string]*FakeArray)
	fs.currentSize = 0
	fs.producer = startProducer(fs, fs.createFieldsFn)
}

// child looks up a direct child by name, pulling more fields from the
// producer only if it isn't already present.
func (fs *FieldSet) child(name string) (Field, error) {
	if f := fs.fields.Get(name); f != nil {
		return f, nil
	}
	if fs.producer == nil {
		return nil, nil
	}
	return fs.feedUntil(name)
}

// Field resolves a "/"-separated path relative to fs (a leading "/" starts
// from the root instead, and ".." steps up to the parent), lazily feeding
// whichever FieldSet along the way doesn't yet hold the next component.
func (fs *FieldSet) Field(path string) (Field, error) {
	if path == "" || path == "." {
		return fs, nil
	}
	var cur Field = fs
	if strings.HasPrefix(path, "/") {
		cur = fs.root
		path = strings.TrimPrefix(path, "/")
		if path == "" {
			return cur, nil
		}
	}
	for _, part := range strings.Split(path, "/") {
		if part == "" || part == "." {
			continue
		}
		set, ok := cur.(*FieldSet)
		if !ok {
			return nil, newMissingFieldError(path)
		}
		if part == ".." {
			if set.parent == nil {
				return nil, newMissingFieldError(path)
			}
			cur = set.parent
			continue
		}
		next, err := set.child(part)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, newMissingFieldError(path)
		}
		cur = next
	}
	return cur, nil
}

// FieldByIndex returns the i'th field, pulling from the producer if fewer
// than i+1 fields have been read yet.
func (fs *FieldSet) FieldByIndex(i int) (Field, error) {
	if i < 0 {
		return nil, newParserError(fs.Path(), "field index must not be negative")
	}
	if _, err := fs.readFirstFields(i + 1); err != nil {
		return nil, err
	}
	if i >= fs.fields.Len() {
		return nil, newMissingFieldError(fmt.Sprintf("%s[%d]", fs.Path(), i))
	}
	return fs.fields.ValueByIndex(i), nil
}

// FieldByAddress finds the already-read field covering address (a bit
// offset relative to fs), optionally feeding to completion first. It
// never pulls just enough to reach address — only all-or-nothing, since
// the underlying order is by construction monotonic in address.
func (fs *FieldSet) FieldByAddress(address uint64, feed bool) (Field, error) {
	if feed && fs.producer != nil {
		if err := fs.feedAll(); err != nil {
			return nil, err
		}
	}
	if address >= fs.currentSize {
		return nil, nil
	}
	values := fs.fields.Values()
	lo, hi := 0, len(values)
	for lo < hi {
		mid := (lo + hi) / 2
		sz, err := values[mid].Size()
		if err != nil {
			return nil, err
		}
		if values[mid].Address()+sz <= address {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(values) {
		return values[lo], nil
	}
	return nil, nil
}

// SeekBit returns a padding (or null) field spanning from the current
// read position to address, or nil if already there. address is relative
// to fs unless relative is false, in which case it is absolute within the
// root stream.
func (fs *FieldSet) SeekBit(address uint64, name, description string, relative, null bool) (Field, error) {
	if name == "" {
		name = "padding[]"
	}
	var nbits int64
	if relative {
		nbits = int64(address) - int64(fs.currentSize)
	} else {
		nbits = int64(address) - int64(fs.AbsoluteAddress()+fs.currentSize)
	}
	if nbits < 0 {
		return nil, newParserError(fs.Path(), "seek error, unable to go back")
	}
	if nbits == 0 {
		return nil, nil
	}
	if null {
		return newNullField(fs, name, description, uint64(nbits)), nil
	}
	return newPaddingField(fs, name, description, uint64(nbits), nil), nil
}

// SeekByte is SeekBit with address expressed in bytes.
func (fs *FieldSet) SeekByte(address uint64, name, description string, relative, null bool) (Field, error) {
	return fs.SeekBit(address*8, name, description, relative, null)
}

// ReplaceField swaps the field named name for newFields, which together
// must occupy exactly the same number of bits. Only the first replacement
// can reuse the old position's name; any additional fields are inserted
// after it.
func (fs *FieldSet) ReplaceField(name string, newFields []Field) error {
	if len(newFields) < 1 {
		return newParserError(fs.Path(), "replaceField requires at least one field")
	}
	oldField := fs.fields.Get(name)
	if oldField == nil {
		return newParserError(fs.Path(), "unable to replace %s: field doesn't exist", name)
	}
	oldSize, err := oldField.Size()
	if err != nil {
		return err
	}
	var totalSize uint64
	for _, f := range newFields {
		sz, err := f.Size()
		if err != nil {
			return err
		}
		totalSize += sz
	}
	if oldSize != totalSize {
		return newParserError(fs.Path(), "unable to replace %s: new fields total %d bits instead of %d", name, totalSize, oldSize)
	}

	field := newFields[0]
	if mf, ok := field.(mutableField); ok {
		if strings.HasSuffix(field.Name(), "[]") {
			fs.assignUniqueName(mf)
		}
		mf.setAddress(oldField.Address())
	}
	if field.Name() != name && fs.fields.Get(field.Name()) != nil {
		return newParserError(fs.Path(), "unable to replace %s: name %q already used", name, field.Name())
	}
	if err := fs.fields.Replace(name, field.Name(), field); err != nil {
		return err
	}
	fs.raiseEvent(EventFieldReplaced, oldField, field)

	if len(newFields) > 1 {
		index := fs.fields.IndexOf(field.Name()) + 1
		fieldSize, _ := field.Size()
		address := field.Address() + fieldSize
		for _, next := range newFields[1:] {
			if mf, ok := next.(mutableField); ok {
				if strings.HasSuffix(next.Name(), "[]") {
					fs.assignUniqueName(mf)
				}
				mf.setAddress(address)
			}
			if fs.fields.Get(next.Name()) != nil {
				return newParserError(fs.Path(), "unable to replace %s: name %q already used", name, next.Name())
			}
			if err := fs.fields.InsertAt(index, next.Name(), next); err != nil {
				return err
			}
			fs.raiseEvent(EventFieldInserted, index, next)
			index++
			nextSize, _ := next.Size()
			address += nextSize
		}
	}
	return nil
}

// WriteFieldsIn overwrites the span covered by oldField with newFields
// starting at address, padding any gap before or after with a plain
// padding field, then commits the whole span through ReplaceField.
func (fs *FieldSet) WriteFieldsIn(oldField Field, address uint64, newFields []Field) error {
	var totalSize uint64
	for _, f := range newFields {
		sz, err := f.Size()
		if err != nil {
			return err
		}
		totalSize += sz
	}
	oldSize, err := oldField.Size()
	if err != nil {
		return err
	}
	if oldSize < totalSize {
		return newParserError(fs.Path(), "unable to write fields at address %d (too big)", address)
	}

	var replacement []Field
	if address > oldField.Address() {
		gap := address - oldField.Address()
		pad := newPaddingField(fs, "padding[]", "", gap, nil)
		if mf, ok := pad.(mutableField); ok {
			mf.setAddress(oldField.Address())
		}
		replacement = append(replacement, pad)
	}
	cur := address
	for _, f := range newFields {
		if mf, ok := f.(mutableField); ok {
			mf.setAddress(cur)
		}
		sz, _ := f.Size()
		cur += sz
		replacement = append(replacement, f)
	}
	tailGap := (oldField.Address() + oldSize) - cur
	if tailGap > 0 {
		pad := newPaddingField(fs, "padding[]", "", tailGap, nil)
		if mf, ok := pad.(mutableField); ok {
			mf.setAddress(cur)
		}
		replacement = append(replacement, pad)
	}
	return fs.ReplaceField(oldField.Name(), replacement)
}

// ConnectEvent registers handler for name. local scopes it to this set;
// otherwise it is registered on the root and reached by every raise in
// the document.
func (fs *FieldSet) ConnectEvent(name EventName, handler func(args ...interface{}), local bool) {
	if local {
		if fs.eventHandler == nil {
			fs.eventHandler = NewEventHandler()
		}
		fs.eventHandler.Connect(name, handler)
	} else {
		if fs.root.globalEventHandler == nil {
			fs.root.globalEventHandler = NewEventHandler()
		}
		fs.root.globalEventHandler.Connect(name, handler)
	}
}

func (fs *FieldSet) raiseEvent(name EventName, args ...interface{}) {
	fs.eventHandler.Raise(name, args...)
	fs.root.globalEventHandler.Raise(name, args...)
}

// FakeArray is a lazy, read-only view over the same-prefix array fields
// ("name[0]", "name[1]", ...) a producer yields, without materialising a
// slice of them up front.
type FakeArray struct {
	fs     *FieldSet
	prefix string
}

// At returns the index'th element of the array, feeding the owning set
// until it is produced (or the producer is exhausted).
func (a *FakeArray) At(index int) (Field, error) {
	name := fmt.Sprintf("%s[%d]", a.prefix, index)
	if f := a.fs.fields.Get(name); f != nil {
		return f, nil
	}
	if a.fs.producer == nil {
		return nil, newMissingFieldError(name)
	}
	f, err := a.fs.feedUntil(name)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, newMissingFieldError(name)
	}
	return f, nil
}

// Array returns (creating and caching on first call) the lazy view over
// fields named "prefix[N]".
func (fs *FieldSet) Array(prefix string) *FakeArray {
	if a, ok := fs.arrayCache[prefix]; ok {
		return a
	}
	a := &FakeArray{fs: fs, prefix: prefix}
	fs.arrayCache[prefix] = a
	return a
}
