// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldscope

import (
	"errors"
	"fmt"
)

// Sentinel errors identifying the taxonomy from the field model: a caller
// can test the kind of failure with errors.Is even though every wrapper
// below also carries the offending field's path.
var (
	// ErrParser is returned for a structural violation inside a format: a
	// size mismatch, an invalid count, or a duplicate name the driver could
	// not resolve by retrying.
	ErrParser = errors.New("parser error")

	// ErrMatch is returned when a stream does not match the format a Parser
	// or its validate() predicate expects.
	ErrMatch = errors.New("match error")

	// ErrInputStream is returned for a read beyond the known end of a
	// stream, or from an unreadable source.
	ErrInputStream = errors.New("input stream error")

	// ErrMissingField is returned when a path lookup fails after the
	// producer that would have supplied it is exhausted.
	ErrMissingField = errors.New("missing field")

	// ErrUniqueKey is raised internally by OrderedUniqueMap on a duplicate
	// append; the field-set driver always converts it into a rename-and-
	// retry (see FieldSet.assignUniqueName) and it never escapes to a caller.
	ErrUniqueKey = errors.New("unique key violation")
)

// FieldError wraps one of the sentinel errors above with the path of the
// field that raised it and, where applicable, the underlying cause.
type FieldError struct {
	Kind  error
	Path  string
	Cause error
}

func (e *FieldError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Path)
}

// Unwrap lets errors.Is(err, ErrParser) etc. see through the wrapper, and
// also exposes the underlying cause when present.
func (e *FieldError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

func newParserError(path, format string, args ...interface{}) error {
	return &FieldError{Kind: ErrParser, Path: path, Cause: fmt.Errorf(format, args...)}
}

func newMatchError(path, format string, args ...interface{}) error {
	return &FieldError{Kind: ErrMatch, Path: path, Cause: fmt.Errorf(format, args...)}
}

func newInputStreamError(path, format string, args ...interface{}) error {
	return &FieldError{Kind: ErrInputStream, Path: path, Cause: fmt.Errorf(format, args...)}
}

func newMissingFieldError(path string) error {
	return &FieldError{Kind: ErrMissingField, Path: path}
}

func newUniqueKeyError(path, name string) error {
	return &FieldError{Kind: ErrUniqueKey, Path: path, Cause: fmt.Errorf("duplicate key %q", name)}
}
