// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package ar parses Unix "ar" archives (.a static libraries and .deb
// packages share this container format).
package ar

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/saferwall/fieldscope"
)

const magic = "!<arch>\n"

// NewParser returns the registered Parser for the Unix archive format.
func NewParser() *fieldscope.Parser {
	return &fieldscope.Parser{
		Tags: fieldscope.Tags{
			ID:       "ar",
			Category: "archive",
			FileExt:  []string{"*.a", "*.deb"},
			MIME: []string{
				"application/x-archive",
				"application/x-debian-package",
				"application/x-dpkg",
			},
			Magic:       []fieldscope.MagicTag{{Bytes: []byte(magic)}},
			MinSize:     (8 + 13) * 8, // signature + smallest possible entry
			Description: "Unix archive",
		},
		Endian:       fieldscope.BigEndian,
		Validate:     validate,
		CreateFields: createFields,
	}
}

func validate(stream *fieldscope.InputStream) (bool, string) {
	sig, err := stream.ReadBytes(0, uint64(len(magic)))
	if err != nil || string(sig) != magic {
		return false, "invalid magic string"
	}
	return true, ""
}

func createFields(fs *fieldscope.FieldSet, yield fieldscope.Yield) error {
	if !yield(fieldscope.String(fs, "id", `Unix archive identifier ("!<arch>")`, 8, nil, false)) {
		return nil
	}
	for !fs.EOF() {
		peek, err := fs.Peek(1)
		if err != nil {
			return err
		}
		if len(peek) > 0 && peek[0] == '\n' {
			if !yield(fieldscope.Line(fs, "empty_line[]", "Empty line", nil)) {
				return nil
			}
			continue
		}
		if !yield(newEntryFieldSet(fs, "file[]", "File")) {
			return nil
		}
	}
	return nil
}

// newEntryFieldSet builds one archive member: its fixed-format header line
// (name, timestamps, owner/group ids, mode, size, and the trailing magic
// "`\n") followed by size bytes of file content, when size is nonzero.
func newEntryFieldSet(parent *fieldscope.FieldSet, name, description string) *fieldscope.FieldSet {
	return fieldscope.NewChildFieldSet(parent, name, description, nil, nil, func(self *fieldscope.FieldSet, yield fieldscope.Yield) error {
		if !yield(fieldscope.Line(self, "header", "Header", nil)) {
			return nil
		}
		header, err := self.Field("header")
		if err != nil {
			return err
		}
		line, err := header.Value()
		if err != nil {
			return err
		}
		info := strings.Fields(line.(string))
		if len(info) != 7 {
			return fmt.Errorf("%w: %s: invalid file entry header", fieldscope.ErrParser, self.Path())
		}
		size, err := strconv.ParseInt(info[5], 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s: invalid file entry header size %q", fieldscope.ErrParser, self.Path(), info[5])
		}
		if size > 0 {
			if !yield(fieldscope.RawBytes(self, "content", "File data", uint64(size))) {
				return nil
			}
		}
		return nil
	})
}
