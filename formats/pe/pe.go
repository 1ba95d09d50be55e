// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package pe describes a Windows Portable Executable's DOS stub and COFF
// file header as a lazy field tree. It is a deliberately small slice of
// the format: enough to locate and label the NT headers without eagerly
// decoding the optional header, data directories or section table, which
// a caller interested only in, say, e_lfanew never needs touched.
package pe

import (
	"github.com/saferwall/fieldscope"
)

const (
	dosSignature   = 0x5A4D // "MZ"
	dosZMSignature = 0x4D5A // byte-swapped "MZ", seen on some non-PE EXEs
	ntSignature    = 0x00004550
)

var machineTypes = map[int64]string{
	0x0:    "UNKNOWN",
	0x014c: "I386",
	0x0200: "IA64",
	0x8664: "AMD64",
	0x01c0: "ARM",
	0xaa64: "ARM64",
}

// NewParser returns the registered Parser for the PE DOS-stub and COFF
// header region.
func NewParser() *fieldscope.Parser {
	return &fieldscope.Parser{
		Tags: fieldscope.Tags{
			ID:          "pe",
			Category:    "executable",
			FileExt:     []string{"*.exe", "*.dll", "*.sys", "*.ocx"},
			MIME:        []string{"application/vnd.microsoft.portable-executable", "application/x-dosexec"},
			Magic:       []fieldscope.MagicTag{{Bytes: []byte{0x4D, 0x5A}}},
			MinSize:     64 * 8,
			Description: "Windows Portable Executable (DOS stub + COFF header)",
		},
		Endian:       fieldscope.LittleEndian,
		Validate:     validate,
		CreateFields: createFields,
	}
}

func validate(stream *fieldscope.InputStream) (bool, string) {
	magic, err := stream.ReadInteger(0, false, 16, fieldscope.LittleEndian)
	if err != nil {
		return false, "unable to read DOS signature"
	}
	if magic != dosSignature && magic != dosZMSignature {
		return false, "invalid DOS signature"
	}
	return true, ""
}

func createFields(fs *fieldscope.FieldSet, yield fieldscope.Yield) error {
	if !yield(newDOSHeader(fs, "dos_header", "MS-DOS stub header")) {
		return nil
	}

	lfanewField, err := fs.Field("dos_header/e_lfanew")
	if err != nil {
		return err
	}
	lfanewVal, err := lfanewField.Value()
	if err != nil {
		return err
	}
	lfanew := uint64(lfanewVal.(int64))

	if lfanew < 4 {
		return nil // e_lfanew can't point inside the signature itself
	}
	if gap := lfanew*8 - fs.CurrentSize(); gap > 0 {
		if !yield(fieldscope.RawBytes(fs, "dos_stub", "DOS real-mode stub program", gap/8)) {
			return nil
		}
	}

	if !yield(newNTHeader(fs, "nt_header", "PE signature and COFF file header")) {
		return nil
	}
	return nil
}

// newDOSHeader mirrors IMAGE_DOS_HEADER field for field, ending in
// e_lfanew, the only field of the stub a PE reader actually needs.
func newDOSHeader(parent *fieldscope.FieldSet, name, description string) *fieldscope.FieldSet {
	return fieldscope.NewChildFieldSet(parent, name, description, nil, nil, func(self *fieldscope.FieldSet, yield fieldscope.Yield) error {
		fields := []struct{ name, desc string }{
			{"e_magic", "Magic number"},
			{"e_cblp", "Bytes on last page of file"},
			{"e_cp", "Pages in file"},
			{"e_crlc", "Relocations"},
			{"e_cparhdr", "Size of header in paragraphs"},
			{"e_minalloc", "Minimum extra paragraphs needed"},
			{"e_maxalloc", "Maximum extra paragraphs needed"},
			{"e_ss", "Initial (relative) SS value"},
			{"e_sp", "Initial SP value"},
			{"e_csum", "Checksum"},
			{"e_ip", "Initial IP value"},
			{"e_cs", "Initial (relative) CS value"},
			{"e_lfarlc", "File address of relocation table"},
			{"e_ovno", "Overlay number"},
		}
		for _, f := range fields {
			if !yield(fieldscope.UInt16(self, f.name, f.desc)) {
				return nil
			}
		}
		for i := 0; i < 4; i++ {
			if !yield(fieldscope.UInt16(self, "e_res[]", "Reserved word")) {
				return nil
			}
		}
		if !yield(fieldscope.UInt16(self, "e_oemid", "OEM identifier")) {
			return nil
		}
		if !yield(fieldscope.UInt16(self, "e_oeminfo", "OEM information")) {
			return nil
		}
		for i := 0; i < 10; i++ {
			if !yield(fieldscope.UInt16(self, "e_res2[]", "Reserved word")) {
				return nil
			}
		}
		if !yield(fieldscope.UInt32(self, "e_lfanew", "File address of new EXE header")) {
			return nil
		}
		return nil
	})
}

// newNTHeader decodes the four-byte "PE\0\0" signature and the COFF
// IMAGE_FILE_HEADER that follows it; the optional header and section
// table are out of scope for this slice of the format.
func newNTHeader(parent *fieldscope.FieldSet, name, description string) *fieldscope.FieldSet {
	return fieldscope.NewChildFieldSet(parent, name, description, nil, nil, func(self *fieldscope.FieldSet, yield fieldscope.Yield) error {
		if !yield(fieldscope.UInt32(self, "signature", `PE signature ("PE\0\0")`)) {
			return nil
		}
		if !yield(newFileHeader(self, "file_header", "COFF file header")) {
			return nil
		}
		return nil
	})
}

func newFileHeader(parent *fieldscope.FieldSet, name, description string) *fieldscope.FieldSet {
	return fieldscope.NewChildFieldSet(parent, name, description, nil, nil, func(self *fieldscope.FieldSet, yield fieldscope.Yield) error {
		if !yield(fieldscope.Enum(fieldscope.UInt16(self, "machine", "Target machine type"), machineTypes)) {
			return nil
		}
		if !yield(fieldscope.UInt16(self, "number_of_sections", "Number of sections")) {
			return nil
		}
		if !yield(fieldscope.UInt32(self, "time_date_stamp", "Creation timestamp (seconds since the Unix epoch)")) {
			return nil
		}
		if !yield(fieldscope.UInt32(self, "pointer_to_symbol_table", "File offset of the COFF symbol table")) {
			return nil
		}
		if !yield(fieldscope.UInt32(self, "number_of_symbols", "Number of symbol table entries")) {
			return nil
		}
		if !yield(fieldscope.UInt16(self, "size_of_optional_header", "Size of the optional header")) {
			return nil
		}
		if !yield(fieldscope.Bits(self, "characteristics", "File characteristics flags", 16)) {
			return nil
		}
		return nil
	})
}
