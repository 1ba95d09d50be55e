// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
	"testing"

	"github.com/saferwall/fieldscope"
)

// buildMinimalPE assembles a DOS header (e_lfanew pointing right after it)
// followed by a PE signature and a COFF file header for an x86-64 image
// with zero sections.
func buildMinimalPE() []byte {
	dos := make([]byte, 64)
	binary.LittleEndian.PutUint16(dos[0:2], dosSignature)
	binary.LittleEndian.PutUint32(dos[60:64], 64) // e_lfanew

	nt := make([]byte, 4+20)
	binary.LittleEndian.PutUint32(nt[0:4], ntSignature)
	binary.LittleEndian.PutUint16(nt[4:6], 0x8664) // machine = AMD64
	binary.LittleEndian.PutUint16(nt[6:8], 0)      // number_of_sections

	return append(dos, nt...)
}

func TestValidate(t *testing.T) {
	stream := fieldscope.NewInputStreamBytes(buildMinimalPE(), fieldscope.LittleEndian, "test")
	ok, reason := validate(stream)
	if !ok {
		t.Fatalf("validate() = false (%s), want true", reason)
	}
}

func TestParseHeaders(t *testing.T) {
	p := NewParser()
	stream := fieldscope.NewInputStreamBytes(buildMinimalPE(), fieldscope.LittleEndian, "test")
	fs, err := p.Parse(stream)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	lfanew, err := fs.Field("dos_header/e_lfanew")
	if err != nil {
		t.Fatalf("Field(dos_header/e_lfanew) failed: %v", err)
	}
	v, err := lfanew.Value()
	if err != nil {
		t.Fatalf("Value() failed: %v", err)
	}
	if v.(int64) != 64 {
		t.Fatalf("e_lfanew = %v, want 64", v)
	}

	machine, err := fs.Field("nt_header/file_header/machine")
	if err != nil {
		t.Fatalf("Field(nt_header/file_header/machine) failed: %v", err)
	}
	display, err := machine.Display()
	if err != nil {
		t.Fatalf("Display() failed: %v", err)
	}
	if display != "AMD64" {
		t.Fatalf("machine display = %q, want %q", display, "AMD64")
	}
}
