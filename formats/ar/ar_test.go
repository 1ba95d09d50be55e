// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ar

import (
	"strings"
	"testing"

	"github.com/saferwall/fieldscope"
)

func buildArchive(entries ...string) []byte {
	var b strings.Builder
	b.WriteString(magic)
	for _, e := range entries {
		b.WriteString(e)
	}
	return []byte(b.String())
}

func header(name string, size int) string {
	// name(16) mtime(12) uid(6) gid(6) mode(8) size(10) magic(2)
	return pad(name, 16) + pad("0", 12) + pad("0", 6) + pad("0", 6) +
		pad("100644", 8) + pad(itoa(size), 10) + "`\n"
}

func pad(s string, n int) string {
	for len(s) < n {
		s += " "
	}
	return s
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}

func TestValidateAcceptsArchive(t *testing.T) {
	content := "hello ar"
	data := buildArchive(header("hello.txt/", len(content)) + content)

	stream := fieldscope.NewInputStreamBytes(data, fieldscope.BigEndian, "test")
	ok, reason := validate(stream)
	if !ok {
		t.Fatalf("validate() = false, want true (reason: %s)", reason)
	}
}

func TestParseSingleEntry(t *testing.T) {
	content := "hello ar"
	data := buildArchive(header("hello.txt/", len(content)) + content)

	p := NewParser()
	stream := fieldscope.NewInputStreamBytes(data, fieldscope.BigEndian, "test")
	fs, err := p.Parse(stream)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	n, err := fs.Len()
	if err != nil {
		t.Fatalf("Len() failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("Len() = %d, want 2 (id + file[0])", n)
	}

	entry, err := fs.Field("file[0]")
	if err != nil {
		t.Fatalf("Field(file[0]) failed: %v", err)
	}
	inner, ok := entry.(interface{ Field(string) (fieldscope.Field, error) })
	if !ok {
		t.Fatalf("file[0] is not a FieldSet")
	}
	body, err := inner.Field("content")
	if err != nil {
		t.Fatalf("Field(content) failed: %v", err)
	}
	v, err := body.Value()
	if err != nil {
		t.Fatalf("Value() failed: %v", err)
	}
	if string(v.([]byte)) != content {
		t.Fatalf("content = %q, want %q", v, content)
	}
}

func TestRejectsWrongMagic(t *testing.T) {
	stream := fieldscope.NewInputStreamBytes([]byte("not an archive"), fieldscope.BigEndian, "test")
	ok, _ := validate(stream)
	if ok {
		t.Fatalf("validate() = true, want false for non-archive data")
	}
}
