// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldscope

import (
	"math"
	"testing"
)

func rootStream(data []byte) *InputStream {
	return NewInputStreamBytes(data, BigEndian, "test")
}

func rootSet(data []byte, opts *Options, fn CreateFieldsFunc) *FieldSet {
	return NewRootFieldSet("root", "", rootStream(data), BigEndian, opts, fn)
}

func TestEnumDisplayFallsBackToHex(t *testing.T) {
	mapping := map[int64]string{1: "one", 2: "two"}
	fs := rootSet([]byte{0xAB}, nil, func(self *FieldSet, yield Yield) error {
		yield(Enum(UInt8(self, "v", ""), mapping))
		return nil
	})
	defer fs.Close()

	f, err := fs.Field("v")
	if err != nil {
		t.Fatalf("Field(v) failed: %v", err)
	}
	display, err := f.Display()
	if err != nil {
		t.Fatalf("Display() failed: %v", err)
	}
	if display != "0xab" {
		t.Fatalf("Display() = %q, want %q (hex fallback for value not in mapping)", display, "0xab")
	}
}

func TestEnumDisplayUsesMapping(t *testing.T) {
	mapping := map[int64]string{1: "one"}
	fs := rootSet([]byte{0x01}, nil, func(self *FieldSet, yield Yield) error {
		yield(Enum(UInt8(self, "v", ""), mapping))
		return nil
	})
	defer fs.Close()

	f, err := fs.Field("v")
	if err != nil {
		t.Fatalf("Field(v) failed: %v", err)
	}
	display, err := f.Display()
	if err != nil {
		t.Fatalf("Display() failed: %v", err)
	}
	if display != "one" {
		t.Fatalf("Display() = %q, want %q", display, "one")
	}
}

func TestNullBytesRejectsNonZeroFill(t *testing.T) {
	strict := &Options{AutoFix: false}
	fs := rootSet([]byte{0x00, 0x01}, strict, func(self *FieldSet, yield Yield) error {
		yield(NullBytes(self, "gap", "", 2))
		return nil
	})
	defer fs.Close()

	f, err := fs.Field("gap")
	if err != nil {
		t.Fatalf("Field(gap) failed: %v", err)
	}
	if _, err := f.Value(); err == nil {
		t.Fatalf("Value() = nil error, want a fill-mismatch ParserError")
	}
}

func TestNullBytesAutoFixWarnsInsteadOfFailing(t *testing.T) {
	fs := rootSet([]byte{0x00, 0x01}, DefaultOptions(), func(self *FieldSet, yield Yield) error {
		yield(NullBytes(self, "gap", "", 2))
		return nil
	})
	defer fs.Close()

	f, err := fs.Field("gap")
	if err != nil {
		t.Fatalf("Field(gap) failed: %v", err)
	}
	if _, err := f.Value(); err != nil {
		t.Fatalf("Value() = %v, want autofix to downgrade the mismatch to a warning", err)
	}
}

func TestNullBytesAcceptsZeroFill(t *testing.T) {
	strict := &Options{AutoFix: false}
	fs := rootSet([]byte{0x00, 0x00}, strict, func(self *FieldSet, yield Yield) error {
		yield(NullBytes(self, "gap", "", 2))
		return nil
	})
	defer fs.Close()

	f, err := fs.Field("gap")
	if err != nil {
		t.Fatalf("Field(gap) failed: %v", err)
	}
	if _, err := f.Value(); err != nil {
		t.Fatalf("Value() failed on a genuinely zero-filled null field: %v", err)
	}
}

func TestPaddingBytesRejectsPatternMismatch(t *testing.T) {
	strict := &Options{AutoFix: false}
	fs := rootSet([]byte{0xFF, 0x00}, strict, func(self *FieldSet, yield Yield) error {
		yield(PaddingBytes(self, "pad", "", 2, []byte{0xFF}))
		return nil
	})
	defer fs.Close()

	f, err := fs.Field("pad")
	if err != nil {
		t.Fatalf("Field(pad) failed: %v", err)
	}
	if _, err := f.Value(); err == nil {
		t.Fatalf("Value() = nil error, want a fill-mismatch ParserError")
	}
}

func TestPaddingBytesAcceptsMatchingPattern(t *testing.T) {
	strict := &Options{AutoFix: false}
	fs := rootSet([]byte{0xFF, 0xFF, 0xFF}, strict, func(self *FieldSet, yield Yield) error {
		yield(PaddingBytes(self, "pad", "", 3, []byte{0xFF}))
		return nil
	})
	defer fs.Close()

	f, err := fs.Field("pad")
	if err != nil {
		t.Fatalf("Field(pad) failed: %v", err)
	}
	if _, err := f.Value(); err != nil {
		t.Fatalf("Value() failed on a matching padding pattern: %v", err)
	}
}

func TestPaddingBytesWithoutPatternSkipsCheck(t *testing.T) {
	strict := &Options{AutoFix: false}
	fs := rootSet([]byte{0x12, 0x34}, strict, func(self *FieldSet, yield Yield) error {
		yield(PaddingBytes(self, "pad", "", 2, nil))
		return nil
	})
	defer fs.Close()

	f, err := fs.Field("pad")
	if err != nil {
		t.Fatalf("Field(pad) failed: %v", err)
	}
	if _, err := f.Value(); err != nil {
		t.Fatalf("Value() failed with no pattern to check against: %v", err)
	}
}

func TestFloat32RoundTrip(t *testing.T) {
	want := float32(3.14159)
	bits := math.Float32bits(want)
	data := []byte{byte(bits >> 24), byte(bits >> 16), byte(bits >> 8), byte(bits)}
	fs := rootSet(data, nil, func(self *FieldSet, yield Yield) error {
		yield(Float32(self, "f", ""))
		return nil
	})
	defer fs.Close()

	f, err := fs.Field("f")
	if err != nil {
		t.Fatalf("Field(f) failed: %v", err)
	}
	v, err := f.Value()
	if err != nil {
		t.Fatalf("Value() failed: %v", err)
	}
	if got := float32(v.(float64)); got != want {
		t.Fatalf("Value() = %v, want %v", got, want)
	}
}

func TestCStringReadsUpToTerminator(t *testing.T) {
	data := append([]byte("hello"), 0x00, 0xFF)
	fs := rootSet(data, nil, func(self *FieldSet, yield Yield) error {
		yield(CString(self, "s", "", nil))
		return nil
	})
	defer fs.Close()

	f, err := fs.Field("s")
	if err != nil {
		t.Fatalf("Field(s) failed: %v", err)
	}
	v, err := f.Value()
	if err != nil {
		t.Fatalf("Value() failed: %v", err)
	}
	if v.(string) != "hello" {
		t.Fatalf("Value() = %q, want %q", v, "hello")
	}
}

func TestLineReadsUpToNewline(t *testing.T) {
	data := append([]byte("a line"), '\n', 'x')
	fs := rootSet(data, nil, func(self *FieldSet, yield Yield) error {
		yield(Line(self, "s", "", nil))
		return nil
	})
	defer fs.Close()

	f, err := fs.Field("s")
	if err != nil {
		t.Fatalf("Field(s) failed: %v", err)
	}
	v, err := f.Value()
	if err != nil {
		t.Fatalf("Value() failed: %v", err)
	}
	if v.(string) != "a line" {
		t.Fatalf("Value() = %q, want %q", v, "a line")
	}
}
