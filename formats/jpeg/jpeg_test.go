// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package jpeg

import (
	"testing"

	"github.com/saferwall/fieldscope"
)

// buildMinimalJPEG assembles SOI, APP0 (JFIF), DQT (one 8-bit table) and a
// degenerate SOS marker followed by two bytes of placeholder scan data.
func buildMinimalJPEG() []byte {
	var b []byte
	b = append(b, 0xFF, 0xD8) // SOI

	app0 := []byte{'J', 'F', 'I', 'F', 0x00, 0x01, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	b = append(b, 0xFF, 0xE0, 0x00, byte(len(app0)+2))
	b = append(b, app0...)

	dqt := make([]byte, 0, 65)
	dqt = append(dqt, 0x00) // is_16bit=0, index=0
	for i := 0; i < 64; i++ {
		dqt = append(dqt, byte(i))
	}
	b = append(b, 0xFF, 0xDB, 0x00, byte(len(dqt)+2))
	b = append(b, dqt...)

	sos := []byte{0x00, 0x00, 0x00, 0x00} // nr_components=0, raw[3]
	b = append(b, 0xFF, 0xDA, 0x00, byte(len(sos)+2))
	b = append(b, sos...)

	b = append(b, 0xAB, 0xCD) // placeholder entropy-coded data
	return b
}

func TestValidate(t *testing.T) {
	stream := fieldscope.NewInputStreamBytes(buildMinimalJPEG(), fieldscope.BigEndian, "test")
	ok, reason := validate(stream)
	if !ok {
		t.Fatalf("validate() = false (%s), want true", reason)
	}
}

func TestParseChunks(t *testing.T) {
	p := NewParser()
	stream := fieldscope.NewInputStreamBytes(buildMinimalJPEG(), fieldscope.BigEndian, "test")
	fs, err := p.Parse(stream)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	soi, err := fs.Field("chunk[0]")
	if err != nil {
		t.Fatalf("Field(chunk[0]) failed: %v", err)
	}
	soiType, _ := soiValue(t, soi)
	if soiType != tagSOI {
		t.Fatalf("chunk[0].type = %#x, want SOI", soiType)
	}

	app0, err := fs.Field("chunk[1]/content/jfif")
	if err != nil {
		t.Fatalf("Field(chunk[1]/content/jfif) failed: %v", err)
	}
	v, err := app0.Value()
	if err != nil {
		t.Fatalf("Value() failed: %v", err)
	}
	if v.(string) != "JFIF\x00" {
		t.Fatalf("jfif = %q, want %q", v, "JFIF\x00")
	}

	dqtIndex, err := fs.Field("chunk[2]/content/qt[0]/index")
	if err != nil {
		t.Fatalf("Field(chunk[2]/content/qt[0]/index) failed: %v", err)
	}
	iv, err := dqtIndex.Value()
	if err != nil {
		t.Fatalf("Value() failed: %v", err)
	}
	if iv.(int64) != 0 {
		t.Fatalf("qt[0].index = %v, want 0", iv)
	}

	data, err := fs.Field("data")
	if err != nil {
		t.Fatalf("Field(data) failed: %v", err)
	}
	raw, err := data.Value()
	if err != nil {
		t.Fatalf("Value() failed: %v", err)
	}
	if len(raw.([]byte)) != 2 {
		t.Fatalf("data size = %d bytes, want 2", len(raw.([]byte)))
	}
}

func soiValue(t *testing.T, chunk fieldscope.Field) (int64, error) {
	t.Helper()
	inner, ok := chunk.(interface{ Field(string) (fieldscope.Field, error) })
	if !ok {
		t.Fatalf("chunk is not a FieldSet")
	}
	typeField, err := inner.Field("type")
	if err != nil {
		t.Fatalf("Field(type) failed: %v", err)
	}
	v, err := typeField.Value()
	if err != nil {
		t.Fatalf("Value() failed: %v", err)
	}
	return v.(int64), nil
}
