// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package au

import (
	"encoding/binary"
	"testing"

	"github.com/saferwall/fieldscope"
)

func buildAU(codec, sampleRate, channels uint32, info string, audio []byte) []byte {
	var b []byte
	b = append(b, []byte(".snd")...)
	dataOfs := 24 + len(info)
	b = appendU32(b, uint32(dataOfs))
	b = appendU32(b, uint32(len(audio)))
	b = appendU32(b, codec)
	b = appendU32(b, sampleRate)
	b = appendU32(b, channels)
	b = append(b, []byte(info)...)
	b = append(b, audio...)
	return b
}

func appendU32(b []byte, v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return append(b, buf[:]...)
}

func TestValidateAcceptsKnownChannelCount(t *testing.T) {
	data := buildAU(3, 44100, 2, "", []byte{0x01, 0x02})
	stream := fieldscope.NewInputStreamBytes(data, fieldscope.BigEndian, "test")
	ok, reason := validate(stream)
	if !ok {
		t.Fatalf("validate() = false, want true (reason: %s)", reason)
	}
}

func TestValidateRejectsWrongMagic(t *testing.T) {
	stream := fieldscope.NewInputStreamBytes([]byte("not audio basic data here"), fieldscope.BigEndian, "test")
	ok, _ := validate(stream)
	if ok {
		t.Fatalf("validate() = true, want false for non-AU data")
	}
}

func TestValidateRejectsUnsupportedChannelCount(t *testing.T) {
	data := buildAU(3, 44100, 6, "", []byte{0x01, 0x02})
	stream := fieldscope.NewInputStreamBytes(data, fieldscope.BigEndian, "test")
	ok, _ := validate(stream)
	if ok {
		t.Fatalf("validate() = true, want false for a 6-channel file")
	}
}

func TestParseHeaderFields(t *testing.T) {
	audio := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	data := buildAU(3, 44100, 2, "", audio)

	p := NewParser()
	stream := fieldscope.NewInputStreamBytes(data, fieldscope.BigEndian, "test")
	fs, err := p.Parse(stream)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	defer fs.Close()

	codec, err := fs.Field("codec")
	if err != nil {
		t.Fatalf("Field(codec) failed: %v", err)
	}
	display, err := codec.Display()
	if err != nil {
		t.Fatalf("codec.Display() failed: %v", err)
	}
	if display != "16-bit linear PCM" {
		t.Fatalf("codec.Display() = %q, want %q", display, "16-bit linear PCM")
	}

	body, err := fs.Field("audio_data")
	if err != nil {
		t.Fatalf("Field(audio_data) failed: %v", err)
	}
	v, err := body.Value()
	if err != nil {
		t.Fatalf("audio_data.Value() failed: %v", err)
	}
	if string(v.([]byte)) != string(audio) {
		t.Fatalf("audio_data = %v, want %v", v, audio)
	}
}

func TestParseHeaderWithInfoString(t *testing.T) {
	audio := []byte{0x01}
	data := buildAU(2, 8000, 1, "recorded on a test rig", audio)

	p := NewParser()
	stream := fieldscope.NewInputStreamBytes(data, fieldscope.BigEndian, "test")
	fs, err := p.Parse(stream)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	defer fs.Close()

	info, err := fs.Field("info")
	if err != nil {
		t.Fatalf("Field(info) failed: %v", err)
	}
	v, err := info.Value()
	if err != nil {
		t.Fatalf("info.Value() failed: %v", err)
	}
	if v.(string) != "recorded on a test rig" {
		t.Fatalf("info = %q, want %q", v, "recorded on a test rig")
	}
}

func TestBitsPerSampleKnownAndUnknown(t *testing.T) {
	if n, ok := BitsPerSample(3); !ok || n != 16 {
		t.Fatalf("BitsPerSample(3) = (%d, %v), want (16, true)", n, ok)
	}
	if _, ok := BitsPerSample(8); ok {
		t.Fatalf("BitsPerSample(8) ok = true, want false (fragmented sample data has no fixed width)")
	}
}
