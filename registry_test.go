// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldscope

import "testing"

func TestGuessParserMatchesMagicAtOffsetZero(t *testing.T) {
	r := NewParserRegistry()
	r.Register(&Parser{
		Tags: Tags{
			ID:    "zero-offset",
			Magic: []MagicTag{{Bytes: []byte("HDR\x00")}},
		},
	})
	stream := NewInputStreamBytes([]byte("HDR\x00rest of the file"), BigEndian, "test")
	p, err := r.GuessParser("f.bin", "", stream)
	if err != nil {
		t.Fatalf("GuessParser() failed: %v", err)
	}
	if p.Tags.ID != "zero-offset" {
		t.Fatalf("GuessParser() = %s, want zero-offset", p.Tags.ID)
	}
}

func TestGuessParserMatchesMagicAtNonZeroOffset(t *testing.T) {
	r := NewParserRegistry()
	r.Register(&Parser{
		Tags: Tags{
			ID:    "trailer-tagged",
			Magic: []MagicTag{{Bytes: []byte("TAG"), BitOffset: 16 * 8}},
		},
	})
	data := append([]byte("0123456789012345"), []byte("TAGREST")...)
	stream := NewInputStreamBytes(data, BigEndian, "test")
	p, err := r.GuessParser("f.bin", "", stream)
	if err != nil {
		t.Fatalf("GuessParser() failed: %v", err)
	}
	if p.Tags.ID != "trailer-tagged" {
		t.Fatalf("GuessParser() = %s, want trailer-tagged", p.Tags.ID)
	}
}

func TestGuessParserRejectsWrongOffset(t *testing.T) {
	r := NewParserRegistry()
	r.Register(&Parser{
		Tags: Tags{
			ID:    "trailer-tagged",
			Magic: []MagicTag{{Bytes: []byte("TAG"), BitOffset: 16 * 8}},
		},
	})
	// "TAG" appears at offset 0 instead of the required offset 16 bytes.
	data := append([]byte("TAG"), []byte("0123456789012345")...)
	stream := NewInputStreamBytes(data, BigEndian, "test")
	if _, err := r.GuessParser("f.bin", "", stream); err == nil {
		t.Fatalf("GuessParser() succeeded, want ErrMatch since the magic is at the wrong offset")
	}
}

func TestGuessParserNoMatch(t *testing.T) {
	r := NewParserRegistry()
	r.Register(&Parser{Tags: Tags{ID: "x", Magic: []MagicTag{{Bytes: []byte("XX")}}}})
	stream := NewInputStreamBytes([]byte("nope"), BigEndian, "test")
	if _, err := r.GuessParser("f.bin", "", stream); err == nil {
		t.Fatalf("GuessParser() succeeded, want ErrMatch")
	}
}
