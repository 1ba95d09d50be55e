// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldscope

import (
	"errors"
	"testing"
)

func TestFieldSetEOFAndPeek(t *testing.T) {
	fs := rootSet([]byte{0x01, 0x02, 0x03}, nil, func(self *FieldSet, yield Yield) error {
		for !self.EOF() {
			if _, err := self.Peek(1); err != nil {
				return err
			}
			if !yield(RawBytes(self, "b[]", "", 1)) {
				return nil
			}
		}
		return nil
	})
	defer fs.Close()

	n, err := fs.Len()
	if err != nil {
		t.Fatalf("Len() failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("Len() = %d, want 3", n)
	}
	if !fs.EOF() {
		t.Fatalf("EOF() = false after fully draining a 3-byte stream")
	}
}

func TestFieldSetStreamSize(t *testing.T) {
	fs := rootSet([]byte{0x01, 0x02}, nil, func(self *FieldSet, yield Yield) error { return nil })
	defer fs.Close()

	size, ok := fs.StreamSize()
	if !ok {
		t.Fatalf("StreamSize() ok = false, want true for an in-memory buffer")
	}
	if size != 16 {
		t.Fatalf("StreamSize() = %d, want 16", size)
	}
}

func TestFieldLookupMissingAfterSeal(t *testing.T) {
	fs := rootSet([]byte{0x01}, nil, func(self *FieldSet, yield Yield) error {
		yield(UInt8(self, "v", ""))
		return nil
	})
	defer fs.Close()

	if _, err := fs.Field("nonexistent"); !errors.Is(err, ErrMissingField) {
		t.Fatalf("Field(nonexistent) error = %v, want ErrMissingField", err)
	}
}

func TestFieldByIndexOutOfRangeAfterSeal(t *testing.T) {
	fs := rootSet([]byte{0x01}, nil, func(self *FieldSet, yield Yield) error {
		yield(UInt8(self, "v", ""))
		return nil
	})
	defer fs.Close()

	if _, err := fs.FieldByIndex(5); !errors.Is(err, ErrMissingField) {
		t.Fatalf("FieldByIndex(5) error = %v, want ErrMissingField", err)
	}
}

func TestAutoFixDropsFieldThatOverflowsItsDeclaredSize(t *testing.T) {
	size := uint64(8)
	fs := rootSet([]byte{0x01}, DefaultOptions(), func(self *FieldSet, yield Yield) error {
		child := NewChildFieldSet(self, "child", "", &size, nil, func(cs *FieldSet, cyield Yield) error {
			cyield(UInt32(cs, "too_big", ""))
			return nil
		})
		yield(child)
		return nil
	})
	defer fs.Close()

	child, err := fs.Field("child")
	if err != nil {
		t.Fatalf("Field(child) failed: %v", err)
	}
	cfs, ok := child.(*FieldSet)
	if !ok {
		t.Fatalf("child is not a *FieldSet")
	}
	n, err := cfs.Len()
	if err != nil {
		t.Fatalf("child.Len() failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("child.Len() = %d, want 1 (the 32-bit field dropped, a raw[] filler kept instead)", n)
	}
	if cfs.CurrentSize() != 8 {
		t.Fatalf("child.CurrentSize() = %d, want 8 (still matching its declared size)", cfs.CurrentSize())
	}
}

func TestCloseStopsLiveProducer(t *testing.T) {
	fs := rootSet([]byte{0x01, 0x02, 0x03}, nil, func(self *FieldSet, yield Yield) error {
		for i := 0; i < 3; i++ {
			if !yield(UInt8(self, "b[]", "")) {
				return nil
			}
		}
		return nil
	})

	// Only read the first field; the producer goroutine is parked waiting
	// to be resumed for field #2.
	if _, err := fs.FieldByIndex(0); err != nil {
		t.Fatalf("FieldByIndex(0) failed: %v", err)
	}
	if fs.Done() {
		t.Fatalf("Done() = true after reading only one of three fields")
	}

	fs.Close()
	if !fs.Done() {
		t.Fatalf("Done() = false after Close(), want true")
	}
}
