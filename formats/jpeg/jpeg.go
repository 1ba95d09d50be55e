// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package jpeg parses JPEG/JFIF picture files chunk by chunk.
package jpeg

import (
	"github.com/saferwall/fieldscope"
)

const (
	tagSOI  = 0xD8
	tagEOI  = 0xD9
	tagSOS  = 0xDA
	tagDQT  = 0xDB
	tagDRI  = 0xDD
	tagAPP0 = 0xE0
)

var chunkDescriptions = map[int64]string{
	0xC0:   "Start Of Frame 0 (SOF0)",
	0xC4:   "Define Huffman Table (DHT)",
	tagSOI: "Start of image (SOI)",
	tagEOI: "End of image (EOI)",
	tagSOS: "Start Of Scan (SOS)",
	tagDQT: "Define Quantization Table (DQT)",
	0xDC:   "Define number of Lines (DNL)",
	tagDRI:  "Define Restart Interval (DRI)",
	tagAPP0: "APP0",
	0xED:    "Photoshop marker",
	0xE1:   "EXIF or Adobe metadata (APP1)",
	0xFE:   "Comment",
}

// jpegNaturalOrder is the zig-zag-to-natural index permutation quantization
// tables are stored in.
var jpegNaturalOrder = [64]int{
	0, 1, 8, 16, 9, 2, 3, 10,
	17, 24, 32, 25, 18, 11, 4, 5,
	12, 19, 26, 33, 40, 48, 41, 34,
	27, 20, 13, 6, 7, 14, 21, 28,
	35, 42, 49, 56, 57, 50, 43, 36,
	29, 22, 15, 23, 30, 37, 44, 51,
	58, 59, 52, 45, 38, 31, 39, 46,
	53, 60, 61, 54, 47, 55, 62, 63,
}

// NewParser returns the registered Parser for JPEG picture files.
func NewParser() *fieldscope.Parser {
	return &fieldscope.Parser{
		Tags: fieldscope.Tags{
			ID:       "jpeg",
			Category: "image",
			FileExt:  []string{"*.jpg", "*.jpeg"},
			MIME:     []string{"image/jpeg"},
			Magic: []fieldscope.MagicTag{
				{Bytes: []byte{0xFF, 0xD8, 0xFF, 0xE0}},
				{Bytes: []byte{0xFF, 0xD8, 0xFF, 0xE1}},
			},
			MinSize:     22 * 8,
			Description: "JPEG picture",
		},
		Endian:       fieldscope.BigEndian,
		Validate:     validate,
		CreateFields: createFields,
	}
}

func validate(stream *fieldscope.InputStream) (bool, string) {
	sig, err := stream.ReadBytes(0, 2)
	if err != nil || sig[0] != 0xFF || sig[1] != 0xD8 {
		return false, "invalid file signature"
	}
	return true, ""
}

func createFields(fs *fieldscope.FieldSet, yield fieldscope.Yield) error {
	for !fs.EOF() {
		chunk := newChunk(fs, "chunk[]")
		if !yield(chunk) {
			return nil
		}
		typeField, err := chunk.Field("type")
		if err != nil {
			return err
		}
		v, err := typeField.Value()
		if err != nil {
			return err
		}
		if v.(int64) == tagSOS {
			// Entropy-coded scan data follows; this parser stops
			// describing the stream field-by-field here.
			break
		}
	}
	size, known := fs.StreamSize()
	if !known {
		return nil
	}
	remaining := (size - fs.CurrentSize()) / 8
	if remaining > 0 {
		yield(fieldscope.RawBytes(fs, "data", "JPEG scan and trailer data", remaining))
	}
	return nil
}

// newChunk builds one "0xFF marker" chunk: a one-byte 0xFF header, a
// one-byte type, and - for every type except SOI/EOI - a two-byte size
// (which counts itself) followed by size-2 bytes of type-specific content.
func newChunk(parent *fieldscope.FieldSet, name string) *fieldscope.FieldSet {
	return fieldscope.NewChildFieldSet(parent, name, "", nil, nil, func(self *fieldscope.FieldSet, yield fieldscope.Yield) error {
		if !yield(fieldscope.UInt8(self, "header", "Marker header (0xFF)")) {
			return nil
		}
		if !yield(fieldscope.Enum(fieldscope.UInt8(self, "type", "Chunk type"), chunkDescriptions)) {
			return nil
		}
		typeField, err := self.Field("type")
		if err != nil {
			return err
		}
		tagVal, err := typeField.Value()
		if err != nil {
			return err
		}
		tag := tagVal.(int64)
		if tag == tagSOI || tag == tagEOI {
			return nil
		}

		if !yield(fieldscope.UInt16(self, "size", "Chunk size, including these two bytes")) {
			return nil
		}
		sizeField, err := self.Field("size")
		if err != nil {
			return err
		}
		sizeVal, err := sizeField.Value()
		if err != nil {
			return err
		}
		contentBytes := sizeVal.(int64) - 2
		if contentBytes <= 0 {
			return nil
		}
		contentBits := uint64(contentBytes) * 8

		content := newChunkContent(self, tag, contentBits)
		if content != nil {
			if !yield(content) {
				return nil
			}
			return nil
		}
		if !yield(fieldscope.RawBytes(self, "data", "Chunk data", uint64(contentBytes))) {
			return nil
		}
		return nil
	})
}

// newChunkContent dispatches to a typed decoder for the chunk kinds this
// parser understands, or returns nil to fall back to an opaque RawBytes
// field for everything else (EXIF, Photoshop metadata, and any marker not
// listed below).
func newChunkContent(parent *fieldscope.FieldSet, tag int64, sizeBits uint64) *fieldscope.FieldSet {
	switch tag {
	case tagAPP0:
		return newApp0(parent, sizeBits)
	case 0xC0:
		return newStartOfFrame(parent, sizeBits)
	case tagSOS:
		return newStartOfScan(parent, sizeBits)
	case tagDRI:
		return newRestartInterval(parent, sizeBits)
	case tagDQT:
		return newQuantizationTables(parent, sizeBits)
	}
	return nil
}

// newApp0 parses the JFIF APP0 segment: signature, version, density unit
// and value, and an optional embedded RGB thumbnail.
func newApp0(parent *fieldscope.FieldSet, sizeBits uint64) *fieldscope.FieldSet {
	unitNames := map[int64]string{0: "pixels", 1: "dots per inch", 2: "dots per cm"}
	return fieldscope.NewChildFieldSet(parent, "content", "JFIF header", &sizeBits, nil, func(self *fieldscope.FieldSet, yield fieldscope.Yield) error {
		if !yield(fieldscope.String(self, "jfif", "JFIF string", 5, nil, false)) {
			return nil
		}
		if !yield(fieldscope.UInt8(self, "ver_maj", "Major version")) {
			return nil
		}
		if !yield(fieldscope.UInt8(self, "ver_min", "Minor version")) {
			return nil
		}
		if !yield(fieldscope.Enum(fieldscope.UInt8(self, "units", "Density units"), unitNames)) {
			return nil
		}
		if !yield(fieldscope.UInt16(self, "x_density", "Horizontal density (or aspect X)")) {
			return nil
		}
		if !yield(fieldscope.UInt16(self, "y_density", "Vertical density (or aspect Y)")) {
			return nil
		}
		if !yield(fieldscope.UInt8(self, "thumb_w", "Thumbnail width")) {
			return nil
		}
		if !yield(fieldscope.UInt8(self, "thumb_h", "Thumbnail height")) {
			return nil
		}
		wField, err := self.Field("thumb_w")
		if err != nil {
			return err
		}
		hField, err := self.Field("thumb_h")
		if err != nil {
			return err
		}
		wv, err := wField.Value()
		if err != nil {
			return err
		}
		hv, err := hField.Value()
		if err != nil {
			return err
		}
		thumbSize := wv.(int64) * hv.(int64)
		if thumbSize != 0 {
			if !yield(fieldscope.RawBytes(self, "thumb_palette", "Thumbnail RGB palette", 768)) {
				return nil
			}
			if !yield(fieldscope.RawBytes(self, "thumb_data", "Thumbnail data", uint64(thumbSize))) {
				return nil
			}
		}
		return nil
	})
}

// newStartOfFrame parses an SOF0 segment: sample precision, dimensions, and
// one component descriptor (id, horizontal/vertical sampling) per channel.
func newStartOfFrame(parent *fieldscope.FieldSet, sizeBits uint64) *fieldscope.FieldSet {
	return fieldscope.NewChildFieldSet(parent, "content", "Start of frame", &sizeBits, nil, func(self *fieldscope.FieldSet, yield fieldscope.Yield) error {
		if !yield(fieldscope.UInt8(self, "precision", "Sample precision")) {
			return nil
		}
		if !yield(fieldscope.UInt16(self, "height", "Image height")) {
			return nil
		}
		if !yield(fieldscope.UInt16(self, "width", "Image width")) {
			return nil
		}
		if !yield(fieldscope.UInt8(self, "nr_components", "Number of color components")) {
			return nil
		}
		nField, err := self.Field("nr_components")
		if err != nil {
			return err
		}
		nv, err := nField.Value()
		if err != nil {
			return err
		}
		for i := int64(0); i < nv.(int64); i++ {
			if !yield(fieldscope.UInt8(self, "component_id[]", "Component id")) {
				return nil
			}
			if !yield(fieldscope.UInt8(self, "high[]", "Horizontal sampling factor")) {
				return nil
			}
			if !yield(fieldscope.UInt8(self, "low[]", "Vertical sampling factor")) {
				return nil
			}
		}
		return nil
	})
}

// newStartOfScan parses the SOS segment's component-selector table.
func newStartOfScan(parent *fieldscope.FieldSet, sizeBits uint64) *fieldscope.FieldSet {
	return fieldscope.NewChildFieldSet(parent, "content", "Start of scan", &sizeBits, nil, func(self *fieldscope.FieldSet, yield fieldscope.Yield) error {
		if !yield(fieldscope.UInt8(self, "nr_components", "Number of scan components")) {
			return nil
		}
		nField, err := self.Field("nr_components")
		if err != nil {
			return err
		}
		nv, err := nField.Value()
		if err != nil {
			return err
		}
		for i := int64(0); i < nv.(int64); i++ {
			if !yield(fieldscope.UInt8(self, "component_id[]", "Component id")) {
				return nil
			}
			if !yield(fieldscope.UInt8(self, "value[]", "Huffman table selector")) {
				return nil
			}
		}
		if !yield(fieldscope.RawBytes(self, "raw", "Spectral selection bytes", 3)) {
			return nil
		}
		return nil
	})
}

func newRestartInterval(parent *fieldscope.FieldSet, sizeBits uint64) *fieldscope.FieldSet {
	return fieldscope.NewChildFieldSet(parent, "content", "Restart interval", &sizeBits, nil, func(self *fieldscope.FieldSet, yield fieldscope.Yield) error {
		if !yield(fieldscope.UInt16(self, "interval", "Restart interval")) {
			return nil
		}
		return nil
	})
}

// newQuantizationTables parses a DQT segment: one or more quantization
// tables back to back, each with a 4-bit precision flag, a 4-bit index and
// 64 coefficients stored in zig-zag order (reordered to natural order by
// field name, not by position).
func newQuantizationTables(parent *fieldscope.FieldSet, sizeBits uint64) *fieldscope.FieldSet {
	return fieldscope.NewChildFieldSet(parent, "content", "Quantization tables", &sizeBits, nil, func(self *fieldscope.FieldSet, yield fieldscope.Yield) error {
		for !self.EOF() {
			if !yield(newQuantizationTable(self, "qt[]")) {
				return nil
			}
		}
		return nil
	})
}

func newQuantizationTable(parent *fieldscope.FieldSet, name string) *fieldscope.FieldSet {
	return fieldscope.NewChildFieldSet(parent, name, "Quantization table", nil, nil, func(self *fieldscope.FieldSet, yield fieldscope.Yield) error {
		if !yield(fieldscope.Bits(self, "is_16bit", "16-bit coefficients flag", 4)) {
			return nil
		}
		if !yield(fieldscope.Bits(self, "index", "Table index", 4)) {
			return nil
		}
		is16Field, err := self.Field("is_16bit")
		if err != nil {
			return err
		}
		is16v, err := is16Field.Value()
		if err != nil {
			return err
		}
		wide := is16v.(int64) != 0
		for i := 0; i < 64; i++ {
			natural := jpegNaturalOrder[i]
			name := coeffName(natural)
			var field fieldscope.Field
			if wide {
				field = fieldscope.UInt16(self, name, "")
			} else {
				field = fieldscope.UInt8(self, name, "")
			}
			if !yield(field) {
				return nil
			}
		}
		return nil
	})
}

func coeffName(i int) string {
	const digits = "0123456789"
	if i == 0 {
		return "coeff[0]"
	}
	buf := make([]byte, 0, 12)
	buf = append(buf, []byte("coeff[")...)
	var tmp [4]byte
	n := 0
	for i > 0 {
		tmp[n] = digits[i%10]
		i /= 10
		n++
	}
	for n > 0 {
		n--
		buf = append(buf, tmp[n])
	}
	buf = append(buf, ']')
	return string(buf)
}
