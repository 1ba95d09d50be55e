// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package au parses Sun/NeXT ".au" audio files.
package au

import (
	"github.com/saferwall/fieldscope"
)

// codecNames maps the codec field's raw value to a human label.
var codecNames = map[int64]string{
	1:  "8-bit ISDN u-law",
	2:  "8-bit linear PCM",
	3:  "16-bit linear PCM",
	4:  "24-bit linear PCM",
	5:  "32-bit linear PCM",
	6:  "32-bit IEEE floating point",
	7:  "64-bit IEEE floating point",
	8:  "Fragmented sample data",
	9:  "DSP program",
	10: "8-bit fixed point",
	11: "16-bit fixed point",
	12: "24-bit fixed point",
	13: "32-bit fixed point",
	18: "16-bit linear with emphasis",
	19: "16-bit linear compressed",
	20: "16-bit linear with emphasis and compression",
	21: "Music kit DSP commands",
	23: "4-bit ISDN u-law compressed (CCITT G.721 ADPCM)",
	24: "ITU-T G.722 ADPCM",
	25: "ITU-T G.723 3-bit ADPCM",
	26: "ITU-T G.723 5-bit ADPCM",
	27: "8-bit ISDN A-law",
}

// bitsPerSample maps the codec field's raw value to its bit depth, where
// known; codecs 8, 9, 14-17, 21 and 23-26 have no fixed sample width
// (fragmented/compressed/DSP-program encodings) and are left unmapped.
var bitsPerSample = map[int64]int{
	1: 8, 2: 8, 3: 16, 4: 24, 5: 32, 6: 32, 7: 64,
	10: 8, 11: 16, 12: 24, 13: 32, 18: 16, 19: 16, 20: 16, 27: 8,
}

// validChannelCounts lists the channel counts this parser accepts; 4, 5,
// 7 and 8-channel files are rumored to exist in the wild but unverified.
var validChannelCounts = map[int64]bool{1: true, 2: true}

// NewParser returns the registered Parser for the AU format.
func NewParser() *fieldscope.Parser {
	return &fieldscope.Parser{
		Tags: fieldscope.Tags{
			ID:          "au",
			Category:    "audio",
			FileExt:     []string{"*.au", "*.snd"},
			MIME:        []string{"audio/basic"},
			Magic:       []fieldscope.MagicTag{{Bytes: []byte(".snd")}},
			MinSize:     24 * 8,
			Description: "Sun/NeXT audio",
		},
		Endian:       fieldscope.BigEndian,
		Validate:     validate,
		CreateFields: createFields,
	}
}

// BitsPerSample returns the bit depth for codec, or ok=false if this
// parser doesn't know it.
func BitsPerSample(codec int64) (int, bool) {
	n, ok := bitsPerSample[codec]
	return n, ok
}

func validate(stream *fieldscope.InputStream) (bool, string) {
	sig, err := stream.ReadBytes(0, 4)
	if err != nil || string(sig) != ".snd" {
		return false, "wrong file signature"
	}
	channels, err := stream.ReadInteger(20*8, false, 32, fieldscope.BigEndian)
	if err != nil {
		return false, "unable to read channel count"
	}
	if !validChannelCounts[channels] {
		return false, "invalid number of channels"
	}
	return true, ""
}

func createFields(fs *fieldscope.FieldSet, yield fieldscope.Yield) error {
	if !yield(fieldscope.String(fs, "signature", `format signature (".snd")`, 4, nil, false)) {
		return nil
	}
	if !yield(fieldscope.UInt32(fs, "data_ofs", "data offset")) {
		return nil
	}
	if !yield(fieldscope.UInt32(fs, "data_size", "data size")) {
		return nil
	}
	if !yield(fieldscope.Enum(fieldscope.UInt32(fs, "codec", "audio codec"), codecNames)) {
		return nil
	}
	if !yield(fieldscope.UInt32(fs, "sample_rate", "number of samples per second")) {
		return nil
	}
	if !yield(fieldscope.UInt32(fs, "channels", "number of interleaved channels")) {
		return nil
	}

	dataOfsField, err := fs.Field("data_ofs")
	if err != nil {
		return err
	}
	dataOfs, err := dataOfsField.Value()
	if err != nil {
		return err
	}
	infoSize := dataOfs.(int64) - int64(fs.CurrentSize()/8)
	if infoSize > 0 {
		if !yield(fieldscope.String(fs, "info", "information", uint64(infoSize), nil, true)) {
			return nil
		}
	}

	dataSizeField, err := fs.Field("data_size")
	if err != nil {
		return err
	}
	dataSize, err := dataSizeField.Value()
	if err != nil {
		return err
	}
	if !yield(fieldscope.RawBytes(fs, "audio_data", "audio data", uint64(dataSize.(int64)))) {
		return nil
	}
	return nil
}
