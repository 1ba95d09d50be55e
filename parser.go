// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldscope

// MagicTag pairs a signature with the bit offset it must appear at, the
// duck-typed-tags convention of a (bytes, bit_offset) pair.
type MagicTag struct {
	Bytes     []byte
	BitOffset uint64
}

// Tags is a format's self-description: the metadata a ParserRegistry uses
// to rank candidates before committing to the (potentially expensive)
// Validate call.
type Tags struct {
	// ID is a short, stable identifier, e.g. "au" or "ar".
	ID string

	// Category groups related formats, e.g. "audio" or "archive".
	Category string

	// FileExt lists doublestar glob patterns matched against a filename
	// hint, e.g. []string{"*.au", "*.snd"}.
	FileExt []string

	// MIME lists MIME types this format is known to be served as.
	MIME []string

	// Magic lists byte sequences any one of which, found at its BitOffset,
	// is sufficient to consider the stream a candidate.
	Magic []MagicTag

	// MinSize is the smallest stream size in bits this format can ever
	// occupy; streams shorter than this are rejected without reading
	// them.
	MinSize uint64

	// Description is a one-line human summary.
	Description string
}

// ValidateFunc performs whatever extra check Tags' magic/size hints can't
// express - a checksum, a version range, a cross-field consistency rule.
// A nil ValidateFunc always passes.
type ValidateFunc func(stream *InputStream) (bool, string)

// Parser is a complete format recognizer and decoder: Tags for the
// registry to rank it by, CreateFields to build the root FieldSet's
// field tree, and an optional Validate predicate run before committing
// to this format.
type Parser struct {
	Tags         Tags
	Endian       Endian
	CreateFields CreateFieldsFunc
	Validate     ValidateFunc
	Options      *Options
}

// Parse validates stream (if p.Validate is set) and builds the root
// FieldSet that lazily decodes it.
func (p *Parser) Parse(stream *InputStream) (*FieldSet, error) {
	if p.Tags.MinSize > 0 && !stream.SizeGE(p.Tags.MinSize) {
		return nil, newMatchError(p.Tags.ID, "stream smaller than %s's minimum size", p.Tags.ID)
	}
	if p.Validate != nil {
		if ok, reason := p.Validate(stream); !ok {
			if reason == "" {
				reason = "stream does not match " + p.Tags.ID
			}
			return nil, newMatchError(p.Tags.ID, "%s", reason)
		}
	}
	opts := p.Options
	if opts == nil {
		opts = DefaultOptions()
	}
	return NewRootFieldSet(p.Tags.ID, p.Tags.Description, stream, p.Endian, opts, p.CreateFields), nil
}
