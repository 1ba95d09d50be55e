// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldscope

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cespare/xxhash/v2"
)

// headerProbeBytes is how much of a stream's start GuessParser reads once
// to pre-filter candidates by magic, before any Validate call.
const headerProbeBytes = 64

// ParserRegistry is a ranked set of Parsers. GuessParser tries candidates
// whose Tags.FileExt matches the filename hint first, then ones whose
// Tags.MIME matches, then every remaining registered parser, pre-filtering
// each by Tags.MinSize/Tags.Magic before paying for a full Validate call.
type ParserRegistry struct {
	parsers    []*Parser
	guessCache map[uint64]*Parser
}

// NewParserRegistry returns an empty registry.
func NewParserRegistry() *ParserRegistry {
	return &ParserRegistry{guessCache: make(map[uint64]*Parser)}
}

// Register adds p to the registry, in priority order for ties within the
// same ranking tier.
func (r *ParserRegistry) Register(p *Parser) {
	r.parsers = append(r.parsers, p)
}

// Parsers returns every registered parser, in registration order.
func (r *ParserRegistry) Parsers() []*Parser {
	return r.parsers
}

// candidateKey hashes the filename hint and a stream's leading bytes to
// memoize a prior guess verdict, so repeated lookups over a directory of
// same-format files don't re-run every candidate's Validate.
func candidateKey(filename string, header []byte) uint64 {
	var h xxhash.Digest
	h.WriteString(filename)
	h.Write(header)
	return h.Sum64()
}

// GuessParser finds the first registered Parser that claims stream,
// returning ErrMatch if none does.
func (r *ParserRegistry) GuessParser(filename, mimeHint string, stream *InputStream) (*Parser, error) {
	probeLen := uint64(headerProbeBytes)
	if sizeBits, ok := stream.Size(); ok && sizeBits/8 < probeLen {
		probeLen = sizeBits / 8
	}
	header, err := stream.ReadBytes(0, probeLen)
	if err != nil {
		header = nil
	}
	key := candidateKey(filename, header)
	if cached, ok := r.guessCache[key]; ok {
		if accepted, err := accepts(cached, stream, header); err != nil {
			return nil, err
		} else if accepted {
			return cached, nil
		}
		delete(r.guessCache, key)
	}

	for _, p := range r.rankCandidates(filename, mimeHint) {
		accepted, err := accepts(p, stream, header)
		if err != nil {
			return nil, err
		}
		if !accepted {
			continue
		}
		r.guessCache[key] = p
		return p, nil
	}
	return nil, ErrMatch
}

// accepts runs the cheap Tags-based pre-filter, then Validate if present.
func accepts(p *Parser, stream *InputStream, header []byte) (bool, error) {
	if p.Tags.MinSize > 0 && !stream.SizeGE(p.Tags.MinSize) {
		return false, nil
	}
	if len(p.Tags.Magic) > 0 {
		matched, err := matchesMagic(p.Tags.Magic, stream, header)
		if err != nil {
			return false, err
		}
		if !matched {
			return false, nil
		}
	}
	if p.Validate != nil {
		ok, _ := p.Validate(stream)
		return ok, nil
	}
	return true, nil
}

// matchesMagic reports whether stream matches any candidate at its tagged
// BitOffset. An offset-0 candidate is checked only against the already-read
// header slice, as is any other byte-aligned candidate that lies inside it;
// anything else is probed directly against stream, since it falls outside
// header's fixed probe window.
func matchesMagic(candidates []MagicTag, stream *InputStream, header []byte) (bool, error) {
	for _, magic := range candidates {
		if len(magic.Bytes) == 0 {
			continue
		}
		if magic.BitOffset == 0 {
			if len(magic.Bytes) <= len(header) && bytes.Equal(header[:len(magic.Bytes)], magic.Bytes) {
				return true, nil
			}
			continue
		}
		if magic.BitOffset%8 == 0 {
			addr := magic.BitOffset / 8
			if addr+uint64(len(magic.Bytes)) <= uint64(len(header)) {
				if bytes.Equal(header[addr:addr+uint64(len(magic.Bytes))], magic.Bytes) {
					return true, nil
				}
				continue
			}
		}
		got, err := stream.ReadBytes(magic.BitOffset, uint64(len(magic.Bytes)))
		if err != nil {
			continue
		}
		if bytes.Equal(got, magic.Bytes) {
			return true, nil
		}
	}
	return false, nil
}

// rankCandidates orders r.parsers into extension-match, mime-match, then
// everything else, preserving registration order within each tier.
func (r *ParserRegistry) rankCandidates(filename, mimeHint string) []*Parser {
	base := strings.ToLower(filepath.Base(filename))
	byExt := make([]*Parser, 0, len(r.parsers))
	byMime := make([]*Parser, 0, len(r.parsers))
	rest := make([]*Parser, 0, len(r.parsers))

	for _, p := range r.parsers {
		switch {
		case matchesAnyExt(p.Tags.FileExt, base):
			byExt = append(byExt, p)
		case mimeHint != "" && matchesAnyMime(p.Tags.MIME, mimeHint):
			byMime = append(byMime, p)
		default:
			rest = append(rest, p)
		}
	}

	ranked := make([]*Parser, 0, len(r.parsers))
	ranked = append(ranked, byExt...)
	ranked = append(ranked, byMime...)
	ranked = append(ranked, rest...)
	return ranked
}

func matchesAnyExt(patterns []string, base string) bool {
	for _, pattern := range patterns {
		if doublestar.MatchUnvalidated(strings.ToLower(pattern), base) {
			return true
		}
	}
	return false
}

func matchesAnyMime(mimes []string, hint string) bool {
	for _, m := range mimes {
		if strings.EqualFold(m, hint) {
			return true
		}
	}
	return false
}
