// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldscope

import (
	"bytes"
	"io"
	"math"
	"math/big"
	"math/bits"
	"os"

	"github.com/dgryski/go-tinylfu"
	mmap "github.com/edsrzf/mmap-go"
)

// Endian selects the byte/bit order a leaf field is decoded with.
type Endian int

// Supported endian conventions.
const (
	// BigEndian reads the high-order bits of a packed window first.
	BigEndian Endian = iota
	// LittleEndian reads the low-order bits of a packed window first.
	LittleEndian
)

func (e Endian) String() string {
	if e == BigEndian {
		return "big"
	}
	return "little"
}

// byteSource is the minimal random-access contract an InputStream needs
// from whatever backs it: a memory-mapped file, an in-memory buffer, or a
// cached window over an arbitrary io.ReaderAt.
type byteSource interface {
	ReadAt(p []byte, off int64) (int, error)
	// Len returns the source's size in bytes and whether it is known yet.
	Len() (int64, bool)
}

// bufferSource backs an InputStream with an in-memory byte slice (or a
// memory-mapped file, since mmap.MMap is itself a []byte).
type bufferSource struct {
	data []byte
}

func (b *bufferSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

func (b *bufferSource) Len() (int64, bool) { return int64(len(b.data)), true }

// cachedReaderSource backs an InputStream with an arbitrary io.ReaderAt
// whose total size may not be known up front (for example a range-fetched
// remote stream, or a decompressor's ReaderAt adapter). Reads are served
// through a fixed-size chunk cache admitted by TinyLFU, so repeated random
// access to the same region of a large container doesn't repeatedly pay
// the underlying reader's cost.
type cachedReaderSource struct {
	r         io.ReaderAt
	chunkSize int64
	cache     *tinylfu.T[int64, []byte]
	size      int64
	sizeKnown bool
}

const defaultChunkSize = 4096
const defaultChunkCacheSize = 256

func newCachedReaderSource(r io.ReaderAt, knownSize int64, sizeKnown bool) *cachedReaderSource {
	return &cachedReaderSource{
		r:         r,
		chunkSize: defaultChunkSize,
		cache:     tinylfu.New[int64, []byte](defaultChunkCacheSize, defaultChunkCacheSize*10, hashChunkKey),
		size:      knownSize,
		sizeKnown: sizeKnown,
	}
}

func hashChunkKey(k int64) uint64 { return uint64(k) }

func (c *cachedReaderSource) chunk(index int64) ([]byte, error) {
	if blk, ok := c.cache.Get(index); ok {
		return blk, nil
	}
	buf := make([]byte, c.chunkSize)
	n, err := c.r.ReadAt(buf, index*c.chunkSize)
	if n == 0 && err != nil && err != io.EOF {
		return nil, err
	}
	buf = buf[:n]
	if err == io.EOF && !c.sizeKnown {
		c.size = index*c.chunkSize + int64(n)
		c.sizeKnown = true
	}
	c.cache.Add(index, buf)
	return buf, nil
}

func (c *cachedReaderSource) ReadAt(p []byte, off int64) (int, error) {
	read := 0
	for read < len(p) {
		pos := off + int64(read)
		idx := pos / c.chunkSize
		within := pos % c.chunkSize
		blk, err := c.chunk(idx)
		if err != nil {
			return read, err
		}
		if within >= int64(len(blk)) {
			return read, io.EOF
		}
		n := copy(p[read:], blk[within:])
		read += n
		if n < len(blk)-int(within) {
			continue
		}
		if int64(len(blk)) < c.chunkSize {
			// Short chunk: reached end of source.
			if read < len(p) {
				return read, io.EOF
			}
		}
	}
	return read, nil
}

func (c *cachedReaderSource) Len() (int64, bool) { return c.size, c.sizeKnown }

// InputStream is the random-access, bit-addressed view over a byte source
// that every Field ultimately reads from. Its size, once known, never
// changes: a stream opened over a pipe may start with an unknown size and
// only learn it once the underlying source hits EOF.
type InputStream struct {
	source            byteSource
	sizeBits          uint64
	sizeKnown         bool
	endianDefault     Endian
	sourceDescription string
	closer            io.Closer
}

// NewInputStreamBytes wraps an in-memory buffer. Its size is known
// immediately.
func NewInputStreamBytes(data []byte, endianDefault Endian, description string) *InputStream {
	return &InputStream{
		source:            &bufferSource{data: data},
		sizeBits:           uint64(len(data)) * 8,
		sizeKnown:          true,
		endianDefault:      endianDefault,
		sourceDescription:  description,
	}
}

// NewInputStreamFile memory-maps a file read-only: mmap.MMap trades a read
// syscall per access for a single one-time mapping, which scales far
// better for the random, repeated offset reads a lazily-pulled field tree
// performs against a large container.
func NewInputStreamFile(name string, endianDefault Endian) (*InputStream, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, newInputStreamError("/", "open %s: %w", name, err)
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, newInputStreamError("/", "mmap %s: %w", name, err)
	}
	return &InputStream{
		source:            &bufferSource{data: data},
		sizeBits:           uint64(len(data)) * 8,
		sizeKnown:          true,
		endianDefault:      endianDefault,
		sourceDescription:  name,
		closer:             closerFunc(func() error { return data.Unmap() }),
	}, nil
}

// NewInputStreamReaderAt wraps an arbitrary io.ReaderAt whose size may not
// be known ahead of time (sizeKnown=false probes lazily via chunked reads
// admitted through a TinyLFU cache; sizeKnown=true trusts sizeBytes).
func NewInputStreamReaderAt(r io.ReaderAt, sizeBytes int64, sizeKnown bool, endianDefault Endian, description string) *InputStream {
	src := newCachedReaderSource(r, sizeBytes, sizeKnown)
	s := &InputStream{
		source:            src,
		endianDefault:     endianDefault,
		sourceDescription: description,
	}
	if sizeKnown {
		s.sizeBits = uint64(sizeBytes) * 8
		s.sizeKnown = true
	}
	return s
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Close releases any resource the stream owns (e.g. unmaps a file).
func (s *InputStream) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// Size returns the stream's size in bits and whether it is known. Per the
// spec invariant, once known it never changes.
func (s *InputStream) Size() (uint64, bool) { return s.sizeBits, s.sizeKnown }

// SourceDescription returns a human label for the underlying source (a
// file name, or a caller-supplied description for in-memory buffers).
func (s *InputStream) SourceDescription() string { return s.sourceDescription }

// SizeGE reports whether the stream holds at least n bits, probing the
// underlying source when the size is not yet known.
func (s *InputStream) SizeGE(n uint64) bool {
	if s.sizeKnown {
		return s.sizeBits >= n
	}
	// Probe: try to read the last byte of the requested window.
	probeByte := (n + 7) / 8
	buf := make([]byte, 1)
	_, err := s.source.ReadAt(buf, int64(probeByte)-1)
	if err != nil {
		if l, ok := s.source.Len(); ok {
			s.sizeBits = uint64(l) * 8
			s.sizeKnown = true
			return s.sizeBits >= n
		}
		return false
	}
	return true
}

func (s *InputStream) checkRange(offsetBits, nbits uint64) error {
	if s.sizeKnown && offsetBits+nbits > s.sizeBits {
		return newInputStreamError("/", "read [%d, %d) bits exceeds stream size %d bits", offsetBits, offsetBits+nbits, s.sizeBits)
	}
	return nil
}

// ReadBytes returns nbytes raw bytes starting at the given bit offset,
// which must be byte-aligned.
func (s *InputStream) ReadBytes(offsetBits uint64, nbytes uint64) ([]byte, error) {
	if offsetBits%8 != 0 {
		return nil, newInputStreamError("/", "byte read at unaligned bit offset %d", offsetBits)
	}
	if err := s.checkRange(offsetBits, nbytes*8); err != nil {
		return nil, err
	}
	buf := make([]byte, nbytes)
	n, err := s.source.ReadAt(buf, int64(offsetBits/8))
	if err != nil && !(err == io.EOF && uint64(n) == nbytes) {
		return nil, newInputStreamError("/", "read %d bytes at offset %d: %w", nbytes, offsetBits/8, err)
	}
	return buf[:n], nil
}

// ReadBits extracts nbits (1..64) starting at the given absolute bit
// offset, honoring the endian's bit-packing convention (spec §4.1/§6): a
// big-endian read takes the high-order bits of the packed window, a
// little-endian read takes the low-order bits, and bit order within a
// byte is always preserved.
func (s *InputStream) ReadBits(offsetBits uint64, nbits uint, endian Endian) (uint64, error) {
	if nbits < 1 || nbits > 64 {
		return 0, newInputStreamError("/", "invalid bit width %d, must be 1..64", nbits)
	}
	if err := s.checkRange(offsetBits, uint64(nbits)); err != nil {
		return 0, err
	}
	startByte := offsetBits / 8
	bitShift := offsetBits % 8
	totalBits := bitShift + uint64(nbits)
	numBytes := (totalBits + 7) / 8
	buf := make([]byte, numBytes)
	n, err := s.source.ReadAt(buf, int64(startByte))
	if err != nil && !(err == io.EOF && uint64(n) == numBytes) {
		return 0, newInputStreamError("/", "read bits at offset %d: %w", offsetBits, err)
	}

	windowBits := numBytes * 8
	mask := func(n uint) *big.Int {
		return new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), n), big.NewInt(1))
	}

	var window *big.Int
	switch endian {
	case BigEndian:
		window = new(big.Int).SetBytes(buf)
		shift := windowBits - bitShift - uint64(nbits)
		window.Rsh(window, uint(shift))
	case LittleEndian:
		reversed := make([]byte, len(buf))
		for i, b := range buf {
			reversed[len(buf)-1-i] = b
		}
		window = new(big.Int).SetBytes(reversed)
		window.Rsh(window, uint(bitShift))
	default:
		return 0, newInputStreamError("/", "unknown endian %v", endian)
	}
	window.And(window, mask(nbits))
	return window.Uint64(), nil
}

// ReadInteger decodes a signed or unsigned integer of nbits (1..64) at the
// given bit offset.
func (s *InputStream) ReadInteger(offsetBits uint64, signed bool, nbits uint, endian Endian) (int64, error) {
	raw, err := s.ReadBits(offsetBits, nbits, endian)
	if err != nil {
		return 0, err
	}
	if !signed {
		return int64(raw), nil
	}
	if nbits < 64 {
		signBit := uint64(1) << (nbits - 1)
		if raw&signBit != 0 {
			raw |= ^uint64(0) << nbits
		}
	}
	return int64(raw), nil
}

// ReadFloat decodes an IEEE-754 binary32 or binary64 value at the given
// bit offset. Extended 80-bit floats are not representable as a single
// machine float and are instead reconstructed by the Float80 composite
// field from its sign/exponent/mantissa children.
func (s *InputStream) ReadFloat(offsetBits uint64, isDouble bool, endian Endian) (float64, error) {
	if isDouble {
		raw, err := s.ReadBits(offsetBits, 64, endian)
		if err != nil {
			return 0, err
		}
		return math.Float64frombits(raw), nil
	}
	raw, err := s.ReadBits(offsetBits, 32, endian)
	if err != nil {
		return 0, err
	}
	return float64(math.Float32frombits(uint32(raw))), nil
}

// SearchBytes returns the bit offset of the first byte-aligned occurrence
// of pattern within [start, end) (end<0 means "to the known end of the
// stream"), or ok=false if not found.
func (s *InputStream) SearchBytes(pattern []byte, startBits uint64, endBits int64) (uint64, bool, error) {
	if len(pattern) == 0 {
		return startBits, true, nil
	}
	limit := s.sizeBits
	if endBits >= 0 {
		limit = uint64(endBits)
	} else if !s.sizeKnown {
		return 0, false, newInputStreamError("/", "search requires a known end or stream size")
	}
	startByte := startBits / 8
	endByte := (limit + 7) / 8
	if endByte <= startByte {
		return 0, false, nil
	}
	window, err := s.ReadBytes(startByte*8, endByte-startByte)
	if err != nil {
		return 0, false, err
	}
	idx := bytes.Index(window, pattern)
	if idx < 0 {
		return 0, false, nil
	}
	return (startByte+uint64(idx)) * 8, true, nil
}

// bitWidth reports how many bits are needed to represent n; kept here
// since it leans on math/bits.
func bitWidth(n uint64) int {
	return bits.Len64(n)
}
