// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldscope

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"time"

	"golang.org/x/text/encoding"
)

// integerField is the leaf behind Bit, Bits, and the fixed-width
// UIntN/IntN constructors below: a bit-aligned window decoded once and
// cached on first access.
type integerField struct {
	baseField
	nbits  uint
	signed bool
	value  *int64
}

func newIntegerField(parent *FieldSet, name, description string, nbits uint, signed bool) *integerField {
	return &integerField{
		baseField: newBaseField(parent, name, description),
		nbits:     nbits,
		signed:    signed,
	}
}

func (f *integerField) Size() (uint64, error) { return uint64(f.nbits), nil }

func (f *integerField) Value() (interface{}, error) {
	if f.value == nil {
		v, err := f.stream().ReadInteger(f.AbsoluteAddress(), f.signed, f.nbits, f.endian)
		if err != nil {
			return nil, err
		}
		f.value = &v
	}
	return *f.value, nil
}

func (f *integerField) Display() (string, error) {
	v, err := f.Value()
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(v.(int64), 10), nil
}

func (f *integerField) RawDisplay() (string, error) {
	s, err := f.Display()
	if err != nil {
		return fmt.Sprintf("<error: %v>", err), nil
	}
	return s, nil
}

// Bit is a single-bit unsigned field.
func Bit(parent *FieldSet, name, description string) Field {
	return newIntegerField(parent, name, description, 1, false)
}

// Bits is an nbits-wide unsigned field (1..64).
func Bits(parent *FieldSet, name, description string, nbits uint) Field {
	return newIntegerField(parent, name, description, nbits, false)
}

// UInt8, UInt16, UInt24, UInt32 and UInt64 are fixed-width unsigned
// integer leaves.
func UInt8(parent *FieldSet, name, description string) Field {
	return newIntegerField(parent, name, description, 8, false)
}
func UInt16(parent *FieldSet, name, description string) Field {
	return newIntegerField(parent, name, description, 16, false)
}
func UInt24(parent *FieldSet, name, description string) Field {
	return newIntegerField(parent, name, description, 24, false)
}
func UInt32(parent *FieldSet, name, description string) Field {
	return newIntegerField(parent, name, description, 32, false)
}
func UInt64(parent *FieldSet, name, description string) Field {
	return newIntegerField(parent, name, description, 64, false)
}

// Int8, Int16, Int32 and Int64 are fixed-width signed integer leaves.
func Int8(parent *FieldSet, name, description string) Field {
	return newIntegerField(parent, name, description, 8, true)
}
func Int16(parent *FieldSet, name, description string) Field {
	return newIntegerField(parent, name, description, 16, true)
}
func Int32(parent *FieldSet, name, description string) Field {
	return newIntegerField(parent, name, description, 32, true)
}
func Int64(parent *FieldSet, name, description string) Field {
	return newIntegerField(parent, name, description, 64, true)
}

// rawKind distinguishes the three kinds of undecoded-span leaf: plain raw
// bytes (the driver's raw[] filler and a format's own RawBytes alike),
// padding, and a zero-filled null gap.
type rawKind int

const (
	rawKindRaw rawKind = iota
	rawKindPadding
	rawKindNull
)

// rawField is an undecoded, fixed-size run of bits whose value is just
// the bytes themselves. For rawKindNull and rawKindPadding, Value also
// checks the bytes actually read against the fill the field claims to
// be (all-zero, or a repeating pattern), reporting a mismatch through
// the owning set's autofix policy.
type rawField struct {
	baseField
	nbits   uint64
	kind    rawKind
	pattern []byte
}

func (f *rawField) Size() (uint64, error) { return f.nbits, nil }

func (f *rawField) Value() (interface{}, error) {
	raw, err := f.stream().ReadBytes(f.AbsoluteAddress(), (f.nbits+7)/8)
	if err != nil {
		return nil, err
	}
	if err := f.checkFill(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// checkFill validates a null or padding field's bytes against the fill it
// claims, raising a ParserError unless the owning set's autofix policy
// downgrades the mismatch to a logged warning.
func (f *rawField) checkFill(raw []byte) error {
	var mismatch bool
	switch f.kind {
	case rawKindNull:
		for _, b := range raw {
			if b != 0 {
				mismatch = true
				break
			}
		}
		if mismatch {
			return f.fillError("is not zero-filled")
		}
	case rawKindPadding:
		if len(f.pattern) == 0 {
			return nil
		}
		for i, b := range raw {
			if b != f.pattern[i%len(f.pattern)] {
				mismatch = true
				break
			}
		}
		if mismatch {
			return f.fillError("does not match its expected pattern")
		}
	}
	return nil
}

func (f *rawField) fillError(reason string) error {
	if f.parent.optsAutoFix() {
		f.parent.helper.Warnf("%s %s", f.Path(), reason)
		return nil
	}
	return newParserError(f.Path(), "%s", reason)
}

func (f *rawField) Display() (string, error) {
	v, err := f.Value()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("% x", v.([]byte)), nil
}

func (f *rawField) RawDisplay() (string, error) {
	s, err := f.Display()
	if err != nil {
		return fmt.Sprintf("<%d raw bits>", f.nbits), nil
	}
	return s, nil
}

func newRawField(parent *FieldSet, name string, nbits uint64) Field {
	return &rawField{baseField: newBaseField(parent, name, ""), nbits: nbits, kind: rawKindRaw}
}

func newPaddingField(parent *FieldSet, name, description string, nbits uint64, pattern []byte) Field {
	return &rawField{baseField: newBaseField(parent, name, description), nbits: nbits, kind: rawKindPadding, pattern: pattern}
}

func newNullField(parent *FieldSet, name, description string, nbits uint64) Field {
	return &rawField{baseField: newBaseField(parent, name, description), nbits: nbits, kind: rawKindNull}
}

// RawBytes is a format's own deliberate raw-bytes leaf (as opposed to the
// driver's internal raw[]/padding[]/null[] synthesis above).
func RawBytes(parent *FieldSet, name, description string, nbytes uint64) Field {
	return &rawField{baseField: newBaseField(parent, name, description), nbits: nbytes * 8, kind: rawKindRaw}
}

// PaddingBits and PaddingBytes are explicit alignment/filler fields a
// format's own producer can yield, distinct from the ones seekBit
// synthesizes on the driver's behalf. pattern, if non-nil, is the
// repeating byte sequence the padding is expected to hold (e.g. 0xFF
// for some container formats' filler); a nil pattern skips the check.
func PaddingBits(parent *FieldSet, name, description string, nbits uint64, pattern []byte) Field {
	return newPaddingField(parent, name, description, nbits, pattern)
}
func PaddingBytes(parent *FieldSet, name, description string, nbytes uint64, pattern []byte) Field {
	return newPaddingField(parent, name, description, nbytes*8, pattern)
}

// NullBits and NullBytes are explicit zero-filled gap fields; reading one
// whose bytes aren't all zero is a fill mismatch, handled like any other
// autofix-eligible structural error.
func NullBits(parent *FieldSet, name, description string, nbits uint64) Field {
	return newNullField(parent, name, description, nbits)
}
func NullBytes(parent *FieldSet, name, description string, nbytes uint64) Field {
	return newNullField(parent, name, description, nbytes*8)
}

// stringKind distinguishes the three ways a string leaf's length is
// determined.
type stringKind int

const (
	stringFixed stringKind = iota
	stringTerminated
	stringPascal8
	stringPascal16
)

// stringField decodes a run of bytes through charset (nil means the bytes
// are used unconverted as the Go string) into a string leaf. For stringTerminated and
// the Pascal-length kinds, the size isn't known until the stream is
// probed, so Size() reads ahead and caches the result exactly once.
type stringField struct {
	baseField
	kind       stringKind
	charset    encoding.Encoding
	strip      bool
	terminator byte

	nbits uint64
	sized bool
	value *string
}

func (f *stringField) Size() (uint64, error) {
	if f.sized {
		return f.nbits, nil
	}
	switch f.kind {
	case stringFixed:
		f.sized = true
		return f.nbits, nil
	case stringTerminated:
		addr := f.AbsoluteAddress()
		offset, found, err := f.stream().SearchBytes([]byte{f.terminator}, addr, -1)
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, newParserError(f.Path(), "unterminated string")
		}
		f.nbits = (offset - addr) + 8
	case stringPascal8:
		n, err := f.stream().ReadInteger(f.AbsoluteAddress(), false, 8, f.endian)
		if err != nil {
			return 0, err
		}
		f.nbits = 8 + uint64(n)*8
	case stringPascal16:
		n, err := f.stream().ReadInteger(f.AbsoluteAddress(), false, 16, f.endian)
		if err != nil {
			return 0, err
		}
		f.nbits = 16 + uint64(n)*8
	}
	f.sized = true
	return f.nbits, nil
}

func (f *stringField) payload() ([]byte, error) {
	nbits, err := f.Size()
	if err != nil {
		return nil, err
	}
	switch f.kind {
	case stringFixed:
		raw, err := f.stream().ReadBytes(f.AbsoluteAddress(), nbits/8)
		if err != nil {
			return nil, err
		}
		if f.strip {
			raw = bytes.TrimRight(raw, "\x00 ")
		}
		return raw, nil
	case stringTerminated:
		raw, err := f.stream().ReadBytes(f.AbsoluteAddress(), nbits/8-1)
		return raw, err
	case stringPascal8:
		return f.stream().ReadBytes(f.AbsoluteAddress()+8, nbits/8-1)
	case stringPascal16:
		return f.stream().ReadBytes(f.AbsoluteAddress()+16, nbits/8-2)
	}
	return nil, nil
}

func (f *stringField) Value() (interface{}, error) {
	if f.value != nil {
		return *f.value, nil
	}
	raw, err := f.payload()
	if err != nil {
		return nil, err
	}
	decoded, err := decodeCharset(f.charset, raw)
	if err != nil {
		return nil, err
	}
	f.value = &decoded
	return decoded, nil
}

func (f *stringField) Display() (string, error) {
	v, err := f.Value()
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (f *stringField) RawDisplay() (string, error) {
	s, err := f.Display()
	if err == nil {
		return s, nil
	}
	raw, rerr := f.payload()
	if rerr != nil {
		return fmt.Sprintf("<error: %v>", err), nil
	}
	return fmt.Sprintf("%q", raw), nil
}

func decodeCharset(enc encoding.Encoding, raw []byte) (string, error) {
	if enc == nil {
		return string(raw), nil
	}
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", newParserError("", "charset decode: %w", err)
	}
	return string(decoded), nil
}

// String is a fixed-length string leaf. strip trims trailing NUL/space
// padding from the decoded value.
func String(parent *FieldSet, name, description string, nbytes uint64, charset encoding.Encoding, strip bool) Field {
	return &stringField{
		baseField: newBaseField(parent, name, description),
		kind:      stringFixed,
		charset:   charset,
		strip:     strip,
		nbits:     nbytes * 8,
	}
}

// CString is a NUL-terminated string leaf whose length is discovered by
// scanning the stream on first access.
func CString(parent *FieldSet, name, description string, charset encoding.Encoding) Field {
	return &stringField{
		baseField:  newBaseField(parent, name, description),
		kind:       stringTerminated,
		charset:    charset,
		terminator: 0,
	}
}

// Line is a newline-terminated string leaf, as used by formats whose
// headers are lines of ASCII text rather than NUL-terminated runs.
func Line(parent *FieldSet, name, description string, charset encoding.Encoding) Field {
	return &stringField{
		baseField:  newBaseField(parent, name, description),
		kind:       stringTerminated,
		charset:    charset,
		terminator: '\n',
	}
}

// PascalString8 and PascalString16 are length-prefixed string leaves (an
// 8- or 16-bit unsigned count of bytes, followed by that many bytes).
func PascalString8(parent *FieldSet, name, description string, charset encoding.Encoding) Field {
	return &stringField{baseField: newBaseField(parent, name, description), kind: stringPascal8, charset: charset}
}
func PascalString16(parent *FieldSet, name, description string, charset encoding.Encoding) Field {
	return &stringField{baseField: newBaseField(parent, name, description), kind: stringPascal16, charset: charset}
}

// floatExponentField is the biased exponent of a composite float, decoded
// with the bias subtracted.
type floatExponentField struct {
	*integerField
	bias int64
}

func newFloatExponent(parent *FieldSet, name string, nbits uint) *floatExponentField {
	bias := int64(1)<<(nbits-1) - 1
	return &floatExponentField{integerField: newIntegerField(parent, name, "", nbits, false), bias: bias}
}

func (f *floatExponentField) Value() (interface{}, error) {
	raw, err := f.integerField.Value()
	if err != nil {
		return nil, err
	}
	return raw.(int64) - f.bias, nil
}

func (f *floatExponentField) Display() (string, error) {
	v, err := f.Value()
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(v.(int64), 10), nil
}
func (f *floatExponentField) RawDisplay() (string, error) { return f.Display() }

// floatMantissaField is a composite float's fractional mantissa, decoded
// as 1 + rawValue/2^size.
type floatMantissaField struct {
	*integerField
}

func newFloatMantissa(parent *FieldSet, name string, nbits uint) *floatMantissaField {
	return &floatMantissaField{integerField: newIntegerField(parent, name, "", nbits, false)}
}

func (f *floatMantissaField) Value() (interface{}, error) {
	raw, err := f.integerField.Value()
	if err != nil {
		return nil, err
	}
	return 1 + float64(raw.(int64))/math.Pow(2, float64(f.nbits)), nil
}

func (f *floatMantissaField) Display() (string, error) {
	v, err := f.Value()
	if err != nil {
		return "", err
	}
	return strconv.FormatFloat(v.(float64), 'g', -1, 64), nil
}
func (f *floatMantissaField) RawDisplay() (string, error) { return f.Display() }

// newFloatFieldSet builds the sign/exponent/mantissa tree a composite
// float is made of. The wrapping floatField's native flag selects whether
// Value() takes the fast path through InputStream.ReadFloat (for
// the 32- and 64-bit formats a machine float represents directly) or
// composes the three children (the only option for the 80-bit extended
// format).
func newFloatFieldSet(parent *FieldSet, name, description string, mantissaBits, exponentBits uint) *FieldSet {
	size := uint64(1 + mantissaBits + exponentBits)
	return NewChildFieldSet(parent, name, description, &size, nil, func(self *FieldSet, yield Yield) error {
		if !yield(Bit(self, "negative", "")) {
			return nil
		}
		if !yield(newFloatExponent(self, "exponent", exponentBits)) {
			return nil
		}
		if mantissaBits >= 64 {
			if !yield(Bit(self, "one", "")) {
				return nil
			}
			if !yield(newFloatMantissa(self, "mantissa", mantissaBits-1)) {
				return nil
			}
		} else {
			if !yield(newFloatMantissa(self, "mantissa", mantissaBits)) {
				return nil
			}
		}
		return nil
	})
}

// floatField is a composite float leaf: a FieldSet of sign/exponent/
// mantissa children, with Value/Display overridden to report the decoded
// float instead of the set of children.
type floatField struct {
	*FieldSet
	native bool
	double bool
}

func (f *floatField) Value() (interface{}, error) {
	if f.native {
		return f.FieldSet.stream.ReadFloat(f.FieldSet.AbsoluteAddress(), f.double, f.FieldSet.endian)
	}
	mantissa, err := f.FieldSet.Field("mantissa")
	if err != nil {
		return nil, err
	}
	exponent, err := f.FieldSet.Field("exponent")
	if err != nil {
		return nil, err
	}
	negative, err := f.FieldSet.Field("negative")
	if err != nil {
		return nil, err
	}
	mv, err := mantissa.Value()
	if err != nil {
		return nil, err
	}
	ev, err := exponent.Value()
	if err != nil {
		return nil, err
	}
	nv, err := negative.Value()
	if err != nil {
		return nil, err
	}
	value := mv.(float64) * math.Pow(2, float64(ev.(int64)))
	if nv.(int64) != 0 {
		value = -value
	}
	return value, nil
}

func (f *floatField) Display() (string, error) {
	v, err := f.Value()
	if err != nil {
		return "", err
	}
	return strconv.FormatFloat(v.(float64), 'g', -1, 64), nil
}

func (f *floatField) RawDisplay() (string, error) {
	s, err := f.Display()
	if err != nil {
		return fmt.Sprintf("<error: %v>", err), nil
	}
	return s, nil
}

// Float32 and Float64 are IEEE-754 binary32/binary64 leaves, decoded
// directly by the stream's native float reader.
func Float32(parent *FieldSet, name, description string) Field {
	return &floatField{FieldSet: newFloatFieldSet(parent, name, description, 23, 8), native: true, double: false}
}
func Float64(parent *FieldSet, name, description string) Field {
	return &floatField{FieldSet: newFloatFieldSet(parent, name, description, 52, 11), native: true, double: true}
}

// Float80 is the x87 80-bit extended-precision float, which no Go machine
// type represents; it is reconstructed from its sign/exponent/mantissa
// children instead.
func Float80(parent *FieldSet, name, description string) Field {
	return &floatField{FieldSet: newFloatFieldSet(parent, name, description, 64, 15), native: false}
}

// macEpoch is the classic Mac OS / HFS+ timestamp epoch (1904-01-01 UTC).
var macEpoch = time.Date(1904, time.January, 1, 0, 0, 0, 0, time.UTC)

// timestampField wraps an unsigned integer leaf whose value is a count of
// seconds since macEpoch.
type timestampField struct {
	*integerField
}

// TimestampMac32 and TimestampMac64 are 32- and 64-bit counts of seconds
// since the Mac epoch, as used by resource-fork and font container
// formats.
func TimestampMac32(parent *FieldSet, name, description string) Field {
	return &timestampField{integerField: newIntegerField(parent, name, description, 32, false)}
}
func TimestampMac64(parent *FieldSet, name, description string) Field {
	return &timestampField{integerField: newIntegerField(parent, name, description, 64, false)}
}

// Time returns the decoded value as a time.Time.
func (t *timestampField) Time() (time.Time, error) {
	v, err := t.Value()
	if err != nil {
		return time.Time{}, err
	}
	return macEpoch.Add(time.Duration(v.(int64)) * time.Second), nil
}

func (t *timestampField) Display() (string, error) {
	tm, err := t.Time()
	if err != nil {
		return "", err
	}
	return tm.Format(time.RFC3339), nil
}

func (t *timestampField) RawDisplay() (string, error) {
	s, err := t.Display()
	if err != nil {
		return t.integerField.RawDisplay()
	}
	return s, nil
}

// enumField wraps an integer-valued leaf, mapping its decoded value
// through a lookup table for Display while leaving Value untouched. It
// forwards setName/setAddress to the wrapped field when present, so the
// driver can still rename/re-address it like any other mutable field.
type enumField struct {
	Field
	mapping map[int64]string
}

// Enum labels inner's integer value using mapping, falling back to the
// hexadecimal rendering of the raw value for values mapping doesn't cover.
func Enum(inner Field, mapping map[int64]string) Field {
	return &enumField{Field: inner, mapping: mapping}
}

func (e *enumField) Display() (string, error) {
	v, err := e.Value()
	if err != nil {
		return "", err
	}
	iv, ok := toInt64(v)
	if !ok {
		return e.Field.Display()
	}
	if label, found := e.mapping[iv]; found {
		return label, nil
	}
	return fmt.Sprintf("0x%x", iv), nil
}

func (e *enumField) RawDisplay() (string, error) { return e.Display() }

func (e *enumField) setName(n string) {
	if mf, ok := e.Field.(mutableField); ok {
		mf.setName(n)
	}
}

func (e *enumField) setAddress(a uint64) {
	if mf, ok := e.Field.(mutableField); ok {
		mf.setAddress(a)
	}
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint64:
		return int64(n), true
	}
	return 0, false
}
