// Copyright (c) 2024 The scribechain developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package canon implements the canonical encoding described in the protocol:
// a JSON-like object/array/string/integer form with sorted keys, no
// whitespace, and no floats. Two conforming implementations must produce
// byte-identical output for equal values, since this encoding is hashed and
// signed directly.
package canon

import (
	"bytes"
	"fmt"
	"sort"
)

// Value is an already-encoded canonical fragment. Composing Values (via Obj
// and Arr) never re-validates their contents, so callers must only build
// Values through the functions in this package.
type Value []byte

// Null is the canonical encoding of the absence of a value.
var Null = Value("null")

// Str encodes s as a canonical JSON-like string: UTF-8 bytes with control
// characters and the quote/backslash escaped.
func Str(s string) Value {
	var buf bytes.Buffer
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
	return Value(buf.Bytes())
}

// Hex encodes b as a canonical lowercase-hex string. The protocol leaves the
// wire representation of raw byte fields (hashes, public keys, signatures)
// unspecified beyond "strings are UTF-8"; this module fixes it to hex.
func Hex(b []byte) Value {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2+2)
	out[0] = '"'
	for i, c := range b {
		out[1+i*2] = hextable[c>>4]
		out[2+i*2] = hextable[c&0xf]
	}
	out[len(out)-1] = '"'
	return Value(out)
}

// UInt encodes v as a canonical decimal integer (no leading zeros, no sign).
func UInt(v uint64) Value {
	return Value(fmt.Sprintf("%d", v))
}

// Bool encodes a boolean. Neither the hashed data model nor the current
// message payloads use it.
func Bool(b bool) Value {
	if b {
		return Value("true")
	}
	return Value("false")
}

// field is a single key/value pair pending sort-by-key in Obj.
type field struct {
	key string
	val Value
}

// Fields accumulates object members before they are sorted and joined by
// Obj. Member order of insertion does not matter.
type Fields []field

// F appends a field and returns the updated slice, for chaining:
//
//	canon.Obj(canon.Fields{}.F("a", canon.UInt(1)).F("b", canon.Str("x")))
func (f Fields) F(key string, val Value) Fields {
	return append(f, field{key, val})
}

// Obj builds a canonical object from fields, sorting members by key in
// code-point order as the protocol requires.
func Obj(fields Fields) Value {
	sorted := make(Fields, len(fields))
	copy(sorted, fields)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].key < sorted[j].key })

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range sorted {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(Str(f.key))
		buf.WriteByte(':')
		buf.Write(f.val)
	}
	buf.WriteByte('}')
	return Value(buf.Bytes())
}

// Arr builds a canonical array, preserving the given order.
func Arr(items []Value) Value {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(v)
	}
	buf.WriteByte(']')
	return Value(buf.Bytes())
}

// OptHash encodes an optional 32-byte hash reference: Null if nil, otherwise
// the hex string.
func OptHash(h *[32]byte) Value {
	if h == nil {
		return Null
	}
	return Hex(h[:])
}
