// Copyright (c) 2024 The scribechain developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package canon

import "testing"

func TestParseObjectRoundTrip(t *testing.T) {
	enc := Obj(Fields{}.
		F("b", UInt(7)).
		F("a", Str("x\"y")).
		F("c", Null))
	v, err := Parse(enc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	fields, err := ParseObject(v)
	if err != nil {
		t.Fatalf("ParseObject: %v", err)
	}
	if len(fields) != 3 {
		t.Fatalf("got %d fields, want 3", len(fields))
	}
	if n, err := ParseUInt(fields["b"]); err != nil || n != 7 {
		t.Errorf("b = %d (%v), want 7", n, err)
	}
	if s, err := ParseStr(fields["a"]); err != nil || s != `x"y` {
		t.Errorf("a = %q (%v), want x\"y", s, err)
	}
	if !IsNull(fields["c"]) {
		t.Errorf("c should be null")
	}
}

func TestParseArrayRoundTrip(t *testing.T) {
	enc := Arr([]Value{UInt(1), Str("two"), Arr([]Value{UInt(3)})})
	v, err := Parse(enc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	items, err := ParseArray(v)
	if err != nil {
		t.Fatalf("ParseArray: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}
	inner, err := ParseArray(items[2])
	if err != nil || len(inner) != 1 {
		t.Errorf("nested array did not parse: %v", err)
	}
}

func TestParseStrEscapes(t *testing.T) {
	for _, s := range []string{"", "plain", "tab\there", "nl\nthere", `back\slash`, "ctl\x01byte", "héllo"} {
		got, err := ParseStr(RawValue(Str(s)))
		if err != nil {
			t.Fatalf("ParseStr(%q): %v", s, err)
		}
		if got != s {
			t.Errorf("ParseStr(Str(%q)) = %q", s, got)
		}
	}
}

func TestParseHex(t *testing.T) {
	b := []byte{0x00, 0xde, 0xad, 0xbe, 0xef}
	got, err := ParseHex(RawValue(Hex(b)), len(b))
	if err != nil {
		t.Fatalf("ParseHex: %v", err)
	}
	if string(got) != string(b) {
		t.Errorf("hex did not round-trip: %x vs %x", got, b)
	}
	if _, err := ParseHex(RawValue(`"DEAD"`), 2); err == nil {
		t.Errorf("uppercase hex should be rejected")
	}
	if _, err := ParseHex(RawValue(Hex(b)), 4); err == nil {
		t.Errorf("wrong length should be rejected")
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, in := range []string{
		"", "{", "[1,", `{"a"}`, `{"a":1,}`, "nul", `"unterminated`,
		`{"a":1}x`, "12 ", "-3", "1.5",
	} {
		if _, err := Parse([]byte(in)); err == nil {
			t.Errorf("Parse(%q) should fail", in)
		}
	}
}

func TestParseObjectRejectsDuplicateKeys(t *testing.T) {
	if _, err := ParseObject(RawValue(`{"a":1,"a":2}`)); err == nil {
		t.Errorf("duplicate keys should be rejected")
	}
}

func TestParseUIntOverflow(t *testing.T) {
	if _, err := ParseUInt(RawValue("18446744073709551615")); err != nil {
		t.Errorf("max uint64 should parse: %v", err)
	}
	if _, err := ParseUInt(RawValue("18446744073709551616")); err == nil {
		t.Errorf("uint64 overflow should be rejected")
	}
}
