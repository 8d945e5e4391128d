// Copyright (c) 2024 The scribechain developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package canon

import (
	"bytes"
	"testing"
)

func TestObjSortsKeysByCodePoint(t *testing.T) {
	got := Obj(Fields{}.
		F("zeta", UInt(1)).
		F("alpha", UInt(2)).
		F("Beta", UInt(3)))
	// Upper-case code points sort before lower-case.
	want := `{"Beta":3,"alpha":2,"zeta":1}`
	if string(got) != want {
		t.Errorf("Obj sorted output mismatch:\n got: %s\nwant: %s", got, want)
	}
}

func TestObjInsertionOrderIrrelevant(t *testing.T) {
	a := Obj(Fields{}.F("x", UInt(1)).F("y", Str("v")))
	b := Obj(Fields{}.F("y", Str("v")).F("x", UInt(1)))
	if !bytes.Equal(a, b) {
		t.Errorf("field insertion order changed encoding: %s vs %s", a, b)
	}
}

func TestStrEscaping(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`plain`, `"plain"`},
		{`with "quote"`, `"with \"quote\""`},
		{"back\\slash", `"back\\slash"`},
		{"line\nbreak", `"line\nbreak"`},
		{"tab\there", `"tab\there"`},
		{"bell\x07", `"bell"`},
		{"héllo wörld", `"héllo wörld"`},
	}
	for _, test := range tests {
		if got := Str(test.in); string(got) != test.want {
			t.Errorf("Str(%q) = %s, want %s", test.in, got, test.want)
		}
	}
}

func TestHex(t *testing.T) {
	if got := Hex([]byte{0x00, 0xab, 0xff}); string(got) != `"00abff"` {
		t.Errorf("Hex = %s, want \"00abff\"", got)
	}
	if got := Hex(nil); string(got) != `""` {
		t.Errorf("Hex(nil) = %s, want empty string", got)
	}
}

func TestUInt(t *testing.T) {
	if got := UInt(0); string(got) != "0" {
		t.Errorf("UInt(0) = %s", got)
	}
	if got := UInt(18446744073709551615); string(got) != "18446744073709551615" {
		t.Errorf("UInt(max) = %s", got)
	}
}

func TestArrPreservesOrder(t *testing.T) {
	got := Arr([]Value{UInt(3), UInt(1), UInt(2)})
	if string(got) != "[3,1,2]" {
		t.Errorf("Arr = %s, want [3,1,2]", got)
	}
	if string(Arr(nil)) != "[]" {
		t.Errorf("Arr(nil) = %s, want []", Arr(nil))
	}
}

func TestOptHash(t *testing.T) {
	if string(OptHash(nil)) != "null" {
		t.Errorf("OptHash(nil) = %s, want null", OptHash(nil))
	}
	h := [32]byte{0x01}
	got := OptHash(&h)
	want := `"0100000000000000000000000000000000000000000000000000000000000000"`
	if string(got) != want {
		t.Errorf("OptHash = %s, want %s", got, want)
	}
}
