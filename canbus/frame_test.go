package canbus

import (
	"errors"
	"testing"
)

func TestFrameBinaryAndString(t *testing.T) {
	cases := []struct {
		name    string
		frame   Frame
		wantStr string
	}{
		{"standard with data", MustFrame(0x123, []byte{0xDE, 0xAD}), "123 [2] DE AD"},
		{"motor encoder id", MustFrame(0x03F, []byte{1, 0, 0, 0, 2, 0, 0, 0}), "03F [8] 01 00 00 00 02 00 00 00"},
		{"extended RTR", Frame{ID: 0x1ABCDEFF, Extended: true, RTR: true}, "1ABCDEFF [0] RTR"},
	}
	for _, tc := range cases {
		if err := tc.frame.Validate(); err != nil {
			t.Fatalf("%s: validate: %v", tc.name, err)
		}
		b, err := tc.frame.MarshalBinary()
		if err != nil {
			t.Fatalf("%s: marshal: %v", tc.name, err)
		}
		if len(b) != 16 {
			t.Fatalf("%s: marshal len %d", tc.name, len(b))
		}
		var g Frame
		if err := g.UnmarshalBinary(b); err != nil {
			t.Fatalf("%s: unmarshal: %v", tc.name, err)
		}
		if g != tc.frame {
			t.Fatalf("%s: roundtrip: got %+v want %+v", tc.name, g, tc.frame)
		}
		if got := g.String(); got != tc.wantStr {
			t.Fatalf("%s: String() = %q, want %q", tc.name, got, tc.wantStr)
		}
	}
}

func TestFrameValidateRejects(t *testing.T) {
	if err := (Frame{ID: 0x800}).Validate(); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("standard 0x800: got %v", err)
	}
	if err := (Frame{ID: 0x20000000, Extended: true}).Validate(); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("extended overflow: got %v", err)
	}
	if err := (Frame{ID: 1, Len: 9}).Validate(); !errors.Is(err, ErrInvalidLen) {
		t.Fatalf("len 9: got %v", err)
	}
	if _, err := NewFrame(0x100, make([]byte, 9)); !errors.Is(err, ErrInvalidLen) {
		t.Fatalf("NewFrame len 9: got %v", err)
	}
	if _, err := NewFrame(0x900, nil); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("NewFrame id: got %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("MustFrame should panic for len>8")
		}
	}()
	_ = MustFrame(0x123, make([]byte, 9))
}

func TestUnmarshalShort(t *testing.T) {
	var f Frame
	if err := f.UnmarshalBinary(make([]byte, 8)); err == nil {
		t.Fatalf("expected error for short buffer")
	}
}
