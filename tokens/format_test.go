package tokens

import (
	"errors"
	"strings"
	"testing"
)

func TestRandomValue(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		v := RandomValue()
		if len(v) != opaqueLength {
			t.Fatalf("len(RandomValue()) = %d, want %d", len(v), opaqueLength)
		}
		if seen[v] {
			t.Fatal("RandomValue() produced a duplicate")
		}
		seen[v] = true
	}
}

func TestOpaque_MintAndCheck(t *testing.T) {
	f := Opaque{}
	if f.Name() != "opaque" {
		t.Errorf("Name() = %q", f.Name())
	}

	v, err := f.Mint(nil)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	if err := f.Check(v); err != nil {
		t.Errorf("Check(minted) error = %v", err)
	}
}

func TestOpaque_CheckRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"short", "abc"},
		{"long", strings.Repeat("a", opaqueLength+1)},
		{"invalid character", strings.Repeat("a", opaqueLength-1) + "="},
		{"whitespace", strings.Repeat("a", opaqueLength-1) + " "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Opaque{}.Check(tt.raw)
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("Check(%q) error = %v, want ErrMalformed", tt.raw, err)
			}
		})
	}
}
