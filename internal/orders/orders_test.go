package orders

import (
	"strings"
	"testing"
)

func TestResolvePresetCaseInvariant(t *testing.T) {
	for _, p := range Presets() {
		lower := strings.ToLower(string(p))
		variants := []string{
			string(p),
			lower,
			"  " + string(p) + "  ",
			strings.ToUpper(lower[:1]) + lower[1:], // mixed case
		}
		for _, in := range variants {
			text, got := Resolve(in)
			if got != p {
				t.Errorf("Resolve(%q) preset = %q, want %q", in, got, p)
			}
			if text != p.Text() {
				t.Errorf("Resolve(%q) returned wrong text", in)
			}
			if text == "" {
				t.Errorf("preset %q has empty text", p)
			}
		}
	}
}

func TestResolveFreeTextPassthrough(t *testing.T) {
	inputs := []string{
		"",
		"keep the build green and ping me on failures",
		"DO_NOTHING until 5pm then switch to STANDARD", // prefix match is not a name match
		"standards", // near-miss of a preset name
	}
	for _, in := range inputs {
		text, preset := Resolve(in)
		if text != in {
			t.Errorf("Resolve(%q) text = %q, want input unchanged", in, text)
		}
		if preset != "" {
			t.Errorf("Resolve(%q) preset = %q, want none", in, preset)
		}
	}
}

func TestPresetSetSize(t *testing.T) {
	if got := len(Presets()); got != 11 {
		t.Errorf("Presets() has %d entries, want 11", got)
	}
	seen := map[Preset]bool{}
	for _, p := range Presets() {
		if seen[p] {
			t.Errorf("duplicate preset %q", p)
		}
		seen[p] = true
		if !p.Valid() {
			t.Errorf("listed preset %q not Valid", p)
		}
	}
	if Preset("NOPE").Valid() {
		t.Error("unknown preset reported Valid")
	}
}

func TestIsDoNothing(t *testing.T) {
	tests := []struct {
		orders string
		want   bool
	}{
		{"DO_NOTHING", true},
		{"do_nothing", true},
		{"  Do_Nothing, out sick today", true},
		{"DO_NOTHING. Leave this agent alone.", true},
		{"", false},
		{"STANDARD", false},
		{"please DO_NOTHING", false},
		{"DO_NOTHIN", false},
	}
	for _, tc := range tests {
		if got := IsDoNothing(tc.orders); got != tc.want {
			t.Errorf("IsDoNothing(%q) = %v, want %v", tc.orders, got, tc.want)
		}
	}
}
