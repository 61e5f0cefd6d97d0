package diffengine

import (
	"reflect"
	"testing"
)

func reconstructLeft(entries []Entry) string {
	var out []rune
	for _, e := range entries {
		if e.Tag == Unchanged || e.Tag == Removed {
			out = append(out, e.Char)
		}
	}
	return string(out)
}

func reconstructRight(entries []Entry) string {
	var out []rune
	for _, e := range entries {
		if e.Tag == Unchanged || e.Tag == Added {
			out = append(out, e.Char)
		}
	}
	return string(out)
}

func TestDiffIdentical(t *testing.T) {
	if got := Diff("hello", "hello"); got != nil {
		t.Errorf("expected nil diff for identical strings, got %v", got)
	}
}

func TestDiffReconstructsBothSides(t *testing.T) {
	cases := [][2]string{
		{"cat", "cart"},
		{"", "abc"},
		{"abc", ""},
		{"hello", "ello!"},
		{"ab", "aXb"},
		{"kitten", "sitting"},
	}
	for _, c := range cases {
		entries := Diff(c[0], c[1])
		if got := reconstructLeft(entries); got != c[0] {
			t.Errorf("Diff(%q,%q): left reconstruction = %q, want %q", c[0], c[1], got, c[0])
		}
		if got := reconstructRight(entries); got != c[1] {
			t.Errorf("Diff(%q,%q): right reconstruction = %q, want %q", c[0], c[1], got, c[1])
		}
	}
}

func TestDiffCatCart(t *testing.T) {
	got := Diff("cat", "cart")
	want := []Entry{
		{Tag: Unchanged, Char: 'c'},
		{Tag: Unchanged, Char: 'a'},
		{Tag: Added, Char: 'r'},
		{Tag: Unchanged, Char: 't'},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Diff(cat,cart) = %+v, want %+v", got, want)
	}
}

func TestDiffEmptyBoth(t *testing.T) {
	if got := Diff("", ""); got != nil {
		t.Errorf("expected nil diff for two empty strings, got %v", got)
	}
}
