package rcp

import (
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"hyphenated compound kept whole", "5-Fluorouracil", []string{"5-fluorouracil"}},
		{"punctuation splits", "Drug A, Drug B", []string{"drug", "a", "drug", "b"}},
		{"numbers retained", "doza este 15 mg/kg", []string{"doza", "este", "15", "mg", "kg"}},
		{"case folded diacritics", "INDICAȚII Terapeutice", []string{"indicații", "terapeutice"}},
		{"cox inhibitors", "COX-1 și COX-2", []string{"cox-1", "și", "cox-2"}},
		{"section number splits on dot", "vezi pct. 4.8", []string{"vezi", "pct", "4", "8"}},
		{"dangling hyphens trimmed", "pre- și post-", []string{"pre", "și", "post"}},
		{"empty", "", nil},
		{"punctuation only", "—…!?", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokenize(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestTokenize_NoStopwordRemoval(t *testing.T) {
	got := Tokenize("nu se administrează la copii")
	want := []string{"nu", "se", "administrează", "la", "copii"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("stopwords must be kept: got %v", got)
	}
}
