package history

import (
	"reflect"
	"testing"
)

func TestKeywords(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty", "", nil},
		{"stop words only", "the is a of", nil},
		{"lowercases", "DLF Apartment", []string{"dlf", "apartment"}},
		{"strips punctuation", "who paid, and why?", []string{"paid"}},
		{"keeps numbers", "paid 42 crore in 2015", []string{"paid", "42", "crore", "2015"}},
		{"collapses duplicates", "gold gold gold price", []string{"gold", "price"}},
		{
			"full query",
			"How much Anmol singh paid for his DLF apartment via Capbridge?",
			[]string{"anmol", "singh", "paid", "dlf", "apartment", "via", "capbridge"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Keywords(tt.input)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Keywords(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestJaccard(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []string
		expected float64
	}{
		{"identical", []string{"a", "b", "c"}, []string{"a", "b", "c"}, 1.0},
		{"disjoint", []string{"a"}, []string{"b"}, 0.0},
		{"both empty", nil, nil, 0.0},
		{"one empty", []string{"a"}, nil, 0.0},
		{"half overlap", []string{"a", "b"}, []string{"b", "c"}, 1.0 / 3.0},
		{"duplicates collapse", []string{"a", "a", "b"}, []string{"a", "b"}, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Jaccard(tt.a, tt.b)
			if got != tt.expected {
				t.Errorf("Jaccard(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}

func TestJaccardSymmetric(t *testing.T) {
	a := []string{"anmol", "singh", "paid", "dlf"}
	b := []string{"anmol", "singh", "dlf", "capbridge"}
	if Jaccard(a, b) != Jaccard(b, a) {
		t.Error("Jaccard is not symmetric")
	}
}
