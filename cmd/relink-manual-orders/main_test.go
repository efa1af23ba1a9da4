package main

import (
	"context"
	"testing"

	"github.com/codyseavey/tcg-portfolio/internal/services"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Nidoran ♂", "nidoran m"},
		{"Pokémon Center", "pokemon center"},
		{"  Blaine’s   Charizard ", "blaine's charizard"},
		{"PIKACHU", "pikachu"},
	}
	for _, tt := range tests {
		if got := normalizeName(tt.input); got != tt.expected {
			t.Errorf("normalizeName(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestFindMatches(t *testing.T) {
	catalog := services.NewSinglesCatalog(t.TempDir(), nil)
	catalog.LoadFrom(
		[]services.LocalSet{{ID: "base1", Name: "Base"}, {ID: "base2", Name: "Jungle"}},
		[]services.LocalPokemonCard{
			{ID: "base1-4", Name: "Charizard", Number: "4", SetID: "base1"},
			{ID: "base1-46", Name: "Charmander", Number: "46", SetID: "base1"},
			{ID: "base1-58", Name: "Pikachu", Number: "58", SetID: "base1"},
			{ID: "base2-60", Name: "Pikachu", Number: "60", SetID: "base2"},
		},
	)
	ctx := context.Background()

	tests := []struct {
		name      string
		expansion string
		want      []string
	}{
		{"charizard", "", []string{"base1-4"}},
		{"Pikachu", "", []string{"base1-58", "base2-60"}},
		{"Pikachu", "base2", []string{"base2-60"}},
		{"Pikachu", "Jungle", []string{"base2-60"}},
		{"Pikachu", "neo1", []string{"base1-58", "base2-60"}},
		{"Char", "", nil},
		{" ", "", nil},
	}
	for _, tt := range tests {
		matches, err := findMatches(ctx, catalog, tt.name, tt.expansion)
		if err != nil {
			t.Fatalf("findMatches(%q) error = %v", tt.name, err)
		}
		if len(matches) != len(tt.want) {
			t.Errorf("findMatches(%q, %q) returned %d matches, want %d", tt.name, tt.expansion, len(matches), len(tt.want))
			continue
		}
		for i, m := range matches {
			if m.Card.ID != tt.want[i] {
				t.Errorf("findMatches(%q, %q)[%d] = %s, want %s", tt.name, tt.expansion, i, m.Card.ID, tt.want[i])
			}
		}
	}
}

func TestParseSelection(t *testing.T) {
	tests := []struct {
		input string
		want  int
		ok    bool
	}{
		{"2\n", 2, true},
		{"s\n", 0, false},
		{"\n", 0, false},
		{"4", 0, false},
		{"0", 0, false},
		{"abc", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseSelection(tt.input, 3)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseSelection(%q) = %d, %v; want %d, %v", tt.input, got, ok, tt.want, tt.ok)
		}
	}
}
