package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sample = `
years:
  - year: 1
    steps:
      - id: prog-basics
        title: Programming basics
        resources:
          - title: Tour
            url: https://go.dev/tour
            type: tutorial
          - title: Book
            url: https://example.com/book
            type: book
  - year: 2
    steps:
      - id: dsa-arrays
        title: Arrays
`

func TestParse_IndexesStepsWithYear(t *testing.T) {
	c, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 steps, got %d", c.Len())
	}

	def, ok := c.Lookup("prog-basics")
	if !ok {
		t.Fatalf("expected prog-basics to be found")
	}
	if def.Year != 1 || len(def.Resources) != 2 {
		t.Fatalf("unexpected definition: %+v", def)
	}

	def.Resources[0].URL = "mutated"
	again, _ := c.Lookup("prog-basics")
	if again.Resources[0].URL == "mutated" {
		t.Fatalf("lookup should return a copy")
	}

	if _, ok := c.Lookup("missing"); ok {
		t.Fatalf("expected missing step to miss")
	}
}

func TestParse_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"year out of range", "years:\n  - year: 5\n    steps: []\n", "out of range"},
		{"missing id", "years:\n  - year: 1\n    steps:\n      - title: x\n", "has no id"},
		{"duplicate id", "years:\n  - year: 1\n    steps:\n      - id: a\n  - year: 2\n    steps:\n      - id: a\n", "duplicate"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty catalog")
	}
}

func TestLoad_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := c.Lookup("dsa-arrays"); !ok {
		t.Fatalf("expected dsa-arrays to be loaded")
	}
}
