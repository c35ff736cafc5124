package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCatalogValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(good, []byte(`
years:
  - year: 1
    steps:
      - id: go-basics
        title: Go basics
      - id: http-servers
        title: HTTP servers
`), 0o644)
	os.WriteFile(bad, []byte(`
years:
  - year: 1
    steps:
      - id: go-basics
      - id: go-basics
`), 0o644)

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr string
	}{
		{"valid file", good, "OK: 2 steps", ""},
		{"duplicate ids", bad, "", "duplicate step id"},
		{"missing file", filepath.Join(dir, "nope.yaml"), "", "failed to read catalog"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := run(t, "catalog", "validate", tc.path)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(out, tc.want) {
				t.Errorf("expected %q in output, got %q", tc.want, out)
			}
		})
	}
}

func TestSampleCatalogIsValid(t *testing.T) {
	out, err := run(t, "catalog", "validate", filepath.Join("..", "..", "catalog", "roadmap.yaml"))
	if err != nil {
		t.Fatalf("sample catalog rejected: %v", err)
	}
	if !strings.HasPrefix(out, "OK: ") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")
	userID := uuid.New()

	out, err := run(t, "token", userID.String(), "--ttl", "5m")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Count(strings.TrimSpace(out), ".") != 2 {
		t.Errorf("expected a JWT, got %q", out)
	}
}

func TestUserIDValidation(t *testing.T) {
	for _, args := range [][]string{
		{"stats", "not-a-uuid"},
		{"engagement", "not-a-uuid", "go-basics"},
		{"reset", "not-a-uuid", "go-basics"},
		{"token", "not-a-uuid"},
	} {
		_, err := run(t, args...)
		if err == nil || !strings.Contains(err.Error(), "invalid user id") {
			t.Errorf("%v: expected invalid user id error, got %v", args, err)
		}
	}
}
