package repository

import (
	"strings"
	"testing"
)

func TestListActivityQueryBreaksTiesBySequence(t *testing.T) {
	if !strings.Contains(listActivityQuery, "ORDER BY created_at DESC, seq DESC") {
		t.Fatalf("activity must be ordered by time then insert sequence:\n%s", listActivityQuery)
	}
}
