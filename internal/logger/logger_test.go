package logger

import "testing"

func TestSanitizeKVs_RedactsSensitiveKeys(t *testing.T) {
	out := sanitizeKVs([]interface{}{"user_id", "u1", "jwt_token", "abc", "DB_PASSWORD", "pw"})

	if out[1] != "u1" {
		t.Fatalf("expected user_id to pass through, got %v", out[1])
	}
	if out[3] != "[redacted]" {
		t.Fatalf("expected token to be redacted, got %v", out[3])
	}
	if out[5] != "[redacted]" {
		t.Fatalf("expected password to be redacted, got %v", out[5])
	}
}

func TestSanitizeKVs_OddLength(t *testing.T) {
	out := sanitizeKVs([]interface{}{"step_id", "s1", "dangling"})
	if len(out) != 3 || out[2] != "dangling" {
		t.Fatalf("expected trailing key to be kept, got %v", out)
	}
}
