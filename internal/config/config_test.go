package config

import (
	"testing"
	"time"
)

func TestParseOrigins(t *testing.T) {
	cases := []struct {
		raw  string
		want []string
	}{
		{"", nil},
		{"http://a.test", []string{"http://a.test"}},
		{" http://a.test , ,http://b.test ", []string{"http://a.test", "http://b.test"}},
	}
	for _, c := range cases {
		got := parseOrigins(c.raw)
		if len(got) != len(c.want) {
			t.Fatalf("parseOrigins(%q)=%v, want %v", c.raw, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("parseOrigins(%q)[%d]=%q, want %q", c.raw, i, got[i], c.want[i])
			}
		}
	}
}

func TestLoadDomainDefaults(t *testing.T) {
	t.Setenv("VIOLATION_THRESHOLD", "")
	t.Setenv("SUBMIT_GRACE_SECONDS", "abc")
	t.Setenv("LOGIN_MAX_ATTEMPTS", "-2")

	cfg := Load()
	if cfg.ViolationThreshold != 3 {
		t.Fatalf("ViolationThreshold=%d, want 3", cfg.ViolationThreshold)
	}
	if cfg.SubmitGrace != 60*time.Second {
		t.Fatalf("SubmitGrace=%v, want 60s", cfg.SubmitGrace)
	}
	if cfg.LoginMaxAttempts != 5 {
		t.Fatalf("LoginMaxAttempts=%d, want 5", cfg.LoginMaxAttempts)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("VIOLATION_THRESHOLD", "5")
	t.Setenv("LOGIN_LOCKOUT_MINUTES", "2")

	cfg := Load()
	if cfg.ViolationThreshold != 5 {
		t.Fatalf("ViolationThreshold=%d, want 5", cfg.ViolationThreshold)
	}
	if cfg.LoginLockout != 2*time.Minute {
		t.Fatalf("LoginLockout=%v, want 2m", cfg.LoginLockout)
	}
}

func TestLoadStorage(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"", StoragePostgres},
		{"memory", StorageMemory},
		{" Memory ", StorageMemory},
		{"sqlite", StoragePostgres},
	}
	for _, c := range cases {
		t.Setenv("STORAGE", c.raw)
		if got := Load().Storage; got != c.want {
			t.Errorf("STORAGE=%q: Storage=%q, want %q", c.raw, got, c.want)
		}
	}
}

func TestLoginAttemptsKeyNormalizesEmail(t *testing.T) {
	if got := CacheKey.LoginAttemptsKey("  Ana@Example.COM "); got != "login_attempts:ana@example.com" {
		t.Fatalf("LoginAttemptsKey=%q", got)
	}
}
