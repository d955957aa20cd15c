package main

import (
	"testing"
	"time"
)

func TestResolvePostgresDSNPriority(t *testing.T) {
	t.Setenv("AUSSIEBOT_POSTGRES_DSN", "postgres://env/aussiebot")
	t.Setenv("DATABASE_URL", "postgres://database-url/aussiebot")

	if got := resolvePostgresDSN("postgres://flag/aussiebot"); got != "postgres://flag/aussiebot" {
		t.Fatalf("flag must win, got %q", got)
	}
	if got := resolvePostgresDSN(""); got != "postgres://env/aussiebot" {
		t.Fatalf("env must beat DATABASE_URL, got %q", got)
	}
	t.Setenv("AUSSIEBOT_POSTGRES_DSN", "")
	if got := resolvePostgresDSN(" "); got != "postgres://database-url/aussiebot" {
		t.Fatalf("DATABASE_URL is the last fallback, got %q", got)
	}
}

func TestResolveListenAddrDefault(t *testing.T) {
	if got := resolveListenAddr("", ""); got != ":8080" {
		t.Fatalf("expected default listen address, got %q", got)
	}
	if got := resolveListenAddr("", ":9000"); got != ":9000" {
		t.Fatalf("expected env address, got %q", got)
	}
	if got := resolveListenAddr(":7000", ":9000"); got != ":7000" {
		t.Fatalf("expected flag address, got %q", got)
	}
}

func TestResolveConfigDirDefault(t *testing.T) {
	if got := resolveConfigDir("", ""); got != "config" {
		t.Fatalf("expected default config dir, got %q", got)
	}
	if got := resolveConfigDir("", "/etc/aussiebot"); got != "/etc/aussiebot" {
		t.Fatalf("expected env config dir, got %q", got)
	}
}

func TestSplitAndTrim(t *testing.T) {
	if got := splitAndTrim(" https://a.example , ,https://b.example "); len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", got)
	}
	if got := splitAndTrim(" , "); got != nil {
		t.Fatalf("expected nil for blank input, got %v", got)
	}
}

func TestResolveIntFallsBackToEnv(t *testing.T) {
	t.Setenv("AUSSIEBOT_AUTH_RATELIMIT_COUNT", " 25 ")
	if got := resolveInt(0, "AUSSIEBOT_AUTH_RATELIMIT_COUNT"); got != 25 {
		t.Fatalf("expected env value, got %d", got)
	}
	if got := resolveInt(5, "AUSSIEBOT_AUTH_RATELIMIT_COUNT"); got != 5 {
		t.Fatalf("flag must win, got %d", got)
	}
	t.Setenv("AUSSIEBOT_AUTH_RATELIMIT_COUNT", "bogus")
	if got := resolveInt(0, "AUSSIEBOT_AUTH_RATELIMIT_COUNT"); got != 0 {
		t.Fatalf("unparseable env must yield zero, got %d", got)
	}
}

func TestResolveDurationFallbackChain(t *testing.T) {
	t.Setenv("AUSSIEBOT_SHUTDOWN_TIMEOUT", "30s")
	if got := resolveDuration(0, "AUSSIEBOT_SHUTDOWN_TIMEOUT", time.Minute); got != 30*time.Second {
		t.Fatalf("expected env duration, got %v", got)
	}
	if got := resolveDuration(5*time.Second, "AUSSIEBOT_SHUTDOWN_TIMEOUT", time.Minute); got != 5*time.Second {
		t.Fatalf("flag must win, got %v", got)
	}
	t.Setenv("AUSSIEBOT_SHUTDOWN_TIMEOUT", "")
	if got := resolveDuration(0, "AUSSIEBOT_SHUTDOWN_TIMEOUT", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback, got %v", got)
	}
}
