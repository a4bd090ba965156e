package main

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestIntEnv(t *testing.T) {
	t.Setenv("FIELDSYNC_TEST_INT", "42")
	if got := intEnv("FIELDSYNC_TEST_INT", 7); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	if got := intEnv("FIELDSYNC_TEST_INT_MISSING", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
	t.Setenv("FIELDSYNC_TEST_INT", "not a number")
	if got := intEnv("FIELDSYNC_TEST_INT", 7); got != 7 {
		t.Fatalf("expected fallback on bad value, got %d", got)
	}
}

func TestInt64Env(t *testing.T) {
	t.Setenv("FIELDSYNC_TEST_INT64", "1048576")
	if got := int64Env("FIELDSYNC_TEST_INT64", 0); got != 1048576 {
		t.Fatalf("expected 1048576, got %d", got)
	}
	t.Setenv("FIELDSYNC_TEST_INT64", "2MB")
	if got := int64Env("FIELDSYNC_TEST_INT64", 512); got != 512 {
		t.Fatalf("expected fallback on bad value, got %d", got)
	}
}

func TestDurationEnv(t *testing.T) {
	t.Setenv("FIELDSYNC_TEST_DURATION", "250ms")
	if got := durationEnv("FIELDSYNC_TEST_DURATION", time.Second); got != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %s", got)
	}
	t.Setenv("FIELDSYNC_TEST_DURATION", "soon")
	if got := durationEnv("FIELDSYNC_TEST_DURATION", time.Second); got != time.Second {
		t.Fatalf("expected fallback on bad value, got %s", got)
	}
}

func TestStorageProfileDefaultFromEnv(t *testing.T) {
	t.Setenv("FIELDSYNC_BACKEND_PROFILE", "")
	t.Setenv("FIELDSYNC_DATA_DIR", "/var/lib/fieldsync")
	dsn, err := storageProfileDefaultFromEnv()
	if err != nil {
		t.Fatalf("default profile failed: %v", err)
	}
	want := "file://" + filepath.Join("/var/lib/fieldsync", "pending-queue.json")
	if dsn != want {
		t.Fatalf("expected %s, got %s", want, dsn)
	}

	t.Setenv("FIELDSYNC_BACKEND_PROFILE", "memory")
	dsn, err = storageProfileDefaultFromEnv()
	if err != nil || dsn != "memory://" {
		t.Fatalf("memory profile: got %s, %v", dsn, err)
	}

	t.Setenv("FIELDSYNC_BACKEND_PROFILE", "production")
	t.Setenv("FIELDSYNC_POSTGRES_DSN", "")
	if _, err := storageProfileDefaultFromEnv(); err == nil {
		t.Fatalf("production profile must require a postgres DSN")
	}
	t.Setenv("FIELDSYNC_POSTGRES_DSN", "postgres://fieldsync@hub/fieldsync")
	dsn, err = storageProfileDefaultFromEnv()
	if err != nil || dsn != "postgres://fieldsync@hub/fieldsync" {
		t.Fatalf("production profile: got %s, %v", dsn, err)
	}

	t.Setenv("FIELDSYNC_BACKEND_PROFILE", "floppy-disk")
	if _, err := storageProfileDefaultFromEnv(); err == nil || !strings.Contains(err.Error(), "floppy-disk") {
		t.Fatalf("expected unsupported profile error, got %v", err)
	}
}
