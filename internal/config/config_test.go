package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8086" {
		t.Fatalf("unexpected default port %q", cfg.Port)
	}
	if cfg.StorageBackend != StorageMemory {
		t.Fatalf("unexpected default storage backend %q", cfg.StorageBackend)
	}
	if cfg.TransportKind != TransportWebsocket {
		t.Fatalf("unexpected default transport %q", cfg.TransportKind)
	}
	if cfg.QueueWorkers != 1 {
		t.Fatalf("unexpected default queue workers %d", cfg.QueueWorkers)
	}
	if cfg.TypingExpiry != 4*time.Second {
		t.Fatalf("unexpected default typing expiry %s", cfg.TypingExpiry)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORAGE_BACKEND", StoragePostgres)
	t.Setenv("TRANSPORT", TransportAMQP)
	t.Setenv("QUEUE_WORKERS", "4")
	t.Setenv("TYPING_EXPIRY", "2s")

	cfg := Load()

	if cfg.Port != "9090" {
		t.Fatalf("expected PORT override, got %q", cfg.Port)
	}
	if cfg.StorageBackend != StoragePostgres {
		t.Fatalf("expected storage override, got %q", cfg.StorageBackend)
	}
	if cfg.TransportKind != TransportAMQP {
		t.Fatalf("expected transport override, got %q", cfg.TransportKind)
	}
	if cfg.QueueWorkers != 4 {
		t.Fatalf("expected 4 queue workers, got %d", cfg.QueueWorkers)
	}
	if cfg.TypingExpiry != 2*time.Second {
		t.Fatalf("expected 2s typing expiry, got %s", cfg.TypingExpiry)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("QUEUE_WORKERS", "many")
	t.Setenv("TYPING_EXPIRY", "soon")
	t.Setenv("DEBUG_ROUTES", "sure")

	cfg := Load()

	if cfg.QueueWorkers != 1 {
		t.Fatalf("expected fallback queue workers, got %d", cfg.QueueWorkers)
	}
	if cfg.TypingExpiry != 4*time.Second {
		t.Fatalf("expected fallback typing expiry, got %s", cfg.TypingExpiry)
	}
	if cfg.DebugRoutes {
		t.Fatalf("expected fallback debug routes false")
	}
}
