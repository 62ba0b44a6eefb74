package realtime

import (
	"testing"
	"time"

	"marketplace-service/internal/models"
)

func TestPresenceCacheSetAndGet(t *testing.T) {
	p := NewPresenceCache(time.Minute)

	p.Set("Seller@Example.com", models.RoleSeller, true)

	// Lookup normalizes the identity the same way writes do.
	got := p.Get("seller@example.com", models.RoleSeller)
	if got == nil || !got.IsOnline {
		t.Fatalf("expected online presence, got %+v", got)
	}
	if got.LastSeen.IsZero() {
		t.Fatalf("expected LastSeen to be set")
	}
}

func TestPresenceCacheUnknownIsNil(t *testing.T) {
	p := NewPresenceCache(time.Minute)
	if got := p.Get("nobody@example.com", models.RoleCustomer); got != nil {
		t.Fatalf("expected nil for unknown identity, got %+v", got)
	}
}

func TestPresenceCacheRoleScoped(t *testing.T) {
	p := NewPresenceCache(time.Minute)
	p.Set("user@example.com", models.RoleCustomer, true)

	if got := p.Get("user@example.com", models.RoleSeller); got != nil {
		t.Fatalf("expected role-scoped miss, got %+v", got)
	}
}

func TestPresenceCacheExpires(t *testing.T) {
	p := NewPresenceCache(20 * time.Millisecond)
	p.Set("user@example.com", models.RoleCustomer, true)

	time.Sleep(50 * time.Millisecond)
	if got := p.Get("user@example.com", models.RoleCustomer); got != nil {
		t.Fatalf("expected entry to expire, got %+v", got)
	}
}
