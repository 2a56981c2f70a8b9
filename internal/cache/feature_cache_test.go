package cache

import (
	"testing"
	"time"

	"fx-cortex/internal/domain"
)

func TestFeatureCache_TTLUsesConfiguredWindows(t *testing.T) {
	windows := []domain.Window{
		{ID: "48h", Length: 48 * time.Hour},
		{ID: "90d", Length: 90 * 24 * time.Hour},
	}
	c := NewFeatureCache(nil, windows, time.Hour)

	ttl, err := c.ttlFor("48h")
	if err != nil {
		t.Fatalf("ttlFor(48h) error: %v", err)
	}
	if want := 49 * time.Hour; ttl != want {
		t.Errorf("ttlFor(48h) = %v, want %v", ttl, want)
	}

	// Windows outside the configured set are rejected, including the
	// defaults this cache was not built with.
	if _, err := c.ttlFor("24h"); err == nil {
		t.Error("ttlFor(24h) succeeded for a window outside the configured set")
	}
}

func TestFeatureCache_DefaultWindows(t *testing.T) {
	c := NewFeatureCache(nil, nil, 0)

	for _, w := range domain.DefaultWindows {
		ttl, err := c.ttlFor(w.ID)
		if err != nil {
			t.Fatalf("ttlFor(%s) error: %v", w.ID, err)
		}
		if want := w.Length + DefaultGrace; ttl != want {
			t.Errorf("ttlFor(%s) = %v, want %v", w.ID, ttl, want)
		}
	}
}
