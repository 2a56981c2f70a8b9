package memory

import (
	"context"
	"errors"
	"testing"

	"fx-cortex/internal/storage"
)

func TestVersionStore(t *testing.T) {
	ctx := context.Background()
	store := NewVersionStore()

	if _, err := store.GetModelVersion(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetModelVersion before first round = %v, want ErrNotFound", err)
	}

	if err := store.SetModelVersion(ctx, ""); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("SetModelVersion(\"\") = %v, want ErrInvalidInput", err)
	}

	if err := store.SetModelVersion(ctx, "v20231114-1"); err != nil {
		t.Fatalf("SetModelVersion failed: %v", err)
	}
	got, err := store.GetModelVersion(ctx)
	if err != nil {
		t.Fatalf("GetModelVersion failed: %v", err)
	}
	if got != "v20231114-1" {
		t.Errorf("version = %q, want v20231114-1", got)
	}

	if err := store.SetModelVersion(ctx, "v20231114-2"); err != nil {
		t.Fatalf("SetModelVersion failed: %v", err)
	}
	got, _ = store.GetModelVersion(ctx)
	if got != "v20231114-2" {
		t.Errorf("version = %q, want v20231114-2", got)
	}
}
