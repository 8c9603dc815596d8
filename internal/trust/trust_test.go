package trust

import (
	"context"
	"os"
	"testing"

	"github.com/starford/nbkeep/internal/models"
	"github.com/starford/nbkeep/internal/state"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	f, err := os.CreateTemp("", "nbkeep-trust-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })
	db, err := state.Open(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func TestTrustFollowsContent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	a := models.FileURI("/a.ipynb")
	b := models.FileURI("/b.ipynb")
	content := []byte(`{"cells": []}`)

	ok, err := s.IsTrusted(ctx, a, content)
	if err != nil || ok {
		t.Fatalf("fresh content: trusted %v, err %v", ok, err)
	}
	if err := s.Trust(ctx, a, content); err != nil {
		t.Fatalf("Trust: %v", err)
	}
	if ok, _ := s.IsTrusted(ctx, a, content); !ok {
		t.Error("content should be trusted")
	}
	if ok, _ := s.IsTrusted(ctx, b, content); !ok {
		t.Error("identical content should be trusted under another identity")
	}
	if ok, _ := s.IsTrusted(ctx, a, []byte(`{"cells": [{}]}`)); ok {
		t.Error("different content must not be trusted")
	}
}
