package repository

import (
	"errors"
	"testing"
)

func TestCreateAndGet(t *testing.T) {
	repo := NewDocumentRepository()

	doc, err := repo.Create("notes", "hello")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if doc.ID() != "notes" {
		t.Errorf("expected id %q, got %q", "notes", doc.ID())
	}

	got, err := repo.Get("notes")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got != doc {
		t.Error("expected Get to return the same live document")
	}
}

func TestCreateDuplicate(t *testing.T) {
	repo := NewDocumentRepository()

	if _, err := repo.Create("notes", ""); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := repo.Create("notes", ""); !errors.Is(err, ErrDocumentExists) {
		t.Errorf("expected ErrDocumentExists, got %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	repo := NewDocumentRepository()

	if _, err := repo.Get("missing"); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestGetOrCreate(t *testing.T) {
	repo := NewDocumentRepository()

	doc := repo.GetOrCreate("scratch", "seed")
	text, revision := doc.Snapshot()
	if text != "seed" || revision != 1 {
		t.Errorf("expected seeded document, got %q at revision %d", text, revision)
	}

	// Second call returns the existing document and ignores the seed.
	again := repo.GetOrCreate("scratch", "other")
	if again != doc {
		t.Error("expected GetOrCreate to return the existing document")
	}
	text, _ = again.Snapshot()
	if text != "seed" {
		t.Errorf("expected original seed to survive, got %q", text)
	}
}

func TestListSorted(t *testing.T) {
	repo := NewDocumentRepository()
	for _, id := range []string{"c", "a", "b"} {
		if _, err := repo.Create(id, ""); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	}

	docs := repo.List()
	if len(docs) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(docs))
	}
	for i, want := range []string{"a", "b", "c"} {
		if docs[i].ID() != want {
			t.Errorf("expected document %d to be %q, got %q", i, want, docs[i].ID())
		}
	}
}
