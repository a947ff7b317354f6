package repository

import (
	"errors"
	"sort"
	"sync"

	"quillsync/internal/document"
)

var (
	ErrDocumentExists   = errors.New("document already exists")
	ErrDocumentNotFound = errors.New("document not found")
)

type DocumentRepository interface {
	Create(id, seed string) (*document.Document, error)
	Get(id string) (*document.Document, error)
	GetOrCreate(id, seed string) *document.Document
	List() []*document.Document
}

// memoryDocumentRepository is an arena of live documents keyed by id.
// Each document guards its own state; the repository lock only covers
// the map, so editing one document never blocks another.
type memoryDocumentRepository struct {
	mu   sync.RWMutex
	docs map[string]*document.Document
}

func NewDocumentRepository() DocumentRepository {
	return &memoryDocumentRepository{
		docs: make(map[string]*document.Document),
	}
}

func (r *memoryDocumentRepository) Create(id, seed string) (*document.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.docs[id]; exists {
		return nil, ErrDocumentExists
	}
	doc := document.New(id, seed)
	r.docs[id] = doc
	return doc, nil
}

func (r *memoryDocumentRepository) Get(id string) (*document.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, exists := r.docs[id]
	if !exists {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

func (r *memoryDocumentRepository) GetOrCreate(id, seed string) *document.Document {
	r.mu.Lock()
	defer r.mu.Unlock()

	if doc, exists := r.docs[id]; exists {
		return doc
	}
	doc := document.New(id, seed)
	r.docs[id] = doc
	return doc
}

func (r *memoryDocumentRepository) List() []*document.Document {
	r.mu.RLock()
	defer r.mu.RUnlock()

	docs := make([]*document.Document, 0, len(r.docs))
	for _, doc := range r.docs {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID() < docs[j].ID() })
	return docs
}
