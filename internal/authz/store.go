package authz

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists permission documents. Every write is a single-document
// operation; Update succeeds only when doc.Version matches the stored version.
type Store interface {
	Find(ctx context.Context, userID string) (*Document, error)
	FindByWorkspace(ctx context.Context, workspaceID string) ([]*Document, error)
	Insert(ctx context.Context, doc *Document) error
	Update(ctx context.Context, doc *Document) error
	Delete(ctx context.Context, userID string) error
}

// MemoryStore is an in-process Store used for development and tests.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]*Document
	now  func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: map[string]*Document{}, now: time.Now}
}

// Find returns a copy of the user's document.
func (m *MemoryStore) Find(ctx context.Context, userID string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[userID]
	if !ok {
		return nil, ErrPermissionsNotFound
	}
	return doc.Clone(), nil
}

// FindByWorkspace returns copies of every document holding an entry for workspaceID.
func (m *MemoryStore) FindByWorkspace(ctx context.Context, workspaceID string) ([]*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Document
	for _, doc := range m.docs {
		if _, ok := doc.Workspaces[workspaceID]; ok {
			out = append(out, doc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Insert stores a new document at version 1.
func (m *MemoryStore) Insert(ctx context.Context, doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[doc.UserID]; ok {
		return ErrDocumentExists
	}
	stored := doc.Clone()
	stored.Version = 1
	stored.UpdatedAt = m.now()
	m.docs[doc.UserID] = stored
	doc.Version = stored.Version
	doc.UpdatedAt = stored.UpdatedAt
	return nil
}

// Update replaces the document when versions match.
func (m *MemoryStore) Update(ctx context.Context, doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.docs[doc.UserID]
	if !ok {
		return ErrPermissionsNotFound
	}
	if current.Version != doc.Version {
		return ErrVersionConflict
	}
	stored := doc.Clone()
	stored.Version = current.Version + 1
	stored.UpdatedAt = m.now()
	m.docs[doc.UserID] = stored
	doc.Version = stored.Version
	doc.UpdatedAt = stored.UpdatedAt
	return nil
}

// Delete removes the document. Deleting a missing document is not an error.
func (m *MemoryStore) Delete(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, userID)
	return nil
}
