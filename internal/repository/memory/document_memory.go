// Package memory is a process-local DocumentRepository for development runs
// without Postgres. It honours the same revision check as the SQL store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"wopihost/internal/model"
	"wopihost/internal/repository"
)

type DocumentMemory struct {
	mu   sync.Mutex
	docs map[string]model.Document
}

func NewDocumentMemory() *DocumentMemory {
	return &DocumentMemory{docs: make(map[string]model.Document)}
}

var _ repository.DocumentRepository = (*DocumentMemory)(nil)

func clone(d model.Document) *model.Document {
	if d.LockExpires != nil {
		exp := *d.LockExpires
		d.LockExpires = &exp
	}
	return &d
}

func (r *DocumentMemory) Create(_ context.Context, doc *model.Document) (*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *clone(*doc)
	stored.Revision = 1
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	r.docs[stored.ID] = stored
	return clone(stored), nil
}

func (r *DocumentMemory) FindByID(_ context.Context, id string) (*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.docs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(d), nil
}

func (r *DocumentMemory) ListByOwner(_ context.Context, owner string, pq repository.PageQuery) (*repository.PageResult[model.Document], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]model.Document, 0)
	for _, d := range r.docs {
		if d.OwnerID == owner {
			all = append(all, *clone(d))
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	start := min(pq.Offset, total)
	end := min(start+pq.Limit, total)
	return &repository.PageResult[model.Document]{Items: all[start:end], Total: total}, nil
}

func (r *DocumentMemory) Update(_ context.Context, doc *model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.docs[doc.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Revision != doc.Revision {
		return repository.ErrStaleRecord
	}
	doc.Revision++
	r.docs[doc.ID] = *clone(*doc)
	return nil
}

func (r *DocumentMemory) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, id)
	return nil
}
