// Package memory is an in-process store.Store with the same semantics as the
// DynamoDB store. It backs tests and DEV_MODE runs without a table.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/jun/memories/internal/crypto"
	"github.com/jun/memories/internal/model"
	"github.com/jun/memories/internal/store"
)

// rowKey mirrors the table's physical key.
type rowKey struct {
	owner     string
	createdAt string
}

// Store keeps records in a map guarded by a mutex.
type Store struct {
	mu      sync.RWMutex
	rows    map[rowKey]model.Memory
	cursors *store.CursorCodec

	// afterResolve runs between resolution and the conditional write.
	afterResolve func()
}

// New creates an empty Store. A nil codec seals cursors with the mock
// encryptor.
func New(cursors *store.CursorCodec) *Store {
	if cursors == nil {
		cursors = store.NewCursorCodec(crypto.NewMockEncryptor())
	}
	return &Store{rows: make(map[rowKey]model.Memory), cursors: cursors}
}

var _ store.Store = (*Store)(nil)

// byOwner returns the owner's rows in index order (by record id).
func (s *Store) byOwner(ownerID string) []model.Memory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Memory
	for k, m := range s.rows {
		if k.owner == ownerID {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, func(a, b model.Memory) int {
		return cmp.Or(cmp.Compare(a.ID, b.ID), cmp.Compare(a.CreatedAt, b.CreatedAt))
	})
	return out
}

func (s *Store) ListByOwner(_ context.Context, ownerID string) ([]model.Memory, error) {
	out := s.byOwner(ownerID)
	if out == nil {
		out = []model.Memory{}
	}
	return out, nil
}

func (s *Store) ListPage(ctx context.Context, ownerID string, req store.PageRequest) (store.Page, error) {
	start, err := s.cursors.Decode(ctx, ownerID, req.Cursor)
	if err != nil {
		return store.Page{}, err
	}

	all := s.byOwner(ownerID)
	if start != nil {
		after := start["memoryId"]
		i, _ := slices.BinarySearchFunc(all, after, func(m model.Memory, id string) int {
			return cmp.Compare(m.ID, id)
		})
		for i < len(all) && all[i].ID == after {
			i++
		}
		all = all[i:]
	}

	limit := req.EffectiveLimit()
	page := store.Page{Items: []model.Memory{}}
	if len(all) > limit {
		page.Items = append(page.Items, all[:limit]...)
		last := all[limit-1]
		page.NextCursor, err = s.cursors.Encode(ctx, ownerID, map[string]string{
			"userId":    last.OwnerID,
			"createdAt": last.CreatedAt,
			"memoryId":  last.ID,
		})
		if err != nil {
			return store.Page{}, err
		}
		return page, nil
	}
	page.Items = append(page.Items, all...)
	return page, nil
}

func (s *Store) Get(_ context.Context, ownerID, recordID string) (model.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolve(ownerID, recordID)
}

// resolve must be called with s.mu held.
func (s *Store) resolve(ownerID, recordID string) (model.Memory, error) {
	for k, m := range s.rows {
		if k.owner == ownerID && m.ID == recordID {
			return m, nil
		}
	}
	return model.Memory{}, store.ErrNotFound
}

func (s *Store) Create(_ context.Context, m model.Memory) (model.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[rowKey{m.OwnerID, m.CreatedAt}] = m
	return m, nil
}

// mutate resolves recordID, then applies fn to the row at the resolved
// physical key if that row still carries recordID. The two steps take the
// lock separately, like the read and the conditional write against DynamoDB.
func (s *Store) mutate(ctx context.Context, ownerID, recordID string, fn func(key rowKey, m model.Memory) model.Memory) (model.Memory, error) {
	current, err := s.Get(ctx, ownerID, recordID)
	if err != nil {
		return model.Memory{}, err
	}
	key := rowKey{current.OwnerID, current.CreatedAt}
	if s.afterResolve != nil {
		s.afterResolve()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[key]
	if !ok || row.ID != recordID {
		return model.Memory{}, store.ErrConditionFailed
	}
	return fn(key, row), nil
}

func (s *Store) Update(ctx context.Context, ownerID, recordID string, u model.MemoryUpdate) (model.Memory, error) {
	return s.mutate(ctx, ownerID, recordID, func(key rowKey, m model.Memory) model.Memory {
		m.Name = u.Name
		m.Date = u.Date
		m.Favorite = u.Favorite
		s.rows[key] = m
		return m
	})
}

func (s *Store) Delete(ctx context.Context, ownerID, recordID string) error {
	_, err := s.mutate(ctx, ownerID, recordID, func(key rowKey, m model.Memory) model.Memory {
		delete(s.rows, key)
		return m
	})
	return err
}

func (s *Store) SetAttachmentKey(ctx context.Context, ownerID, recordID, objectKey string) error {
	_, err := s.mutate(ctx, ownerID, recordID, func(key rowKey, m model.Memory) model.Memory {
		m.AttachmentURL = objectKey
		s.rows[key] = m
		return m
	})
	return err
}
