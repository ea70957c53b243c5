package payment

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps transactions in process memory. Used for development and tests.
type MemoryStore struct {
	mu           sync.RWMutex
	transactions map[string]*Transaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{transactions: make(map[string]*Transaction)}
}

func (m *MemoryStore) Save(ctx context.Context, tx *Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var current int64
	if existing, ok := m.transactions[tx.ID]; ok {
		current = existing.Version
	}
	if current != tx.Version {
		return ErrVersionConflict
	}
	tx.Version++
	m.transactions[tx.ID] = tx.Clone()
	return nil
}

func (m *MemoryStore) FindByID(ctx context.Context, id string) (*Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.transactions[id]
	if !ok {
		return nil, nil
	}
	return tx.Clone(), nil
}

func (m *MemoryStore) ListExpiredPix(ctx context.Context, now time.Time, limit int) ([]*Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Transaction
	for _, tx := range m.transactions {
		pix, ok := tx.Pix()
		if !ok || tx.Status != StatusPending || now.Before(pix.ExpiresAt) {
			continue
		}
		result = append(result, tx.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		a, _ := result[i].Pix()
		b, _ := result[j].Pix()
		return a.ExpiresAt.Before(b.ExpiresAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Len reports how many transactions are stored.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.transactions)
}
