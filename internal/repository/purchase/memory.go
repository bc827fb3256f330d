package purchase

import (
	"context"
	"slices"
	"sync"
	"time"

	"cntrlx-store/internal/domain"
	"github.com/google/uuid"
)

type memoryKey struct{ user, session string }

// Memory is an in-process Repository with the same insert-or-ignore
// contract as the Postgres store. Used by tests and local development.
type Memory struct {
	mu   sync.Mutex
	rows map[memoryKey]domain.Purchase
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{rows: make(map[memoryKey]domain.Purchase), now: time.Now}
}

func (m *Memory) Insert(_ context.Context, in CreateInput) (*domain.Purchase, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := memoryKey{in.UserID, in.SessionID}
	if existing, ok := m.rows[k]; ok {
		return clonePurchase(existing), false, nil
	}
	created := in.CreatedAt
	if created.IsZero() {
		created = m.now()
	}
	p := domain.Purchase{
		ID:        uuid.NewString(),
		UserID:    in.UserID,
		SessionID: in.SessionID,
		Items:     slices.Clone(in.Items),
		CreatedAt: created,
	}
	m.rows[k] = p
	return clonePurchase(p), true, nil
}

func (m *Memory) Get(_ context.Context, userID, sessionID string) (*domain.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[memoryKey{userID, sessionID}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clonePurchase(p), nil
}

func (m *Memory) ListByUser(_ context.Context, userID string) ([]domain.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Purchase
	for k, p := range m.rows {
		if k.user == userID {
			out = append(out, *clonePurchase(p))
		}
	}
	slices.SortFunc(out, func(a, b domain.Purchase) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out, nil
}

// Len reports the number of stored rows.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func clonePurchase(p domain.Purchase) *domain.Purchase {
	p.Items = slices.Clone(p.Items)
	return &p
}
