package persistence

import (
	"context"
	"sync"

	"github.com/petrijr/siirto/pkg/api"
)

// InMemoryAuditStore is a goroutine-safe AuditStore backed by a slice.
// Non-durable; intended for tests and development.
type InMemoryAuditStore struct {
	mu      sync.RWMutex
	nextID  int64
	entries []*api.LogEntry
}

var _ AuditStore = (*InMemoryAuditStore)(nil)

// NewInMemoryAuditStore creates an empty in-memory audit store.
func NewInMemoryAuditStore() *InMemoryAuditStore {
	return &InMemoryAuditStore{}
}

func (s *InMemoryAuditStore) Append(ctx context.Context, e *api.LogEntry, prevID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var head int64
	for i := len(s.entries) - 1; i >= 0; i-- {
		en := s.entries[i]
		if en.MachineID == e.MachineID && en.EntityType == e.EntityType && en.EntityID == e.EntityID {
			head = en.ID
			break
		}
	}
	if head != prevID {
		return 0, ErrConflict
	}

	s.nextID++
	stored := *e
	stored.ID = s.nextID
	s.entries = append(s.entries, &stored)
	return stored.ID, nil
}

func (s *InMemoryAuditStore) Latest(ctx context.Context, machineID, entityType, entityID string) (*api.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.entries) - 1; i >= 0; i-- {
		en := s.entries[i]
		if en.MachineID == machineID && en.EntityType == entityType && en.EntityID == entityID {
			copied := *en
			return &copied, nil
		}
	}
	return nil, ErrNoEntry
}

func (s *InMemoryAuditStore) Query(ctx context.Context, f api.LogFilter, p api.Page) ([]*api.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*api.LogEntry
	for _, en := range s.entries {
		if !matchFilter(en, f) {
			continue
		}
		copied := *en
		matched = append(matched, &copied)
	}

	return paginate(matched, p), nil
}

func matchFilter(e *api.LogEntry, f api.LogFilter) bool {
	if f.MachineID != "" && e.MachineID != f.MachineID {
		return false
	}
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if f.PrincipalID != "" && e.PrincipalID != f.PrincipalID {
		return false
	}
	if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.CreatedAt.Before(f.Until) {
		return false
	}
	return true
}

func paginate(entries []*api.LogEntry, p api.Page) []*api.LogEntry {
	if p.Offset > 0 {
		if p.Offset >= len(entries) {
			return nil
		}
		entries = entries[p.Offset:]
	}
	if p.Limit > 0 && len(entries) > p.Limit {
		entries = entries[:p.Limit]
	}
	return entries
}

// InMemoryTenantStores provisions isolated in-memory stores per tenant.
type InMemoryTenantStores struct {
	mu      sync.RWMutex
	shared  *InMemoryAuditStore
	tenants map[string]*InMemoryAuditStore
}

var _ TenantStores = (*InMemoryTenantStores)(nil)

// NewInMemoryTenantStores creates a tenant router with an empty shared
// store and no provisioned tenants.
func NewInMemoryTenantStores() *InMemoryTenantStores {
	return &InMemoryTenantStores{
		shared:  NewInMemoryAuditStore(),
		tenants: make(map[string]*InMemoryAuditStore),
	}
}

func (m *InMemoryTenantStores) Shared() AuditStore { return m.shared }

func (m *InMemoryTenantStores) Provision(ctx context.Context, tenant string) error {
	if !ValidTenant(tenant) {
		return errInvalidTenant
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	// Idempotent: an already-provisioned tenant keeps its store.
	if _, ok := m.tenants[tenant]; !ok {
		m.tenants[tenant] = NewInMemoryAuditStore()
	}
	return nil
}

func (m *InMemoryTenantStores) ForTenant(ctx context.Context, tenant string) (AuditStore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.tenants[tenant]
	if !ok {
		return nil, ErrTenantNotProvisioned
	}
	return s, nil
}
