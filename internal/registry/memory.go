package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/HanTheDev/reqnest-engine/internal/models"
)

// MemoryStore is an in-process Store. Safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	defs   map[int64]*models.SchemaDefinition
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{defs: make(map[int64]*models.SchemaDefinition)}
}

func (m *MemoryStore) CreateSchema(ctx context.Context, def *models.SchemaDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findLocked(def.Name, def.CreatedBy) != nil {
		return models.ErrDuplicate
	}
	m.nextID++
	def.ID = m.nextID
	cp := *def
	m.defs[def.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSchema(ctx context.Context, name, owner string) (*models.SchemaDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def := m.findLocked(name, owner)
	if def == nil {
		return nil, models.ErrNotFound
	}
	cp := *def
	return &cp, nil
}

func (m *MemoryStore) GetSchemaByName(ctx context.Context, name string) (*models.SchemaDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var oldest *models.SchemaDefinition
	for _, def := range m.defs {
		if def.Name == name && (oldest == nil || def.ID < oldest.ID) {
			oldest = def
		}
	}
	if oldest == nil {
		return nil, models.ErrNotFound
	}
	cp := *oldest
	return &cp, nil
}

func (m *MemoryStore) ListSchemasByOwner(ctx context.Context, owner string) ([]*models.SchemaDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*models.SchemaDefinition{}
	for _, def := range m.defs {
		if def.CreatedBy == owner {
			cp := *def
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) UpdateSchema(ctx context.Context, def *models.SchemaDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.defs[def.ID]; !ok {
		return models.ErrNotFound
	}
	if other := m.findLocked(def.Name, def.CreatedBy); other != nil && other.ID != def.ID {
		return models.ErrDuplicate
	}
	cp := *def
	m.defs[def.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteSchema(ctx context.Context, name, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	def := m.findLocked(name, owner)
	if def == nil {
		return models.ErrNotFound
	}
	delete(m.defs, def.ID)
	return nil
}

func (m *MemoryStore) CountSchemasByName(ctx context.Context, name string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, def := range m.defs {
		if def.Name == name {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) findLocked(name, owner string) *models.SchemaDefinition {
	for _, def := range m.defs {
		if def.Name == name && def.CreatedBy == owner {
			return def
		}
	}
	return nil
}
