package docstore

import (
	"context"
	"reflect"
	"sync"

	"github.com/HanTheDev/reqnest-engine/internal/docid"
	"github.com/HanTheDev/reqnest-engine/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStore keeps collections in memory. Data is lost on restart.
// Safe for concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string][]Document)}
}

func (m *MemoryStore) Collection(name string) Collection {
	return &memoryCollection{store: m, name: name}
}

func (m *MemoryStore) Drop(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, name)
	return nil
}

type memoryCollection struct {
	store *MemoryStore
	name  string
}

func (c *memoryCollection) Insert(ctx context.Context, doc Document) (Document, error) {
	stored := copyDocument(doc)
	if _, ok := stored[docid.Field]; !ok {
		stored[docid.Field] = primitive.NewObjectID()
	}

	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	for _, existing := range c.store.collections[c.name] {
		if valuesEqual(existing[docid.Field], stored[docid.Field]) {
			return nil, models.ErrDuplicate
		}
	}
	c.store.collections[c.name] = append(c.store.collections[c.name], stored)
	return copyDocument(stored), nil
}

func (c *memoryCollection) FindAll(ctx context.Context) ([]Document, error) {
	return c.Find(ctx, nil)
}

func (c *memoryCollection) Find(ctx context.Context, filter Filter) ([]Document, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	result := []Document{}
	for _, doc := range c.store.collections[c.name] {
		if matches(doc, filter) {
			result = append(result, copyDocument(doc))
		}
	}
	return result, nil
}

func (c *memoryCollection) FindOne(ctx context.Context, filter Filter) (Document, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	for _, doc := range c.store.collections[c.name] {
		if matches(doc, filter) {
			return copyDocument(doc), nil
		}
	}
	return nil, nil
}

func (c *memoryCollection) Save(ctx context.Context, doc Document) (Document, error) {
	id, ok := doc[docid.Field]
	if !ok {
		return c.Insert(ctx, doc)
	}
	stored := copyDocument(doc)

	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	docs := c.store.collections[c.name]
	for i, existing := range docs {
		if valuesEqual(existing[docid.Field], id) {
			docs[i] = stored
			return copyDocument(stored), nil
		}
	}
	c.store.collections[c.name] = append(docs, stored)
	return copyDocument(stored), nil
}

func (c *memoryCollection) Delete(ctx context.Context, filter Filter) (int64, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	docs := c.store.collections[c.name]
	kept := docs[:0]
	var removed int64
	for _, doc := range docs {
		if matches(doc, filter) {
			removed++
			continue
		}
		kept = append(kept, doc)
	}
	c.store.collections[c.name] = kept
	return removed, nil
}

func matches(doc Document, filter Filter) bool {
	for field, want := range filter {
		got, ok := doc[field]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares numbers by value across Go types, the way the
// document database compares int32, int64 and double.
func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// copyDocument copies maps and slices so callers never share state with
// the store.
func copyDocument(src Document) Document {
	if src == nil {
		return nil
	}
	dst := make(Document, len(src))
	for k, v := range src {
		dst[k] = copyValue(v)
	}
	return dst
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyDocument(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
