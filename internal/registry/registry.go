// Package registry owns the mapping from API name to its JSON Schema and
// owner.
//
// Schema CRUD is always scoped to the owner. Resolution for data operations
// is scoped by the configured Scope: ScopeOwner only resolves the caller's
// own definitions, ScopeGlobal resolves by name alone and, when several
// owners registered the same name, picks the oldest registration.
package registry

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/HanTheDev/reqnest-engine/internal/apierr"
	"github.com/HanTheDev/reqnest-engine/internal/models"
	"go.uber.org/zap"
)

// Store persists schema definitions. Lookups return models.ErrNotFound
// when nothing matches and CreateSchema returns models.ErrDuplicate when
// the (name, owner) pair is taken.
type Store interface {
	CreateSchema(ctx context.Context, def *models.SchemaDefinition) error
	GetSchema(ctx context.Context, name, owner string) (*models.SchemaDefinition, error)
	GetSchemaByName(ctx context.Context, name string) (*models.SchemaDefinition, error)
	ListSchemasByOwner(ctx context.Context, owner string) ([]*models.SchemaDefinition, error)
	UpdateSchema(ctx context.Context, def *models.SchemaDefinition) error
	DeleteSchema(ctx context.Context, name, owner string) error
	CountSchemasByName(ctx context.Context, name string) (int, error)
}

// Cache is an optional read-through cache for Resolve.
type Cache interface {
	Get(ctx context.Context, key string) (*models.SchemaDefinition, bool)
	Set(ctx context.Context, key string, def *models.SchemaDefinition)
	Invalidate(ctx context.Context, keys ...string)
}

// Dropper removes the document collection behind an API name.
type Dropper interface {
	Drop(ctx context.Context, name string) error
}

type Scope int

const (
	ScopeOwner Scope = iota
	ScopeGlobal
)

type Option func(*Registry)

func WithScope(s Scope) Option {
	return func(r *Registry) { r.scope = s }
}

func WithCache(c Cache) Option {
	return func(r *Registry) { r.cache = c }
}

// WithCascadeDelete drops an API's collection when its last definition
// with that name is deleted.
func WithCascadeDelete(d Dropper) Option {
	return func(r *Registry) { r.dropper = d }
}

func WithLogger(log *zap.Logger) Option {
	return func(r *Registry) { r.log = log }
}

type Registry struct {
	store   Store
	cache   Cache
	dropper Dropper
	scope   Scope
	log     *zap.Logger
	now     func() time.Time
}

func New(store Store, opts ...Option) *Registry {
	r := &Registry{
		store: store,
		log:   zap.NewNop(),
		now:   time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) Register(ctx context.Context, name, schemaJSON, owner string) (*models.SchemaDefinition, error) {
	const op = "registry.Register"
	if name == "" {
		return nil, apierr.New(apierr.EBadRequest, op, "API name is required")
	}
	if schemaJSON == "" {
		return nil, apierr.New(apierr.EBadRequest, op, "schema body is required")
	}

	now := r.now().UTC()
	def := &models.SchemaDefinition{
		Name:       name,
		SchemaJSON: schemaJSON,
		CreatedBy:  owner,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.store.CreateSchema(ctx, def); err != nil {
		if errors.Is(err, models.ErrDuplicate) {
			return nil, apierr.Errorf(apierr.EConflict, op, "API '%s' already exists", name)
		}
		return nil, apierr.Wrap(apierr.EInternal, op, err, "failed to register schema")
	}
	r.invalidate(ctx, name, owner)

	r.log.Info("schema registered", zap.String("api", name), zap.String("owner", owner))
	return def, nil
}

func (r *Registry) Find(ctx context.Context, name, owner string) (*models.SchemaDefinition, error) {
	const op = "registry.Find"
	def, err := r.store.GetSchema(ctx, name, owner)
	if errors.Is(err, models.ErrNotFound) {
		return nil, apierr.Errorf(apierr.ENotFound, op, "API '%s' not found", name)
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.EInternal, op, err, "failed to load schema")
	}
	return def, nil
}

func (r *Registry) ListByOwner(ctx context.Context, owner string) ([]*models.SchemaDefinition, error) {
	defs, err := r.store.ListSchemasByOwner(ctx, owner)
	if err != nil {
		return nil, apierr.Wrap(apierr.EInternal, "registry.ListByOwner", err, "failed to list schemas")
	}
	return defs, nil
}

// Update renames and/or replaces the schema body of an owner's definition.
// Empty newName or newSchemaJSON keep the current value.
func (r *Registry) Update(ctx context.Context, name, owner, newName, newSchemaJSON string) (*models.SchemaDefinition, error) {
	const op = "registry.Update"
	def, err := r.Find(ctx, name, owner)
	if err != nil {
		return nil, err
	}

	if newName != "" {
		def.Name = newName
	}
	if newSchemaJSON != "" {
		def.SchemaJSON = newSchemaJSON
	}
	def.UpdatedAt = r.now().UTC()

	if err := r.store.UpdateSchema(ctx, def); err != nil {
		if errors.Is(err, models.ErrDuplicate) {
			return nil, apierr.Errorf(apierr.EConflict, op, "API '%s' already exists", def.Name)
		}
		return nil, apierr.Wrap(apierr.EInternal, op, err, "failed to update schema")
	}
	r.invalidate(ctx, name, owner)
	r.invalidate(ctx, def.Name, owner)

	r.log.Info("schema updated", zap.String("api", name), zap.String("new_name", def.Name), zap.String("owner", owner))
	return def, nil
}

// Delete removes an owner's definition. Documents in the collection are
// kept unless cascade delete is enabled and no other owner still uses the
// name.
func (r *Registry) Delete(ctx context.Context, name, owner string) error {
	const op = "registry.Delete"
	err := r.store.DeleteSchema(ctx, name, owner)
	if errors.Is(err, models.ErrNotFound) {
		return apierr.Errorf(apierr.ENotFound, op, "API '%s' not found", name)
	}
	if err != nil {
		return apierr.Wrap(apierr.EInternal, op, err, "failed to delete schema")
	}
	r.invalidate(ctx, name, owner)

	if r.dropper != nil {
		remaining, err := r.store.CountSchemasByName(ctx, name)
		if err != nil {
			return apierr.Wrap(apierr.EInternal, op, err, "failed to count schemas")
		}
		if remaining == 0 {
			if err := r.dropper.Drop(ctx, name); err != nil {
				return apierr.Wrap(apierr.EInternal, op, err, "failed to drop collection")
			}
			r.log.Info("collection dropped", zap.String("api", name))
		}
	}

	r.log.Info("schema deleted", zap.String("api", name), zap.String("owner", owner))
	return nil
}

// Resolve returns the definition used to validate data operations on
// name for caller.
func (r *Registry) Resolve(ctx context.Context, name, caller string) (*models.SchemaDefinition, error) {
	const op = "registry.Resolve"
	key := r.cacheKey(name, caller)
	if r.cache != nil {
		if def, ok := r.cache.Get(ctx, key); ok {
			return def, nil
		}
	}

	var (
		def *models.SchemaDefinition
		err error
	)
	if r.scope == ScopeGlobal {
		def, err = r.store.GetSchemaByName(ctx, name)
	} else {
		def, err = r.store.GetSchema(ctx, name, caller)
	}
	if errors.Is(err, models.ErrNotFound) {
		return nil, apierr.Errorf(apierr.ESchemaNotRegistered, op, "API '%s' not registered", name)
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.EInternal, op, err, "failed to resolve schema")
	}

	if r.cache != nil {
		r.cache.Set(ctx, key, def)
	}
	return def, nil
}

func (r *Registry) cacheKey(name, caller string) string {
	if r.scope == ScopeGlobal {
		return globalKey(name)
	}
	return ownerKey(name, caller)
}

func (r *Registry) invalidate(ctx context.Context, name, owner string) {
	if r.cache == nil {
		return
	}
	r.cache.Invalidate(ctx, ownerKey(name, owner), globalKey(name))
}

// ownerKey length-prefixes the owner so that owners and names containing
// ":" cannot produce the same key.
func ownerKey(name, owner string) string {
	return "schema:owner:" + strconv.Itoa(len(owner)) + ":" + owner + ":" + name
}

func globalKey(name string) string {
	return "schema:global:" + name
}
