// Package engine performs CRUD over schema-less document collections whose
// shape is governed by a registered JSON Schema. Every operation resolves
// the schema first and records exactly one usage record, whether it
// succeeds or fails.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/HanTheDev/reqnest-engine/internal/apierr"
	"github.com/HanTheDev/reqnest-engine/internal/docid"
	"github.com/HanTheDev/reqnest-engine/internal/docstore"
	"github.com/HanTheDev/reqnest-engine/internal/models"
	"github.com/HanTheDev/reqnest-engine/internal/validate"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Resolver finds the schema governing an API for a caller.
type Resolver interface {
	Resolve(ctx context.Context, name, caller string) (*models.SchemaDefinition, error)
}

type Validator interface {
	Validate(schemaJSON string, doc map[string]any) error
}

// Recorder receives one usage record per operation.
type Recorder interface {
	Record(ctx context.Context, rec models.UsageRecord)
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, models.UsageRecord) {}

// DefaultCredentialFields are hashed before they reach storage.
var DefaultCredentialFields = []string{"password"}

type Option func(*Engine)

func WithValidator(v Validator) Option {
	return func(e *Engine) { e.validator = v }
}

func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func WithCredentialFields(fields ...string) Option {
	return func(e *Engine) { e.credentialFields = fields }
}

// WithHashCost sets the bcrypt cost for credential fields.
func WithHashCost(cost int) Option {
	return func(e *Engine) { e.hashCost = cost }
}

type Engine struct {
	schemas          Resolver
	store            docstore.Store
	validator        Validator
	recorder         Recorder
	clock            clock.Clock
	log              *zap.Logger
	credentialFields []string
	hashCost         int
}

func New(schemas Resolver, store docstore.Store, opts ...Option) *Engine {
	e := &Engine{
		schemas:          schemas,
		store:            store,
		validator:        validate.New(),
		recorder:         nopRecorder{},
		clock:            clock.New(),
		log:              zap.NewNop(),
		credentialFields: DefaultCredentialFields,
		hashCost:         bcrypt.DefaultCost,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Create validates payload against the API's schema and stores it as a new
// document. Credential fields are hashed before validation.
func (e *Engine) Create(ctx context.Context, apiName string, payload docstore.Document, caller string) (doc docstore.Document, err error) {
	const op = "engine.Create"
	defer e.audit(ctx, models.OpCreate, apiName, caller, e.clock.Now(), &err)

	def, err := e.schemas.Resolve(ctx, apiName, caller)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, apierr.New(apierr.EBadRequest, op, "request body is required")
	}

	doc, err = e.hashCredentials(op, payload)
	if err != nil {
		return nil, err
	}
	if err := e.validator.Validate(def.SchemaJSON, doc); err != nil {
		return nil, apierr.Wrap(apierr.EValidationFailed, op, err, "validation failed")
	}
	if id, ok := doc[docid.Field]; ok {
		doc[docid.Field] = docid.ToInternal(id)
	}

	saved, err := e.store.Collection(def.Name).Insert(ctx, doc)
	if errors.Is(err, models.ErrDuplicate) {
		return nil, apierr.Errorf(apierr.EConflict, op, "document %v already exists", payload[docid.Field])
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.EInternal, op, err, "failed to store document")
	}
	return docid.ExternalizeDocument(saved), nil
}

// ReadAll returns every document of the API. There is no pagination.
func (e *Engine) ReadAll(ctx context.Context, apiName, caller string) (docs []docstore.Document, err error) {
	const op = "engine.ReadAll"
	defer e.audit(ctx, models.OpReadAll, apiName, caller, e.clock.Now(), &err)

	def, err := e.schemas.Resolve(ctx, apiName, caller)
	if err != nil {
		return nil, err
	}

	docs, err = e.store.Collection(def.Name).FindAll(ctx)
	if err != nil {
		return nil, apierr.Wrap(apierr.EInternal, op, err, "failed to read documents")
	}
	return externalizeAll(docs), nil
}

// Search returns the documents matching every field of filter exactly.
// No match is reported as ENotFound.
func (e *Engine) Search(ctx context.Context, apiName string, filter docstore.Filter, caller string) (docs []docstore.Document, err error) {
	const op = "engine.Search"
	defer e.audit(ctx, models.OpSearch, apiName, caller, e.clock.Now(), &err)

	def, err := e.schemas.Resolve(ctx, apiName, caller)
	if err != nil {
		return nil, err
	}
	if len(filter) == 0 {
		return nil, apierr.New(apierr.EBadRequest, op, "search criteria must not be empty")
	}

	docs, err = e.store.Collection(def.Name).Find(ctx, docid.InternalizeFilter(filter))
	if err != nil {
		return nil, apierr.Wrap(apierr.EInternal, op, err, "failed to search documents")
	}
	if len(docs) == 0 {
		return nil, apierr.New(apierr.ENotFound, op, "no documents found matching criteria")
	}
	return externalizeAll(docs), nil
}

// Update merges payload into the document named by its _id. The stored
// identifier is kept as is.
func (e *Engine) Update(ctx context.Context, apiName string, payload docstore.Document, caller string) (doc docstore.Document, err error) {
	const op = "engine.Update"
	defer e.audit(ctx, models.OpUpdate, apiName, caller, e.clock.Now(), &err)

	def, err := e.schemas.Resolve(ctx, apiName, caller)
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, apierr.New(apierr.EBadRequest, op, "update data must not be empty")
	}
	rawID, ok := payload[docid.Field]
	if !ok || rawID == nil {
		return nil, apierr.Errorf(apierr.EBadRequest, op, "update data must contain %s", docid.Field)
	}

	changes, err := e.hashCredentials(op, payload)
	if err != nil {
		return nil, err
	}

	coll := e.store.Collection(def.Name)
	existing, err := coll.FindOne(ctx, docstore.Filter{docid.Field: docid.ToInternal(rawID)})
	if err != nil {
		return nil, apierr.Wrap(apierr.EInternal, op, err, "failed to load document")
	}
	if existing == nil {
		return nil, apierr.Errorf(apierr.ENotFound, op, "document with %s %v not found", docid.Field, rawID)
	}

	for k, v := range changes {
		if k == docid.Field {
			continue
		}
		existing[k] = v
	}

	saved, err := coll.Save(ctx, existing)
	if err != nil {
		return nil, apierr.Wrap(apierr.EInternal, op, err, "failed to store document")
	}
	return docid.ExternalizeDocument(saved), nil
}

// Delete removes every document matching filter and returns the count.
// Removing nothing is reported as ENotFound.
func (e *Engine) Delete(ctx context.Context, apiName string, filter docstore.Filter, caller string) (n int64, err error) {
	const op = "engine.Delete"
	defer e.audit(ctx, models.OpDelete, apiName, caller, e.clock.Now(), &err)

	def, err := e.schemas.Resolve(ctx, apiName, caller)
	if err != nil {
		return 0, err
	}
	if len(filter) == 0 {
		return 0, apierr.New(apierr.EBadRequest, op, "delete criteria must not be empty")
	}

	n, err = e.store.Collection(def.Name).Delete(ctx, docid.InternalizeFilter(filter))
	if err != nil {
		return 0, apierr.Wrap(apierr.EInternal, op, err, "failed to delete documents")
	}
	if n == 0 {
		return 0, apierr.New(apierr.ENotFound, op, "no documents found to delete")
	}
	return n, nil
}

// hashCredentials returns a shallow copy of doc with credential fields
// replaced by their bcrypt hash.
func (e *Engine) hashCredentials(op string, doc docstore.Document) (docstore.Document, error) {
	out := make(docstore.Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	for _, field := range e.credentialFields {
		v, ok := out[field]
		if !ok {
			continue
		}
		plain, ok := v.(string)
		if !ok {
			return nil, apierr.Errorf(apierr.EBadRequest, op, "%s must be a string", field)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(plain), e.hashCost)
		if err != nil {
			return nil, apierr.Wrap(apierr.EBadRequest, op, err, "failed to hash "+field)
		}
		out[field] = string(hash)
	}
	return out, nil
}

func (e *Engine) audit(ctx context.Context, operation models.Operation, apiName, caller string, start time.Time, errp *error) {
	err := *errp
	elapsed := e.clock.Since(start)
	status := apierr.HTTPStatus(err)

	e.recorder.Record(ctx, models.UsageRecord{
		UserID:         caller,
		APIName:        apiName,
		Operation:      operation,
		Status:         status,
		ResponseTimeMs: elapsed.Milliseconds(),
		Timestamp:      start,
	})

	fields := []zap.Field{
		zap.String("api", apiName),
		zap.String("operation", string(operation)),
		zap.String("caller", caller),
		zap.Int("status", status),
		zap.Duration("elapsed", elapsed),
	}
	switch {
	case err == nil:
		e.log.Info("document operation", fields...)
	case status >= 500:
		e.log.Error("document operation failed", append(fields, zap.Error(err))...)
	default:
		e.log.Warn("document operation rejected", append(fields, zap.Error(err))...)
	}
}

func externalizeAll(docs []docstore.Document) []docstore.Document {
	for _, d := range docs {
		docid.ExternalizeDocument(d)
	}
	return docs
}
