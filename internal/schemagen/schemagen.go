// Package schemagen drafts JSON Schemas and sample documents from plain
// language descriptions using a chat completion model.
//
// Model output is expected to be bare JSON but is often wrapped in a
// markdown code fence; fences are removed and the remainder must parse as
// JSON before it is returned or cached.
package schemagen

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/HanTheDev/reqnest-engine/internal/apierr"
	"go.uber.org/zap"
)

// Model completes a single user prompt.
type Model interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Cache stores model responses by prompt.
type Cache interface {
	GetResponse(ctx context.Context, prompt string) (string, bool)
	StoreResponse(ctx context.Context, prompt, response string)
}

type Option func(*Generator)

func WithCache(c Cache) Option {
	return func(g *Generator) { g.cache = c }
}

func WithLogger(log *zap.Logger) Option {
	return func(g *Generator) { g.log = log }
}

type Generator struct {
	model Model
	cache Cache
	log   *zap.Logger
}

func New(model Model, opts ...Option) *Generator {
	g := &Generator{model: model, log: zap.NewNop()}
	for _, o := range opts {
		o(g)
	}
	return g
}

func schemaPrompt(description string) string {
	return "Generate ONLY a JSON Schema for: " + description +
		". Return valid JSON only, no explanation, no markdown."
}

func testDataPrompt(schema string) string {
	return "Generate realistic JSON test data based on this schema:\n" + schema +
		"\nReturn valid JSON only, no explanation, no markdown."
}

// GenerateSchema returns a JSON Schema describing description. Identical
// descriptions are answered from the cache.
func (g *Generator) GenerateSchema(ctx context.Context, description string) (json.RawMessage, error) {
	const op = "schemagen.GenerateSchema"
	if strings.TrimSpace(description) == "" {
		return nil, apierr.New(apierr.EBadRequest, op, "prompt is required")
	}

	prompt := schemaPrompt(description)
	if g.cache != nil {
		if cached, ok := g.cache.GetResponse(ctx, prompt); ok {
			g.log.Debug("schema served from cache")
			return json.RawMessage(cached), nil
		}
	}

	out, err := g.complete(ctx, op, prompt)
	if err != nil {
		return nil, err
	}
	if g.cache != nil {
		g.cache.StoreResponse(ctx, prompt, string(out))
	}
	return out, nil
}

// GenerateTestData returns sample data conforming to schema. Results are
// not cached so repeated calls yield fresh samples.
func (g *Generator) GenerateTestData(ctx context.Context, schema json.RawMessage) (json.RawMessage, error) {
	const op = "schemagen.GenerateTestData"
	if len(schema) == 0 || !json.Valid(schema) {
		return nil, apierr.New(apierr.EBadRequest, op, "schema must be valid JSON")
	}
	return g.complete(ctx, op, testDataPrompt(string(schema)))
}

func (g *Generator) complete(ctx context.Context, op, prompt string) (json.RawMessage, error) {
	raw, err := g.model.Complete(ctx, prompt)
	if err != nil {
		g.log.Error("model call failed", zap.String("op", op), zap.Error(err))
		return nil, apierr.Wrap(apierr.EInternal, op, err, "model call failed")
	}

	cleaned := stripFences(raw)
	if !json.Valid([]byte(cleaned)) {
		g.log.Warn("model returned invalid JSON", zap.String("op", op), zap.Int("size", len(raw)))
		return nil, apierr.New(apierr.EInternal, op, "model returned invalid JSON")
	}
	return json.RawMessage(cleaned), nil
}

// stripFences removes markdown code fences, with or without a json
// language tag, and surrounding whitespace.
func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}
