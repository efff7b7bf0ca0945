// Package validate checks documents against user supplied JSON Schema
// bodies. Schemas are compiled lazily on first use and cached by content,
// so a malformed schema fails every operation that uses it rather than
// failing registration.
package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/sync/singleflight"
)

// SchemaError reports a schema body that could not be compiled.
type SchemaError struct {
	Err error
}

func (e *SchemaError) Error() string {
	return "invalid schema: " + e.Err.Error()
}

func (e *SchemaError) Unwrap() error { return e.Err }

// ViolationError reports a document that does not conform to its schema.
type ViolationError struct {
	Err error
}

func (e *ViolationError) Error() string {
	var verr *jsonschema.ValidationError
	if errors.As(e.Err, &verr) {
		return strings.Join(flatten(verr), "; ")
	}
	return e.Err.Error()
}

func (e *ViolationError) Unwrap() error { return e.Err }

type Validator struct {
	cache sync.Map // uint64 -> *jsonschema.Schema
	group singleflight.Group
}

func New() *Validator {
	return &Validator{}
}

// Validate checks doc against schemaJSON. It returns a *SchemaError when
// the schema itself is unusable and a *ViolationError when doc does not
// conform.
func (v *Validator) Validate(schemaJSON string, doc map[string]any) error {
	schema, err := v.compile(schemaJSON)
	if err != nil {
		return err
	}

	instance, err := normalize(doc)
	if err != nil {
		return &ViolationError{Err: err}
	}
	if err := schema.Validate(instance); err != nil {
		return &ViolationError{Err: err}
	}
	return nil
}

func (v *Validator) compile(schemaJSON string) (*jsonschema.Schema, error) {
	sum := xxhash.Sum64String(schemaJSON)
	if s, ok := v.cache.Load(sum); ok {
		return s.(*jsonschema.Schema), nil
	}

	key := strconv.FormatUint(sum, 16)
	s, err, _ := v.group.Do(key, func() (any, error) {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft7
		url := "mem://schemas/" + key + ".json"
		if err := c.AddResource(url, strings.NewReader(schemaJSON)); err != nil {
			return nil, err
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, err
		}
		v.cache.Store(sum, compiled)
		return compiled, nil
	})
	if err != nil {
		return nil, &SchemaError{Err: err}
	}
	return s.(*jsonschema.Schema), nil
}

// normalize round-trips doc through JSON so the validator sees the same
// value types a decoded request body would have.
func normalize(doc map[string]any) (any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("payload is not JSON encodable: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func flatten(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := verr.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{loc + ": " + verr.Message}
	}
	var out []string
	for _, c := range verr.Causes {
		out = append(out, flatten(c)...)
	}
	return out
}
