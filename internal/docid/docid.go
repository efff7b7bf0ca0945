// Package docid converts document identifiers between the document store's
// native representation and the string form callers see.
//
// A string coming from a caller is interpreted, in this order, as a native
// ObjectID (24 hex characters), as a base-10 integer, or left as a string.
// ObjectID-shaped strings are never treated as integers.
package docid

import (
	"strconv"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Field is the reserved identifier field of every document.
const Field = "_id"

type Kind int

const (
	KindString Kind = iota
	KindInt
	KindNative
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindNative:
		return "native"
	default:
		return "string"
	}
}

// ID is a tagged identifier value.
type ID struct {
	kind   Kind
	str    string
	num    int64
	native primitive.ObjectID
}

func String(s string) ID {
	return ID{kind: KindString, str: s}
}

func Int(n int64) ID {
	return ID{kind: KindInt, num: n}
}

func Native(oid primitive.ObjectID) ID {
	return ID{kind: KindNative, native: oid}
}

func (id ID) Kind() Kind {
	return id.kind
}

// Parse classifies an external string identifier.
func Parse(s string) ID {
	if primitive.IsValidObjectID(s) {
		oid, err := primitive.ObjectIDFromHex(s)
		if err == nil {
			return Native(oid)
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Int(n)
	}
	return String(s)
}

// Value returns the representation used in storage queries.
func (id ID) Value() any {
	switch id.kind {
	case KindNative:
		return id.native
	case KindInt:
		return id.num
	default:
		return id.str
	}
}

// String returns the external form.
func (id ID) String() string {
	switch id.kind {
	case KindNative:
		return id.native.Hex()
	case KindInt:
		return strconv.FormatInt(id.num, 10)
	default:
		return id.str
	}
}

// ToInternal converts a caller supplied value to its storage form. Only
// strings are reinterpreted.
func ToInternal(v any) any {
	if s, ok := v.(string); ok {
		return Parse(s).Value()
	}
	return v
}

// ToExternal renders native ids as their hex string; other values pass
// through unchanged.
func ToExternal(v any) any {
	if oid, ok := v.(primitive.ObjectID); ok {
		return oid.Hex()
	}
	return v
}

// InternalizeFilter returns a copy of filter with every value passed
// through ToInternal.
func InternalizeFilter(filter map[string]any) map[string]any {
	out := make(map[string]any, len(filter))
	for k, v := range filter {
		out[k] = ToInternal(v)
	}
	return out
}

// ExternalizeDocument rewrites the identifier field of doc in place and
// returns it.
func ExternalizeDocument(doc map[string]any) map[string]any {
	if id, ok := doc[Field]; ok {
		doc[Field] = ToExternal(id)
	}
	return doc
}
