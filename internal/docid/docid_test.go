package docid_test

import (
	"testing"

	"github.com/HanTheDev/reqnest-engine/internal/docid"
	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestParse(t *testing.T) {
	oid := primitive.NewObjectID()

	tests := []struct {
		in   string
		kind docid.Kind
		want any
	}{
		{oid.Hex(), docid.KindNative, oid},
		{"42", docid.KindInt, int64(42)},
		{"-7", docid.KindInt, int64(-7)},
		{"abc", docid.KindString, "abc"},
		{"", docid.KindString, ""},
		// 24 decimal digits are valid hex, so the native form wins.
		{"123456789012345678901234", docid.KindNative, nil},
		{"99999999999999999999", docid.KindString, "99999999999999999999"},
	}
	for _, tt := range tests {
		id := docid.Parse(tt.in)
		assert.Equal(t, tt.kind, id.Kind(), tt.in)
		if tt.want != nil {
			assert.Equal(t, tt.want, id.Value(), tt.in)
		}
		assert.Equal(t, tt.in, id.String(), tt.in)
	}
}

func TestToInternalOnlyTouchesStrings(t *testing.T) {
	assert.Equal(t, int64(5), docid.ToInternal("5"))
	assert.Equal(t, 5.0, docid.ToInternal(5.0))
	assert.Equal(t, true, docid.ToInternal(true))
	assert.Nil(t, docid.ToInternal(nil))
}

func TestToExternal(t *testing.T) {
	oid := primitive.NewObjectID()
	assert.Equal(t, oid.Hex(), docid.ToExternal(oid))
	assert.Equal(t, int64(3), docid.ToExternal(int64(3)))
	assert.Equal(t, "x", docid.ToExternal("x"))
}

func TestInternalizeFilter(t *testing.T) {
	oid := primitive.NewObjectID()
	in := map[string]any{"_id": oid.Hex(), "age": "30", "name": "bob"}

	got := docid.InternalizeFilter(in)

	assert.Equal(t, oid, got["_id"])
	assert.Equal(t, int64(30), got["age"])
	assert.Equal(t, "bob", got["name"])
	assert.Equal(t, oid.Hex(), in["_id"], "input must not be mutated")
}

func TestExternalizeDocument(t *testing.T) {
	oid := primitive.NewObjectID()
	doc := docid.ExternalizeDocument(map[string]any{"_id": oid, "title": "x"})
	assert.Equal(t, oid.Hex(), doc["_id"])

	noID := docid.ExternalizeDocument(map[string]any{"title": "x"})
	assert.NotContains(t, noID, "_id")
}
