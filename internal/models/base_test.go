package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewULID(t *testing.T) {
	id := NewULID()
	assert.False(t, id.IsZero(), "NewULID should generate a non-zero ID")

	// Two ULIDs should be different
	id2 := NewULID()
	assert.NotEqual(t, id, id2, "two NewULID calls should produce different IDs")
}

func TestParseULID(t *testing.T) {
	t.Run("valid ULID string", func(t *testing.T) {
		original := NewULID()
		parsed, err := ParseULID(original.String())
		require.NoError(t, err)
		assert.Equal(t, original, parsed)
	})

	t.Run("invalid ULID string", func(t *testing.T) {
		_, err := ParseULID("not-a-valid-ulid")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid ULID")
	})

	t.Run("empty string", func(t *testing.T) {
		_, err := ParseULID("")
		assert.Error(t, err)
	})
}

func TestULID_String_Roundtrip(t *testing.T) {
	original := NewULID()
	s := original.String()
	assert.Len(t, s, 26, "ULID string should be 26 characters")

	parsed, err := ParseULID(s)
	require.NoError(t, err)
	assert.Equal(t, original, parsed)
}

func TestULID_ValueAndScan(t *testing.T) {
	t.Run("non-zero value", func(t *testing.T) {
		id := NewULID()
		v, err := id.Value()
		require.NoError(t, err)
		assert.Equal(t, id.String(), v)

		var scanned ULID
		require.NoError(t, scanned.Scan(v))
		assert.Equal(t, id, scanned)
	})

	t.Run("zero value stores NULL", func(t *testing.T) {
		var id ULID
		v, err := id.Value()
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("scan nil", func(t *testing.T) {
		var id ULID
		require.NoError(t, id.Scan(nil))
		assert.True(t, id.IsZero())
	})

	t.Run("scan bytes", func(t *testing.T) {
		id := NewULID()
		var scanned ULID
		require.NoError(t, scanned.Scan([]byte(id.String())))
		assert.Equal(t, id, scanned)
	})

	t.Run("scan unsupported type", func(t *testing.T) {
		var id ULID
		assert.Error(t, id.Scan(42))
	})
}

func TestULID_JSON(t *testing.T) {
	t.Run("marshal and unmarshal", func(t *testing.T) {
		id := NewULID()
		data, err := json.Marshal(id)
		require.NoError(t, err)
		assert.Equal(t, `"`+id.String()+`"`, string(data))

		var parsed ULID
		require.NoError(t, json.Unmarshal(data, &parsed))
		assert.Equal(t, id, parsed)
	})

	t.Run("zero marshals to null", func(t *testing.T) {
		var id ULID
		data, err := json.Marshal(id)
		require.NoError(t, err)
		assert.Equal(t, "null", string(data))
	})

	t.Run("unmarshal null", func(t *testing.T) {
		var id ULID
		require.NoError(t, json.Unmarshal([]byte("null"), &id))
		assert.True(t, id.IsZero())
	})
}

func TestMustParseULID_Panics(t *testing.T) {
	assert.Panics(t, func() {
		MustParseULID("definitely-not-a-ulid")
	})
}
