package workflow

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnowflakeIDs(t *testing.T) {
	gen := NewSnowflakeIDs(1)

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id, err := gen.NextID()
		require.NoError(t, err)
		require.NotEmpty(t, id)
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestUUIDs(t *testing.T) {
	id, err := UUIDs{}.NextID()
	require.NoError(t, err)

	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), parsed.Version())
}

func TestNewIDGenerator(t *testing.T) {
	gen, err := NewIDGenerator("", 1)
	require.NoError(t, err)
	assert.IsType(t, &SnowflakeIDs{}, gen)

	gen, err = NewIDGenerator("uuid", 0)
	require.NoError(t, err)
	assert.IsType(t, UUIDs{}, gen)

	_, err = NewIDGenerator("ulid", 0)
	assert.EqualError(t, err, `unknown id scheme "ulid"`)
}
