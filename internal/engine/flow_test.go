package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Generator(t *testing.T) {
	gen := UUIDv7Generator{}
	token := gen.Generate()

	parsed, err := uuid.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.Regexp(t, `^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`, token)

	seen := map[string]bool{token: true}
	for i := 0; i < 500; i++ {
		next := gen.Generate()
		require.False(t, seen[next], "token %s generated twice", next)
		seen[next] = true
	}
}

func TestFixedGenerator(t *testing.T) {
	gen := NewFixedGenerator("c-1", "c-2")

	assert.Equal(t, "c-1", gen.Generate())
	assert.Equal(t, "c-2", gen.Generate())
	assert.PanicsWithValue(t, "FixedGenerator: all tokens exhausted", func() { gen.Generate() })
}
