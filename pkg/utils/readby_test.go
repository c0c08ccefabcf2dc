package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeReadBy(t *testing.T) {
	tests := []struct {
		name string
		raw  interface{}
		want []string
	}{
		{"nil", nil, []string{}},
		{"native array", []interface{}{"u1", "u2"}, []string{"u1", "u2"}},
		{"native array with junk", []interface{}{"u1", 42, "u2"}, []string{"u1", "u2"}},
		{"string slice", []string{"u1"}, []string{"u1"}},
		{"json string", `["u1","u2"]`, []string{"u1", "u2"}},
		{"json null", `null`, []string{}},
		{"empty json array", `[]`, []string{}},
		{"malformed json", `["u1"`, []string{}},
		{"plain garbage", "not json", []string{}},
		{"wrong type", 123, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeReadBy(tt.raw))
		})
	}
}

func TestDecodeReadByCopiesInput(t *testing.T) {
	original := []string{"u1", "u2"}
	decoded := DecodeReadBy(original)
	decoded[0] = "mutated"
	assert.Equal(t, "u1", original[0])
}

func TestContainsReader(t *testing.T) {
	readBy := []string{"u1", "u2"}
	assert.True(t, ContainsReader(readBy, "u1"))
	assert.False(t, ContainsReader(readBy, "u3"))
	assert.False(t, ContainsReader(nil, "u1"))
}

func TestAppendReaderGrowsOnly(t *testing.T) {
	readBy := []string{"u1"}
	readBy = AppendReader(readBy, "u2")
	assert.Equal(t, []string{"u1", "u2"}, readBy)

	// Appending an existing reader is a no-op.
	readBy = AppendReader(readBy, "u1")
	assert.Equal(t, []string{"u1", "u2"}, readBy)
}
