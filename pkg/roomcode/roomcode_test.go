package roomcode

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	for i := 0; i < 500; i++ {
		code, err := Generate()
		require.NoError(t, err)
		assert.Len(t, code, Length)
		assert.Equal(t, strings.ToLower(code), code)
		assert.True(t, Valid(code), "generated code %q should be valid", code)
		assert.NotContainsf(t, code, "0", "code %q", code)
		assert.NotContainsf(t, code, "1", "code %q", code)
		assert.NotContainsf(t, code, "o", "code %q", code)
		assert.NotContainsf(t, code, "i", "code %q", code)
	}
}

func TestGenerator_Generate_deterministic(t *testing.T) {
	// byte values map onto Alphabet by index modulo 32
	g := NewGenerator(bytes.NewReader([]byte{9, 25, 11, 31, 13, 46}))

	code, err := g.Generate()
	require.NoError(t, err)
	assert.Equal(t, "k3m9pq", code)
}

type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) {
	return 0, errors.New("entropy exhausted")
}

func TestGenerator_Generate_readError(t *testing.T) {
	g := NewGenerator(failingReader{})

	code, err := g.Generate()
	assert.Error(t, err)
	assert.Empty(t, code)
}

func TestAlphabet(t *testing.T) {
	assert.Len(t, Alphabet, 32)
	for _, confusable := range "0O1I" {
		assert.NotContains(t, Alphabet, string(confusable))
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "mixed case", in: "K3m9Pq", want: "k3m9pq"},
		{name: "surrounding whitespace", in: "  K3M9PQ\n", want: "k3m9pq"},
		{name: "already canonical", in: "k3m9pq", want: "k3m9pq"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("K3M9PQ"))
	assert.True(t, Valid(" k3m9pq "))
	assert.False(t, Valid("k3m9p"))
	assert.False(t, Valid("ab12cd"))
	assert.False(t, Valid("k3m9p0"))
}

func TestDisplay(t *testing.T) {
	assert.Equal(t, "K3M9PQ", Display("k3m9pq"))
}
