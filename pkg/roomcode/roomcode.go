// Package roomcode produces the short codes players type to join a room.
package roomcode

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
)

const (
	// Length is the number of characters in a room code.
	Length = 6
	// Alphabet leaves out 0, O, 1 and I so codes can be read aloud and retyped.
	Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// Generator draws codes uniformly at random from Alphabet.
// It does not check for collisions; the room registry does.
type Generator struct {
	random io.Reader
}

// NewGenerator returns a Generator reading randomness from r.
func NewGenerator(r io.Reader) *Generator {
	return &Generator{random: r}
}

var defaultGenerator = NewGenerator(rand.Reader)

// Generate returns a new code in canonical (lowercase) form.
func Generate() (string, error) {
	return defaultGenerator.Generate()
}

// Generate returns a new code in canonical (lowercase) form.
func (g *Generator) Generate() (string, error) {
	b := make([]byte, Length)
	if _, err := io.ReadFull(g.random, b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %v", err)
	}

	// len(Alphabet) divides 256, so the modulo keeps the distribution uniform.
	for i := range b {
		b[i] = Alphabet[int(b[i])%len(Alphabet)]
	}

	return strings.ToLower(string(b)), nil
}

// Normalize trims whitespace and lowercases a code typed by a player.
func Normalize(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// Display formats a canonical code for presentation.
func Display(code string) string {
	return strings.ToUpper(code)
}

// Valid reports whether code, after normalization, could have been produced by Generate.
func Valid(code string) bool {
	code = Normalize(code)
	if len(code) != Length {
		return false
	}
	upper := strings.ToUpper(code)
	for _, r := range upper {
		if !strings.ContainsRune(Alphabet, r) {
			return false
		}
	}
	return true
}
