// Package keygen produces client-side primary keys for tables using the
// identifier key policy. Keys are generated before any value reaches the
// storage engine.
package keygen

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/segmentio/ksuid"

	"github.com/roach88/tuplex/internal/schema"
)

// Generator produces globally unique string keys.
type Generator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 keys.
//
// Format: "0190a3d2-7c1e-7b4a-9f3e-2d8c6b1a4e5f" (36 characters)
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// KSUIDGenerator generates 27-character K-sortable identifiers.
type KSUIDGenerator struct{}

// Generate returns a new KSUID string.
func (KSUIDGenerator) Generate() string {
	return ksuid.New().String()
}

// nanoAlphabet drops characters that are easy to mistype.
const nanoAlphabet = "abcdefghikmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ0123456789"

// NanoIDGenerator generates short random identifiers over nanoAlphabet.
type NanoIDGenerator struct {
	// Size is the identifier length. Zero means 21.
	Size int
}

// Generate returns a new NanoID string.
func (g NanoIDGenerator) Generate() string {
	size := g.Size
	if size == 0 {
		size = 21
	}
	return gonanoid.MustGenerate(nanoAlphabet, size)
}

// For returns the default generator for an identifier format.
func For(format schema.IDFormat) (Generator, error) {
	switch format {
	case schema.FormatUUID, "":
		return UUIDv7Generator{}, nil
	case schema.FormatKSUID:
		return KSUIDGenerator{}, nil
	case schema.FormatNanoID:
		return NanoIDGenerator{}, nil
	default:
		return nil, fmt.Errorf("keygen: unknown identifier format %q", format)
	}
}

// FixedGenerator returns predetermined keys for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu   sync.Mutex
	keys []string
	idx  int
}

// NewFixedGenerator creates a generator that returns keys in order.
//
// Example:
//
//	gen := NewFixedGenerator("k-1", "k-2")
//	gen.Generate() // "k-1"
//	gen.Generate() // "k-2"
//	gen.Generate() // panic: all keys exhausted
func NewFixedGenerator(keys ...string) *FixedGenerator {
	return &FixedGenerator{keys: keys}
}

// Generate returns the next predetermined key.
//
// Panics if all keys have been consumed, so a test that inserts more rows
// than it planned for fails loudly.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.keys) {
		panic("FixedGenerator: all keys exhausted")
	}
	key := g.keys[g.idx]
	g.idx++
	return key
}
