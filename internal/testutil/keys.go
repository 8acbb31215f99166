package testutil

// ConstantKeyGenerator generates the same identifier every time.
//
// Two identifier-policy inserts through it collide, which exercises the
// duplicate-key path of tables whose keys are normally unique by
// construction.
//
// Thread-safety: ConstantKeyGenerator is stateless and safe for concurrent use.
type ConstantKeyGenerator struct {
	key string
}

// NewConstantKeyGenerator creates a generator returning key.
// If key is empty, Generate() returns "test-key-default".
func NewConstantKeyGenerator(key string) *ConstantKeyGenerator {
	if key == "" {
		key = "test-key-default"
	}
	return &ConstantKeyGenerator{key: key}
}

// Generate returns the fixed key.
func (g *ConstantKeyGenerator) Generate() string {
	return g.key
}
