package heap

import "fmt"

const (
	// DefaultArenaBytes sizes the arena when the config leaves it zero.
	DefaultArenaBytes = 1 << 20

	// MinArenaBytes is the smallest arena New accepts. Below this a region
	// half cannot carve a single value block.
	MinArenaBytes = 256
)

// Config carries heap construction parameters. The TOML-tagged fields load
// from the [heap] section of wisp.toml; the rest get wired by the embedder.
type Config struct {
	// ArenaBytes is the total arena size. Each semi-space region gets half,
	// sized down to the pool alignment.
	ArenaBytes int `toml:"arena_bytes"`

	// DebugFill patterns fresh scalar payloads with 0xCC so stale reads
	// stand out in dumps and tests.
	DebugFill bool `toml:"debug_fill"`

	// Roots enumerates the evaluator's live handles during Collect. With a
	// nil source every value is unreachable and a collection sweeps the
	// whole heap.
	Roots RootSource `toml:"-"`

	// Trace receives heap event lines when non-nil.
	Trace *Tracer `toml:"-"`
}

func (c Config) withDefaults() Config {
	if c.ArenaBytes == 0 {
		c.ArenaBytes = DefaultArenaBytes
	}
	return c
}

func (c Config) validate() error {
	if c.ArenaBytes < MinArenaBytes {
		return fmt.Errorf("heap: arena of %d bytes is below the %d byte minimum", c.ArenaBytes, MinArenaBytes)
	}
	return nil
}
