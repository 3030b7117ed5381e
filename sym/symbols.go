// Package sym defines the glyphs corpipe uses as log markers and in CLI output.
package sym

// Segment glyphs.
const (
	AM    = "≡" // configuration
	Chain = "⛓" // stage chains and fingerprints
	Stage = "⚙" // a single stage execution
	Cache = "⊡" // memoized results
	DB    = "⊔" // database/storage layer
	Doc   = "▤" // source documents
)

// Pulse glyphs for the job substrate.
const (
	Pulse      = "꩜" // async jobs, rate limiting
	PulseOpen  = "✿" // graceful startup with orphaned job recovery
	PulseClose = "❀" // graceful shutdown
)

// Outcome glyphs, one per outcome state.
const (
	Cached    = "◆"
	Succeeded = "✓"
	Failed    = "✗"
	Pending   = "…"
)
