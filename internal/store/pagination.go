package store

// Listing limits applied by callers before reaching a backend.
// Backends themselves treat limit <= 0 as unlimited.
const (
	DefaultListLimit = 20
	MaxListLimit     = 1000
)

// ListParams carries a caller-supplied page size.
type ListParams struct {
	Limit int
}

// Normalize replaces a missing limit with def and caps it at max.
// A zero def or max falls back to the package defaults.
func (p *ListParams) Normalize(def, max int) {
	if def <= 0 {
		def = DefaultListLimit
	}
	if max <= 0 {
		max = MaxListLimit
	}
	if def > max {
		def = max
	}

	if p.Limit <= 0 {
		p.Limit = def
	}
	if p.Limit > max {
		p.Limit = max
	}
}
