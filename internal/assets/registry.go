package assets

import (
	"errors"
	"sync"
)

// ErrAssetNotSupported is the validation error for operations against an
// asset missing from the component's allow-list.
var ErrAssetNotSupported = errors.New("asset not supported")

// Registry is a per-component asset allow-list. Each core component owns an
// independent registry — the lists legitimately differ in scope, so they are
// never unified into shared state.
//
// The roster is append-only; disallowing an asset flips its flag but keeps
// the entry, and an index map keeps membership checks O(1).
type Registry struct {
	mu      sync.RWMutex
	roster  []string        // append-only enumeration order
	index   map[string]int  // asset -> roster position
	allowed map[string]bool // asset -> currently allowed
}

func NewRegistry() *Registry {
	return &Registry{
		index:   make(map[string]int),
		allowed: make(map[string]bool),
	}
}

// SetAllowed adds asset to the roster on first sight and sets its flag.
func (r *Registry) SetAllowed(asset string, allowed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[asset]; !ok {
		r.index[asset] = len(r.roster)
		r.roster = append(r.roster, asset)
	}
	r.allowed[asset] = allowed
}

// IsAllowed reports whether asset is currently allow-listed.
func (r *Registry) IsAllowed(asset string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.allowed[asset]
}

// Require returns ErrAssetNotSupported unless asset is allowed.
func (r *Registry) Require(asset string) error {
	if !r.IsAllowed(asset) {
		return ErrAssetNotSupported
	}
	return nil
}

// List returns the currently allowed assets in roster order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.roster))
	for _, asset := range r.roster {
		if r.allowed[asset] {
			out = append(out, asset)
		}
	}
	return out
}
