// Package errorlog records pipeline failure events as prime-coded
// composites. Each error kind maps to a unique prime; one event's
// composite value is the product of its error primes, which unique
// factorization makes reversible. Log-transformed composites add
// instead of multiply, so downstream tensor analysis stays linear.
package errorlog

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// Kind names for the built-in mapping.
const (
	KindNone             = "none"
	KindTimeout          = "timeout"
	KindPermissionDenied = "permission_denied"
	KindFileNotFound     = "file_not_found"
	KindNetworkError     = "network_error"
	KindDiskFull         = "disk_full"
	KindAuthFailed       = "auth_failed"
	KindChecksum         = "checksum_mismatch"
	KindUnknown          = "unknown"
)

// Registry maps error kinds to primes. New kinds get the next spare
// prime at registration time.
type Registry struct {
	mu     sync.RWMutex
	primes map[string]int64
	spares []int64
}

// NewRegistry returns a registry preloaded with the built-in kinds.
func NewRegistry() *Registry {
	return &Registry{
		primes: map[string]int64{
			KindNone:             1, // multiplicative identity, no error
			KindTimeout:          2,
			KindPermissionDenied: 3,
			KindFileNotFound:     5,
			KindNetworkError:     7,
			KindDiskFull:         11,
			KindAuthFailed:       13,
			KindChecksum:         17,
			KindUnknown:          19,
		},
		spares: []int64{23, 29, 31, 37, 41, 43, 47, 53, 59, 61, 67, 71},
	}
}

// Register assigns the next spare prime to a new kind. Registering an
// existing kind returns its current prime.
func (r *Registry) Register(kind string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.primes[kind]; ok {
		return p, nil
	}
	if len(r.spares) == 0 {
		return 0, fmt.Errorf("prime pool exhausted registering %q", kind)
	}
	p := r.spares[0]
	r.spares = r.spares[1:]
	r.primes[kind] = p
	return p, nil
}

// PrimeFor returns the prime for a kind, falling back to the unknown
// prime for unregistered kinds.
func (r *Registry) PrimeFor(kind string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.primes[kind]; ok {
		return p
	}
	return r.primes[KindUnknown]
}

// Composite multiplies the primes of all kinds in the set. An empty set
// or {"none"} yields 1.
func (r *Registry) Composite(kinds []string) int64 {
	v := int64(1)
	for _, k := range kinds {
		v *= r.PrimeFor(k)
	}
	return v
}

// LogComposite is the natural log of the composite, 0 for no error.
func (r *Registry) LogComposite(kinds []string) float64 {
	v := r.Composite(kinds)
	if v <= 1 {
		return 0
	}
	return math.Log(float64(v))
}

// Decode factors a composite back into its error kinds, sorted by
// prime. Composites at or below 1 decode to {"none"}.
func (r *Registry) Decode(composite int64) []string {
	if composite <= 1 {
		return []string{KindNone}
	}
	r.mu.RLock()
	type kp struct {
		kind  string
		prime int64
	}
	var pairs []kp
	for k, p := range r.primes {
		if p > 1 {
			pairs = append(pairs, kp{k, p})
		}
	}
	r.mu.RUnlock()
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].prime < pairs[j].prime })

	var kinds []string
	remaining := composite
	for _, p := range pairs {
		for remaining%p.prime == 0 {
			remaining /= p.prime
		}
		if composite%p.prime == 0 {
			kinds = append(kinds, p.kind)
		}
	}
	if len(kinds) == 0 {
		return []string{KindUnknown}
	}
	return kinds
}

// Primes returns a copy of the current mapping.
func (r *Registry) Primes() map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int64, len(r.primes))
	for k, v := range r.primes {
		out[k] = v
	}
	return out
}
