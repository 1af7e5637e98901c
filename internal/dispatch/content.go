package dispatch

import (
	"errors"
	"fmt"
	"maps"
	"math/rand/v2"
	"strings"
	"sync"
)

// Variant is one candidate message of a pool.
type Variant struct {
	Title    string
	Body     string
	Metadata map[string]string
}

// Validate checks that title and body are present.
func (v Variant) Validate() error {
	if strings.TrimSpace(v.Title) == "" {
		return errors.New("title is empty")
	}
	if strings.TrimSpace(v.Body) == "" {
		return errors.New("body is empty")
	}
	for k := range v.Metadata {
		if k == "" {
			return errors.New("metadata has an empty key")
		}
	}
	return nil
}

// Pool is an immutable, ordered set of variants. Construct it with NewPool.
type Pool struct {
	name     string
	variants []Variant
}

// NewPool validates and copies variants. An empty pool or an invalid variant
// is a *ConfigurationError.
func NewPool(name string, variants []Variant) (*Pool, error) {
	if len(variants) == 0 {
		return nil, &ConfigurationError{Field: "pool " + name, Err: errors.New("pool is empty")}
	}
	cp := make([]Variant, len(variants))
	for i, v := range variants {
		if err := v.Validate(); err != nil {
			return nil, &ConfigurationError{Field: fmt.Sprintf("pool %s[%d]", name, i), Err: err}
		}
		cp[i] = Variant{Title: v.Title, Body: v.Body}
		if len(v.Metadata) > 0 {
			cp[i].Metadata = maps.Clone(v.Metadata)
		}
	}
	return &Pool{name: name, variants: cp}, nil
}

func (p *Pool) Name() string { return p.name }
func (p *Pool) Len() int     { return len(p.variants) }

// At returns the i-th variant. Its Metadata is shared with the pool and must
// not be modified; Build copies it.
func (p *Pool) At(i int) Variant { return p.variants[i] }

// Selector picks one variant per call.
type Selector interface {
	Select(p *Pool) Variant
}

// UniformSelector draws uniformly at random, with repetition.
// The zero value uses the process-wide generator.
type UniformSelector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewUniformSelector returns a selector backed by the process-wide generator.
func NewUniformSelector() *UniformSelector { return &UniformSelector{} }

// NewSeededSelector returns a reproducible selector.
func NewSeededSelector(seed uint64) *UniformSelector {
	return &UniformSelector{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *UniformSelector) Select(p *Pool) Variant {
	n := p.Len()
	if n == 1 {
		return p.At(0)
	}
	if s == nil || s.rng == nil {
		return p.At(rand.IntN(n))
	}
	s.mu.Lock()
	i := s.rng.IntN(n)
	s.mu.Unlock()
	return p.At(i)
}
