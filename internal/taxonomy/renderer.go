package taxonomy

import (
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"
)

// Fingerprint identifies a taxonomy by its ordered leaf paths.
func (t *Taxonomy) Fingerprint() string {
	h := sha256.New()
	for _, n := range t.nodes {
		h.Write([]byte(n.Path()))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Renderer caches the rendered prompt block per taxonomy so concurrent runs
// over the same taxonomy share one copy.
type Renderer struct {
	cache *lru.Cache[string, string]
}

// NewRenderer creates a renderer holding up to size taxonomies.
func NewRenderer(size int) (*Renderer, error) {
	if size <= 0 {
		size = 32
	}
	c, err := lru.New[string, string](size)
	if err != nil {
		return nil, eris.Wrap(err, "taxonomy: create render cache")
	}
	return &Renderer{cache: c}, nil
}

// Render returns the indented text form of t.
func (r *Renderer) Render(t *Taxonomy) string {
	key := t.Fingerprint()
	if s, ok := r.cache.Get(key); ok {
		return s
	}
	s := t.Text()
	r.cache.Add(key, s)
	return s
}

// Cached returns the number of cached taxonomies.
func (r *Renderer) Cached() int {
	return r.cache.Len()
}
