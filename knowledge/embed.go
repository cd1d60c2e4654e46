package knowledge

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

// Embedder turns text into a vector. Implementations must be deterministic
// for a fixed model so that queries are reproducible.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Name identifies the model; a persisted index only loads with the same name.
	Name() string
}

// HashEmbedder embeds text with signed feature hashing over word tokens and
// character bigrams. It needs no external service.
type HashEmbedder struct {
	dims int
}

var tokenRE = regexp.MustCompile(`[a-z0-9]+`)

func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 384
	}
	return &HashEmbedder{dims: dims}
}

func (e *HashEmbedder) Name() string { return "hash" }

func (e *HashEmbedder) Dims() int { return e.dims }

func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, e.dims)

	tf := map[string]int{}
	for _, tok := range tokenRE.FindAllString(strings.ToLower(text), -1) {
		if len(tok) >= 2 {
			tf[tok]++
		}
	}
	for tok, count := range tf {
		w := float32(1 + math.Log(float64(count)))
		e.add(v, tok, 0, w)
		e.add(v, tok, 1, w*0.5)
		if len(tok) > 3 {
			for i := 0; i+2 <= len(tok); i++ {
				e.add(v, tok[i:i+2], 2, 0.1)
			}
		}
	}
	normalize(v)
	return v, nil
}

func (e *HashEmbedder) add(v []float32, s string, seed byte, w float32) {
	h := fnv.New64a()
	h.Write([]byte{seed})
	h.Write([]byte(s))
	sum := h.Sum64()
	pos := int(sum % uint64(e.dims))
	if sum&1 == 0 {
		v[pos] += w
	} else {
		v[pos] -= w
	}
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
