// Package similarity provides a pluggable text embedding interface and the
// distance measures used for topic inference and iteration stopping.
package similarity

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"

	"github.com/rcliao/organism/internal/textutil"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Dims() int
}

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// DefaultDims is the width of TermEmbedder vectors.
const DefaultDims = 256

// TermEmbedder hashes stemmed content tokens into a fixed-width bag of words.
// It is deterministic and needs no external service.
type TermEmbedder struct {
	dims   int
	ignore map[string]bool
}

// NewTermEmbedder creates a term embedder. Tokens in ignore are skipped.
func NewTermEmbedder(dims int, ignore ...string) *TermEmbedder {
	if dims <= 0 {
		dims = DefaultDims
	}
	e := &TermEmbedder{dims: dims, ignore: make(map[string]bool, len(ignore))}
	for _, w := range ignore {
		e.ignore[w] = true
	}
	return e
}

func (e *TermEmbedder) Embed(_ context.Context, text string) (Vector, error) {
	v := make(Vector, e.dims)
	for _, tok := range textutil.ContentTokens(text) {
		if e.ignore[tok] {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(textutil.Stem(tok)))
		v[h.Sum32()%uint32(e.dims)]++
	}
	return v, nil
}

func (e *TermEmbedder) Dims() int { return e.dims }

// Similar embeds both texts and returns their cosine similarity.
func Similar(ctx context.Context, emb Embedder, a, b string) (float64, error) {
	va, err := emb.Embed(ctx, a)
	if err != nil {
		return 0, err
	}
	vb, err := emb.Embed(ctx, b)
	if err != nil {
		return 0, err
	}
	return CosineSimilarity(va, vb), nil
}

// FieldDifference is the Jaccard distance between the key=value pairs of two
// results: 0 when identical, 1 when they share nothing.
func FieldDifference(a, b map[string]any) float64 {
	pa, pb := pairs(a), pairs(b)
	if len(pa) == 0 && len(pb) == 0 {
		return 0
	}
	union := make(map[string]bool, len(pa)+len(pb))
	inter := 0
	for p := range pa {
		union[p] = true
		if pb[p] {
			inter++
		}
	}
	for p := range pb {
		union[p] = true
	}
	return 1 - float64(inter)/float64(len(union))
}

func pairs(m map[string]any) map[string]bool {
	out := make(map[string]bool, len(m))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out[fmt.Sprintf("%s=%v", k, m[k])] = true
	}
	return out
}
