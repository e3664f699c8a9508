package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	errors "github.com/Laisky/errors/v2"
)

// DeterministicProvider hashes tokens into a fixed number of buckets.
// Texts sharing words get similar vectors, which is enough for offline
// runs and tests.
type DeterministicProvider struct {
	dimension int
}

// NewDeterministicProvider returns a provider producing vectors of the given dimension.
func NewDeterministicProvider(dimension int) *DeterministicProvider {
	if dimension <= 0 {
		dimension = 64
	}
	return &DeterministicProvider{dimension: dimension}
}

// Embed implements Provider.
func (p *DeterministicProvider) Embed(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, errors.WithStack(err)
	}
	if len(req.Texts) == 0 {
		return Response{}, errors.New("no inputs provided for embedding")
	}

	dim := p.dimension
	if req.Dimensions > 0 {
		dim = req.Dimensions
	}

	out := Response{Vectors: make([][]float32, 0, len(req.Texts)), Dimension: dim}
	for _, text := range req.Texts {
		tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		out.PromptTokens += len(tokens)

		vec := make([]float32, dim)
		for _, token := range tokens {
			h := hashToken(token)
			sign := float32(1)
			if h&(1<<63) != 0 {
				sign = -1
			}
			vec[h%uint64(dim)] += sign
		}
		if len(tokens) == 0 {
			vec[hashToken(text)%uint64(dim)] = 1
		}
		if req.Normalize {
			l2Normalize(vec)
		}
		out.Vectors = append(out.Vectors, vec)
	}

	return out, nil
}

func hashToken(token string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(token))
	return h.Sum64()
}

// l2Normalize scales vec to unit length in place. Zero vectors are left untouched.
func l2Normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i, v := range vec {
		vec[i] = float32(float64(v) / norm)
	}
}
