// Package embed turns a Structured record into an L2-normalized embedding
// bundle: one vector per skill/responsibility slot, plus title and
// experience vectors.
package embed

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/cvmatch/matching-engine/internal/domain"
)

// Embedder implements domain.Embedder on top of a raw domain.AIClient.
type Embedder struct {
	ai      domain.AIClient
	cache   domain.Cache
	modelID string
}

// New constructs an Embedder.
func New(client domain.AIClient, cache domain.Cache, modelID string) *Embedder {
	return &Embedder{ai: client, cache: cache, modelID: modelID}
}

// Embed implements domain.Embedder: 20 skill texts + 10 responsibility texts
// + title + experience string are embedded independently in one batch call
// of up to 32 texts, then L2-normalized. __PAD__ slots embed to the zero
// vector without calling the upstream model.
func (e *Embedder) Embed(ctx domain.Context, s domain.Structured) (domain.Embeddings, error) {
	texts := make([]string, 0, domain.SkillSlots+domain.RespSlots+2)
	for _, sk := range s.Skills {
		texts = append(texts, sk)
	}
	for _, r := range s.Responsibilities {
		texts = append(texts, r)
	}
	texts = append(texts, s.Title, strconv.FormatFloat(s.ExperienceYears, 'f', 1, 64)+" years experience")

	vecs, err := e.embedWithCache(ctx, texts)
	if err != nil {
		return domain.Embeddings{}, err
	}

	out := domain.Embeddings{
		DocumentID: s.DocumentID,
		Dim:        domain.EmbeddingDim,
		ModelID:    e.modelID,
	}
	i := 0
	for slot := 0; slot < domain.SkillSlots; slot, i = slot+1, i+1 {
		out.SkillVecs[slot] = normalizeOrZero(vecs[i], s.Skills[slot])
	}
	for slot := 0; slot < domain.RespSlots; slot, i = slot+1, i+1 {
		out.RespVecs[slot] = normalizeOrZero(vecs[i], s.Responsibilities[slot])
	}
	out.TitleVec = normalizeOrZero(vecs[i], s.Title)
	i++
	out.ExperVec = normalizeOrZero(vecs[i], "")

	for _, v := range append(append(append([][]float32{}, out.SkillVecs[:]...), out.RespVecs[:]...), out.TitleVec, out.ExperVec) {
		if len(v) != 0 && len(v) != domain.EmbeddingDim {
			return domain.Embeddings{}, fmt.Errorf("%w: expected %d, got %d", domain.ErrDimMismatch, domain.EmbeddingDim, len(v))
		}
	}
	return out, nil
}

func normalizeOrZero(v []float32, srcText string) []float32 {
	if srcText == domain.PadToken {
		return make([]float32, domain.EmbeddingDim)
	}
	return l2Normalize(v)
}

func l2Normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(1.0 / math.Sqrt(sumSq))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x * norm
	}
	return out
}

func (e *Embedder) embedWithCache(ctx domain.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))
	for i, t := range texts {
		if t == domain.PadToken {
			continue
		}
		if e.cache == nil {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, t)
			continue
		}
		key := embedCacheKey(t, e.modelID)
		if cached, ok, err := e.cache.Get(ctx, "embed", key); err == nil && ok {
			var v []float32
			if err := json.Unmarshal(cached, &v); err == nil {
				out[i] = v
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	fetched, err := e.ai.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		out[idx] = fetched[j]
		if e.cache == nil {
			continue
		}
		if b, err := json.Marshal(fetched[j]); err == nil {
			_ = e.cache.Set(ctx, "embed", embedCacheKey(missTexts[j], e.modelID), b, 24*3600)
		}
	}
	return out, nil
}

func embedCacheKey(text, modelID string) string {
	h := sha256.Sum256([]byte(modelID + "|" + text))
	return hex.EncodeToString(h[:])
}
