// Package stub provides a fast, deterministic domain.AIClient for local
// development and tests, so the extract/embed pipeline can run end-to-end
// without a live model provider.
package stub

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/cvmatch/matching-engine/internal/domain"
)

// Client implements domain.AIClient deterministically.
type Client struct{}

// New constructs a deterministic stub AI client.
func New() *Client { return &Client{} }

// Embed returns an L2-normalized, deterministic vector of domain.EmbeddingDim
// dimensions per input text, seeded from a hash of the text so identical
// inputs always embed to the same point.
func (c *Client) Embed(_ domain.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = deterministicVector(t, domain.EmbeddingDim)
	}
	return out, nil
}

// ChatJSON returns a strict-schema extraction JSON derived from simple
// heuristics over the prompt text: the most frequent significant words
// become skills/responsibilities, padded to the fixed slot counts.
func (c *Client) ChatJSON(_ domain.Context, _ string, userPrompt string, _ int) (string, error) {
	words := significantWords(userPrompt)
	skills := topN(words, domain.SkillSlots)
	resp := topN(rotate(words, 7), domain.RespSlots)

	payload := struct {
		Title            string   `json:"title"`
		Category         string   `json:"category"`
		ExperienceYears  float64  `json:"experience_years"`
		Skills           []string `json:"skills"`
		Responsibilities []string `json:"responsibilities"`
	}{
		Title:            guessTitle(userPrompt),
		Category:         guessCategory(userPrompt),
		ExperienceYears:  experienceYears(userPrompt),
		Skills:           padTo(skills, domain.SkillSlots),
		Responsibilities: padTo(resp, domain.RespSlots),
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func deterministicVector(s string, dims int) []float32 {
	h := sha1.Sum([]byte(s))
	x := binary.BigEndian.Uint32(h[:4])
	const a, cAdd = 1664525, 1013904223
	vec := make([]float32, dims)
	var sumSq float64
	for i := 0; i < dims; i++ {
		x = a*x + cAdd
		v := float32(x)/float32(^uint32(0))*2 - 1
		vec[i] = v
		sumSq += float64(v) * float64(v)
	}
	if sumSq == 0 {
		return vec
	}
	norm := float32(1.0 / math.Sqrt(sumSq))
	for i := range vec {
		vec[i] *= norm
	}
	return vec
}

var wordRe = regexp.MustCompile(`[A-Za-z][A-Za-z0-9+.#]{2,}`)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "have": true, "will": true, "are": true,
	"was": true, "were": true, "has": true, "been": true, "you": true,
	"your": true, "our": true, "job": true, "description": true,
	"candidate": true, "experience": true, "text": true,
}

func significantWords(s string) []string {
	counts := map[string]int{}
	for _, w := range wordRe.FindAllString(strings.ToLower(s), -1) {
		if stopwords[w] {
			continue
		}
		counts[w]++
	}
	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	return words
}

func topN(words []string, n int) []string {
	if len(words) > n {
		return words[:n]
	}
	return words
}

func rotate(words []string, k int) []string {
	if len(words) == 0 {
		return words
	}
	k %= len(words)
	return append(append([]string{}, words[k:]...), words[:k]...)
}

func padTo(ss []string, n int) []string {
	out := make([]string, n)
	for i := 0; i < n; i++ {
		if i < len(ss) {
			out[i] = ss[i]
		} else {
			out[i] = domain.PadToken
		}
	}
	return out
}

func guessTitle(s string) string {
	words := significantWords(s)
	if len(words) == 0 {
		return domain.PadToken
	}
	n := 3
	if len(words) < n {
		n = len(words)
	}
	joined := strings.Join(words[:n], " ")
	if joined == "" {
		return domain.PadToken
	}
	return strings.ToUpper(joined[:1]) + joined[1:]
}

var categoryBuckets = []string{
	"Software Engineering", "Data & Analytics", "Product & Design",
	"Operations & Logistics", "Sales & Marketing", "Finance & Accounting",
}

func guessCategory(s string) string {
	h := sha1.Sum([]byte(s))
	return categoryBuckets[int(h[1])%len(categoryBuckets)]
}

func experienceYears(s string) float64 {
	h := sha1.Sum([]byte(s))
	return float64(h[0]%15) + 1
}
