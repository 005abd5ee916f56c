// Package retrieval scores candidate messages against a query embedding.
// Ranking combines cosine similarity, stored importance and exponential
// recency decay into a single composite score.
package retrieval

import (
	"math"
	"sort"
	"time"

	"github.com/recallmesh/recallmesh/pkg/models"
)

// decayEFoldSeconds is the e-fold period of the recency term: a message one
// week old contributes exp(-1) of a fresh one.
const decayEFoldSeconds = 7 * 24 * 60 * 60

// Default composite weights. They are renormalised at construction so only
// their ratios matter.
const (
	DefaultSimilarityWeight = 0.6
	DefaultImportanceWeight = 0.3
	DefaultDecayWeight      = 0.1
)

// RetrievedMemory is one ranked candidate with its score breakdown.
type RetrievedMemory struct {
	Message    *models.Message
	Score      float64
	Similarity float64
	Decay      float64
}

// Ranker orders candidate messages by the weighted combination of
// similarity, importance and recency.
type Ranker struct {
	similarityWeight float64
	importanceWeight float64
	decayWeight      float64
	now              func() time.Time
}

// NewRanker creates a ranker with the given weights. The weights are
// normalised to sum to 1; a non-positive total falls back to the defaults.
func NewRanker(similarityWeight, importanceWeight, decayWeight float64) *Ranker {
	total := similarityWeight + importanceWeight + decayWeight
	if total <= 0 {
		similarityWeight = DefaultSimilarityWeight
		importanceWeight = DefaultImportanceWeight
		decayWeight = DefaultDecayWeight
		total = similarityWeight + importanceWeight + decayWeight
	}
	return &Ranker{
		similarityWeight: similarityWeight / total,
		importanceWeight: importanceWeight / total,
		decayWeight:      decayWeight / total,
		now:              time.Now,
	}
}

// DefaultRanker creates a ranker with the default weights.
func DefaultRanker() *Ranker {
	return NewRanker(DefaultSimilarityWeight, DefaultImportanceWeight, DefaultDecayWeight)
}

// Rank scores the candidates against queryVec and returns the top topK in
// descending score order. Candidates without an embedding are skipped.
// Equal scores are broken by created_at descending, then id ascending, so
// the ordering does not depend on the input order.
func (r *Ranker) Rank(queryVec []float32, candidates []*models.Message, topK int) []RetrievedMemory {
	if topK <= 0 {
		return nil
	}

	now := r.now()
	ranked := make([]RetrievedMemory, 0, len(candidates))
	for _, msg := range candidates {
		embedding := msg.EmbeddingSlice()
		if embedding == nil {
			continue
		}

		similarity := CosineSimilarity(queryVec, embedding)
		decay := recencyDecay(now, msg.CreatedAt)
		importance := msg.Importance()

		score := r.similarityWeight*similarity +
			r.importanceWeight*importance +
			r.decayWeight*decay
		ranked = append(ranked, RetrievedMemory{
			Message:    msg,
			Score:      score,
			Similarity: similarity,
			Decay:      decay,
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Message.CreatedAt.Equal(b.Message.CreatedAt) {
			return a.Message.CreatedAt.After(b.Message.CreatedAt)
		}
		return a.Message.ID.String() < b.Message.ID.String()
	})

	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked
}

// recencyDecay returns exp(-age/efold) for the message age at now. Messages
// timestamped in the future decay as if created now.
func recencyDecay(now, createdAt time.Time) float64 {
	age := now.Sub(createdAt).Seconds()
	if age < 0 {
		age = 0
	}
	return math.Exp(-age / decayEFoldSeconds)
}

// CosineSimilarity computes the cosine of the angle between a and b. It
// returns 0 when either vector is empty, the lengths differ, or either norm
// is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
