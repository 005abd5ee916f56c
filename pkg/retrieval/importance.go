package retrieval

import (
	"math"
	"time"

	"github.com/recallmesh/recallmesh/pkg/models"
)

// Importance scoring weights. Recency, role and the explicit caller signal
// sum to 1 so the composite stays inside [0, 1] before clamping.
const (
	importanceRecencyWeight  = 0.4
	importanceRoleWeight     = 0.2
	importanceExplicitWeight = 0.4
)

// Role weights reflect how durable a message of that role tends to be:
// system prompts outlive the exchange, assistant turns rarely do.
var roleWeights = map[string]float64{
	models.RoleSystem:    1.0,
	models.RoleUser:      0.7,
	models.RoleAssistant: 0.4,
}

// ImportanceScorer derives an importance score in [0, 1] for a message from
// its age, role and an optional explicit signal supplied by the caller.
type ImportanceScorer struct {
	now func() time.Time
}

// NewImportanceScorer creates a scorer using the wall clock.
func NewImportanceScorer() *ImportanceScorer {
	return &ImportanceScorer{now: time.Now}
}

// Score combines recency decay, role weight and the explicit signal. A nil
// explicit signal contributes nothing. The result is clamped to [0, 1].
func (s *ImportanceScorer) Score(createdAt time.Time, role string, explicit *float64) float64 {
	age := s.now().Sub(createdAt).Seconds()
	if age < 0 {
		age = 0
	}
	recency := math.Exp(-age / decayEFoldSeconds)

	roleWeight, ok := roleWeights[role]
	if !ok {
		roleWeight = roleWeights[models.RoleAssistant]
	}

	signal := 0.0
	if explicit != nil {
		signal = Clamp01(*explicit)
	}

	score := importanceRecencyWeight*recency +
		importanceRoleWeight*roleWeight +
		importanceExplicitWeight*signal
	return Clamp01(score)
}

// Clamp01 bounds v to the closed interval [0, 1].
func Clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
