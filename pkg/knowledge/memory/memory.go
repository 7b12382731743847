// Package memory implements the decay and TTL semantics of the five
// knowledge-layer dimension (spec §4.2 Memory layers).
package memory

import (
	"math"
	"time"

	"github.com/hearth-ai/assistant/pkg/models"
)

// halfLife is how long it takes an episodic entry's age-based decay
// component to fall to half its starting value, absent any access.
const halfLife = 14 * 24 * time.Hour

// IsExpired reports whether a document should be excluded from any query:
// a working-layer entry past its ExpiresAt, or one whose owning session
// has ended.
func IsExpired(d models.Document, now time.Time, sessionEnded bool) bool {
	if d.Layer != models.LayerWorking {
		return false
	}
	if sessionEnded {
		return true
	}
	return d.ExpiresAt != nil && now.After(*d.ExpiresAt)
}

// RecomputeDecay returns the updated decay_score for an episodic document
// as of `now`, given its last access time and access count. The score
// decays exponentially with age (half-life of 14 days) and is nudged
// upward by each access, so frequently revisited summaries resist decay
// longer than one-off ones. Non-episodic layers are not decayed and
// return their current score unchanged.
func RecomputeDecay(d models.Document, now time.Time) float64 {
	if d.Layer != models.LayerEpisodic {
		return d.DecayScore
	}

	age := now.Sub(d.LastAccess)
	if age < 0 {
		age = 0
	}
	ageFactor := math.Exp(-math.Ln2 * age.Hours() / halfLife.Hours())

	accessBoost := 0.0
	if d.AccessCount > 0 {
		accessBoost = math.Min(0.3, 0.05*math.Log2(float64(d.AccessCount)+1))
	}

	score := ageFactor + accessBoost
	if score > 1 {
		score = 1
	}
	return score
}

// WorkingLayerTTL is how long a working-memory entry survives without
// access before session end would have expired it anyway, used when
// computing ExpiresAt at write time.
func WorkingLayerTTL() time.Duration {
	return 24 * time.Hour
}
