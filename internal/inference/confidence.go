package inference

import "time"

// confidenceBand derives an estimated confidence score for a result. The
// server does not report one, so the score is a heuristic: longer answers
// read as more certain, slow answers less so. Scores are clamped into the
// configured band so downstream consumers can rely on the range.
type confidenceBand struct {
	min int
	max int
}

func (b confidenceBand) score(content string, elapsed time.Duration) int {
	score := b.min

	// Roughly one point per ten characters of description, up to 25.
	length := len(content) / 10
	if length > 25 {
		length = 25
	}
	score += length

	// Fast responses usually mean the model did not struggle.
	switch {
	case elapsed < 2*time.Second:
		score += 10
	case elapsed < 5*time.Second:
		score += 5
	case elapsed > 15*time.Second:
		score -= 5
	}

	if score < b.min {
		score = b.min
	}
	if score > b.max {
		score = b.max
	}
	return score
}
