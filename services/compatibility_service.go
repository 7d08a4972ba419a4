package services

import (
	"strings"
	"time"

	"campuslink_server/models"
)

// Patience and bonus tuning. The schedule values are heuristics; the
// monotonic behavior over wait time is the part that matters.
const (
	interestOverlapWeight  = 15.0
	founderComplementBonus = 40.0
	founderOverlapWeight   = 10.0
	academicBranchBonus    = 40.0
	academicOverlapWeight  = 5.0
	reputationBonusCeiling = 20.0
	candidatePatienceCap   = 20.0
	selfPatienceBonus      = 10.0
	selfPatienceAfter      = 15 * time.Second
)

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

func hasTag(attrs models.SeekerAttributes, tag string) bool {
	for _, t := range attrs.Interests {
		if normalizeTag(t) == tag {
			return true
		}
	}
	return false
}

func interestOverlap(self, candidate models.SeekerAttributes) int {
	seen := make(map[string]bool, len(self.Interests))
	for _, t := range self.Interests {
		seen[normalizeTag(t)] = true
	}
	count := 0
	for _, t := range candidate.Interests {
		if seen[normalizeTag(t)] {
			count++
			seen[normalizeTag(t)] = false
		}
	}
	return count
}

// CompatibilityScore computes the match-quality score between the searching
// seeker and one candidate. Pure; the only time inputs are the two wait
// durations, whose contributions are monotone non-decreasing, so for fixed
// attributes the score never drops as either side keeps waiting.
//
// searchAge is how long self has been searching; candidateWait is how long
// the candidate's record has existed.
func CompatibilityScore(self, candidate models.SeekerAttributes, mode string, searchAge, candidateWait time.Duration) float64 {
	overlap := interestOverlap(self, candidate)

	var score float64
	switch mode {
	case models.ModeFounder:
		// Technical founders pair with business-minded candidates.
		if hasTag(self, "technical") && hasTag(candidate, "business") {
			score = founderComplementBonus
		} else {
			score = float64(overlap) * founderOverlapWeight
		}
	case models.ModeAcademic:
		if self.Branch != "" && self.Branch == candidate.Branch {
			score = academicBranchBonus
		} else {
			score = float64(overlap) * academicOverlapWeight
		}
	default:
		score = float64(overlap) * interestOverlapWeight
	}

	// Reputation proximity: closer reputations score higher.
	repGap := self.Reputation - candidate.Reputation
	if repGap < 0 {
		repGap = -repGap
	}
	if bonus := reputationBonusCeiling - repGap/10; bonus > 0 {
		score += bonus
	}

	// Candidate patience: reward whoever has waited longest, capped.
	patience := candidateWait.Seconds()
	if patience > candidatePatienceCap {
		patience = candidatePatienceCap
	}
	if patience > 0 {
		score += patience
	}

	// Self patience: relax selectivity once we have searched a while.
	if searchAge > selfPatienceAfter {
		score += selfPatienceBonus
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// ScoreThreshold is one step of the relaxing minimum-score schedule.
type ScoreThreshold struct {
	After    time.Duration
	MinScore float64
}

// DefaultThresholds is the relaxation schedule: strict early to favor
// quality, looser later to guarantee eventual pairing.
var DefaultThresholds = []ScoreThreshold{
	{After: 0, MinScore: 60},
	{After: 10 * time.Second, MinScore: 40},
	{After: 20 * time.Second, MinScore: 10},
}

// MinScoreForAge returns the minimum acceptable score for a given search age.
// The schedule must be monotone non-increasing over age.
func MinScoreForAge(thresholds []ScoreThreshold, searchAge time.Duration) float64 {
	if len(thresholds) == 0 {
		return 0
	}
	min := thresholds[0].MinScore
	for _, t := range thresholds {
		if searchAge >= t.After {
			min = t.MinScore
		}
	}
	return min
}
