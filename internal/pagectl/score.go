package pagectl

import "math"

// Duration and visibility band thresholds.
const (
	durationLongSec   = 600
	durationMediumSec = 120
	durationShortSec  = 30

	visibleFullFrac    = 0.60
	visiblePartialFrac = 0.20
)

// ScoreWeights are the additive weights of the candidate scorer. The
// defaults favor a large, visible, actively playing element with a real
// runtime, and bury hidden or decorative media.
type ScoreWeights struct {
	Playing        int // actively playing
	DurationLong   int // runtime >= 10min
	DurationMedium int // runtime >= 2min
	DurationShort  int // runtime >= 30s
	AreaMax        int // cap for the viewport-area bonus
	VisibleFull    int // mostly inside viewport, unobscured
	VisiblePartial int // partially visible
	VisibleScant   int // barely visible or obscured
	HiddenPenalty  int // zero-area or display:none, replaces the band
	Controls       int // native controls attribute
	MutedAutoplay  int // muted autoplay, the decorative-ad pattern
	ZIndexCap      int // z-index considered at most this value
}

func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		Playing:        50,
		DurationLong:   30,
		DurationMedium: 20,
		DurationShort:  10,
		AreaMax:        50,
		VisibleFull:    30,
		VisiblePartial: 10,
		VisibleScant:   -50,
		HiddenPenalty:  -100,
		Controls:       10,
		MutedAutoplay:  -20,
		ZIndexCap:      50,
	}
}

// Score computes the deterministic rank of one candidate. Same features,
// same score; ordering concerns live in SelectBest.
func Score(f CandidateFeatures, w ScoreWeights) int {
	score := 0

	if f.Playing {
		score += w.Playing
	}

	switch {
	case f.Duration >= durationLongSec:
		score += w.DurationLong
	case f.Duration >= durationMediumSec:
		score += w.DurationMedium
	case f.Duration >= durationShortSec:
		score += w.DurationShort
	}

	zeroArea := f.Rect.Area() <= 0
	if f.Hidden || zeroArea {
		score += w.HiddenPenalty
	} else {
		viewport := f.ViewportW * f.ViewportH
		if viewport > 0 {
			frac := f.Rect.Area() / viewport
			bonus := int(math.Round(100 * frac))
			if bonus > w.AreaMax {
				bonus = w.AreaMax
			}
			if bonus > 0 {
				score += bonus
			}
		}

		switch {
		case f.Visibility >= visibleFullFrac:
			score += w.VisibleFull
		case f.Visibility >= visiblePartialFrac:
			score += w.VisiblePartial
		default:
			score += w.VisibleScant
		}
	}

	if f.Controls {
		score += w.Controls
	}
	if f.Autoplay && f.Muted {
		score += w.MutedAutoplay
	}

	if f.ZIndex > 0 {
		z := f.ZIndex
		if z > w.ZIndexCap {
			z = w.ZIndexCap
		}
		score += z / 5
	}

	return score
}

// SelectBest scores every candidate and returns the highest ranked one
// above the floor. Ties keep the earlier candidate: collection order is
// adapter selectors before generic tag order, so the first-seen element
// wins and repeated passes over an unchanged page pick the same winner.
func SelectBest(feats []CandidateFeatures, w ScoreWeights, floor int) (MediaCandidate, bool) {
	var best MediaCandidate
	found := false
	for _, f := range feats {
		s := Score(f, w)
		if s <= floor {
			continue
		}
		if !found || s > best.Score {
			best = MediaCandidate{Features: f, Score: s}
			found = true
		}
	}
	return best, found
}
