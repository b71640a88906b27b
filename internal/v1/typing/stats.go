package typing

import (
	"math"
	"time"
)

// One "word" is five characters, the standard used by every typing test.
const charsPerWord = 5.0

// consistencyWindows is the number of equal-count windows the log is
// partitioned into for the consistency calculation.
const consistencyWindows = 10

// minWindowSamples is the minimum number of valid windowed wpm samples below
// which consistency cannot be judged.
const minWindowSamples = 5

// Snapshot is one recomputation of a session's derived metrics. Snapshots are
// immutable copies: the engine is the single writer, readers get values.
type Snapshot struct {
	WPM            float64 `json:"wpm"`
	RawWPM         float64 `json:"rawWpm"`
	Accuracy       float64 `json:"accuracy"`
	Consistency    float64 `json:"consistency"`
	Errors         int     `json:"errors"`
	CorrectChars   int     `json:"correctChars"`
	IncorrectChars int     `json:"incorrectChars"`
	Position       int     `json:"position"`
	ElapsedMs      int64   `json:"elapsedMs"`
}

// Compute derives a Snapshot from the keystroke log.
func Compute(log *Log, position int, elapsed time.Duration) Snapshot {
	elapsedMs := elapsed.Milliseconds()
	correct := log.Correct()
	incorrect := log.Incorrect()
	total := correct + incorrect

	s := Snapshot{
		Errors:         incorrect,
		CorrectChars:   correct,
		IncorrectChars: incorrect,
		Position:       position,
		ElapsedMs:      elapsedMs,
	}

	if elapsedMs > 0 {
		minutes := float64(elapsedMs) / 60000.0
		s.WPM = math.Round(float64(correct) / charsPerWord / minutes)
		s.RawWPM = math.Round(float64(total) / charsPerWord / minutes)
	}

	if total == 0 {
		s.Accuracy = 100
	} else {
		s.Accuracy = math.Round(100 * float64(correct) / float64(total))
	}

	s.Consistency = consistency(log.Entries())

	return s
}

// Clamped returns a copy with wpm capped to the plausibility ceiling and
// accuracy to 100. Applied before anything is persisted or published.
func (s Snapshot) Clamped(wpmCeiling float64) Snapshot {
	if wpmCeiling > 0 && s.WPM > wpmCeiling {
		s.WPM = wpmCeiling
	}
	if wpmCeiling > 0 && s.RawWPM > wpmCeiling {
		s.RawWPM = wpmCeiling
	}
	if s.Accuracy > 100 {
		s.Accuracy = 100
	}
	return s
}

// consistency measures how even the typing speed was: 100·(1 − CV) over
// windowed wpm samples, clamped to [0, 100]. A log too small to window at
// all scores 100 (nothing to judge); a windowed log with fewer than
// minWindowSamples valid samples scores 0.
func consistency(entries []Keystroke) float64 {
	if len(entries) < consistencyWindows {
		return 100
	}

	perWindow := len(entries) / consistencyWindows

	var samples []float64
	prevEnd := int64(0)
	for w := 0; w < consistencyWindows; w++ {
		start := w * perWindow
		end := start + perWindow
		if w == consistencyWindows-1 {
			end = len(entries) // last window absorbs the remainder
		}
		window := entries[start:end]

		duration := window[len(window)-1].Timestamp - prevEnd
		prevEnd = window[len(window)-1].Timestamp
		if duration <= 0 {
			continue
		}

		correct := 0
		for _, k := range window {
			if !k.IsDeletion() && k.Correct {
				correct++
			}
		}
		minutes := float64(duration) / 60000.0
		samples = append(samples, float64(correct)/charsPerWord/minutes)
	}

	if len(samples) < minWindowSamples {
		return 0
	}

	mean := 0.0
	for _, v := range samples {
		mean += v
	}
	mean /= float64(len(samples))
	if mean == 0 {
		return 100
	}

	variance := 0.0
	for _, v := range samples {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(samples))
	cv := math.Sqrt(variance) / mean

	return math.Max(0, math.Min(100, math.Round(100*(1-cv))))
}
