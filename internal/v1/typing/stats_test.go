package typing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func steadyLog(n int, intervalMs int64, correct bool) *Log {
	l := NewLog(10000)
	for i := 0; i < n; i++ {
		l.Append(Keystroke{
			Timestamp: int64(i+1) * intervalMs,
			Key:       "a",
			Correct:   correct,
			Position:  i,
		})
	}
	return l
}

// 60 correct keystrokes at 1 per 100ms over a 15s time test: wpm 48,
// accuracy 100, errors 0.
func TestCompute_FifteenSecondTimeTest(t *testing.T) {
	l := steadyLog(60, 100, true)

	s := Compute(l, 60, 15*time.Second)

	assert.Equal(t, float64(48), s.WPM)
	assert.Equal(t, float64(48), s.RawWPM)
	assert.Equal(t, float64(100), s.Accuracy)
	assert.Equal(t, 0, s.Errors)
	assert.Equal(t, 60, s.CorrectChars)
	assert.Equal(t, int64(15000), s.ElapsedMs)
}

func TestCompute_ZeroElapsed(t *testing.T) {
	l := steadyLog(5, 0, true)
	s := Compute(l, 5, 0)
	assert.Equal(t, float64(0), s.WPM)
	assert.Equal(t, float64(0), s.RawWPM)
}

func TestCompute_AccuracyBounds(t *testing.T) {
	// Empty log: accuracy 100 by definition.
	s := Compute(NewLog(100), 0, time.Second)
	assert.Equal(t, float64(100), s.Accuracy)

	// Half wrong.
	l := NewLog(100)
	for i := 0; i < 10; i++ {
		l.Append(Keystroke{Timestamp: int64(i+1) * 100, Key: "a", Correct: i%2 == 0, Position: i})
	}
	s = Compute(l, 10, time.Second)
	assert.Equal(t, float64(50), s.Accuracy)
	assert.Equal(t, 5, s.Errors)
	assert.GreaterOrEqual(t, s.Accuracy, float64(0))
	assert.LessOrEqual(t, s.Accuracy, float64(100))
}

func TestCompute_DeletionsCountNeitherWay(t *testing.T) {
	l := NewLog(100)
	l.Append(Keystroke{Timestamp: 100, Key: "a", Correct: true, Position: 0})
	l.Append(Keystroke{Timestamp: 200, Key: DeletionKey, Correct: false, Position: 1})
	l.Append(Keystroke{Timestamp: 300, Key: "b", Correct: false, Position: 0})

	s := Compute(l, 1, time.Second)
	assert.Equal(t, 1, s.CorrectChars)
	assert.Equal(t, 1, s.IncorrectChars)
	// correct + incorrect == typed characters, deletions excluded
	assert.Equal(t, 2, s.CorrectChars+s.IncorrectChars)
}

func TestCompute_RawVsNetWPM(t *testing.T) {
	l := NewLog(100)
	// 20 correct + 10 incorrect over 6 seconds.
	for i := 0; i < 30; i++ {
		l.Append(Keystroke{Timestamp: int64(i+1) * 200, Key: "a", Correct: i < 20, Position: i})
	}
	s := Compute(l, 30, 6*time.Second)
	// net: (20/5)/0.1 = 40; raw: (30/5)/0.1 = 60
	assert.Equal(t, float64(40), s.WPM)
	assert.Equal(t, float64(60), s.RawWPM)
}

func TestSnapshot_Clamped(t *testing.T) {
	s := Snapshot{WPM: 512, RawWPM: 600, Accuracy: 120}
	c := s.Clamped(300)
	assert.Equal(t, float64(300), c.WPM)
	assert.Equal(t, float64(300), c.RawWPM)
	assert.Equal(t, float64(100), c.Accuracy)

	// Original untouched.
	assert.Equal(t, float64(512), s.WPM)
}

func TestConsistency_SteadyTypingIsPerfect(t *testing.T) {
	l := steadyLog(100, 100, true)
	s := Compute(l, 100, 10*time.Second)
	assert.Equal(t, float64(100), s.Consistency)
}

func TestConsistency_TooFewKeystrokes(t *testing.T) {
	l := steadyLog(5, 100, true)
	s := Compute(l, 5, time.Second)
	assert.Equal(t, float64(100), s.Consistency)
}

func TestConsistency_DegenerateTimestamps(t *testing.T) {
	l := NewLog(100)
	for i := 0; i < 20; i++ {
		l.Append(Keystroke{Timestamp: 1000, Key: "a", Correct: true, Position: i})
	}
	// Only the first window has nonzero duration: too few samples to judge.
	s := Compute(l, 20, time.Second)
	assert.Equal(t, float64(0), s.Consistency)
}

func TestConsistency_UnevenTypingScoresLower(t *testing.T) {
	l := NewLog(10000)
	ts := int64(0)
	for i := 0; i < 100; i++ {
		// Alternate fast and slow stretches.
		if (i/10)%2 == 0 {
			ts += 50
		} else {
			ts += 400
		}
		l.Append(Keystroke{Timestamp: ts, Key: "a", Correct: true, Position: i})
	}
	s := Compute(l, 100, time.Duration(ts)*time.Millisecond)
	assert.Less(t, s.Consistency, float64(100))
	assert.GreaterOrEqual(t, s.Consistency, float64(0))
}

func TestLog_CapDownsamples(t *testing.T) {
	l := NewLog(10)
	for i := 0; i < 10; i++ {
		l.Append(Keystroke{Timestamp: int64(i + 1), Key: "a", Correct: true, Position: i})
	}
	require.Equal(t, 10, l.Len())

	// Next append halves the log first.
	l.Append(Keystroke{Timestamp: 11, Key: "b", Correct: false, Position: 10})
	assert.Equal(t, 6, l.Len())

	// Running totals are exact despite the downsample.
	assert.Equal(t, 10, l.Correct())
	assert.Equal(t, 1, l.Incorrect())

	// Every other original entry was kept.
	assert.Equal(t, int64(1), l.Entries()[0].Timestamp)
	assert.Equal(t, int64(3), l.Entries()[1].Timestamp)
	assert.Equal(t, int64(11), l.Entries()[5].Timestamp)
}

func TestLog_CorrectPlusIncorrectEqualsTyped(t *testing.T) {
	l := NewLog(10000)
	typed := 0
	for i := 0; i < 500; i++ {
		k := Keystroke{Timestamp: int64(i+1) * 10, Position: i}
		switch i % 3 {
		case 0:
			k.Key, k.Correct = "a", true
			typed++
		case 1:
			k.Key, k.Correct = "b", false
			typed++
		case 2:
			k.Key = DeletionKey
		}
		l.Append(k)
	}
	assert.Equal(t, typed, l.Correct()+l.Incorrect())
}
