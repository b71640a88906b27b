// Package typing implements the authoritative metrics pipeline. Every number
// published for a session is derived from the server-observed keystroke log
// and the reference text; client-supplied totals never enter these formulas.
package typing

// DeletionKey is the key literal that represents a backspace at the event
// level. Deletions count toward neither correct nor incorrect characters.
const DeletionKey = "\b"

// Keystroke is one server-observed typing event.
type Keystroke struct {
	Timestamp int64  `json:"timestamp"` // ms since session start
	Key       string `json:"key"`
	Correct   bool   `json:"correct"` // server-truth, not the client's claim
	Position  int    `json:"position"`
}

// IsDeletion reports whether the keystroke erased a character.
func (k Keystroke) IsDeletion() bool {
	return k.Key == DeletionKey
}

// Log is a capped append-order keystroke log. When the cap is reached the log
// is downsampled by keeping every other entry, which halves the volume while
// retaining the distribution shape the consistency calculation needs.
type Log struct {
	entries []Keystroke
	cap     int

	// Running totals survive downsampling so wpm and accuracy stay exact.
	correct   int
	incorrect int
}

// NewLog creates a Log with the given cap. Caps below 2 are rejected by
// construction elsewhere; the zero Log is not usable.
func NewLog(cap int) *Log {
	return &Log{
		entries: make([]Keystroke, 0, min(cap, 1024)),
		cap:     cap,
	}
}

// Append adds a keystroke, downsampling first if the log is at capacity.
func (l *Log) Append(k Keystroke) {
	if len(l.entries) >= l.cap {
		l.downsample()
	}
	l.entries = append(l.entries, k)

	if k.IsDeletion() {
		return
	}
	if k.Correct {
		l.correct++
	} else {
		l.incorrect++
	}
}

func (l *Log) downsample() {
	kept := l.entries[:0]
	for i := 0; i < len(l.entries); i += 2 {
		kept = append(kept, l.entries[i])
	}
	l.entries = kept
}

// Len returns the number of retained entries.
func (l *Log) Len() int { return len(l.entries) }

// Correct returns the running count of correct typed characters.
func (l *Log) Correct() int { return l.correct }

// Incorrect returns the running count of incorrect typed characters.
func (l *Log) Incorrect() int { return l.incorrect }

// Entries returns the retained keystrokes in append order. The slice is the
// log's own backing store; callers must not mutate it.
func (l *Log) Entries() []Keystroke { return l.entries }
