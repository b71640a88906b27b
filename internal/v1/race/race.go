// Package race implements the multiplayer race engine. A Race owns its
// roster, reference text, and per-player progress, and moves through
// waiting, countdown, active, completed or cancelled. All mutation is
// serialized under the race mutex; timers re-enter through the manager and
// are invalidated by a generation counter when the status moves on.
package race

import (
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/typedash/realtime/internal/v1/protocol"
	"github.com/typedash/realtime/internal/v1/types"
	"github.com/typedash/realtime/internal/v1/words"
)

// Status is the race lifecycle state.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusCountdown Status = "countdown"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// terminal reports whether no further transitions are possible.
func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

const roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// newRoomCode builds the 6-character uppercase alphanumeric share code.
func newRoomCode(rng *rand.Rand) string {
	code := make([]byte, 6)
	for i := range code {
		code[i] = roomCodeAlphabet[rng.IntN(len(roomCodeAlphabet))]
	}
	return string(code)
}

// Progress is one player's live state within a race. Mutated only by the
// engine; snapshots handed out are copies.
type Progress struct {
	Identity     types.Identity `json:"identity"`
	JoinedAt     time.Time      `json:"joinedAt"`
	Position     int            `json:"position"`
	WPM          float64        `json:"wpm"`
	Accuracy     float64        `json:"accuracy"`
	Errors       int            `json:"errors"`
	Finished     bool           `json:"finished"`
	FinishTimeMs int64          `json:"finishTimeMs,omitempty"`
	Rank         int            `json:"rank,omitempty"`
	Connected    bool           `json:"connected"`

	conn types.ConnectionID
}

// Race is one multiplayer race.
type Race struct {
	ID              string
	Code            string
	Name            string
	Mode            string
	Limit           int // seconds in time mode, word count in words mode
	MaxPlayers      int
	MinPlayers      int
	IsPrivate       bool
	AllowSpectators bool
	CreatedBy       types.IdentityID
	Reference       words.ReferenceText

	status     Status
	generation uint64 // invalidates countdown ticks and timers across transitions
	roster     map[types.IdentityID]*Progress
	joinOrder  []types.IdentityID
	nextRank   int

	createdAt   time.Time
	countdownAt time.Time
	startedAt   time.Time
	endedAt     time.Time
}

// Status returns the current lifecycle state. Caller must hold the manager's
// per-race entry; external readers go through Manager methods.
func (r *Race) statusLocked() Status { return r.status }

// transitionLocked moves the race forward and bumps the generation so stale
// timers become no-ops. Regressions other than the countdown downgrade are
// engine bugs; they are ignored and reported by the caller.
func (r *Race) transitionLocked(to Status, now time.Time) bool {
	if r.status.terminal() {
		return false
	}
	switch to {
	case StatusCountdown:
		if r.status != StatusWaiting {
			return false
		}
		r.countdownAt = now
	case StatusActive:
		if r.status != StatusCountdown {
			return false
		}
		r.startedAt = now
	case StatusWaiting:
		// Countdown downgrade: roster dropped below minimum before start.
		if r.status != StatusCountdown {
			return false
		}
		r.countdownAt = time.Time{}
	case StatusCompleted, StatusCancelled:
		r.endedAt = now
	default:
		return false
	}
	r.status = to
	r.generation++
	return true
}

// rosterSnapshotLocked copies the roster in join order.
func (r *Race) rosterSnapshotLocked() []Progress {
	out := make([]Progress, 0, len(r.joinOrder))
	for _, id := range r.joinOrder {
		if p, ok := r.roster[id]; ok {
			out = append(out, *p)
		}
	}
	return out
}

// allFinishedLocked reports whether every connected roster member finished.
// Disconnected players freeze; they never block completion.
func (r *Race) allFinishedLocked() bool {
	for _, p := range r.roster {
		if p.Connected && !p.Finished {
			return false
		}
	}
	return len(r.roster) > 0
}

// assignFinalRanksLocked orders the full roster and assigns ranks 1..N.
// Finished players sort by finish time, then wpm descending, errors
// ascending, identity ascending; unfinished players follow, by wpm
// descending then errors ascending.
func (r *Race) assignFinalRanksLocked() {
	players := make([]*Progress, 0, len(r.roster))
	for _, p := range r.roster {
		players = append(players, p)
	}

	sort.Slice(players, func(i, j int) bool {
		a, b := players[i], players[j]
		if a.Finished != b.Finished {
			return a.Finished
		}
		if a.Finished {
			if a.FinishTimeMs != b.FinishTimeMs {
				return a.FinishTimeMs < b.FinishTimeMs
			}
		}
		if a.WPM != b.WPM {
			return a.WPM > b.WPM
		}
		if a.Errors != b.Errors {
			return a.Errors < b.Errors
		}
		return a.Identity.ID < b.Identity.ID
	})

	for i, p := range players {
		p.Rank = i + 1
	}
}

// plausibleWPM recomputes the wpm to persist. The claimed value is accepted
// only when the player's position and the active window could have produced
// it; otherwise the implied throughput wins. Everything is capped at the
// plausibility ceiling.
func plausibleWPM(claimed float64, position int, elapsed time.Duration, ceiling float64) float64 {
	if elapsed > 0 {
		minutes := elapsed.Minutes()
		implied := math.Round(float64(position) / 5.0 / minutes)
		if claimed > implied {
			claimed = implied
		}
	}
	if ceiling > 0 && claimed > ceiling {
		claimed = ceiling
	}
	if claimed < 0 {
		claimed = 0
	}
	return claimed
}

func clampAccuracy(a float64) float64 {
	return math.Max(0, math.Min(100, a))
}

// inRosterLocked returns the player's progress, or nil with a domain error.
func (r *Race) inRosterLocked(id types.IdentityID) (*Progress, *protocol.DomainError) {
	p, ok := r.roster[id]
	if !ok {
		return nil, protocol.NewError(protocol.CodeNotInRace, "you are not in this race")
	}
	return p, nil
}
