package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Test/race modes.
const (
	ModeTime  = "time"
	ModeWords = "words"
)

// Individual tests accept the discrete duration set; races accept the
// continuous range below.
var testDurations = map[int]bool{15: true, 30: true, 60: true, 120: true}

const (
	MinRaceDuration = 15
	MaxRaceDuration = 300
	MinWordCount    = 10
	MaxWordCount    = 200
	MinPlayers      = 2
	MaxPlayersLimit = 20
	MaxRaceNameLen  = 50
	MaxChatMessage  = 200
	MaxActivityLen  = 100
)

// Validator is implemented by every inbound payload schema.
type Validator interface {
	Validate() error
}

// DecodePayload unmarshals raw payload bytes into the given schema and
// validates it. Unknown fields are ignored; missing required fields surface
// through Validate.
func DecodePayload(raw json.RawMessage, v Validator) error {
	if len(raw) == 0 {
		return errors.New("payload is required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	return v.Validate()
}

// --- Test events ---

type TestStartPayload struct {
	Mode       string `json:"mode"`
	Duration   int    `json:"duration,omitempty"`
	WordCount  int    `json:"wordCount,omitempty"`
	WordListID string `json:"wordListId,omitempty"`
	Language   string `json:"language,omitempty"`
}

func (p *TestStartPayload) Validate() error {
	switch p.Mode {
	case ModeTime:
		if !testDurations[p.Duration] {
			return errors.New("duration must be one of 15, 30, 60, 120")
		}
	case ModeWords:
		if p.WordCount < MinWordCount || p.WordCount > MaxWordCount {
			return fmt.Errorf("wordCount must be between %d and %d", MinWordCount, MaxWordCount)
		}
	default:
		return errors.New("mode must be \"time\" or \"words\"")
	}
	return nil
}

type KeystrokePayload struct {
	TestID      string `json:"testId"`
	Timestamp   int64  `json:"timestamp"`
	Key         string `json:"key"`
	Correct     bool   `json:"correct"`
	Position    int    `json:"position"`
	CurrentText string `json:"currentText,omitempty"`
}

func (p *KeystrokePayload) Validate() error {
	if p.TestID == "" {
		return errors.New("testId is required")
	}
	if len([]rune(p.Key)) != 1 {
		return errors.New("key must be a single character")
	}
	if p.Timestamp < 0 {
		return errors.New("timestamp must be non-negative")
	}
	if p.Position < 0 {
		return errors.New("position must be non-negative")
	}
	return nil
}

// FinalStats is the client's view of its own result. It is advisory: the
// persisted result is recomputed server-side.
type FinalStats struct {
	WPM         float64 `json:"wpm"`
	Accuracy    float64 `json:"accuracy"`
	Consistency float64 `json:"consistency,omitempty"`
	Errors      int     `json:"errors"`
	TimeElapsed int64   `json:"timeElapsed,omitempty"`
	FinishTime  int64   `json:"finishTime,omitempty"`
}

type TestCompletedPayload struct {
	TestID     string     `json:"testId"`
	FinalStats FinalStats `json:"finalStats"`
}

func (p *TestCompletedPayload) Validate() error {
	if p.TestID == "" {
		return errors.New("testId is required")
	}
	return nil
}

type TestLeavePayload struct {
	TestID string `json:"testId"`
}

func (p *TestLeavePayload) Validate() error {
	if p.TestID == "" {
		return errors.New("testId is required")
	}
	return nil
}

// --- Race events ---

type RaceCreatePayload struct {
	Name       string `json:"name"`
	Mode       string `json:"mode"`
	Duration   int    `json:"duration,omitempty"`
	WordCount  int    `json:"wordCount,omitempty"`
	MaxPlayers int    `json:"maxPlayers"`
	WordListID string `json:"wordListId,omitempty"`
	Language   string `json:"language,omitempty"`
	IsPrivate  bool   `json:"isPrivate"`
}

func (p *RaceCreatePayload) Validate() error {
	if p.Name == "" || len(p.Name) > MaxRaceNameLen {
		return fmt.Errorf("name must be between 1 and %d characters", MaxRaceNameLen)
	}
	switch p.Mode {
	case ModeTime:
		if p.Duration < MinRaceDuration || p.Duration > MaxRaceDuration {
			return fmt.Errorf("duration must be between %d and %d seconds", MinRaceDuration, MaxRaceDuration)
		}
	case ModeWords:
		if p.WordCount < MinWordCount || p.WordCount > MaxWordCount {
			return fmt.Errorf("wordCount must be between %d and %d", MinWordCount, MaxWordCount)
		}
	default:
		return errors.New("mode must be \"time\" or \"words\"")
	}
	if p.MaxPlayers < MinPlayers || p.MaxPlayers > MaxPlayersLimit {
		return fmt.Errorf("maxPlayers must be between %d and %d", MinPlayers, MaxPlayersLimit)
	}
	return nil
}

type RaceJoinPayload struct {
	RaceID string `json:"raceId"`
}

func (p *RaceJoinPayload) Validate() error {
	if p.RaceID == "" {
		return errors.New("raceId is required")
	}
	return nil
}

type RaceLeavePayload = RaceJoinPayload

type RaceProgressPayload struct {
	RaceID     string  `json:"raceId"`
	Position   int     `json:"position"`
	WPM        float64 `json:"wpm"`
	Accuracy   float64 `json:"accuracy"`
	Errors     int     `json:"errors"`
	IsFinished bool    `json:"isFinished"`
}

func (p *RaceProgressPayload) Validate() error {
	if p.RaceID == "" {
		return errors.New("raceId is required")
	}
	if p.Position < 0 || p.Errors < 0 {
		return errors.New("position and errors must be non-negative")
	}
	if p.WPM < 0 || p.Accuracy < 0 || p.Accuracy > 100 {
		return errors.New("wpm must be non-negative and accuracy within [0, 100]")
	}
	return nil
}

type RaceFinishPayload struct {
	RaceID     string     `json:"raceId"`
	FinalStats FinalStats `json:"finalStats"`
}

func (p *RaceFinishPayload) Validate() error {
	if p.RaceID == "" {
		return errors.New("raceId is required")
	}
	return nil
}

type RaceMessagePayload struct {
	RaceID  string `json:"raceId"`
	Message string `json:"message"`
}

func (p *RaceMessagePayload) Validate() error {
	if p.RaceID == "" {
		return errors.New("raceId is required")
	}
	if p.Message == "" || len(p.Message) > MaxChatMessage {
		return fmt.Errorf("message must be between 1 and %d characters", MaxChatMessage)
	}
	return nil
}

// --- Presence ---

var presenceStatuses = map[string]bool{
	"online": true, "away": true, "busy": true, "invisible": true,
}

type StatusUpdatePayload struct {
	Status   string `json:"status"`
	Activity string `json:"activity,omitempty"`
}

func (p *StatusUpdatePayload) Validate() error {
	if !presenceStatuses[p.Status] {
		return errors.New("status must be one of online, away, busy, invisible")
	}
	if len(p.Activity) > MaxActivityLen {
		return fmt.Errorf("activity must be at most %d characters", MaxActivityLen)
	}
	return nil
}
