// Package protocol defines the wire protocol for the realtime typing engine:
// the JSON message envelope, the inbound and outbound event names, the payload
// schemas with their validation rules, and the error taxonomy.
//
// Every message on the wire is a JSON object with a top-level event name and a
// payload object. Inbound payloads are strict: unknown fields are ignored,
// missing required fields fail validation. Outbound messages additionally
// carry a server timestamp.
package protocol

import (
	"encoding/json"
	"time"
)

// Inbound event names (client -> server).
const (
	EventTestStart     = "test:start"
	EventTestKeystroke = "test:keystroke"
	EventTestCompleted = "test:completed"
	EventTestLeave     = "test:leave"

	EventRaceCreate   = "race:create"
	EventRaceJoin     = "race:join"
	EventRaceLeave    = "race:leave"
	EventRaceProgress = "race:progress"
	EventRaceFinish   = "race:finish"
	EventRaceMessage  = "race:message"

	EventFriendsUpdateStatus = "friends:update_status"
	EventPing                = "ping"
)

// Outbound event names (server -> client).
const (
	EventTestJoined      = "test:joined"
	EventTestStatsUpdate = "test:stats_update"
	EventTestResult      = "test:result"

	EventRaceCreated         = "race:created"
	EventRaceJoined          = "race:joined"
	EventRacePlayerJoined    = "race:player_joined"
	EventRacePlayerLeft      = "race:player_left"
	EventRaceStart           = "race:start"
	EventRaceCountdown       = "race:countdown"
	EventRaceBegin           = "race:begin"
	EventRaceProgressUpdate  = "race:progress_update"
	EventRacePlayerFinished  = "race:player_finished"
	EventRaceCompleted       = "race:completed"
	EventRaceMessageReceived = "race:message_received"

	EventFriendOnline  = "friend:online"
	EventFriendOffline = "friend:offline"
	EventFriendStatus  = "friend:status"

	EventError = "error"
	EventPong  = "pong"
)

// Envelope is the wire form of every message in both directions.
// Timestamp is set by the server on outbound messages and ignored inbound.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitzero"`
}

// Message is a fully serialized outbound envelope together with its event
// name. The room fabric and client send queues move Messages around so that
// delivery policy (drop vs. close) can be decided without re-parsing.
type Message struct {
	Type string
	Data []byte
}

// Critical reports whether the message must never be silently dropped by the
// backpressure policy. Dropping a result or a race completion would leave the
// client with no way to recover by waiting.
func (m Message) Critical() bool {
	return m.Type == EventTestResult || m.Type == EventRaceCompleted
}

// Encode builds a serialized outbound Message with the server timestamp.
func Encode(eventType string, payload any, now time.Time) (Message, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Message{}, err
		}
		raw = b
	}
	data, err := json.Marshal(Envelope{Type: eventType, Payload: raw, Timestamp: now.UTC()})
	if err != nil {
		return Message{}, err
	}
	return Message{Type: eventType, Data: data}, nil
}

// Decode parses an inbound frame into its envelope. The payload stays raw
// until the router knows which schema to hold it against.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
