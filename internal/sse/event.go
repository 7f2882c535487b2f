package sse

import (
	"encoding/json"
	"strings"
)

// EventType discriminates the closed set of stream events the client acts on.
type EventType int

const (
	// ready carries the server-assigned id of the assistant reply.
	Ready EventType = iota
	// Chunk carries one text delta of the assistant reply.
	Chunk
	// End marks a normal stream completion.
	End
	// Error carries an explicit server-side failure message.
	Error
	// PlainText is the fallback for payloads that are not structured events.
	PlainText
)

// Event is the decoded form of one stream payload.
type Event struct {
	Type           EventType
	AssistantMsgID string // Ready
	Delta          string // Chunk
	Message        string // Error
	Text           string // PlainText
}

// terminal sentinels accepted in the plain-text fallback, compared after
// trimming, case-insensitively.
var sentinels = map[string]bool{
	"[done]": true,
	"done":   true,
	"end":    true,
}

// wire is the structured JSON payload shape.
type wire struct {
	Type           string `json:"type"`
	AssistantMsgID string `json:"assistant_msg_id"`
	Delta          string `json:"delta"`
	Message        string `json:"message"`
}

// parsePayload classifies one payload string. The second return is false for
// payloads that carry no client-visible meaning (unknown structured types
// such as the backend's debug/start/saved events).
func parsePayload(payload string) (Event, bool) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return Event{}, false
	}

	var w wire
	if err := json.Unmarshal([]byte(payload), &w); err == nil && w.Type != "" {
		switch w.Type {
		case "ready":
			return Event{Type: Ready, AssistantMsgID: w.AssistantMsgID}, true
		case "chunk":
			return Event{Type: Chunk, Delta: w.Delta}, true
		case "end":
			return Event{Type: End}, true
		case "error":
			return Event{Type: Error, Message: w.Message}, true
		default:
			// Structured but unrecognized: diagnostic noise, skip it.
			return Event{}, false
		}
	}

	return newPlainText(payload), true
}

// newPlainText builds the fallback variant. The sentinel check lives here:
// a payload equal to a terminal token becomes an End event and is never
// surfaced as visible content.
func newPlainText(text string) Event {
	if sentinels[strings.ToLower(strings.TrimSpace(text))] {
		return Event{Type: End}
	}
	return Event{Type: PlainText, Text: text}
}
