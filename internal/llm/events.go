package llm

import (
	"encoding/json"
	"strings"
)

// EventKind is the closed set of record classifications. Downstream logic
// switches exhaustively over this tag instead of probing JSON fields.
type EventKind int

const (
	// EventUnrecognized covers unparsable records and unknown event types.
	// They are skipped for forward compatibility, never escalated.
	EventUnrecognized EventKind = iota
	// EventLegacyDelta is a chat-completions chunk carrying token text at
	// choices[0].delta.content.
	EventLegacyDelta
	// EventStatefulDelta is a responses-API chunk typed
	// "response.output_text.delta" carrying token text in delta.
	EventStatefulDelta
	// EventIDCapture is a record that carries a continuation identifier but
	// no token text.
	EventIDCapture
)

// Event is the uniform internal representation of one decoded record.
// ResponseID may be populated on any kind: the responses API attaches the
// identifier to arbitrary events, and the terminal record may not carry it,
// so consumers keep the most recent one seen.
type Event struct {
	Kind       EventKind
	Text       string
	ResponseID string
}

type wireRecord struct {
	Type     string `json:"type"`
	Delta    string `json:"delta"`
	ID       string `json:"id"`
	Response *struct {
		ID string `json:"id"`
	} `json:"response"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

const statefulDeltaType = "response.output_text.delta"

// Classify maps one decoded record onto the Event union. Malformed JSON
// yields EventUnrecognized; one corrupt record must never abort the stream.
func Classify(record []byte) Event {
	var rec wireRecord
	if err := json.Unmarshal(record, &rec); err != nil {
		return Event{Kind: EventUnrecognized}
	}

	var responseID string
	if rec.Response != nil && rec.Response.ID != "" {
		responseID = rec.Response.ID
	} else if strings.HasPrefix(rec.ID, "resp_") {
		responseID = rec.ID
	}

	if rec.Type == statefulDeltaType && rec.Delta != "" {
		return Event{Kind: EventStatefulDelta, Text: rec.Delta, ResponseID: responseID}
	}

	if len(rec.Choices) > 0 && rec.Choices[0].Delta.Content != "" {
		return Event{Kind: EventLegacyDelta, Text: rec.Choices[0].Delta.Content, ResponseID: responseID}
	}

	if responseID != "" {
		return Event{Kind: EventIDCapture, ResponseID: responseID}
	}

	return Event{Kind: EventUnrecognized}
}
