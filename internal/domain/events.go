package domain

import "github.com/ethereum/go-ethereum/core/types"

// EventType tags events carried on the process bus.
type EventType string

const (
	EventBlock      EventType = "block"
	EventV2Sync     EventType = "v2:sync"
	EventV2Swap     EventType = "v2:swap"
	EventV3Swap     EventType = "v3:swap"
	EventQuote      EventType = "quote"
	EventCandidate  EventType = "candidate"
	EventCandidates EventType = "candidates"
	EventLog        EventType = "log"
	EventWSError    EventType = "ws:error"
)

// Event is the single message type published on the bus. Only the fields
// relevant to the Type are populated.
type Event struct {
	Type EventType

	// EventBlock
	Block uint64

	// Raw log batches (EventV2Sync, EventV2Swap, EventV3Swap).
	Logs []types.Log

	// EventQuote
	Quote *QuotePoint

	// EventCandidate / EventCandidates
	Candidate  *Candidate
	Candidates []Candidate

	// EventLog / EventWSError
	Message string
}
