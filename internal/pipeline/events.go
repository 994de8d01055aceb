package pipeline

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"

	apperrors "github.com/R3E-Network/tokenization_layer/internal/errors"
)

// Phase is the lifecycle status carried by an Event.
type Phase string

const (
	PhasePreparing       Phase = "preparing"
	PhaseSubmitting      Phase = "submitting"
	PhasePending         Phase = "pending"
	PhaseConfirmed       Phase = "confirmed"
	PhaseFailed          Phase = "failed"
	PhaseIndexingPending Phase = "indexing-pending"
	PhaseIndexingSuccess Phase = "indexing-success"
	PhaseIndexingTimeout Phase = "indexing-timeout"
)

// Severity is how a caller should present an event.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// SeverityOf maps a phase to its severity. Indexing lag is a warning, never an error.
func SeverityOf(p Phase) Severity {
	switch p {
	case PhaseFailed:
		return SeverityError
	case PhaseIndexingTimeout:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Result carries what the chain and indexer reported.
type Result struct {
	ContractAddress *common.Address `json:"contractAddress,omitempty"`
	BlockNumber     uint64          `json:"blockNumber,omitempty"`
	RevertReason    string          `json:"revertReason,omitempty"`
	Indexed         json.RawMessage `json:"indexed,omitempty"`
}

// Event is one progress report of a pipeline run.
type Event struct {
	Status          Phase               `json:"status"`
	Message         string              `json:"message"`
	Action          string              `json:"action,omitempty"`
	TransactionHash string              `json:"transactionHash,omitempty"`
	Result          *Result             `json:"result,omitempty"`
	Reason          apperrors.ErrorCode `json:"reason,omitempty"`
	// Final is set on the last event of a run.
	Final     bool      `json:"final"`
	Timestamp time.Time `json:"timestamp"`
}

// Severity reports how the event should be presented.
func (e Event) Severity() Severity {
	return SeverityOf(e.Status)
}

// Collect drains ch and returns every event in order.
func Collect(ch <-chan Event) []Event {
	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

// Terminal returns the last event, or a zero Event when there is none.
func Terminal(events []Event) Event {
	if len(events) == 0 {
		return Event{}
	}
	return events[len(events)-1]
}

// Phases returns the status of each event.
func Phases(events []Event) []Phase {
	out := make([]Phase, len(events))
	for i, ev := range events {
		out[i] = ev.Status
	}
	return out
}
