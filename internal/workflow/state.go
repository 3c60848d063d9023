// Package workflow coordinates intake, preview and classification for a
// single visitor. State is a value; Transition is a pure function over it and
// the Controller holds the only mutable cell.
package workflow

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/example/optic/internal/classifier"
	"github.com/example/optic/internal/intake"
	"github.com/example/optic/internal/preview"
)

// Phase enumerates the workflow states.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseReady     Phase = "ready"
	PhaseAnalyzing Phase = "analyzing"
	PhaseResolved  Phase = "resolved"
)

var (
	// ErrAnalyzeNotAllowed is returned when analysis is requested outside Ready.
	ErrAnalyzeNotAllowed = errors.New("analyze is only allowed when a file is ready")
	// ErrStaleOutcome is returned for an outcome computed for a file that is no longer selected.
	ErrStaleOutcome = errors.New("stale outcome discarded")
	// ErrNoFile is returned when a FileAccepted event carries no file.
	ErrNoFile = errors.New("file accepted without a file")
	// ErrUnresolvedOutcome is returned when a Pending outcome is delivered as final.
	ErrUnresolvedOutcome = errors.New("outcome is not resolved")
)

// State is the complete view of one workflow.
//
// Idle has no file, preview or outcome. Ready has file and preview. Analyzing
// adds a Pending outcome. Resolved holds a Success or Failure.
type State struct {
	Phase   Phase
	File    *intake.SelectedFile
	Preview *preview.Preview
	Outcome *classifier.Outcome
}

// Initial returns the Idle state.
func Initial() State {
	return State{Phase: PhaseIdle}
}

// FileID returns the identity of the selected file, or uuid.Nil.
func (s State) FileID() uuid.UUID {
	if s.File == nil {
		return uuid.Nil
	}
	return s.File.ID
}

// CanAnalyze reports whether the analyze action is enabled.
func (s State) CanAnalyze() bool {
	return s.Phase == PhaseReady
}

// Event is an input to Transition.
type Event interface {
	event()
}

// FileAccepted carries a freshly accepted file and its preview.
type FileAccepted struct {
	File    *intake.SelectedFile
	Preview *preview.Preview
}

// AnalyzeRequested asks for the selected file to be classified.
type AnalyzeRequested struct{}

// OutcomeArrived delivers the result computed for FileID.
type OutcomeArrived struct {
	FileID  uuid.UUID
	Outcome classifier.Outcome
}

// ResetRequested returns the workflow to Idle.
type ResetRequested struct{}

func (FileAccepted) event()     {}
func (AnalyzeRequested) event() {}
func (OutcomeArrived) event()   {}
func (ResetRequested) event()   {}

// Transition computes the next state. On error the returned state is s.
func Transition(s State, e Event) (State, error) {
	switch ev := e.(type) {
	case FileAccepted:
		if ev.File == nil {
			return s, ErrNoFile
		}
		return State{Phase: PhaseReady, File: ev.File, Preview: ev.Preview}, nil

	case AnalyzeRequested:
		if !s.CanAnalyze() {
			return s, fmt.Errorf("%w (phase %s)", ErrAnalyzeNotAllowed, s.Phase)
		}
		pending := classifier.Pending()
		return State{Phase: PhaseAnalyzing, File: s.File, Preview: s.Preview, Outcome: &pending}, nil

	case OutcomeArrived:
		if !ev.Outcome.Resolved() {
			return s, ErrUnresolvedOutcome
		}
		if s.Phase != PhaseAnalyzing || s.FileID() != ev.FileID {
			return s, ErrStaleOutcome
		}
		outcome := ev.Outcome
		return State{Phase: PhaseResolved, File: s.File, Preview: s.Preview, Outcome: &outcome}, nil

	case ResetRequested:
		return Initial(), nil
	}
	return s, fmt.Errorf("unknown event %T", e)
}
