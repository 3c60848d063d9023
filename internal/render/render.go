// Package render maps a workflow state to what the result panel shows.
// Everything here is a pure function of its input.
package render

import (
	"fmt"
	"math"

	"github.com/example/optic/internal/classifier"
	"github.com/example/optic/internal/preview"
	"github.com/example/optic/internal/workflow"
)

// Labels for the two classification classes.
const (
	LabelLicit   = "licit"
	LabelIllicit = "illicit"
)

// Styling classes for the result panel.
const (
	ClassNone    = ""
	ClassPending = "result-pending"
	ClassLicit   = "result-licit"
	ClassIllicit = "result-illicit"
	ClassError   = "result-error"
)

// Action kinds for the single action control.
const (
	ActionNone    = "none"
	ActionAnalyze = "analyze"
	ActionReset   = "reset"
)

// Action describes the action control.
type Action struct {
	Kind    string `json:"kind"`
	Label   string `json:"label"`
	Enabled bool   `json:"enabled"`
}

// Payload is the complete display description of one workflow.
type Payload struct {
	State      string           `json:"state"`
	FileName   string           `json:"file_name,omitempty"`
	Preview    *preview.Preview `json:"preview,omitempty"`
	Label      string           `json:"label,omitempty"`
	Percentage float64          `json:"percentage"`
	Confidence string           `json:"confidence,omitempty"`
	BarWidth   string           `json:"bar_width,omitempty"`
	Class      string           `json:"class"`
	Message    string           `json:"message,omitempty"`
	Action     Action           `json:"action"`
}

// Percentage converts a confidence in [0,1] to a percentage rounded to two
// decimals.
func Percentage(confidence float64) float64 {
	return math.Round(confidence*10000) / 100
}

// FormatPercentage renders p as "97.00%".
func FormatPercentage(p float64) string {
	return fmt.Sprintf("%.2f%%", p)
}

// Render builds the payload for s.
func Render(s workflow.State) Payload {
	p := Payload{State: string(s.Phase), Preview: s.Preview}
	if s.File != nil {
		p.FileName = s.File.Name
	}

	switch s.Phase {
	case workflow.PhaseIdle:
		p.Action = Action{Kind: ActionAnalyze, Label: "Select an image", Enabled: false}
	case workflow.PhaseReady:
		p.Action = Action{Kind: ActionAnalyze, Label: "Analyze image", Enabled: true}
	case workflow.PhaseAnalyzing:
		p.Class = ClassPending
		p.Message = "Analyzing..."
		p.Action = Action{Kind: ActionAnalyze, Label: "Analyzing...", Enabled: false}
	case workflow.PhaseResolved:
		p.Action = Action{Kind: ActionReset, Label: "Analyze another image", Enabled: true}
		if s.Outcome != nil {
			renderOutcome(&p, *s.Outcome)
		}
	default:
		p.Action = Action{Kind: ActionNone}
	}
	return p
}

func renderOutcome(p *Payload, o classifier.Outcome) {
	switch o.Kind {
	case classifier.KindSuccess:
		if math.IsNaN(o.Confidence) || o.Confidence < 0 || o.Confidence > 1 {
			p.Class = ClassError
			p.Message = fmt.Sprintf("invalid confidence: %v", o.Confidence)
			return
		}
		p.Label = LabelIllicit
		p.Class = ClassIllicit
		if o.IsLicit {
			p.Label = LabelLicit
			p.Class = ClassLicit
		}
		p.Percentage = Percentage(o.Confidence)
		p.Confidence = FormatPercentage(p.Percentage)
		p.BarWidth = p.Confidence
	case classifier.KindFailure:
		p.Class = ClassError
		p.Message = o.Message
		if p.Message == "" {
			p.Message = classifier.MessageConnectionError
		}
	case classifier.KindPending:
		p.Class = ClassPending
	}
}
