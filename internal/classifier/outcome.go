package classifier

import "errors"

// Kind tags the variant held by an Outcome.
type Kind string

const (
	KindPending Kind = "pending"
	KindSuccess Kind = "success"
	KindFailure Kind = "failure"
)

// User facing failure messages.
const (
	MessageModelNotReady   = "model not ready"
	MessageConnectionError = "connection error"
)

var (
	// ErrServiceUnavailable marks an HTTP 503 from the classification endpoint.
	ErrServiceUnavailable = errors.New("classification service unavailable")
	// ErrTransport marks any other non-2xx status or a network/decoding failure.
	ErrTransport = errors.New("classification transport or server error")
	// ErrInvalidConfidence marks a confidence outside [0,1].
	ErrInvalidConfidence = errors.New("classification confidence out of range")
)

// Outcome is the typed result of one analysis: Pending, Success or Failure.
type Outcome struct {
	Kind       Kind    `json:"kind"`
	IsLicit    bool    `json:"is_licit"`
	Confidence float64 `json:"confidence"`
	Message    string  `json:"message,omitempty"`
	Err        error   `json:"-"`
}

// Pending is the outcome while a request is in flight.
func Pending() Outcome {
	return Outcome{Kind: KindPending}
}

// Success builds a successful classification.
func Success(isLicit bool, confidence float64) Outcome {
	return Outcome{Kind: KindSuccess, IsLicit: isLicit, Confidence: confidence}
}

// Failure builds a failed classification. message is what the visitor sees.
func Failure(message string, err error) Outcome {
	return Outcome{Kind: KindFailure, Message: message, Err: err}
}

// Resolved reports whether the outcome is final.
func (o Outcome) Resolved() bool {
	return o.Kind == KindSuccess || o.Kind == KindFailure
}
