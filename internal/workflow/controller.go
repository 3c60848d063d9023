package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/optic/internal/classifier"
	"github.com/example/optic/internal/intake"
	"github.com/example/optic/internal/logging"
	"github.com/example/optic/internal/preview"
)

// DefaultTimeout bounds a single classification request.
const DefaultTimeout = 30 * time.Second

// Observer is notified about submissions and how they ended.
type Observer interface {
	Submitted()
	Landed(outcome classifier.Outcome)
	Discarded()
}

type nopObserver struct{}

func (nopObserver) Submitted()                {}
func (nopObserver) Landed(classifier.Outcome) {}
func (nopObserver) Discarded()                {}

// Option configures a Controller.
type Option func(*Controller)

// WithTimeout sets the per-request deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithObserver installs an Observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithSessionID tags log lines with the owning session.
func WithSessionID(id string) Option {
	return func(c *Controller) {
		c.sessionID = id
	}
}

// Controller owns the current State of one workflow and applies events to
// it one at a time. The in-flight request, if any, carries a cancel handle
// that reset and file replacement trigger.
type Controller struct {
	mu        sync.Mutex
	state     State
	client    classifier.Client
	previews  *preview.Generator
	timeout   time.Duration
	observer  Observer
	sessionID string
	logger    *zap.Logger
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewController builds a Controller in Idle.
func NewController(client classifier.Client, previews *preview.Generator, logger *zap.Logger, opts ...Option) *Controller {
	c := &Controller{
		state:    Initial(),
		client:   client,
		previews: previews,
		timeout:  DefaultTimeout,
		observer: nopObserver{},
		logger:   logger.Named("workflow"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns a snapshot of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Accept replaces the selected file. Allowed in every phase; a request in
// flight for the previous file is cancelled and its outcome will be dropped.
func (c *Controller) Accept(file *intake.SelectedFile) (State, error) {
	if file == nil {
		return c.State(), ErrNoFile
	}
	opLogger := logging.WithOperation(c.logger, "workflow.accept", c.sessionID)

	c.mu.Lock()
	defer c.mu.Unlock()

	p, err := c.previews.Generate(file)
	if err != nil {
		return c.state, err
	}
	next, err := Transition(c.state, FileAccepted{File: file, Preview: p})
	if err != nil {
		return c.state, err
	}
	if c.state.Phase == PhaseAnalyzing {
		opLogger.Info("file replaced during analysis", zap.String("previous_file_id", c.state.FileID().String()))
	}
	c.cancelInFlightLocked()
	c.state = next

	opLogger.Debug("file accepted",
		zap.String("file_id", file.ID.String()),
		zap.String("mime_type", file.MIMEType),
		zap.Int("size", file.Size()),
		zap.String("source", string(file.Source)),
	)
	return c.state, nil
}

// Analyze submits the selected file. The returned channel is closed once the
// outcome has been applied or discarded.
func (c *Controller) Analyze() (State, <-chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := Transition(c.state, AnalyzeRequested{})
	if err != nil {
		return c.state, nil, err
	}
	c.state = next

	file := next.File
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.observer.Submitted()

	go func() {
		defer close(done)
		defer cancel()
		outcome := c.client.Submit(ctx, file)
		c.deliver(file.ID.String(), OutcomeArrived{FileID: file.ID, Outcome: outcome})
	}()

	return c.state, done, nil
}

// Reset returns to Idle, releasing the preview and cancelling any request.
func (c *Controller) Reset() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelInFlightLocked()
	c.previews.Release()
	c.state, _ = Transition(c.state, ResetRequested{})
	return c.state
}

// Done returns a channel closed when the current request settles. With no
// request in flight the channel is already closed.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil || c.state.Phase != PhaseAnalyzing {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.done
}

func (c *Controller) deliver(fileID string, ev OutcomeArrived) {
	opLogger := logging.WithOperation(c.logger, "workflow.deliver", c.sessionID).With(zap.String("file_id", fileID))

	if !ev.Outcome.Resolved() {
		ev.Outcome = classifier.Failure(classifier.MessageConnectionError, ErrUnresolvedOutcome)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := Transition(c.state, ev)
	if err != nil {
		if errors.Is(err, ErrStaleOutcome) {
			opLogger.Info("discarding stale outcome", zap.String("current_file_id", c.state.FileID().String()))
			c.observer.Discarded()
			return
		}
		opLogger.Error("failed to apply outcome", zap.Error(err))
		return
	}
	c.state = next
	c.cancel = nil
	c.done = nil

	if ev.Outcome.Kind == classifier.KindFailure {
		opLogger.Warn("analysis failed", zap.String("message", ev.Outcome.Message), zap.Error(ev.Outcome.Err))
	} else {
		opLogger.Info("analysis resolved", zap.Bool("is_licit", ev.Outcome.IsLicit), zap.Float64("confidence", ev.Outcome.Confidence))
	}
	c.observer.Landed(ev.Outcome)
}

func (c *Controller) cancelInFlightLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.done = nil
}
