// Package reschedule implements the time-change workflow for a single event:
// a proposal is raised, a reason is collected (or skipped), and the change is
// committed through the event service.
//
//	Idle -> ProposalPending -> ReasonPrompt -> Committing -> Idle
//
// Abort returns to Idle from ProposalPending or ReasonPrompt. A failed commit
// returns to ReasonPrompt with the composed reason intact.
package reschedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"example.com/planner/internal/domain"
	"example.com/planner/internal/observability"
)

var (
	// ErrNoChange is returned by Propose when the proposed times equal the current ones.
	ErrNoChange = errors.New("proposal does not change the event times")
	// ErrProposalInFlight is returned by Propose when a proposal is already pending.
	ErrProposalInFlight = errors.New("a reschedule proposal is already in flight")
	// ErrCommitInFlight is returned by every call made while a commit is running.
	ErrCommitInFlight = errors.New("a reschedule commit is in flight")
	// ErrInvalidTransition is returned when an operation is not allowed in the current state.
	ErrInvalidTransition = errors.New("invalid workflow transition")
	// ErrAborted is returned by Drive when the prompt was cancelled.
	ErrAborted = errors.New("reschedule aborted")
)

// Committer persists a reschedule. domain.Service implements it.
type Committer interface {
	RescheduleEvent(ctx context.Context, in domain.RescheduleInput) (domain.RescheduleResult, error)
}

// ConflictChecker reports overlapping events for a proposal. domain.Service implements it.
type ConflictChecker interface {
	CheckConflicts(ctx context.Context, p domain.Proposal) (domain.ConflictReport, error)
}

// Proposal is a pending time change together with its advisory conflict report.
type Proposal struct {
	EventID   string
	Start     time.Time
	End       time.Time
	Conflicts domain.ConflictReport
}

// State is one of Idle, ProposalPending, ReasonPrompt or Committing.
type State interface {
	Name() string
	isState()
}

// Idle means no proposal is open.
type Idle struct{}

// ProposalPending holds a proposal that has not reached the reason prompt yet.
type ProposalPending struct {
	Proposal Proposal
}

// ReasonPrompt collects the optional reason. LastErr is the error of the previous commit attempt, if any.
type ReasonPrompt struct {
	Proposal Proposal
	Reason   string
	LastErr  error
}

// Committing means the change has been sent to the store.
type Committing struct {
	Proposal Proposal
	Reason   string
}

func (Idle) Name() string            { return "idle" }
func (ProposalPending) Name() string { return "proposal_pending" }
func (ReasonPrompt) Name() string    { return "reason_prompt" }
func (Committing) Name() string      { return "committing" }

func (Idle) isState()            {}
func (ProposalPending) isState() {}
func (ReasonPrompt) isState()    {}
func (Committing) isState()      {}

// Option configures a Workflow.
type Option func(*Workflow)

// WithConflictChecker attaches conflict reports to proposals.
func WithConflictChecker(c ConflictChecker) Option {
	return func(w *Workflow) { w.checker = c }
}

// WithLogger sets the workflow logger.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Workflow) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Workflow drives the reschedule of one event. It is safe for concurrent use;
// at most one proposal and one commit are in flight at any time.
type Workflow struct {
	mu        sync.Mutex
	event     domain.CalendarEvent
	actor     string
	state     State
	committer Committer
	checker   ConflictChecker
	logger    *zap.Logger
}

// New returns an idle workflow for event. actor is recorded as ChangedBy on commit.
func New(event domain.CalendarEvent, actor string, committer Committer, opts ...Option) *Workflow {
	w := &Workflow{
		event:     event.Clone(),
		actor:     actor,
		state:     Idle{},
		committer: committer,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("event_id", event.ID))
	return w
}

// State returns the current state.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Event returns the workflow's copy of the event, replaced after every successful commit.
func (w *Workflow) Event() domain.CalendarEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.event.Clone()
}

// Refresh replaces the in-memory event with a freshly loaded copy. Only allowed while Idle.
func (w *Workflow) Refresh(event domain.CalendarEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.state.(Idle); !ok {
		return w.refuse("refresh")
	}
	if event.ID != w.event.ID {
		return fmt.Errorf("%w: refresh with event %s", ErrInvalidTransition, event.ID)
	}
	w.event = event.Clone()
	return nil
}

// Propose opens a proposal to move the event to [start, end).
// Unchanged times return ErrNoChange and leave the workflow Idle. Terminal events
// are rejected with domain.ErrEventImmutable before the interval is checked and
// before anything reaches the store.
func (w *Workflow) Propose(ctx context.Context, start, end time.Time) (Proposal, error) {
	w.mu.Lock()
	if _, ok := w.state.(Idle); !ok {
		err := w.refuse("propose")
		w.mu.Unlock()
		return Proposal{}, err
	}
	event := w.event.Clone()
	w.mu.Unlock()

	if event.State.Terminal() {
		return Proposal{}, fmt.Errorf("%w: %s is %s", domain.ErrEventImmutable, event.ID, event.State)
	}
	if err := domain.ValidateInterval(start, end); err != nil {
		return Proposal{}, err
	}
	start, end = start.UTC(), end.UTC()
	if event.SameTimes(start, end) {
		return Proposal{}, ErrNoChange
	}

	proposal := Proposal{
		EventID:   event.ID,
		Start:     start,
		End:       end,
		Conflicts: domain.ConflictReport{Events: []domain.CalendarEvent{}},
	}
	if w.checker != nil {
		report, err := w.checker.CheckConflicts(ctx, domain.Proposal{
			EventID:    event.ID,
			OwnerID:    event.OwnerID,
			ResourceID: event.ResourceID,
			Start:      start,
			End:        end,
		})
		if err != nil {
			w.logger.Warn("conflict check failed, proposing without report", zap.Error(err))
		} else {
			proposal.Conflicts = report
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.state.(Idle); !ok {
		return Proposal{}, w.refuse("propose")
	}
	w.transition(ProposalPending{Proposal: proposal})
	return proposal, nil
}

// PromptReason moves a pending proposal to the reason prompt.
func (w *Workflow) PromptReason() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	pending, ok := w.state.(ProposalPending)
	if !ok {
		return w.refuse("prompt reason")
	}
	w.transition(ReasonPrompt{Proposal: pending.Proposal})
	return nil
}

// SetReason replaces the reason text being composed.
func (w *Workflow) SetReason(text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	prompt, ok := w.state.(ReasonPrompt)
	if !ok {
		return w.refuse("set reason")
	}
	prompt.Reason = text
	w.state = prompt
	return nil
}

// Confirm commits the proposal with the composed reason.
func (w *Workflow) Confirm(ctx context.Context) (domain.CalendarEvent, error) {
	return w.commit(ctx, false)
}

// Skip commits the proposal without a reason.
func (w *Workflow) Skip(ctx context.Context) (domain.CalendarEvent, error) {
	return w.commit(ctx, true)
}

// Abort discards the proposal. It has no side effects and is refused while committing.
func (w *Workflow) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.state.(type) {
	case ProposalPending, ReasonPrompt:
		w.transition(Idle{})
		return nil
	case Idle:
		return nil
	default:
		return w.refuse("abort")
	}
}

func (w *Workflow) commit(ctx context.Context, skip bool) (domain.CalendarEvent, error) {
	w.mu.Lock()
	prompt, ok := w.state.(ReasonPrompt)
	if !ok {
		err := w.refuse("commit")
		w.mu.Unlock()
		return domain.CalendarEvent{}, err
	}
	reason := prompt.Reason
	if skip {
		reason = ""
	}
	event := w.event.Clone()
	w.transition(Committing{Proposal: prompt.Proposal, Reason: reason})
	w.mu.Unlock()

	result, err := w.committer.RescheduleEvent(ctx, domain.RescheduleInput{
		OwnerID:         event.OwnerID,
		EventID:         event.ID,
		Start:           prompt.Proposal.Start,
		End:             prompt.Proposal.End,
		Reason:          strings.TrimSpace(reason),
		ChangedBy:       w.actor,
		ExpectedVersion: event.Version,
	})

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.logger.Warn("reschedule commit failed", zap.Error(err))
		w.transition(ReasonPrompt{Proposal: prompt.Proposal, Reason: prompt.Reason, LastErr: err})
		return domain.CalendarEvent{}, err
	}
	w.event = result.Event.Clone()
	w.transition(Idle{})
	return w.event.Clone(), nil
}

// transition must be called with w.mu held.
func (w *Workflow) transition(next State) {
	prev := w.state
	w.state = next
	observability.RecordWorkflowTransition(prev.Name(), next.Name())
	w.logger.Debug("workflow transition", zap.String("from", prev.Name()), zap.String("to", next.Name()))
}

// refuse must be called with w.mu held.
func (w *Workflow) refuse(op string) error {
	switch w.state.(type) {
	case Committing:
		return ErrCommitInFlight
	case ProposalPending, ReasonPrompt:
		if op == "propose" {
			return ErrProposalInFlight
		}
	}
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidTransition, op, w.state.Name())
}
