package reschedule

import (
	"context"
	"errors"

	"example.com/planner/internal/domain"
)

// Answer is the reason prompt's reply: Reason, SkipReason or CancelPrompt.
type Answer interface {
	isAnswer()
}

// Reason confirms the change with Text as the reason.
type Reason struct {
	Text string
}

// SkipReason confirms the change without a reason.
type SkipReason struct{}

// CancelPrompt abandons the proposal.
type CancelPrompt struct{}

func (Reason) isAnswer()       {}
func (SkipReason) isAnswer()   {}
func (CancelPrompt) isAnswer() {}

// ReasonPrompter collects the reason for a change. Prompt is called again after a failed commit,
// with the previous reason and the error in the prompt state.
type ReasonPrompter interface {
	Prompt(ctx context.Context, prompt ReasonPrompt) (Answer, error)
}

// PrompterFunc adapts a function to ReasonPrompter.
type PrompterFunc func(ctx context.Context, prompt ReasonPrompt) (Answer, error)

// Prompt calls f.
func (f PrompterFunc) Prompt(ctx context.Context, prompt ReasonPrompt) (Answer, error) {
	return f(ctx, prompt)
}

// Answering returns a prompter that replies with answer once and cancels on any later prompt.
// Non-interactive callers use it so that a failed commit ends the drive instead of retrying.
func Answering(answer Answer) ReasonPrompter {
	answered := false
	return PrompterFunc(func(context.Context, ReasonPrompt) (Answer, error) {
		if answered {
			return CancelPrompt{}, nil
		}
		answered = true
		return answer, nil
	})
}

// Drive takes a pending proposal through the reason prompt and commits it.
// A failed commit re-prompts; cancelling returns ErrAborted joined with the last commit error.
// A prompter error aborts the proposal and is returned as is.
func (w *Workflow) Drive(ctx context.Context, prompter ReasonPrompter) (domain.CalendarEvent, error) {
	if _, ok := w.State().(ProposalPending); ok {
		if err := w.PromptReason(); err != nil {
			return domain.CalendarEvent{}, err
		}
	}

	for {
		prompt, ok := w.State().(ReasonPrompt)
		if !ok {
			w.mu.Lock()
			err := w.refuse("drive")
			w.mu.Unlock()
			return domain.CalendarEvent{}, err
		}
		if err := ctx.Err(); err != nil {
			_ = w.Abort()
			return domain.CalendarEvent{}, err
		}

		answer, err := prompter.Prompt(ctx, prompt)
		if err != nil {
			_ = w.Abort()
			return domain.CalendarEvent{}, err
		}

		var (
			event     domain.CalendarEvent
			commitErr error
		)
		switch a := answer.(type) {
		case Reason:
			if err := w.SetReason(a.Text); err != nil {
				return domain.CalendarEvent{}, err
			}
			event, commitErr = w.Confirm(ctx)
		case SkipReason:
			event, commitErr = w.Skip(ctx)
		case CancelPrompt:
			if err := w.Abort(); err != nil {
				return domain.CalendarEvent{}, err
			}
			if prompt.LastErr != nil {
				return domain.CalendarEvent{}, errors.Join(ErrAborted, prompt.LastErr)
			}
			return domain.CalendarEvent{}, ErrAborted
		default:
			_ = w.Abort()
			return domain.CalendarEvent{}, errors.New("reschedule: unknown prompt answer")
		}

		if commitErr == nil {
			return event, nil
		}
		if errors.Is(commitErr, ErrCommitInFlight) || errors.Is(commitErr, ErrInvalidTransition) {
			return domain.CalendarEvent{}, commitErr
		}
	}
}
