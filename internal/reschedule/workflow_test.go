package reschedule_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"example.com/planner/internal/domain"
	"example.com/planner/internal/persistence/memory"
	"example.com/planner/internal/reschedule"
)

const owner = "office-1"

var day = time.Date(2024, 12, 18, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

func seeded(t *testing.T, events ...domain.CalendarEvent) (*memory.Store, *domain.Service) {
	t.Helper()
	store := memory.NewStore()
	store.Seed(events...)
	return store, domain.NewService(store, domain.WithLogger(zaptest.NewLogger(t)))
}

func showing(id string, start, end time.Time) domain.CalendarEvent {
	return domain.CalendarEvent{
		ID:      id,
		OwnerID: owner,
		Title:   "Showing " + id,
		Type:    domain.EventTypeShowing,
		State:   domain.EventStateScheduled,
		Start:   start,
		End:     end,
	}
}

func newWorkflow(t *testing.T, svc *domain.Service, event domain.CalendarEvent) *reschedule.Workflow {
	t.Helper()
	return reschedule.New(event, "agent-7", svc,
		reschedule.WithConflictChecker(svc),
		reschedule.WithLogger(zaptest.NewLogger(t)))
}

func TestWorkflowCommitsWithReason(t *testing.T) {
	e := showing("E", at(9, 0), at(10, 0))
	store, svc := seeded(t, e)
	wf := newWorkflow(t, svc, e)

	proposal, err := wf.Propose(context.Background(), at(11, 0), at(12, 0))
	require.NoError(t, err)
	require.False(t, proposal.Conflicts.Conflict)
	require.IsType(t, reschedule.ProposalPending{}, wf.State())

	require.NoError(t, wf.PromptReason())
	require.NoError(t, wf.SetReason("  buyer running late  "))
	require.IsType(t, reschedule.ReasonPrompt{}, wf.State())

	updated, err := wf.Confirm(context.Background())
	require.NoError(t, err)
	require.Equal(t, reschedule.Idle{}, wf.State())
	require.True(t, updated.Start.Equal(at(11, 0)))
	require.EqualValues(t, 2, updated.Version)
	require.Len(t, updated.History, 1)
	require.Equal(t, "buyer running late", updated.History[0].Reason)
	require.Equal(t, "agent-7", updated.History[0].ChangedBy)
	require.True(t, updated.History[0].OriginalStart.Equal(at(9, 0)))
	require.Equal(t, updated, wf.Event())
	require.Equal(t, 1, store.Writes())

	stored, err := svc.GetEvent(context.Background(), owner, "E")
	require.NoError(t, err)
	require.True(t, stored.Start.Equal(at(11, 0)))
	require.Len(t, stored.History, 1)
}

func TestWorkflowSkipClearsReason(t *testing.T) {
	e := showing("E", at(9, 0), at(10, 0))
	_, svc := seeded(t, e)
	wf := newWorkflow(t, svc, e)

	_, err := wf.Propose(context.Background(), at(9, 15), at(10, 15))
	require.NoError(t, err)
	require.NoError(t, wf.PromptReason())
	require.NoError(t, wf.SetReason("draft"))

	updated, err := wf.Skip(context.Background())
	require.NoError(t, err)
	require.Empty(t, updated.History[0].Reason)
}

func TestWorkflowCommitFailureKeepsReasonAndRetrySucceeds(t *testing.T) {
	e := showing("E", at(9, 0), at(10, 0))
	store, svc := seeded(t, e)
	wf := newWorkflow(t, svc, e)

	_, err := wf.Propose(context.Background(), at(13, 0), at(14, 0))
	require.NoError(t, err)
	require.NoError(t, wf.PromptReason())
	require.NoError(t, wf.SetReason("seller unavailable"))

	storeDown := errors.New("store unavailable")
	store.FailWith(storeDown)

	_, err = wf.Confirm(context.Background())
	require.ErrorIs(t, err, storeDown)

	prompt, ok := wf.State().(reschedule.ReasonPrompt)
	require.True(t, ok, "failed commit must return to the reason prompt")
	require.Equal(t, "seller unavailable", prompt.Reason)
	require.ErrorIs(t, prompt.LastErr, storeDown)
	require.True(t, wf.Event().Start.Equal(at(9, 0)))

	store.FailWith(nil)
	updated, err := wf.Confirm(context.Background())
	require.NoError(t, err)
	require.Equal(t, reschedule.Idle{}, wf.State())
	require.Len(t, updated.History, 1)
	require.Equal(t, "seller unavailable", updated.History[0].Reason)
}

func TestIdenticalDropsNeverReachTheStore(t *testing.T) {
	e := showing("E", at(9, 0), at(10, 0))
	store, svc := seeded(t, e)
	wf := newWorkflow(t, svc, e)

	for i := 0; i < 2; i++ {
		_, err := wf.Propose(context.Background(), at(9, 0), at(10, 0))
		require.ErrorIs(t, err, reschedule.ErrNoChange)
		require.Equal(t, reschedule.Idle{}, wf.State())
	}

	require.Zero(t, store.Writes())
	stored, err := svc.GetEvent(context.Background(), owner, "E")
	require.NoError(t, err)
	require.Empty(t, stored.History)
}

func TestTerminalEventsAreRejectedBeforeTheStore(t *testing.T) {
	for _, state := range []domain.EventState{domain.EventStateCancelled, domain.EventStateCompleted} {
		t.Run(string(state), func(t *testing.T) {
			e := showing("E", at(9, 0), at(10, 0))
			e.State = state
			store, svc := seeded(t, e)
			wf := newWorkflow(t, svc, e)

			_, err := wf.Propose(context.Background(), at(11, 0), at(12, 0))
			require.ErrorIs(t, err, domain.ErrEventImmutable)
			require.Equal(t, reschedule.Idle{}, wf.State())

			_, err = wf.Propose(context.Background(), at(12, 0), at(11, 0))
			require.ErrorIs(t, err, domain.ErrEventImmutable, "terminal state is reported before the interval")
			require.Equal(t, reschedule.Idle{}, wf.State())
			require.Zero(t, store.Writes())
			require.Zero(t, store.Reads())
		})
	}
}

func TestProposeRejectsInvalidInterval(t *testing.T) {
	e := showing("E", at(9, 0), at(10, 0))
	store, svc := seeded(t, e)
	wf := newWorkflow(t, svc, e)

	_, err := wf.Propose(context.Background(), at(10, 0), at(10, 0))
	require.ErrorIs(t, err, domain.ErrInvalidInterval)
	require.Equal(t, reschedule.Idle{}, wf.State())
	require.Zero(t, store.Reads())
}

func TestProposalAttachesConflicts(t *testing.T) {
	e := showing("E", at(9, 0), at(10, 0))
	f := showing("F", at(10, 0), at(11, 0))
	_, svc := seeded(t, e, f)
	wf := newWorkflow(t, svc, e)

	proposal, err := wf.Propose(context.Background(), at(9, 30), at(10, 30))
	require.NoError(t, err)
	require.True(t, proposal.Conflicts.Conflict)
	require.Len(t, proposal.Conflicts.Events, 1)
	require.Equal(t, "F", proposal.Conflicts.Events[0].ID)
}

func TestOnlyOneProposalInFlight(t *testing.T) {
	e := showing("E", at(9, 0), at(10, 0))
	_, svc := seeded(t, e)
	wf := newWorkflow(t, svc, e)

	_, err := wf.Propose(context.Background(), at(11, 0), at(12, 0))
	require.NoError(t, err)
	_, err = wf.Propose(context.Background(), at(12, 0), at(13, 0))
	require.ErrorIs(t, err, reschedule.ErrProposalInFlight)

	require.NoError(t, wf.PromptReason())
	_, err = wf.Propose(context.Background(), at(12, 0), at(13, 0))
	require.ErrorIs(t, err, reschedule.ErrProposalInFlight)
}

func TestCommitMustPassThroughReasonPrompt(t *testing.T) {
	e := showing("E", at(9, 0), at(10, 0))
	store, svc := seeded(t, e)
	wf := newWorkflow(t, svc, e)

	_, err := wf.Confirm(context.Background())
	require.ErrorIs(t, err, reschedule.ErrInvalidTransition)

	_, err = wf.Propose(context.Background(), at(11, 0), at(12, 0))
	require.NoError(t, err)
	_, err = wf.Confirm(context.Background())
	require.ErrorIs(t, err, reschedule.ErrInvalidTransition)
	require.ErrorIs(t, wf.SetReason("x"), reschedule.ErrInvalidTransition)
	require.Zero(t, store.Writes())
}

func TestAbortHasNoSideEffects(t *testing.T) {
	e := showing("E", at(9, 0), at(10, 0))
	store, svc := seeded(t, e)
	wf := newWorkflow(t, svc, e)

	_, err := wf.Propose(context.Background(), at(11, 0), at(12, 0))
	require.NoError(t, err)
	require.NoError(t, wf.Abort())
	require.Equal(t, reschedule.Idle{}, wf.State())

	_, err = wf.Propose(context.Background(), at(11, 0), at(12, 0))
	require.NoError(t, err)
	require.NoError(t, wf.PromptReason())
	require.NoError(t, wf.SetReason("never mind"))
	require.NoError(t, wf.Abort())
	require.Equal(t, reschedule.Idle{}, wf.State())

	require.Zero(t, store.Writes())
	require.True(t, wf.Event().Start.Equal(at(9, 0)))
}

func TestCallsWhileCommittingAreRefused(t *testing.T) {
	e := showing("E", at(9, 0), at(10, 0))
	committer := &blockingCommitter{entered: make(chan struct{}), release: make(chan struct{})}
	wf := reschedule.New(e, "agent-7", committer)

	_, err := wf.Propose(context.Background(), at(11, 0), at(12, 0))
	require.NoError(t, err)
	require.NoError(t, wf.PromptReason())

	done := make(chan error, 1)
	go func() {
		_, err := wf.Confirm(context.Background())
		done <- err
	}()
	<-committer.entered

	require.IsType(t, reschedule.Committing{}, wf.State())
	require.ErrorIs(t, wf.Abort(), reschedule.ErrCommitInFlight)
	_, err = wf.Propose(context.Background(), at(12, 0), at(13, 0))
	require.ErrorIs(t, err, reschedule.ErrCommitInFlight)
	_, err = wf.Confirm(context.Background())
	require.ErrorIs(t, err, reschedule.ErrCommitInFlight)

	close(committer.release)
	require.NoError(t, <-done)
	require.Equal(t, reschedule.Idle{}, wf.State())
	require.Equal(t, 1, committer.calls)
}

func TestConcurrentEditIsRejectedWithVersionConflict(t *testing.T) {
	e := showing("E", at(9, 0), at(10, 0))
	_, svc := seeded(t, e)
	loaded, err := svc.GetEvent(context.Background(), owner, "E")
	require.NoError(t, err)
	wf := newWorkflow(t, svc, *loaded)

	_, err = svc.RescheduleEvent(context.Background(), domain.RescheduleInput{
		OwnerID: owner, EventID: "E", Start: at(15, 0), End: at(16, 0), ChangedBy: "other-session",
	})
	require.NoError(t, err)

	_, err = wf.Propose(context.Background(), at(11, 0), at(12, 0))
	require.NoError(t, err)
	require.NoError(t, wf.PromptReason())
	_, err = wf.Skip(context.Background())
	require.ErrorIs(t, err, domain.ErrVersionConflict)
	require.IsType(t, reschedule.ReasonPrompt{}, wf.State())

	require.NoError(t, wf.Abort())
	fresh, err := svc.GetEvent(context.Background(), owner, "E")
	require.NoError(t, err)
	require.NoError(t, wf.Refresh(*fresh))
	require.True(t, wf.Event().Start.Equal(at(15, 0)))
}

func TestDriveWithReason(t *testing.T) {
	e := showing("E", at(9, 0), at(10, 0))
	_, svc := seeded(t, e)
	wf := newWorkflow(t, svc, e)

	_, err := wf.Propose(context.Background(), at(14, 0), at(15, 0))
	require.NoError(t, err)

	updated, err := wf.Drive(context.Background(), reschedule.Answering(reschedule.Reason{Text: "keys not ready"}))
	require.NoError(t, err)
	require.Equal(t, "keys not ready", updated.History[0].Reason)
	require.Equal(t, reschedule.Idle{}, wf.State())
}

func TestDriveCancelReportsLastCommitError(t *testing.T) {
	e := showing("E", at(9, 0), at(10, 0))
	store, svc := seeded(t, e)
	wf := newWorkflow(t, svc, e)

	_, err := wf.Propose(context.Background(), at(14, 0), at(15, 0))
	require.NoError(t, err)

	storeDown := errors.New("store unavailable")
	store.FailWith(storeDown)

	_, err = wf.Drive(context.Background(), reschedule.Answering(reschedule.SkipReason{}))
	require.ErrorIs(t, err, reschedule.ErrAborted)
	require.ErrorIs(t, err, storeDown)
	require.Equal(t, reschedule.Idle{}, wf.State())
}

func TestDriveRepromptsAfterFailureWithReasonIntact(t *testing.T) {
	e := showing("E", at(9, 0), at(10, 0))
	store, svc := seeded(t, e)
	wf := newWorkflow(t, svc, e)

	_, err := wf.Propose(context.Background(), at(14, 0), at(15, 0))
	require.NoError(t, err)

	storeDown := errors.New("store unavailable")
	store.FailWith(storeDown)

	var prompts []reschedule.ReasonPrompt
	prompter := reschedule.PrompterFunc(func(_ context.Context, p reschedule.ReasonPrompt) (reschedule.Answer, error) {
		prompts = append(prompts, p)
		if len(prompts) == 1 {
			return reschedule.Reason{Text: "tenant request"}, nil
		}
		store.FailWith(nil)
		return reschedule.Reason{Text: p.Reason}, nil
	})

	updated, err := wf.Drive(context.Background(), prompter)
	require.NoError(t, err)
	require.Len(t, prompts, 2)
	require.NoError(t, prompts[0].LastErr)
	require.Equal(t, "tenant request", prompts[1].Reason)
	require.ErrorIs(t, prompts[1].LastErr, storeDown)
	require.Len(t, updated.History, 1)
	require.Equal(t, "tenant request", updated.History[0].Reason)
}

func TestDriveCancelWithoutCommit(t *testing.T) {
	e := showing("E", at(9, 0), at(10, 0))
	store, svc := seeded(t, e)
	wf := newWorkflow(t, svc, e)

	_, err := wf.Propose(context.Background(), at(14, 0), at(15, 0))
	require.NoError(t, err)

	_, err = wf.Drive(context.Background(), reschedule.Answering(reschedule.CancelPrompt{}))
	require.ErrorIs(t, err, reschedule.ErrAborted)
	require.Zero(t, store.Writes())
}

type blockingCommitter struct {
	entered chan struct{}
	release chan struct{}
	calls   int
}

func (c *blockingCommitter) RescheduleEvent(ctx context.Context, in domain.RescheduleInput) (domain.RescheduleResult, error) {
	c.calls++
	close(c.entered)
	<-c.release
	return domain.RescheduleResult{
		Event:   domain.CalendarEvent{ID: in.EventID, OwnerID: in.OwnerID, Start: in.Start, End: in.End, Version: 2},
		Changed: true,
	}, nil
}
