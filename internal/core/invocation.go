package core

import (
	"time"

	"github.com/google/uuid"
)

// CommandKind is the adapter subcommand.
type CommandKind string

const (
	CommandDiscover CommandKind = "discover"
	CommandRun      CommandKind = "run-tests"
)

// InvocationState tracks a single adapter invocation.
type InvocationState string

const (
	InvocationPending   InvocationState = "pending"
	InvocationRunning   InvocationState = "running"
	InvocationCompleted InvocationState = "completed"
	InvocationFailed    InvocationState = "failed"
	InvocationTimedOut  InvocationState = "timed_out"
	InvocationCancelled InvocationState = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s InvocationState) IsTerminal() bool {
	switch s {
	case InvocationCompleted, InvocationFailed, InvocationTimedOut, InvocationCancelled:
		return true
	}
	return false
}

var validInvocationTransitions = map[InvocationState][]InvocationState{
	InvocationPending: {InvocationRunning, InvocationCancelled},
	InvocationRunning: {InvocationCompleted, InvocationFailed, InvocationTimedOut, InvocationCancelled},
}

// CanTransitionTo reports whether s -> to is a legal move.
func (s InvocationState) CanTransitionTo(to InvocationState) bool {
	for _, allowed := range validInvocationTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// StateForFailure maps a failure classification onto the terminal state it
// produces.
func StateForFailure(kind FailureKind) InvocationState {
	switch kind {
	case FailureNone:
		return InvocationCompleted
	case FailureTimeout:
		return InvocationTimedOut
	case FailureCancelled:
		return InvocationCancelled
	default:
		return InvocationFailed
	}
}

// Invocation is one adapter process run issued by the dispatcher.
// An invocation is owned by a single goroutine; it is not safe for
// concurrent mutation.
type Invocation struct {
	ID          string
	Adapter     string
	Targets     []string
	Command     CommandKind
	StartedAt   time.Time
	Deadline    time.Time
	Generations map[string]uint64
	State       InvocationState
	Failure     FailureKind
	FinishedAt  time.Time
}

// NewInvocation creates a pending invocation for the given targets.
// generations maps each target to the generation it was issued for.
func NewInvocation(adapter string, targets []string, generations map[string]uint64) *Invocation {
	gens := make(map[string]uint64, len(generations))
	for k, v := range generations {
		gens[k] = v
	}
	return &Invocation{
		ID:          uuid.New().String(),
		Adapter:     adapter,
		Targets:     append([]string(nil), targets...),
		Generations: gens,
		State:       InvocationPending,
	}
}

// Start marks the invocation running for command with the given timeout.
func (i *Invocation) Start(command CommandKind, timeout time.Duration) error {
	if err := i.Transition(InvocationRunning); err != nil {
		return err
	}
	i.Command = command
	i.StartedAt = time.Now()
	if timeout > 0 {
		i.Deadline = i.StartedAt.Add(timeout)
	}
	return nil
}

// Transition moves the invocation to a new state. Terminal states can be
// reported only once.
func (i *Invocation) Transition(to InvocationState) error {
	if !i.State.CanTransitionTo(to) {
		return ErrInvalidTransition(i.State, to)
	}
	i.State = to
	if to.IsTerminal() {
		i.FinishedAt = time.Now()
	}
	return nil
}

// Finish records the outcome of err and moves to the matching terminal
// state.
func (i *Invocation) Finish(err error) error {
	kind := Classify(err)
	if i.State == InvocationPending && kind != FailureCancelled {
		// Never started: the only legal way out is through running.
		if terr := i.Transition(InvocationRunning); terr != nil {
			return terr
		}
	}
	if terr := i.Transition(StateForFailure(kind)); terr != nil {
		return terr
	}
	i.Failure = kind
	return nil
}

// Duration returns how long the invocation ran.
func (i *Invocation) Duration() time.Duration {
	if i.StartedAt.IsZero() {
		return 0
	}
	if i.FinishedAt.IsZero() {
		return time.Since(i.StartedAt)
	}
	return i.FinishedAt.Sub(i.StartedAt)
}
