// Package saga runs a business operation as a sequence of independent writes
// with a stack of inverse actions. When a step fails, the stack is unwound in
// reverse order so the stores end up where they started.
package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/diewo77/go-ledger/internal/apperr"
)

// Undo reverses one applied write.
type Undo func(ctx context.Context) error

type step struct {
	name string
	undo Undo
}

// Saga records the steps of one operation. It is not safe for concurrent use.
type Saga struct {
	ID    string
	op    string
	log   zerolog.Logger
	steps []step
	done  bool
}

// New starts a saga for the named operation.
func New(op string, log zerolog.Logger) *Saga {
	id := uuid.NewString()
	return &Saga{
		ID:  id,
		op:  op,
		log: log.With().Str("op", op).Str("saga", id).Logger(),
	}
}

// Push registers the inverse of a write that has just succeeded. A nil undo
// records the step for diagnostics only.
func (s *Saga) Push(name string, undo Undo) {
	s.steps = append(s.steps, step{name: name, undo: undo})
	s.log.Debug().Str("step", name).Int("depth", len(s.steps)).Msg("step applied")
}

// Applied lists step names in the order they ran.
func (s *Saga) Applied() []string {
	out := make([]string, len(s.steps))
	for i, st := range s.steps {
		out[i] = st.name
	}
	return out
}

// Complete drops the stack; later Abort calls become no-ops.
func (s *Saga) Complete() {
	s.done = true
	s.log.Debug().Int("steps", len(s.steps)).Msg("saga complete")
	s.steps = nil
}

// Abort unwinds every pushed step in reverse and returns the error the caller
// should surface. A domain error (validation, stock, not found) whose
// compensation succeeded is returned as is; anything else comes back as an
// *apperr.UnexpectedError carrying the applied steps and compensation failures.
func (s *Saga) Abort(ctx context.Context, cause error) error {
	if s.done {
		return cause
	}
	s.done = true
	applied := s.Applied()

	var errs []error
	for i := len(s.steps) - 1; i >= 0; i-- {
		st := s.steps[i]
		if st.undo == nil {
			continue
		}
		// Compensation must run even when the request context is gone.
		if err := st.undo(context.WithoutCancel(ctx)); err != nil {
			s.log.Error().Err(err).Str("step", st.name).Msg("compensation failed")
			errs = append(errs, fmt.Errorf("undo %s: %w", st.name, err))
			continue
		}
		s.log.Warn().Str("step", st.name).Msg("step compensated")
	}
	s.steps = nil
	compErr := errors.Join(errs...)

	if compErr == nil && apperr.IsDomain(cause) {
		return cause
	}
	s.log.Error().Err(cause).Strs("applied", applied).AnErr("compensation", compErr).Msg("operation aborted")

	var ue *apperr.UnexpectedError
	if errors.As(cause, &ue) {
		return &apperr.UnexpectedError{Op: s.op, Err: ue.Err, Applied: applied, Compensation: errors.Join(ue.Compensation, compErr)}
	}
	return &apperr.UnexpectedError{Op: s.op, Err: cause, Applied: applied, Compensation: compErr}
}

// Run executes fn and aborts the saga if it returns an error.
func (s *Saga) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := fn(ctx); err != nil {
		return s.Abort(ctx, err)
	}
	s.Complete()
	return nil
}
