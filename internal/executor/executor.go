// Package executor orchestrates ordered command execution against a
// session: per-command timing, halt-on-first-failure, and multi-status
// result assembly.
package executor

import (
	"time"

	"go.uber.org/zap"

	"github.com/cloudpeek/browsergrid/internal/command"
	"github.com/cloudpeek/browsergrid/internal/events"
	"github.com/cloudpeek/browsergrid/internal/session"
	"github.com/cloudpeek/browsergrid/pkg/models"
)

// Executor runs command sequences through the dispatcher.
type Executor struct {
	registry   *session.Registry
	dispatcher *command.Dispatcher
	events     *events.Hub
	log        *zap.Logger
	now        func() time.Time
}

func New(registry *session.Registry, dispatcher *command.Dispatcher, hub *events.Hub, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		registry:   registry,
		dispatcher: dispatcher,
		events:     hub,
		log:        log,
		now:        time.Now,
	}
}

// ExecuteOne runs a single command and returns its raw value. Errors are
// classified; an unrecoverable ExecutionError additionally tears the
// session down. Successful single commands reset the TTL (a lone command
// is a one-element sequence that succeeded).
func (e *Executor) ExecuteOne(sessionID string, req models.CommandRequest) (any, error) {
	if !e.dispatcher.Has(req.Name) {
		return nil, models.NewError(models.KindCommandNotFound, "unknown command %q", req.Name)
	}

	value, err := e.step(sessionID, req)
	if err != nil {
		if models.KindOf(err) == models.KindExecution {
			e.registry.Abort(sessionID)
		}
		return nil, err
	}

	_ = e.registry.ResetActivity(sessionID)
	return value, nil
}

// ExecuteMany runs requests in strict order, halting at the first failure.
// Results are index-aligned with the input up to the halt point; requests
// past the first failure are neither attempted nor represented.
//
// All command names are validated up front so CommandNotFound surfaces
// before any side effect, and SessionNotFound at the start raises directly
// since there is no partial result to report. TTL keep-alive is
// per-sequence: the timer resets once, only when the whole call succeeds.
func (e *Executor) ExecuteMany(sessionID string, requests []models.CommandRequest) (*models.SequenceResult, error) {
	for _, req := range requests {
		if !e.dispatcher.Has(req.Name) {
			return nil, models.NewError(models.KindCommandNotFound, "unknown command %q", req.Name)
		}
	}

	if _, err := e.registry.Get(sessionID); err != nil {
		return nil, err
	}

	result := &models.SequenceResult{
		TotalCount: len(requests),
		ExecutedAt: e.now().UTC(),
	}

	for _, req := range requests {
		start := time.Now()
		value, err := e.step(sessionID, req)
		elapsed := float64(time.Since(start).Nanoseconds()) / 1e6

		if err != nil {
			classified := models.AsError(err)
			result.Results = append(result.Results, models.CommandResult{
				Status:     models.CommandError,
				DurationMs: elapsed,
				Message:    classified.Message,
				Kind:       classified.Kind,
			})
			result.Halted = true

			e.log.Warn("command failed, halting sequence",
				zap.String("session_id", sessionID),
				zap.String("command", req.Name),
				zap.String("kind", string(classified.Kind)))
			e.publish(sessionID, req.Name, models.CommandError, elapsed)

			if classified.Kind == models.KindExecution {
				// Unrecoverable: tear the session down rather than repair.
				e.registry.Abort(sessionID)
			}
			break
		}

		result.Results = append(result.Results, models.CommandResult{
			Status:     models.CommandSuccess,
			Value:      value,
			DurationMs: elapsed,
		})
		result.CompletedCount++
		e.publish(sessionID, req.Name, models.CommandSuccess, elapsed)
	}

	if !result.Halted {
		_ = e.registry.ResetActivity(sessionID)
	}

	return result, nil
}

// step resolves the target afresh for every command; a session torn down
// between steps surfaces as SessionNotFound rather than a use of a closed
// context.
func (e *Executor) step(sessionID string, req models.CommandRequest) (any, error) {
	target, err := e.registry.Target(sessionID)
	if err != nil {
		return nil, err
	}
	return e.dispatcher.Dispatch(target, req)
}

func (e *Executor) publish(sessionID, name string, status models.CommandStatus, durationMs float64) {
	e.events.Publish(events.Event{
		Type:      events.CommandExecuted,
		SessionID: sessionID,
		Data: map[string]any{
			"command":    name,
			"status":     string(status),
			"durationMs": durationMs,
		},
	})
}
