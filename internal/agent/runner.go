// Package agent executes one scheduled request end to end: placeholder,
// progress reporting, engine call on the worker pool, and delivery.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nextlevelbuilder/voicebridge/internal/delivery"
	"github.com/nextlevelbuilder/voicebridge/internal/scheduler"
	"github.com/nextlevelbuilder/voicebridge/internal/status"
)

const (
	PlaceholderText = "⏳ Working on it…"
	CancelledText   = "⚠️ Previous request cancelled."

	noticeTimeout = 10 * time.Second
)

var tracer = otel.Tracer("github.com/nextlevelbuilder/voicebridge/internal/agent")

// ProgressFunc receives intermediate engine output.
type ProgressFunc = func(stage string, output any)

// Engine produces an answer for prompt text. It may call progress any
// number of times before returning and must honour ctx cancellation.
type Engine interface {
	Run(ctx context.Context, text string, progress ProgressFunc) (string, error)
}

// RunnerConfig tunes a Runner.
type RunnerConfig struct {
	// StatusInterval is the minimum spacing of placeholder progress edits.
	StatusInterval time.Duration
}

// Runner is the scheduler.RunFunc for chat requests.
type Runner struct {
	engine    Engine
	transport delivery.Transport
	pipeline  *delivery.Pipeline
	pool      *scheduler.Pool
	cfg       RunnerConfig
}

func NewRunner(engine Engine, transport delivery.Transport, pipeline *delivery.Pipeline, pool *scheduler.Pool, cfg RunnerConfig) *Runner {
	if pool == nil {
		pool = scheduler.NewPool(scheduler.DefaultWorkers)
	}
	return &Runner{engine: engine, transport: transport, pipeline: pipeline, pool: pool, cfg: cfg}
}

// Run executes task. Every failure produces exactly one message to the chat:
// a cancellation notice in the placeholder, or an error reply to the trigger.
func (r *Runner) Run(ctx context.Context, task *scheduler.Task) error {
	chatID := task.Key.ChatID
	triggerID := task.Request.TriggerID

	placeholderID, err := r.transport.SendText(ctx, chatID, PlaceholderText, triggerID)
	if err != nil {
		if delivery.IsCancelled(err) {
			return err
		}
		err = &delivery.Error{Op: "send placeholder", Err: err}
		r.reportFailure(ctx, chatID, triggerID, err)
		return err
	}
	target := delivery.Target{ChatID: chatID, PlaceholderID: placeholderID, TriggerID: triggerID}

	reporter := status.NewReporter(chatID, r.cfg.StatusInterval, func(ctx context.Context, text string) error {
		return r.transport.EditText(ctx, chatID, placeholderID, text)
	})

	answer, err := r.execute(ctx, task, reporter)
	reporter.Stop()
	if err != nil {
		return r.finishWithError(ctx, target, err)
	}

	dctx, span := tracer.Start(ctx, "delivery.deliver")
	state, err := r.pipeline.Deliver(dctx, target, answer)
	span.SetAttributes(attribute.String("state", state.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	if err != nil {
		return r.finishWithError(ctx, target, err)
	}

	slog.Info("agent: reply delivered", "chat_id", chatID, "task_id", task.ID, "state", state, "elapsed", time.Since(task.StartedAt))
	return nil
}

func (r *Runner) execute(ctx context.Context, task *scheduler.Task, reporter *status.Reporter) (string, error) {
	ctx, span := tracer.Start(ctx, "agent.engine")
	defer span.End()

	answer, err := scheduler.Do(ctx, r.pool, func(ctx context.Context) (string, error) {
		return r.engine.Run(ctx, task.Request.Text, reporter.Record)
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !delivery.IsCancelled(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", &delivery.ExecutionError{Err: err}
		}
		return "", err
	}
	answer = Sanitize(answer)
	span.SetAttributes(attribute.Int("answer_len", len(answer)))
	return answer, nil
}

// finishWithError routes err to the cancellation notice or the failure reply.
func (r *Runner) finishWithError(ctx context.Context, target delivery.Target, err error) error {
	if delivery.IsCancelled(err) || ctx.Err() != nil {
		r.notifyCancelled(ctx, target, err)
		return err
	}
	r.reportFailure(ctx, target.ChatID, target.TriggerID, err)
	return err
}

// notifyCancelled puts the notice in the placeholder while it still shows
// progress. After the answer has taken its place the notice is a reply to
// the trigger instead.
func (r *Runner) notifyCancelled(ctx context.Context, target delivery.Target, cause error) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), noticeTimeout)
	defer cancel()

	var de *delivery.Error
	if errors.As(cause, &de) && de.Replaced {
		if _, err := r.transport.SendText(nctx, target.ChatID, CancelledText, target.TriggerID); err != nil {
			slog.Debug("agent: cancellation notice failed", "chat_id", target.ChatID, "error", err)
		}
		return
	}
	if err := r.transport.EditText(nctx, target.ChatID, target.PlaceholderID, CancelledText); err != nil {
		slog.Debug("agent: cancellation notice failed", "chat_id", target.ChatID, "error", err)
	}
}

func (r *Runner) reportFailure(ctx context.Context, chatID int64, triggerID int, err error) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), noticeTimeout)
	defer cancel()
	if _, sendErr := r.transport.SendText(nctx, chatID, delivery.FormatFailure(err), triggerID); sendErr != nil {
		slog.Warn("agent: failure notice not delivered", "chat_id", chatID, "error", err, "send_error", sendErr)
	}
}
