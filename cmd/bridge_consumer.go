package cmd

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/voicebridge/internal/bus"
	"github.com/nextlevelbuilder/voicebridge/internal/delivery"
	"github.com/nextlevelbuilder/voicebridge/internal/scheduler"
)

// BusyText answers a request that was queued behind a running one.
const BusyText = "⚠️ I’m still working on your previous request—I’ll handle this one next."

const busyNoticeTimeout = 10 * time.Second

// submitter is the part of the supervisor the consumer needs.
type submitter interface {
	Submit(key scheduler.Key, req scheduler.Request) scheduler.Outcome
}

// busyNotifier sends each busy notice on its own goroutine; the dispatch
// loop never waits on the send limiter.
type busyNotifier struct {
	out delivery.Transport
	wg  sync.WaitGroup
}

func newBusyNotifier(out delivery.Transport) *busyNotifier {
	return &busyNotifier{out: out}
}

func (n *busyNotifier) notify(ctx context.Context, msg bus.InboundMessage) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		nctx, cancel := context.WithTimeout(ctx, busyNoticeTimeout)
		defer cancel()
		if _, err := n.out.SendText(nctx, msg.ChatID, BusyText, msg.MessageID); err != nil {
			slog.Warn("inbound: busy notice failed", "chat_id", msg.ChatID, "error", err)
		}
	}()
}

// wait blocks until every notice in flight has been sent or has failed.
func (n *busyNotifier) wait() { n.wg.Wait() }

// consumeInbound feeds inbound messages to the scheduler until ctx ends or
// the bus closes.
func consumeInbound(ctx context.Context, router bus.MessageRouter, sup submitter, out delivery.Transport) {
	slog.Info("inbound message consumer started")
	notices := newBusyNotifier(out)
	defer notices.wait()
	for {
		msg, ok := router.ConsumeInbound(ctx)
		if !ok {
			slog.Info("inbound message consumer stopped")
			return
		}
		dispatchInbound(ctx, msg, sup, notices)
	}
}

// dispatchInbound submits one message keyed by chat and sender. A queued
// request gets a busy notice as a reply to the message that triggered it.
func dispatchInbound(ctx context.Context, msg bus.InboundMessage, sup submitter, notices *busyNotifier) scheduler.Outcome {
	key := scheduler.Key{ChatID: msg.ChatID, SenderID: msg.SenderID}
	outcome := sup.Submit(key, scheduler.Request{
		Text:       msg.Content,
		TriggerID:  msg.MessageID,
		EnqueuedAt: time.Now(),
	})
	slog.Debug("inbound: submitted", "key", key, "kind", msg.Kind, "outcome", outcome)

	switch outcome {
	case scheduler.Queued:
		notices.notify(ctx, msg)
	case scheduler.Rejected:
		slog.Warn("inbound: dropped, scheduler is shutting down", "chat_id", msg.ChatID, "sender_id", msg.SenderID)
	}
	return outcome
}
