// Package feed maintains the subscription to the shared event channel and
// hands parsed envelopes to the router.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Kitiphol/TokTik/internal/logging"
	"github.com/Kitiphol/TokTik/internal/metrics"
	"github.com/Kitiphol/TokTik/internal/relay"
)

// EnvelopeRouter receives every successfully parsed envelope, in the order
// the feed delivered it.
type EnvelopeRouter interface {
	Route(envelope relay.Envelope)
}

// Listener subscribes to one named Pub/Sub channel and forwards envelopes to
// the router synchronously. A malformed message is dropped and logged;
// the subscription itself keeps running.
type Listener struct {
	sub     *goredis.PubSub
	router  EnvelopeRouter
	channel string
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewListener subscribes to channel and starts the message loop.
// Call Close to unsubscribe and stop the loop.
func NewListener(ctx context.Context, client *goredis.Client, channel string, router EnvelopeRouter) *Listener {
	loopCtx, cancel := context.WithCancel(ctx)
	l := &Listener{
		sub:     client.Subscribe(loopCtx, channel),
		router:  router,
		channel: channel,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go l.run(loopCtx)
	slog.Info("Feed listener subscribed", "channel", channel)
	return l
}

func (l *Listener) run(ctx context.Context) {
	defer close(l.done)
	msgCh := l.sub.Channel()
	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			l.handleMessage(ctx, msg.Payload)
		case <-ctx.Done():
			return
		}
	}
}

func (l *Listener) handleMessage(ctx context.Context, payload string) {
	metrics.FeedMessages.Inc()
	ctx = logging.WithCorrelationID(ctx, logging.NewCorrelationID())

	var envelope relay.Envelope
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		metrics.FeedParseFailures.Inc()
		slog.ErrorContext(ctx, "Failed to parse feed message, dropping", "channel", l.channel, "error", err)
		return
	}

	l.router.Route(envelope)
}

// Close unsubscribes and stops the message loop, waiting for any in-flight
// routing to finish.
func (l *Listener) Close() {
	l.cancel()
	_ = l.sub.Close()
	<-l.done
}
