package consumer_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lenmanean/logbloga/common/logger"
	"github.com/lenmanean/logbloga/consumer"
	aws_pkg "github.com/lenmanean/logbloga/pkg/aws"
	"github.com/lenmanean/logbloga/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v80"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingProcessor struct {
	mu         sync.Mutex
	events     []stripe.Event
	requestIDs []string
	err        error
}

func (p *recordingProcessor) Process(ctx context.Context, event stripe.Event) (*services.ProcessResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	p.requestIDs = append(p.requestIDs, logger.RequestID(ctx))
	if p.err != nil {
		return nil, p.err
	}
	return &services.ProcessResult{EventID: event.ID}, nil
}

func (p *recordingProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

const rawEvent = `{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","object":"payment_intent"}}}`

func snsWrapped(t *testing.T, msg string) string {
	t.Helper()
	b, err := json.Marshal(map[string]string{"Type": "Notification", "Message": msg})
	require.NoError(t, err)
	return string(b)
}

func eventBridgeWrapped(t *testing.T) string {
	t.Helper()
	b, err := json.Marshal(map[string]interface{}{
		"version":     "0",
		"detail-type": "payment_intent.succeeded",
		"source":      "aws.partner/stripe.com/ed_test",
		"detail":      json.RawMessage(rawEvent),
	})
	require.NoError(t, err)
	return string(b)
}

func TestHandleMessage_Envelopes(t *testing.T) {
	tests := []struct {
		name string
		body func(t *testing.T) string
	}{
		{"bare event", func(*testing.T) string { return rawEvent }},
		{"eventbridge", eventBridgeWrapped},
		{"sns", func(t *testing.T) string { return snsWrapped(t, rawEvent) }},
		{"sns around eventbridge", func(t *testing.T) string { return snsWrapped(t, eventBridgeWrapped(t)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &recordingProcessor{}
			c := consumer.NewStripeEventConsumer(nil, proc, zap.NewNop())

			require.NoError(t, c.HandleMessage(context.Background(), tt.body(t)))
			require.Len(t, proc.events, 1)
			assert.Equal(t, "evt_1", proc.events[0].ID)
			assert.Equal(t, stripe.EventTypePaymentIntentSucceeded, proc.events[0].Type)
			assert.JSONEq(t, `{"id":"pi_1","object":"payment_intent"}`, string(proc.events[0].Data.Raw))
			assert.Equal(t, "sqs-evt_1", proc.requestIDs[0])
		})
	}
}

func TestHandleMessage_DropsGarbage(t *testing.T) {
	proc := &recordingProcessor{}
	c := consumer.NewStripeEventConsumer(nil, proc, zap.NewNop())

	assert.NoError(t, c.HandleMessage(context.Background(), "not json"))
	assert.NoError(t, c.HandleMessage(context.Background(), `{"hello":"world"}`))
	assert.Empty(t, proc.events)
}

func TestHandleMessage_ProcessingErrorKeepsMessage(t *testing.T) {
	proc := &recordingProcessor{err: errors.New("db down")}
	c := consumer.NewStripeEventConsumer(nil, proc, zap.NewNop())

	assert.EqualError(t, c.HandleMessage(context.Background(), rawEvent), "db down")
}

type fakePoller struct{ bodies []string }

func (p *fakePoller) StartPolling(ctx context.Context, handler aws_pkg.MessageHandler) error {
	for _, b := range p.bodies {
		_ = handler(ctx, b)
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestStart_RunsUntilCancelled(t *testing.T) {
	proc := &recordingProcessor{}
	poller := &fakePoller{bodies: []string{rawEvent, snsWrapped(t, rawEvent)}}
	c := consumer.NewStripeEventConsumer(poller, proc, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return proc.count() == 2 }, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}
