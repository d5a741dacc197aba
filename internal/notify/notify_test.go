package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/hackgods/dna-testing-scheduling/internal/metrics"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingNotifier) Notify(ctx context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func TestDispatcherDeliversAsync(t *testing.T) {
	rec := &recordingNotifier{}
	d := NewDispatcher(rec, 0, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	d.Dispatch(ctx, Event{Type: EventDepositReceived, CustomerID: uuid.New(), Amount: 150000})
	cancel()
	d.Wait()

	assert.Len(t, rec.events, 1, "cancelling the caller's context does not drop the event")
}

func TestDispatcherSwallowsFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	d := NewDispatcher(&recordingNotifier{err: errors.New("smtp down")}, 0, m, zerolog.Nop())

	d.Dispatch(context.Background(), Event{Type: EventResultsReady, CustomerID: uuid.New()})
	d.Wait()

	assert.Equal(t, 1, testutil.CollectAndCount(reg, "dna_notify_messages_total"))
}

func TestNilDispatcherIsNoop(t *testing.T) {
	var d *Dispatcher
	d.Dispatch(context.Background(), Event{Type: EventResultsReady})
	d.Wait()
}

func TestNewSendGridNotifierNilWithoutKey(t *testing.T) {
	assert.Nil(t, NewSendGridNotifier(SendGridConfig{FromEmail: "a@b.c"}, nil, zerolog.Nop()))
}

func TestRenderIncludesCheckoutLink(t *testing.T) {
	id := uuid.New()
	subject, body := Render(Event{Type: EventBalanceDue, AppointmentID: &id, Amount: 350000, CheckoutURL: "https://pay.example/abc"})
	assert.Equal(t, "Remaining balance due", subject)
	assert.Contains(t, body, "350000")
	assert.Contains(t, body, "https://pay.example/abc")
}
