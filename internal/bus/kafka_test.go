package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaxa2505/fudly-bot-sub003/internal/scope"
)

type capturedMsg struct {
	key     []byte
	value   []byte
	headers []kafkago.Header
}

// memProducer captures publishes instead of writing to a broker.
type memProducer struct {
	mu   sync.Mutex
	msgs []capturedMsg
}

func (p *memProducer) Start(context.Context) {}

func (p *memProducer) Publish(key, value []byte, headers ...kafkago.Header) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, capturedMsg{key: key, value: value, headers: headers})
}

func (p *memProducer) Close()      {}
func (p *memProducer) WaitClosed() {}

func (p *memProducer) captured() []capturedMsg {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]capturedMsg(nil), p.msgs...)
}

func newTestKafkaBus(t *testing.T) (*KafkaBus, *memProducer) {
	t.Helper()
	// no broker client: the producer is a capture fake and these tests
	// drive the consume path through handle directly
	prod := &memProducer{}
	b := &KafkaBus{
		tab:      newTable(),
		prod:     prod,
		degraded: func(string, error) {},
	}
	t.Cleanup(func() { b.tab.closeAll() })
	return b, prod
}

// An event consumed off the broker reaches the local subscribers of its
// scope, which is how a publish on another instance lands here.
func TestKafkaBusConsumeDeliversToLocalSubscribers(t *testing.T) {
	b, _ := newTestKafkaBus(t)
	sc := scope.Order("o-1")

	ch, err := b.Subscribe(context.Background(), sc, "conn-b")
	require.NoError(t, err)

	wire, err := json.Marshal(Event{
		ID:         "ev-from-instance-a",
		Scope:      sc,
		Kind:       KindStateChanged,
		OccurredAt: time.Now().UTC(),
		Producer:   "instance-a",
		Payload:    json.RawMessage(`{"to":"CONFIRMED"}`),
	})
	require.NoError(t, err)

	require.NoError(t, b.handle(context.Background(), kafkago.Message{Key: sc.Key(), Value: wire, Offset: 6}))

	got := <-ch
	assert.Equal(t, "ev-from-instance-a", got.ID)
	assert.Equal(t, uint64(7), got.Seq)
	assert.Equal(t, "instance-a", got.Producer)
}

// Seq follows the partition offset the broker fixed, never whatever a
// publisher put on the wire: two instances whose publishes land in the
// opposite order of their counter grants still deliver non-decreasing.
func TestKafkaBusSeqFollowsBrokerOrder(t *testing.T) {
	b, _ := newTestKafkaBus(t)
	sc := scope.Store("s-1")

	ch, err := b.Subscribe(context.Background(), sc, "conn-1")
	require.NoError(t, err)

	// instance B's event wrote first despite carrying the later
	// publish-side number
	first, _ := json.Marshal(Event{ID: "ev-b", Scope: sc, Kind: KindStateChanged, Seq: 999})
	second, _ := json.Marshal(Event{ID: "ev-a", Scope: sc, Kind: KindStateChanged, Seq: 1})
	require.NoError(t, b.handle(context.Background(), kafkago.Message{Value: first, Offset: 41}))
	require.NoError(t, b.handle(context.Background(), kafkago.Message{Value: second, Offset: 42}))

	gotB := <-ch
	gotA := <-ch
	assert.Equal(t, "ev-b", gotB.ID)
	assert.Equal(t, uint64(42), gotB.Seq)
	assert.Equal(t, "ev-a", gotA.ID)
	assert.Equal(t, uint64(43), gotA.Seq)
	assert.Greater(t, gotA.Seq, gotB.Seq)
}

func TestKafkaBusConsumeFiltersByScope(t *testing.T) {
	b, _ := newTestKafkaBus(t)

	ch, err := b.Subscribe(context.Background(), scope.Store("s-1"), "conn-b")
	require.NoError(t, err)

	wire, _ := json.Marshal(Event{ID: "ev-1", Scope: scope.Store("s-2"), Kind: KindStateChanged})
	require.NoError(t, b.handle(context.Background(), kafkago.Message{Value: wire}))

	select {
	case e := <-ch:
		t.Fatalf("subscriber of another scope received %q", e.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

// Garbage on the topic must not wedge the consumer: it is dropped and
// the offset committed.
func TestKafkaBusConsumeSkipsGarbage(t *testing.T) {
	b, _ := newTestKafkaBus(t)
	assert.NoError(t, b.handle(context.Background(), kafkago.Message{Value: []byte("{nope")}))
}

func TestKafkaBusPublishKeysByScope(t *testing.T) {
	b, prod := newTestKafkaBus(t)
	sc := scope.Order("o-9")

	require.NoError(t, b.Publish(context.Background(), Event{
		ID:      "ev-1",
		Scope:   sc,
		Kind:    KindStateChanged,
		Payload: json.RawMessage(`{"to":"READY"}`),
	}))

	msgs := prod.captured()
	require.Len(t, msgs, 1)
	assert.Equal(t, sc.Key(), msgs[0].key, "partition key must be the scope key")

	var onWire Event
	require.NoError(t, json.Unmarshal(msgs[0].value, &onWire))
	assert.Equal(t, "ev-1", onWire.ID)
	assert.Equal(t, sc, onWire.Scope)
	assert.Zero(t, onWire.Seq, "seq is assigned on consume, not on the wire")

	require.Len(t, msgs[0].headers, 1)
	assert.Equal(t, "x-event-kind", msgs[0].headers[0].Key)
	assert.Equal(t, KindStateChanged, string(msgs[0].headers[0].Value))
}

func TestKafkaBusPublishAfterClose(t *testing.T) {
	b, prod := newTestKafkaBus(t)
	b.Close()
	assert.ErrorIs(t, b.Publish(context.Background(), Event{Scope: scope.Order("o-1")}), ErrBusClosed)
	assert.Empty(t, prod.captured())
}

func TestKafkaBusProducerErrorSignalsDegraded(t *testing.T) {
	var reason string
	var got error
	b, _ := newTestKafkaBus(t)
	b.degraded = func(r string, err error) { reason, got = r, err }

	boom := errors.New("broker gone")
	b.publishFailed(boom)

	assert.Equal(t, "publish_failed", reason)
	assert.ErrorIs(t, got, boom)
}

// A bus that was built but never Run must still close promptly: there
// is no flush loop to wait for.
func TestKafkaBusCloseWithoutRun(t *testing.T) {
	b := NewKafkaBus(KafkaBusConfig{
		Brokers: []string{"127.0.0.1:9092"},
		Topic:   "t",
		GroupID: "g",
	})
	done := make(chan struct{})
	go func() {
		b.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked waiting for a flush loop that never started")
	}
}

// The publish-only bus runs the producer without a consumer and stops
// on context cancel.
func TestKafkaPublisherRunStopsOnCancel(t *testing.T) {
	b := NewKafkaPublisher(KafkaBusConfig{
		Brokers: []string{"127.0.0.1:9092"},
		Topic:   "t",
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	b.Close()
}
