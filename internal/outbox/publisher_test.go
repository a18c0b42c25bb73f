package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/store"
	"github.com/pkg/errors"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
)

type MockWriter struct {
	mu       sync.RWMutex
	messages []kafkaGo.Message
	err      error
}

func (m *MockWriter) WriteMessages(_ context.Context, msgs ...kafkaGo.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msgs...)
	return nil
}

func (m *MockWriter) Close() error { return nil }

func (m *MockWriter) Messages() []kafkaGo.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]kafkaGo.Message(nil), m.messages...)
}

func seedOrder(t *testing.T, mem *store.MemoryStore, orderID string) {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"id": orderID})
	require.NoError(t, mem.PlaceOrder(context.Background(),
		domain.Order{ID: orderID, UserID: "u1"}, nil,
		domain.OutboxEvent{ID: "evt-" + orderID, Type: domain.EventOrderCreated, OrderID: orderID, Payload: payload, CreatedAt: time.Now()},
	))
}

func newTestPublisher(mem *store.MemoryStore, w messageWriter) *Publisher {
	return &Publisher{events: mem, writer: w, eventTick: 10 * time.Millisecond, batchSize: defaultBatchSize}
}

func TestPublisher_PublishesAndMarks(t *testing.T) {
	mem := store.NewMemoryStore()
	seedOrder(t, mem, "o1")
	seedOrder(t, mem, "o2")
	w := &MockWriter{}
	p := newTestPublisher(mem, w)

	n, err := p.publishPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	msgs := w.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "o1", string(msgs[0].Key))
	assert.Equal(t, HeaderEventType, msgs[0].Headers[0].Key)
	assert.Equal(t, domain.EventOrderCreated, string(msgs[0].Headers[0].Value))

	pending, _ := mem.FetchUnpublished(context.Background(), 10)
	assert.Empty(t, pending)

	n, err = p.publishPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPublisher_BrokerDownLeavesEventsPending(t *testing.T) {
	mem := store.NewMemoryStore()
	seedOrder(t, mem, "o1")
	w := &MockWriter{err: errors.New("broker unavailable")}
	p := newTestPublisher(mem, w)

	_, err := p.publishPending(context.Background())
	assert.Error(t, err)

	pending, _ := mem.FetchUnpublished(context.Background(), 10)
	assert.Len(t, pending, 1)

	// Recovers once the broker is back
	w.mu.Lock()
	w.err = nil
	w.mu.Unlock()
	n, err := p.publishPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPublisher_RunStopsOnCancel(t *testing.T) {
	mem := store.NewMemoryStore()
	seedOrder(t, mem, "o1")
	w := &MockWriter{}
	p := newTestPublisher(mem, w)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(w.Messages()) == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher did not stop")
	}
}

func setupKafka(t *testing.T) string {
	if testing.Short() {
		t.Skip("skipping Kafka integration test in short mode")
	}
	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	})

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers, "broker address should not be empty")
	return brokers[0]
}

func createTopic(t *testing.T, brokerAddr, topic string) {
	conn, err := kafkaGo.Dial("tcp", brokerAddr)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkaGo.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	require.NoError(t, err)
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafkaGo.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1})
	if err != nil {
		t.Logf("topic creation error (may already exist): %v", err)
	}
}

func TestPublisher_Kafka(t *testing.T) {
	broker := setupKafka(t)
	createTopic(t, broker, "order-events")

	mem := store.NewMemoryStore()
	seedOrder(t, mem, "o-kafka")
	p := NewPublisher(mem, "order-events", 100*time.Millisecond, broker)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	go p.Run(ctx)

	reader := kafkaGo.NewReader(kafkaGo.ReaderConfig{
		Brokers:  []string{broker},
		Topic:    "order-events",
		GroupID:  "publisher-test",
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	msg, err := reader.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "o-kafka", string(msg.Key))
	assert.JSONEq(t, `{"id":"o-kafka"}`, string(msg.Value))

	require.Eventually(t, func() bool {
		pending, _ := mem.FetchUnpublished(context.Background(), 10)
		return len(pending) == 0
	}, 5*time.Second, 50*time.Millisecond)
}
