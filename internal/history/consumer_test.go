package history

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/outbox"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockProjection struct {
	mu         sync.RWMutex
	created    map[string]Entry
	cancelled  map[string]time.Time
	failNext   int
	createCall int
}

func newMockProjection() *MockProjection {
	return &MockProjection{created: map[string]Entry{}, cancelled: map[string]time.Time{}}
}

func (m *MockProjection) RecordCreated(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCall++
	if m.failNext > 0 {
		m.failNext--
		return errors.New("connection reset")
	}
	if _, ok := m.created[e.OrderID]; ok {
		return ErrDuplicateOrder
	}
	m.created[e.OrderID] = e
	return nil
}

func (m *MockProjection) MarkCancelled(_ context.Context, orderID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.created[orderID]; !ok {
		return ErrEntryNotFound
	}
	m.cancelled[orderID] = at
	return nil
}

func (m *MockProjection) Created() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.created)
}

type fakeReader struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) Committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func orderMessage(t *testing.T, offset int64, eventType string, order domain.Order) kafka.Message {
	payload, err := json.Marshal(order)
	require.NoError(t, err)
	return kafka.Message{
		Offset:  offset,
		Key:     []byte(order.ID),
		Value:   payload,
		Headers: []kafka.Header{{Key: outbox.HeaderEventType, Value: []byte(eventType)}},
		Time:    time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
	}
}

func testOrder(id string) domain.Order {
	return domain.Order{
		ID:     id,
		UserID: "u1",
		Lines: []domain.OrderLine{
			{ProductID: "p1", Quantity: 2, UnitPrice: decimal.NewFromInt(5), LineTotal: decimal.NewFromInt(10)},
			{ProductID: "p2", Quantity: 1, UnitPrice: decimal.NewFromInt(3), LineTotal: decimal.NewFromInt(3)},
		},
		Total:         decimal.NewFromInt(13),
		PaymentMethod: domain.PaymentCashOnDelivery,
		PaymentStatus: domain.PaymentStatusCashOnDelivery,
		CreatedAt:     time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestEntryFromOrder(t *testing.T) {
	e := EntryFromOrder(testOrder("o1"))
	assert.Equal(t, 3, e.ItemCount)
	assert.Equal(t, StatusPlaced, e.Status)
	assert.True(t, decimal.NewFromInt(13).Equal(e.Total))
	assert.Equal(t, string(domain.PaymentStatusCashOnDelivery), e.PaymentStatus)
}

func TestProcessMessage(t *testing.T) {
	repo := newMockProjection()
	c := &Consumer{repo: repo}
	ctx := context.Background()

	require.NoError(t, c.processMessage(ctx, orderMessage(t, 1, domain.EventOrderCreated, testOrder("o1"))))
	assert.Equal(t, 1, repo.Created())

	// Replays are absorbed
	require.NoError(t, c.processMessage(ctx, orderMessage(t, 1, domain.EventOrderCreated, testOrder("o1"))))
	assert.Equal(t, 1, repo.Created())

	require.NoError(t, c.processMessage(ctx, orderMessage(t, 2, domain.EventOrderCancelled, testOrder("o1"))))
	assert.Contains(t, repo.cancelled, "o1")

	// Unknown orders, unknown types and junk payloads are skipped
	assert.NoError(t, c.processMessage(ctx, orderMessage(t, 3, domain.EventOrderCancelled, testOrder("ghost"))))
	assert.NoError(t, c.processMessage(ctx, orderMessage(t, 4, "order.shipped", testOrder("o2"))))
	assert.NoError(t, c.processMessage(ctx, kafka.Message{Value: []byte("{not json")}))
	assert.Equal(t, 1, repo.Created())
}

func TestConsumer_RetriesThenCommits(t *testing.T) {
	repo := newMockProjection()
	repo.failNext = 2
	reader := &fakeReader{msgs: make(chan kafka.Message, 2)}
	c := &Consumer{repo: repo, reader: reader, retryInitial: time.Millisecond}

	reader.msgs <- orderMessage(t, 7, domain.EventOrderCreated, testOrder("o1"))
	reader.msgs <- orderMessage(t, 8, domain.EventOrderCreated, testOrder("o2"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(reader.Committed()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{7, 8}, reader.Committed())
	assert.Equal(t, 2, repo.Created())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}
