package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jmconsultingid/korapay-bridge/internal/korapay"
	"github.com/jmconsultingid/korapay-bridge/internal/lock"
	"github.com/jmconsultingid/korapay-bridge/internal/obs"
	"github.com/jmconsultingid/korapay-bridge/internal/order"
	"github.com/jmconsultingid/korapay-bridge/internal/reconcile"
)

func TestMain(m *testing.M) {
	obs.MustRegisterDomainMetrics("korabridge", prometheus.NewRegistry())
	m.Run()
}

type stubStore struct {
	orders   map[int64]order.Order
	markPaid int
	notes    []string
	metadata map[string]any
	failWith error
}

func newStubStore(orders ...order.Order) *stubStore {
	s := &stubStore{orders: make(map[int64]order.Order), metadata: make(map[string]any)}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func (s *stubStore) Get(_ context.Context, id int64) (order.Order, error) {
	if s.failWith != nil {
		return order.Order{}, s.failWith
	}
	o, ok := s.orders[id]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	return o, nil
}

func (s *stubStore) MarkPaid(_ context.Context, id int64, note string) error {
	o, ok := s.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	if o.Status == order.StatusCompleted {
		return nil
	}
	s.markPaid++
	s.notes = append(s.notes, note)
	o.Status = order.StatusCompleted
	s.orders[id] = o
	return nil
}

func (s *stubStore) SetStatus(_ context.Context, id int64, status order.Status, note string) error {
	o, ok := s.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	o.Status = status
	s.orders[id] = o
	s.notes = append(s.notes, note)
	return nil
}

func (s *stubStore) AttachMetadata(_ context.Context, id int64, key string, value any) error {
	if _, ok := s.orders[id]; !ok {
		return order.ErrNotFound
	}
	s.metadata[key] = value
	return nil
}

type noopLock struct{}

func (noopLock) WithLock(ctx context.Context, _ string, _ time.Duration, fn func(context.Context) error) error {
	return fn(ctx)
}

func onHoldOrder() order.Order {
	return order.Order{
		ID:       42,
		Status:   order.StatusOnHold,
		Total:    decimal.RequireFromString("5000.00"),
		Currency: "NGN",
	}
}

func newReconciler(store *stubStore) *reconcile.Reconciler {
	return &reconcile.Reconciler{Store: store, Locker: noopLock{}}
}

func parse(t *testing.T, body string) korapay.Notification {
	t.Helper()
	n, err := korapay.ParseNotification([]byte(body))
	require.NoError(t, err)
	return n
}

const successBody = `{"event":"charge.success","data":{"reference":"ORD-42","status":"success","amount":5000.00,"currency":"NGN","metadata":{"order_id":"42","total_order":5000.00}}}`

func TestProcessMarksOrderPaid(t *testing.T) {
	store := newStubStore(onHoldOrder())

	outcome, err := newReconciler(store).Process(context.Background(), parse(t, successBody))
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeCompleted, outcome)
	require.Equal(t, order.StatusCompleted, store.orders[42].Status)
	require.Equal(t, 1, store.markPaid)
	require.Contains(t, store.notes[0], "ORD-42")
}

func TestProcessIsIdempotent(t *testing.T) {
	store := newStubStore(onHoldOrder())
	r := newReconciler(store)
	n := parse(t, successBody)

	for i := 0; i < 2; i++ {
		outcome, err := r.Process(context.Background(), n)
		require.NoError(t, err)
		require.Equal(t, reconcile.OutcomeCompleted, outcome)
	}
	require.Equal(t, 1, store.markPaid)
}

func TestProcessCompletesWithSparseMetadata(t *testing.T) {
	// Notification carrying only the echoed total: the reference alone must
	// resolve and complete the order.
	store := newStubStore(onHoldOrder())
	n := parse(t, `{"event":"charge.success","data":{"reference":"ORD-42","status":"success","metadata":{"total_order":5000.00}}}`)

	outcome, err := newReconciler(store).Process(context.Background(), n)
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeCompleted, outcome)
	require.Equal(t, order.StatusCompleted, store.orders[42].Status)
	require.Equal(t, 1, store.markPaid)
}

func TestProcessDeclinedResetsToPending(t *testing.T) {
	store := newStubStore(onHoldOrder())
	n := parse(t, `{"event":"charge.success","data":{"reference":"ORD-42","status":"declined","amount":5000.00,"currency":"NGN","metadata":{"order_id":"42","total_order":5000.00}}}`)

	outcome, err := newReconciler(store).Process(context.Background(), n)
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeReset, outcome)
	require.Equal(t, order.StatusPending, store.orders[42].Status)
	require.Zero(t, store.markPaid)
	require.Equal(t, "declined", store.metadata["korapay_last_status"])
}

func TestProcessUnknownOrder(t *testing.T) {
	store := newStubStore()

	outcome, err := newReconciler(store).Process(context.Background(), parse(t, successBody))
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeOrderNotFound, outcome)
	require.Zero(t, store.markPaid)
	require.Empty(t, store.notes)
}

func TestProcessUnresolvableReference(t *testing.T) {
	store := newStubStore(onHoldOrder())
	n := parse(t, `{"event":"charge.success","data":{"reference":"ORD-abc","status":"success","amount":5000.00,"currency":"NGN","metadata":{"order_id":"42","total_order":5000.00}}}`)

	outcome, err := newReconciler(store).Process(context.Background(), n)
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeUnresolvableReference, outcome)
	require.Equal(t, order.StatusOnHold, store.orders[42].Status)
}

func TestProcessValidationFailure(t *testing.T) {
	store := newStubStore(onHoldOrder())
	n := parse(t, `{"event":"charge.success","data":{"reference":"ORD-42","status":"success","amount":4000.00,"currency":"NGN","metadata":{"order_id":"42","total_order":4000.00}}}`)

	outcome, err := newReconciler(store).Process(context.Background(), n)
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeValidationFailed, outcome)
	require.Equal(t, order.StatusOnHold, store.orders[42].Status)
	require.Zero(t, store.markPaid)
	require.NotEmpty(t, store.metadata["korapay_validation_failure"])
}

func TestProcessIgnoresOtherEvents(t *testing.T) {
	store := newStubStore(onHoldOrder())
	n := parse(t, `{"event":"transfer.success","data":{"reference":"ORD-42","status":"success"}}`)

	outcome, err := newReconciler(store).Process(context.Background(), n)
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeIgnored, outcome)
	require.Equal(t, order.StatusOnHold, store.orders[42].Status)
}

func TestProcessHoldsOrderLock(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newStubStore(onHoldOrder())
	r := &reconcile.Reconciler{
		Store:   store,
		Locker:  lock.Locker{R: client},
		LockTTL: time.Second,
	}

	outcome, err := r.Process(context.Background(), parse(t, successBody))
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeCompleted, outcome)
	// lock released after processing
	require.False(t, srv.Exists(lock.OrderKey(42)))
}
