package pub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"ledger-service/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRedisPublisher_Publish(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, LedgerEventsChannel)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	p := NewRedisPublisher(rdb, zaptest.NewLogger(t))
	posting := &domain.Posting{ID: "pst_1", AccountID: "acc_1", Seq: 1, Amount: 5000, Kind: domain.PostingDeposit}
	require.NoError(t, p.Publish(ctx, PostingCommitted("user-1", posting)))

	select {
	case msg := <-sub.Channel():
		var got Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, EventPostingCommitted, got.EventType)
		assert.Equal(t, "acc_1", got.AccountID)
		require.NotNil(t, got.Posting)
		assert.Equal(t, int64(5000), got.Posting.Amount)
		assert.False(t, got.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("event not received")
	}
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_KeysByAccount(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisher(w, zaptest.NewLogger(t))

	tr := &domain.Transfer{ID: "trf_1", FromAccountID: "acc_a", ToAccountID: "acc_b", Amount: 100, Status: domain.TransferCompleted}
	require.NoError(t, p.Publish(context.Background(), TransferResolved(tr)))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "acc_a", string(w.msgs[0].Key))
	assert.Equal(t, "event_type", w.msgs[0].Headers[0].Key)
	assert.Equal(t, EventTransferCompleted, string(w.msgs[0].Headers[0].Value))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_WrapsWriteError(t *testing.T) {
	boom := errors.New("broker down")
	p := NewKafkaPublisher(&fakeWriter{err: boom}, zaptest.NewLogger(t))

	err := p.Publish(context.Background(), &Event{EventType: EventCardUpdated})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestTransferResolved_FailedType(t *testing.T) {
	tr := &domain.Transfer{FromAccountID: "acc_a"}
	tr.Fail(domain.Aborted("", "abandoned"), time.Now())

	ev := TransferResolved(tr)
	assert.Equal(t, EventTransferFailed, ev.EventType)
	assert.Equal(t, "acc_a", ev.Key())
}
