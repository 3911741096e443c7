package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hazard-alert-service/internal/logging"
	"hazard-alert-service/internal/models"
)

type fakeReader struct {
	mu        sync.Mutex
	messages  chan kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.messages:
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

func (r *fakeReader) offsets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type sinkFunc func(ctx context.Context, sig models.Signal) error

func (f sinkFunc) SubmitSignal(ctx context.Context, sig models.Signal) error { return f(ctx, sig) }

func TestDecode(t *testing.T) {
	sig, err := decode([]byte(`{"parameter_kind":"seismic","zone_id":"zone_1","value":4.2,"observed_at":"2025-01-06T09:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, "zone_1/seismic", sig.Key())
	assert.Equal(t, 4.2, sig.Value)
	assert.Equal(t, time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC), sig.ObservedAt)

	_, err = decode([]byte(`{"parameter_kind":"seismic","zone_id":"zone_1","value":0,"observed_at":"2025-01-06T09:00:00Z"}`))
	assert.NoError(t, err, "zero is a valid reading")

	for _, bad := range []string{
		`not json`,
		`{"parameter_kind":"seismic","zone_id":"zone_1","observed_at":"2025-01-06T09:00:00Z"}`,
		`{"zone_id":"zone_1","value":1,"observed_at":"2025-01-06T09:00:00Z"}`,
		`{"parameter_kind":"seismic","zone_id":"zone_1","value":1}`,
	} {
		_, err := decode([]byte(bad))
		assert.Error(t, err, bad)
	}
}

func TestConsumerCommitsAcceptedAndMalformedMessages(t *testing.T) {
	r := &fakeReader{messages: make(chan kafka.Message, 3)}
	var mu sync.Mutex
	var got []models.Signal
	sink := sinkFunc(func(_ context.Context, sig models.Signal) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, sig)
		if sig.ZoneID == "zone_2" {
			return errors.New("queue closed")
		}
		return nil
	})
	c := &Consumer{reader: r, sink: sink, logger: logging.Discard()}

	r.messages <- kafka.Message{Offset: 1, Value: []byte(`{"parameter_kind":"seismic","zone_id":"zone_1","value":4.2,"observed_at":"2025-01-06T09:00:00Z"}`)}
	r.messages <- kafka.Message{Offset: 2, Value: []byte(`garbage`)}
	r.messages <- kafka.Message{Offset: 3, Value: []byte(`{"parameter_kind":"seismic","zone_id":"zone_2","value":4.2,"observed_at":"2025-01-06T09:00:00Z"}`)}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	c.Start(ctx, &wg)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	wg.Wait()

	assert.Equal(t, []int64{1, 2}, r.offsets(), "rejected signals stay uncommitted")
}
