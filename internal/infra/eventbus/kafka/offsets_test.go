package kafka

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/curation-progress/internal/domain/events"
	"github.com/ahrav/curation-progress/internal/infra/eventbus/serialization"
	"github.com/ahrav/curation-progress/pkg/common/logger"
)

func (s *fakeSession) markedOffsets() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.marked...)
}

func TestOffsetTrackerMarksContiguousPrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		offsets    []int64
		completeAt []int
		wantMarked []int64
		wantOpen   int
	}{
		{
			name:       "in order",
			offsets:    []int64{0, 1, 2},
			completeAt: []int{0, 1, 2},
			wantMarked: []int64{0, 1, 2},
		},
		{
			name:       "reverse order marks once at the end",
			offsets:    []int64{0, 1, 2},
			completeAt: []int{2, 1, 0},
			wantMarked: []int64{2},
		},
		{
			name:       "gap holds back later acks",
			offsets:    []int64{10, 11, 12, 13},
			completeAt: []int{1, 2, 3},
			wantMarked: nil,
			wantOpen:   4,
		},
		{
			name:       "non consecutive offsets after compaction",
			offsets:    []int64{3, 7, 9},
			completeAt: []int{0, 2, 1},
			wantMarked: []int64{3, 9},
		},
		{
			name:       "duplicate completion is ignored",
			offsets:    []int64{0, 1},
			completeAt: []int{0, 0, 1},
			wantMarked: []int64{0, 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sess := &fakeSession{ctx: context.Background()}
			tracker := newOffsetTracker(sess)
			var tracked []*trackedMessage
			for _, off := range tt.offsets {
				tracked = append(tracked, tracker.track(&sarama.ConsumerMessage{Offset: off}))
			}
			for _, i := range tt.completeAt {
				tracker.complete(tracked[i])
			}

			assert.Equal(t, tt.wantMarked, sess.markedOffsets())
			assert.Equal(t, tt.wantOpen, tracker.outstanding())
		})
	}
}

func TestOffsetTrackerIgnoresCompletionAfterClose(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{ctx: context.Background()}
	tracker := newOffsetTracker(sess)
	tm := tracker.track(&sarama.ConsumerMessage{Offset: 5})
	tracker.close()
	tracker.complete(tm)

	assert.Empty(t, sess.markedOffsets())
}

func TestConsumeClaimAsyncAcksMarkMonotonically(t *testing.T) {
	t.Parallel()

	const n = 50
	claim := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage, n)}
	for i := 0; i < n; i++ {
		u := sampleUpdate()
		b, err := serialization.SerializeEventEnvelope(events.EventTypeTaskProgressed, u)
		require.NoError(t, err)
		claim.msgs <- &sarama.ConsumerMessage{Topic: "task-progress", Key: []byte("t1"), Value: b, Offset: int64(i)}
	}

	var (
		mu   sync.Mutex
		acks []events.AckFunc
	)
	handler := &domainEventHandler{
		userHandler: func(_ context.Context, _ events.EventEnvelope, ack events.AckFunc) error {
			mu.Lock()
			acks = append(acks, ack)
			mu.Unlock()
			return nil
		},
		wanted:  map[events.EventType]struct{}{events.EventTypeTaskProgressed: {}},
		logger:  logger.Noop(),
		tracer:  noop.NewTracerProvider().Tracer("test"),
		metrics: permissiveMetrics(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &fakeSession{ctx: ctx}
	done := make(chan error, 1)
	go func() { done <- handler.ConsumeClaim(sess, claim) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(acks) == n
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	shuffled := append([]events.AckFunc(nil), acks...)
	mu.Unlock()
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	var wg sync.WaitGroup
	for _, ack := range shuffled {
		wg.Add(1)
		go func(ack events.AckFunc) {
			defer wg.Done()
			ack(nil)
		}(ack)
	}
	wg.Wait()

	cancel()
	require.NoError(t, <-done)

	marked := sess.markedOffsets()
	require.NotEmpty(t, marked)
	for i := 1; i < len(marked); i++ {
		assert.Greater(t, marked[i], marked[i-1], "marks must only move forward")
	}
	assert.Equal(t, int64(n-1), marked[len(marked)-1])
}

func TestConsumeClaimFailedAckHoldsBackMark(t *testing.T) {
	t.Parallel()

	claim := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage, 3)}
	for i := 0; i < 3; i++ {
		b, err := serialization.SerializeEventEnvelope(events.EventTypeTaskProgressed, sampleUpdate())
		require.NoError(t, err)
		claim.msgs <- &sarama.ConsumerMessage{Topic: "task-progress", Value: b, Offset: int64(i)}
	}
	close(claim.msgs)

	var seen int
	handler := &domainEventHandler{
		userHandler: func(_ context.Context, _ events.EventEnvelope, ack events.AckFunc) error {
			defer func() { seen++ }()
			if seen == 1 {
				ack(assert.AnError)
				return nil
			}
			ack(nil)
			return nil
		},
		wanted:  map[events.EventType]struct{}{events.EventTypeTaskProgressed: {}},
		logger:  logger.Noop(),
		tracer:  noop.NewTracerProvider().Tracer("test"),
		metrics: permissiveMetrics(),
	}

	sess := &fakeSession{ctx: context.Background()}
	require.NoError(t, handler.ConsumeClaim(sess, claim))

	assert.Equal(t, []int64{0}, sess.markedOffsets())
}
