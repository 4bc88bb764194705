package eventbus

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBus_PublishDeliversToSubscriberOfMatchingKind(t *testing.T) {
	bus := New(8, testLogger())

	received := make(chan Event, 1)
	unsub := bus.Subscribe(KindSelectorResolved, SubscriberFunc(func(e Event) {
		received <- e
	}))
	defer unsub()

	bus.Publish(Event{Kind: KindSelectorResolved, JobID: "job-1"})

	select {
	case e := <-received:
		assert.Equal(t, "job-1", e.JobID)
		assert.False(t, e.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_PublishDoesNotDeliverToOtherKinds(t *testing.T) {
	bus := New(8, testLogger())

	received := make(chan Event, 1)
	unsub := bus.Subscribe(KindSelectorFailed, SubscriberFunc(func(e Event) { received <- e }))
	defer unsub()

	bus.Publish(Event{Kind: KindSelectorResolved})

	select {
	case <-received:
		t.Fatal("subscriber should not have received an event of a different kind")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_Unsubscribe_StopsFutureDelivery(t *testing.T) {
	bus := New(8, testLogger())

	var mu sync.Mutex
	count := 0
	unsub := bus.Subscribe(KindAbortEvent, SubscriberFunc(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	}))

	bus.Publish(Event{Kind: KindAbortEvent})
	time.Sleep(20 * time.Millisecond)
	unsub()
	bus.Publish(Event{Kind: KindAbortEvent})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestBus_Publish_DropsWhenQueueFullWithoutBlocking(t *testing.T) {
	bus := New(1, testLogger())

	block := make(chan struct{})
	unsub := bus.Subscribe(KindRecoveryEvent, SubscriberFunc(func(e Event) {
		<-block
	}))
	defer func() {
		close(block)
		unsub()
	}()

	done := make(chan struct{})
	go func() {
		// First delivery occupies the handler goroutine; the next two
		// publishes fill then overflow the depth-1 queue and must not block.
		bus.Publish(Event{Kind: KindRecoveryEvent})
		bus.Publish(Event{Kind: KindRecoveryEvent})
		bus.Publish(Event{Kind: KindRecoveryEvent})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked despite a full subscriber queue")
	}
}

func TestBus_MultipleSubscribersAllReceive(t *testing.T) {
	bus := New(8, testLogger())

	var wg sync.WaitGroup
	wg.Add(2)
	unsub1 := bus.Subscribe(KindDriftDetected, SubscriberFunc(func(e Event) { wg.Done() }))
	unsub2 := bus.Subscribe(KindDriftDetected, SubscriberFunc(func(e Event) { wg.Done() }))
	defer unsub1()
	defer unsub2()

	bus.Publish(Event{Kind: KindDriftDetected})

	waitCh := make(chan struct{})
	go func() { wg.Wait(); close(waitCh) }()

	select {
	case <-waitCh:
	case <-time.After(time.Second):
		t.Fatal("not all subscribers received the event")
	}
}

func TestNew_DefaultsInvalidDepth(t *testing.T) {
	bus := New(0, nil)
	require.NotNil(t, bus)
	assert.Equal(t, 64, bus.depth)
}
