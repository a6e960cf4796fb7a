package queue

import (
	"context"
	"errors"
	"simjobs/internal/apperrors"
	"simjobs/internal/testutil"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func publishN(t *testing.T, q *Memory, n int) {
	t.Helper()
	for i := range n {
		if err := q.Publish(context.Background(), Message{JobID: string(rune('a' + i))}); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
}

func TestMemory_AckRemoves(t *testing.T) {
	t.Parallel()

	q := NewMemory()
	publishN(t, q, 3)

	var got []string
	n := q.Drain(context.Background(), func(_ context.Context, d Delivery) Decision {
		got = append(got, d.Message.JobID)
		return Ack()
	}, 10)

	if n != 3 || len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Errorf("delivered %v (%d), want [a b c] in order", got, n)
	}
	if s := q.Stats(); s.Acked != 3 || s.Pending != 0 || s.Inflight != 0 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestMemory_RequeueRedelivers(t *testing.T) {
	t.Parallel()

	q := NewMemory()
	publishN(t, q, 1)

	var redelivered []bool
	q.Drain(context.Background(), func(_ context.Context, d Delivery) Decision {
		redelivered = append(redelivered, d.Redelivered)
		if len(redelivered) < 3 {
			return Requeue()
		}
		return Ack()
	}, 10)

	want := []bool{false, true, true}
	if len(redelivered) != len(want) {
		t.Fatalf("deliveries = %v, want %v", redelivered, want)
	}
	for i := range want {
		if redelivered[i] != want[i] {
			t.Errorf("delivery %d Redelivered = %v, want %v", i, redelivered[i], want[i])
		}
	}
	if s := q.Stats(); s.Requeued != 2 || s.Acked != 1 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestMemory_DropDiscards(t *testing.T) {
	t.Parallel()

	q := NewMemory()
	publishN(t, q, 1)
	q.Drain(context.Background(), func(context.Context, Delivery) Decision { return Drop() }, 10)

	dropped := q.Dropped()
	if len(dropped) != 1 || dropped[0].JobID != "a" {
		t.Errorf("Dropped() = %+v", dropped)
	}
	if s := q.Stats(); s.Pending != 0 || s.Dropped != 1 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestMemory_DrainLimit(t *testing.T) {
	t.Parallel()

	q := NewMemory()
	publishN(t, q, 1)
	n := q.Drain(context.Background(), func(context.Context, Delivery) Decision { return Requeue() }, 5)
	if n != 5 {
		t.Errorf("Drain() = %d, want 5", n)
	}
	if q.Stats().Pending != 1 {
		t.Error("requeued message lost")
	}
}

func TestMemory_PublishError(t *testing.T) {
	t.Parallel()

	q := NewMemory()
	down := errors.New("broker down")
	q.SetPublishError(down)

	err := q.Publish(context.Background(), Message{JobID: "a"})
	if !errors.Is(err, apperrors.ErrUnavailable) || !errors.Is(err, down) {
		t.Errorf("Publish() error = %v, want ErrUnavailable wrapping cause", err)
	}
	if q.Stats().Published != 0 {
		t.Error("failed publish was counted")
	}
}

func TestMemory_ConcurrentConsumersShareWork(t *testing.T) {
	t.Parallel()

	q := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled atomic.Int64
	seen := sync.Map{}
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Consume(ctx, func(_ context.Context, d Delivery) Decision {
				if _, dup := seen.LoadOrStore(d.Message.JobID, true); dup {
					t.Errorf("message %s delivered twice", d.Message.JobID)
				}
				handled.Add(1)
				return Ack()
			})
		}()
	}

	publishN(t, q, 20)
	testutil.MustWaitForCount(t, &handled, 20, testutil.WithTimeout(5*time.Second), testutil.WithInterval(5*time.Millisecond))

	cancel()
	wg.Wait()
}

func TestMemory_CloseStopsConsumers(t *testing.T) {
	t.Parallel()

	q := NewMemory()
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(context.Background(), func(context.Context, Delivery) Decision { return Ack() })
	}()

	_ = q.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Consume() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Consume() did not return after Close()")
	}

	if err := q.Publish(context.Background(), Message{JobID: "late"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Publish() after Close error = %v, want ErrClosed", err)
	}
	if err := q.Ready(context.Background()); !errors.Is(err, apperrors.ErrUnavailable) {
		t.Errorf("Ready() after Close error = %v", err)
	}
}
