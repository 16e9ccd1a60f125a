package hub

import (
	"context"
	"sync"
)

// Queue is a peer's outbound FIFO of encoded frames.
//
// Push never blocks. When max is zero the queue is unbounded; otherwise Push
// fails with ErrQueueFull once max frames are waiting.
type Queue struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	err    error
	max    int

	notify chan struct{}
	done   chan struct{}

	onDepth func(delta int)
}

func newQueue(max int, onDepth func(delta int)) *Queue {
	if onDepth == nil {
		onDepth = func(int) {}
	}
	return &Queue{
		max:     max,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		onDepth: onDepth,
	}
}

// Push appends frame to the queue.
func (q *Queue) Push(frame []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if q.max > 0 && len(q.frames) >= q.max {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.frames = append(q.frames, frame)
	q.mu.Unlock()

	q.onDepth(1)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Pop blocks until a frame is available, ctx is done, or the queue is closed.
// Frames still queued when the queue is closed are discarded.
func (q *Queue) Pop(ctx context.Context) ([]byte, error) {
	for {
		q.mu.Lock()
		if q.closed {
			err := q.err
			q.mu.Unlock()
			return nil, err
		}
		if len(q.frames) > 0 {
			frame := q.frames[0]
			q.frames[0] = nil
			q.frames = q.frames[1:]
			q.mu.Unlock()
			q.onDepth(-1)
			return frame, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
		case <-q.notify:
		}
	}
}

// Close marks the queue closed and wakes any blocked Pop. It is idempotent.
func (q *Queue) Close() {
	q.closeWithError(ErrQueueClosed)
}

// closeWithError closes the queue so that Pop and Err report err.
func (q *Queue) closeWithError(err error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.err = err
	pending := len(q.frames)
	q.frames = nil
	q.mu.Unlock()

	close(q.done)
	q.onDepth(-pending)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Err returns why the queue was closed, or nil while it is open.
func (q *Queue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// Done is closed once the queue has been closed.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}
