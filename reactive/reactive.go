package reactive

import "sync"

type subscriber[T any] struct {
	c         chan T
	container *Observable[T]
	once      sync.Once
}

// Cancel removes subscriber from container and closes its channel.
// Not calling this method may result in memory leak. Calling it more than once is a no-op.
func (o *subscriber[T]) Cancel() {
	o.once.Do(func() {
		o.container.delete(o)
		close(o.c)
	})
}

// Channel returns channel that can be used to read from observable.
func (o *subscriber[T]) Channel() <-chan T {
	return o.c
}

// Observable creates a container for subscribers.
// This works in single producer multiple consumer pattern.
// Publishing never blocks on a slow subscriber: when subscriber buffer is full
// the oldest buffered value is dropped in favour of the newest one.
type Observable[T any] struct {
	mux         sync.RWMutex
	subscribers map[*subscriber[T]]struct{}
	size        int
}

// New creates Observable container that holds channels for all subscribers.
// size is the buffer size of each channel and is at least 1.
func New[T any](size int) *Observable[T] {
	if size < 1 {
		size = 1
	}
	return &Observable[T]{
		mux:         sync.RWMutex{},
		subscribers: make(map[*subscriber[T]]struct{}),
		size:        size,
	}
}

// Subscribe subscribes to the container.
func (o *Observable[T]) Subscribe() *subscriber[T] {
	obs := &subscriber[T]{
		c:         make(chan T, o.size),
		container: o,
	}
	o.mux.Lock()
	defer o.mux.Unlock()
	o.subscribers[obs] = struct{}{}
	return obs
}

// Publish publishes value to all subscribers.
func (o *Observable[T]) Publish(v T) {
	o.mux.RLock()
	defer o.mux.RUnlock()
	for s := range o.subscribers {
		select {
		case s.c <- v:
			continue
		default:
		}
		select {
		case <-s.c:
		default:
		}
		select {
		case s.c <- v:
		default:
		}
	}
}

// Subscribers returns number of active subscribers.
func (o *Observable[T]) Subscribers() int {
	o.mux.RLock()
	defer o.mux.RUnlock()
	return len(o.subscribers)
}

func (o *Observable[T]) delete(c *subscriber[T]) {
	o.mux.Lock()
	defer o.mux.Unlock()
	delete(o.subscribers, c)
}
