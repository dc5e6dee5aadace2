package oms

import (
	"context"
	"sync"

	"github.com/gammazero/deque"
	"github.com/joripage/matchcore/pkg/orderbook"
)

// tradeFeed fans trades out to subscribers. Publishing never blocks the
// actor: each subscriber buffers in its own deque drained by a pump
// goroutine.
type tradeFeed struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
	done   chan struct{}
}

type subscriber struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    deque.Deque[orderbook.Trade]
	closed bool
	out    chan orderbook.Trade
}

func newTradeFeed() *tradeFeed {
	return &tradeFeed{
		subs: make(map[*subscriber]struct{}),
		done: make(chan struct{}),
	}
}

func (f *tradeFeed) subscribe(ctx context.Context) <-chan orderbook.Trade {
	sub := &subscriber{out: make(chan orderbook.Trade)}
	sub.cond = sync.NewCond(&sub.mu)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(sub.out)
		return sub.out
	}
	f.subs[sub] = struct{}{}
	f.mu.Unlock()

	go sub.pump(ctx)
	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		}
		f.mu.Lock()
		delete(f.subs, sub)
		f.mu.Unlock()
		sub.close()
	}()

	return sub.out
}

func (f *tradeFeed) publish(trades []orderbook.Trade) {
	if len(trades) == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		sub.push(trades)
	}
}

func (f *tradeFeed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.done)
}

func (s *subscriber) push(trades []orderbook.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, t := range trades {
		s.buf.PushBack(t)
	}
	s.cond.Signal()
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Signal()
}

// pump delivers buffered trades in order. After close it drains what is
// buffered unless ctx is done.
func (s *subscriber) pump(ctx context.Context) {
	defer close(s.out)
	for {
		s.mu.Lock()
		for s.buf.Len() == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.buf.Len() == 0 {
			s.mu.Unlock()
			return
		}
		t := s.buf.PopFront()
		s.mu.Unlock()

		select {
		case s.out <- t:
		case <-ctx.Done():
			return
		}
	}
}
