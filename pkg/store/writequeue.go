package store

import (
	"errors"
	"log"
	"sync"
	"time"
)

// ErrClosed is returned for writes submitted after Close.
var ErrClosed = errors.New("store closed")

// slowWrite is the duration above which a queued write is logged
const slowWrite = 2 * time.Second

type writeOp struct {
	name   string
	apply  func() error
	result chan error
}

// writeQueue runs every database write on one goroutine. SQLite allows a
// single writer, so capture workers never race for the lock.
type writeQueue struct {
	ops     chan writeOp
	mu      sync.RWMutex
	closed  bool
	drained chan struct{}
}

func newWriteQueue() *writeQueue {
	wq := &writeQueue{
		ops:     make(chan writeOp, 100),
		drained: make(chan struct{}),
	}
	go wq.run()
	return wq
}

func (wq *writeQueue) run() {
	defer close(wq.drained)
	for op := range wq.ops {
		start := time.Now()
		err := op.apply()
		if d := time.Since(start); d > slowWrite {
			log.Printf("[STORE] WARNING: %s took %v", op.name, d)
		}
		if err != nil {
			log.Printf("[STORE] %s failed: %v", op.name, err)
		}
		op.result <- err
	}
	log.Println("[STORE] Write queue drained")
}

// do submits apply and waits for it to run
func (wq *writeQueue) do(name string, apply func() error) error {
	result := make(chan error, 1)

	wq.mu.RLock()
	if wq.closed {
		wq.mu.RUnlock()
		return ErrClosed
	}
	wq.ops <- writeOp{name: name, apply: apply, result: result}
	wq.mu.RUnlock()

	return <-result
}

// shutdown stops accepting writes and waits for the queued ones
func (wq *writeQueue) shutdown() {
	wq.mu.Lock()
	if wq.closed {
		wq.mu.Unlock()
		<-wq.drained
		return
	}
	wq.closed = true
	close(wq.ops)
	wq.mu.Unlock()
	<-wq.drained
}
