package ws

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// mailboxSize is the number of jobs a session worker buffers before Submit blocks.
const mailboxSize = 64

// ErrWorkerStopped is returned when a job is submitted after the session's writer stopped.
var ErrWorkerStopped = errors.New("session worker stopped")

// sessionWorker runs a session's state mutations one at a time in FIFO order.
type sessionWorker struct {
	sessionID string
	mailbox   chan func()
	after     <-chan struct{}
	done      chan struct{}
	mu        sync.RWMutex
	stopped   bool
}

func newSessionWorker(sessionID string, size int) *sessionWorker {
	return newSessionWorkerAfter(sessionID, size, nil)
}

// newSessionWorkerAfter starts a worker whose first job waits until after is
// closed. A session's next writer chains on the previous writer's Done, so
// jobs still queued on a retired writer finish before any new job starts.
func newSessionWorkerAfter(sessionID string, size int, after <-chan struct{}) *sessionWorker {
	w := &sessionWorker{
		sessionID: sessionID,
		mailbox:   make(chan func(), size),
		after:     after,
		done:      make(chan struct{}),
	}
	go w.run()
	return w
}

// Submit queues job behind every job submitted before it.
func (w *sessionWorker) Submit(job func()) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.stopped {
		return ErrWorkerStopped
	}
	w.mailbox <- job
	return nil
}

// Stop refuses new jobs. Jobs already queued still run.
func (w *sessionWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	w.stopped = true
	close(w.mailbox)
}

// Done is closed once the worker has drained its mailbox and exited.
func (w *sessionWorker) Done() <-chan struct{} {
	return w.done
}

func (w *sessionWorker) run() {
	defer close(w.done)
	if w.after != nil {
		<-w.after
	}
	for job := range w.mailbox {
		w.exec(job)
	}
}

func (w *sessionWorker) exec(job func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("session_id", w.sessionID).Interface("panic", r).Msg("Session job panicked")
		}
	}()
	job()
}
