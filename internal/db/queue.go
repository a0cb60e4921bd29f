package db

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"
)

var ErrQueueClosed = errors.New("db queue closed")

type DBTask struct {
	Exec func(*sql.DB) (any, error)
	Resp chan DBResult
}

type DBResult struct {
	Data any
	Err  error
}

// DBQueue serializes all access to the client store on one worker goroutine,
// so sqlite never sees concurrent writers from the agent.
type DBQueue struct {
	tasks      chan DBTask
	db         *sql.DB
	maxRetry   int
	retryDelay time.Duration
	testMode   bool

	closeOnce sync.Once
	done      chan struct{}
}

func NewDBQueue(db *sql.DB) *DBQueue {
	return newDBQueue(db, 100*time.Millisecond, false)
}

func NewDBQueueForTest(db *sql.DB) *DBQueue {
	return newDBQueue(db, time.Millisecond, true)
}

func newDBQueue(db *sql.DB, retryDelay time.Duration, testMode bool) *DBQueue {
	q := &DBQueue{
		tasks:      make(chan DBTask, 100),
		db:         db,
		maxRetry:   3,
		retryDelay: retryDelay,
		testMode:   testMode,
		done:       make(chan struct{}),
	}
	go q.worker()
	return q
}

// Execute runs task on the worker and waits for its result. The context bounds
// the wait; a task already handed to the worker still runs to completion.
func (q *DBQueue) Execute(ctx context.Context, task func(*sql.DB) (any, error)) (any, error) {
	resp := make(chan DBResult, 1)

	select {
	case <-q.done:
		return nil, ErrQueueClosed
	default:
	}

	select {
	case q.tasks <- DBTask{Exec: task, Resp: resp}:
	case <-q.done:
		return nil, ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case result := <-resp:
		return result.Data, result.Err
	case <-q.done:
		return nil, ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *DBQueue) worker() {
	for {
		select {
		case task := <-q.tasks:
			task.Resp <- q.executeWithRetry(task)
		case <-q.done:
			return
		}
	}
}

func (q *DBQueue) executeWithRetry(task DBTask) DBResult {
	var lastErr error
	for attempt := 0; attempt < q.maxRetry; attempt++ {
		data, err := task.Exec(q.db)
		if err == nil {
			return DBResult{Data: data}
		}
		lastErr = err
		if attempt < q.maxRetry-1 {
			if q.testMode {
				time.Sleep(q.retryDelay)
			} else {
				time.Sleep(time.Duration(attempt+1) * q.retryDelay)
			}
		}
	}
	return DBResult{Err: lastErr}
}

// Close stops the worker. Tasks still buffered are dropped and their callers
// observe their own context or ErrQueueClosed.
func (q *DBQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}

func (q *DBQueue) DB() *sql.DB {
	return q.db
}
