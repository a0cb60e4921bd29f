package db

import (
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"

	_ "modernc.org/sqlite"
)

var testDBCounter int64

func setupTestQueue(t testing.TB) *DBQueue {
	counter := atomic.AddInt64(&testDBCounter, 1)
	sqlDB, err := sql.Open("sqlite", fmt.Sprintf("file:dbtest%d?mode=memory&cache=shared", counter))
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := InitSchema(sqlDB); err != nil {
		t.Fatal(err)
	}

	queue := NewDBQueueForTest(sqlDB)
	t.Cleanup(func() {
		queue.Close()
		sqlDB.Close()
	})
	return queue
}
