package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ad/go-techlabs-agent/internal/connectivity"
	"github.com/ad/go-techlabs-agent/internal/db"
	"github.com/ad/go-techlabs-agent/internal/events"
	"github.com/ad/go-techlabs-agent/internal/models"
	"github.com/ad/go-techlabs-agent/internal/remote"
	_ "modernc.org/sqlite"
)

var servicesDBCounter int64

type testRepos struct {
	queue    *db.DBQueue
	progress *db.ProgressRepository
	outbox   *db.OutboxRepository
	badges   *db.BadgeRepository
}

func setupServicesTestDB(t testing.TB) *testRepos {
	counter := atomic.AddInt64(&servicesDBCounter, 1)
	sqlDB, err := sql.Open("sqlite", fmt.Sprintf("file:servicestest%d?mode=memory&cache=shared", counter))
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.InitSchema(sqlDB); err != nil {
		t.Fatal(err)
	}

	queue := db.NewDBQueueForTest(sqlDB)
	t.Cleanup(func() {
		queue.Close()
		sqlDB.Close()
	})
	return &testRepos{
		queue:    queue,
		progress: db.NewProgressRepository(queue),
		outbox:   db.NewOutboxRepository(queue),
		badges:   db.NewBadgeRepository(queue),
	}
}

var errRemoteDown = errors.New("remote unavailable")

type fakeRemote struct {
	mu sync.Mutex

	summary    *remote.ProgressSummary
	summaryErr error

	// syncResponse decides the outcome of the n-th SyncProgress call (0-based).
	syncResponse func(n int, record models.ProgressRecord) (*models.ProgressRecord, error)
	synced       []models.ProgressRecord
	syncKeys     []string

	badges    []models.EarnedBadge
	badgesErr error
	awardErr  error
	awarded   []models.BadgeKey
	awardKeys []string
}

func (f *fakeRemote) FetchProgressSummary(context.Context, int64) (*remote.ProgressSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.summaryErr != nil {
		return nil, f.summaryErr
	}
	if f.summary == nil {
		return &remote.ProgressSummary{}, nil
	}
	return f.summary, nil
}

func (f *fakeRemote) SyncProgress(_ context.Context, _ int64, key string, record models.ProgressRecord) (*models.ProgressRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.syncKeys)
	f.syncKeys = append(f.syncKeys, key)
	if f.syncResponse != nil {
		server, err := f.syncResponse(n, record)
		if err != nil {
			return nil, err
		}
		f.synced = append(f.synced, record)
		return server, nil
	}
	f.synced = append(f.synced, record)
	return nil, nil
}

func (f *fakeRemote) FetchUserBadges(context.Context, int64) ([]models.EarnedBadge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.badgesErr != nil {
		return nil, f.badgesErr
	}
	return append([]models.EarnedBadge(nil), f.badges...), nil
}

func (f *fakeRemote) AwardBadge(_ context.Context, _ int64, key string, badge models.EarnedBadge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.awardKeys = append(f.awardKeys, key)
	if f.awardErr != nil {
		return f.awardErr
	}
	f.awarded = append(f.awarded, badge.BadgeName)
	return nil
}

func (f *fakeRemote) setSyncResponse(fn func(n int, record models.ProgressRecord) (*models.ProgressRecord, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncResponse = fn
}

func (f *fakeRemote) setAwardErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.awardErr = err
}

func (f *fakeRemote) syncedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.synced)
}

func (f *fakeRemote) awardedKeys() []models.BadgeKey {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.BadgeKey(nil), f.awarded...)
}

type recordingDispatcher struct {
	mu      sync.Mutex
	badges  []models.BadgeKey
	onEvent func(badge models.EarnedBadge)
}

func (d *recordingDispatcher) Dispatch(_ int64, badge models.EarnedBadge) {
	d.mu.Lock()
	d.badges = append(d.badges, badge.BadgeName)
	hook := d.onEvent
	d.mu.Unlock()
	if hook != nil {
		hook(badge)
	}
}

func (d *recordingDispatcher) keys() []models.BadgeKey {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.BadgeKey(nil), d.badges...)
}

var testIdentity = &models.Identity{ID: 42, Username: "learner"}

func newTestProgressStore(repos *testRepos, api ProgressAPI, monitor *connectivity.Monitor, bus *events.Bus) *ProgressStore {
	return NewProgressStore(testIdentity, repos.progress, repos.outbox, api, bus, monitor)
}

func newTestEngine(repos *testRepos, api BadgeAPI, dispatcher BadgeDispatcher, monitor *connectivity.Monitor, bus *events.Bus) *AchievementEngine {
	return NewAchievementEngine(testIdentity, MustDefaultBadgeCatalog(), repos.badges, repos.outbox, api, bus, dispatcher, monitor)
}

func waitFor(t testing.TB, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// finishWithin fails the test when fn does not return in time.
func finishWithin(t testing.TB, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("%s did not return", what)
	}
}

func containsKey(keys []models.BadgeKey, key models.BadgeKey) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
