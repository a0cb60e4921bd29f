package services

import (
	"context"
	"testing"

	"github.com/ad/go-techlabs-agent/internal/connectivity"
	"github.com/ad/go-techlabs-agent/internal/events"
	"github.com/ad/go-techlabs-agent/internal/models"
	"github.com/ad/go-techlabs-agent/internal/remote"
	"pgregory.net/rapid"
)

func TestProgressStore_MonotonicPercentage_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		repos := setupServicesTestDB(t)
		store := newTestProgressStore(repos, &fakeRemote{}, connectivity.NewMonitor(false), nil)
		ctx := context.Background()

		steps := rapid.SliceOfN(rapid.IntRange(0, 100), 1, 10).Draw(rt, "percentages")
		best := 0
		for _, p := range steps {
			if !store.UpdateProgress(ctx, "database", models.ProgressUpdate{ProgressPercentage: models.Int(p)}) {
				rt.Fatalf("update rejected")
			}
			best = max(best, p)
			got := store.GetProgressForRoom("database")
			if got.ProgressPercentage != best {
				rt.Fatalf("percentage = %d, want %d", got.ProgressPercentage, best)
			}
			if best >= 100 && !got.Completed {
				rt.Fatalf("room should be completed at 100%%")
			}
		}
	})
}

func TestProgressStore_CumulativeCounters(t *testing.T) {
	repos := setupServicesTestDB(t)
	store := newTestProgressStore(repos, &fakeRemote{}, connectivity.NewMonitor(false), nil)
	ctx := context.Background()

	store.UpdateProgress(ctx, "flowchart", models.ProgressUpdate{TimeSpent: models.Int(30)})
	store.UpdateProgress(ctx, "flowchart", models.ProgressUpdate{TimeSpent: models.Int(45), Attempts: models.Int(3)})
	store.UpdateProgress(ctx, "flowbyte", models.ProgressUpdate{})

	record := store.GetProgressForRoom("flowchart")
	if record.TimeSpent != 75 {
		t.Errorf("time_spent = %d, want 75", record.TimeSpent)
	}
	if record.Attempts != 5 {
		t.Errorf("attempts = %d, want 5", record.Attempts)
	}
	if len(store.GetAllProgress()) != 1 {
		t.Errorf("alias should update the same room")
	}
}

func TestProgressStore_UnknownRoomIsRejected(t *testing.T) {
	repos := setupServicesTestDB(t)
	store := newTestProgressStore(repos, &fakeRemote{}, connectivity.NewMonitor(false), nil)

	if store.UpdateProgress(context.Background(), "cooking", models.ProgressUpdate{ProgressPercentage: models.Int(10)}) {
		t.Fatal("unknown room must be rejected")
	}
	if len(store.GetAllProgress()) != 0 || len(store.PendingUpdates(context.Background())) != 0 {
		t.Fatal("unknown room must not mutate anything")
	}
}

func TestProgressStore_OfflineQueueReplay(t *testing.T) {
	repos := setupServicesTestDB(t)
	api := &fakeRemote{}
	monitor := connectivity.NewMonitor(false)
	store := newTestProgressStore(repos, api, monitor, nil)
	ctx := context.Background()

	if !store.UpdateProgress(ctx, "networking", models.ProgressUpdate{ProgressPercentage: models.Int(40)}) {
		t.Fatal("offline update must succeed locally")
	}
	pending := store.PendingUpdates(ctx)
	if len(pending) != 1 || pending[0].RoomName != models.RoomNetworking || pending[0].ProgressData.ProgressPercentage != 40 {
		t.Fatalf("unexpected pending updates %+v", pending)
	}

	if result := store.SyncOfflineProgress(ctx); result.Attempted != 0 {
		t.Fatalf("sync must wait while offline, got %+v", result)
	}

	monitor.SetOnline(true)
	api.setSyncResponse(func(int, models.ProgressRecord) (*models.ProgressRecord, error) {
		return nil, errRemoteDown
	})
	result := store.SyncOfflineProgress(ctx)
	if result.Attempted != 1 || result.Failed != 1 {
		t.Fatalf("unexpected failed drain %+v", result)
	}
	if len(store.PendingUpdates(ctx)) != 1 {
		t.Fatal("failed sync must keep the pending update")
	}

	api.setSyncResponse(nil)
	result = store.SyncOfflineProgress(ctx)
	if result.Synced != 1 {
		t.Fatalf("unexpected drain %+v", result)
	}
	if len(store.PendingUpdates(ctx)) != 0 {
		t.Fatal("synced update must leave the queue")
	}
	if api.syncedCount() != 1 || api.synced[0].ProgressPercentage != 40 {
		t.Fatalf("remote got %+v", api.synced)
	}
	if api.syncKeys[1] != pending[0].ID {
		t.Errorf("idempotency key %q should be the queue entry id %q", api.syncKeys[1], pending[0].ID)
	}
}

func TestProgressStore_PendingUpdatesSurviveRestart(t *testing.T) {
	repos := setupServicesTestDB(t)
	ctx := context.Background()

	first := newTestProgressStore(repos, &fakeRemote{}, connectivity.NewMonitor(false), nil)
	first.UpdateProgress(ctx, "programming", models.ProgressUpdate{Score: models.Int(12)})
	first.UpdateProgress(ctx, "programming", models.ProgressUpdate{Score: models.Int(30)})

	second := newTestProgressStore(repos, &fakeRemote{}, connectivity.NewMonitor(false), nil)
	pending := second.PendingUpdates(ctx)
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending updates after restart, got %d", len(pending))
	}
	if pending[0].ProgressData.Score != 12 || pending[1].ProgressData.Score != 30 {
		t.Errorf("pending updates out of order: %+v", pending)
	}
}

func TestProgressStore_FlushAfterLoadCachedKeepsOtherRooms(t *testing.T) {
	repos := setupServicesTestDB(t)
	ctx := context.Background()

	first := newTestProgressStore(repos, &fakeRemote{}, connectivity.NewMonitor(false), nil)
	first.UpdateProgress(ctx, "database", models.ProgressUpdate{ProgressPercentage: models.Int(40)})
	first.UpdateProgress(ctx, "flowchart", models.ProgressUpdate{ProgressPercentage: models.Int(60)})

	api := &fakeRemote{}
	api.setSyncResponse(func(_ int, record models.ProgressRecord) (*models.ProgressRecord, error) {
		server := record
		server.Score = 99
		return &server, nil
	})
	second := newTestProgressStore(repos, api, connectivity.NewMonitor(true), nil)
	if err := second.LoadCached(ctx); err != nil {
		t.Fatal(err)
	}

	result := second.SyncOfflineProgress(ctx)
	if result.Synced != 2 {
		t.Fatalf("expected 2 synced updates, got %+v", result)
	}

	stored, err := repos.progress.GetUserProgress(ctx, testIdentity.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected both rooms to stay stored, got %+v", stored)
	}
	for _, record := range stored {
		if record.Score != 99 {
			t.Errorf("%s: expected server score 99, got %d", record.RoomName, record.Score)
		}
	}
}

func TestProgressStore_BackgroundSyncOnReconnect(t *testing.T) {
	repos := setupServicesTestDB(t)
	api := &fakeRemote{}
	monitor := connectivity.NewMonitor(false)
	store := newTestProgressStore(repos, api, monitor, nil)
	ctx := context.Background()

	store.Start(ctx)
	defer store.Stop(ctx)

	store.UpdateProgress(ctx, "ai-training", models.ProgressUpdate{ProgressPercentage: models.Int(20)})
	if api.syncedCount() != 0 {
		t.Fatal("nothing may be synced while offline")
	}

	monitor.SetOnline(true)
	waitFor(t, "background sync", func() bool {
		return api.syncedCount() == 1 && len(store.PendingUpdates(ctx)) == 0
	})
}

func TestProgressStore_ServerRecordWinsUnlessNewerPending(t *testing.T) {
	repos := setupServicesTestDB(t)
	api := &fakeRemote{}
	monitor := connectivity.NewMonitor(true)
	store := newTestProgressStore(repos, api, monitor, nil)
	ctx := context.Background()

	api.setSyncResponse(func(_ int, record models.ProgressRecord) (*models.ProgressRecord, error) {
		record.Score = 77
		return &record, nil
	})
	store.UpdateProgress(ctx, "database", models.ProgressUpdate{Score: models.Int(20)})
	store.SyncOfflineProgress(ctx)

	if got := store.GetProgressForRoom("database").Score; got != 77 {
		t.Fatalf("server record should win, score = %d", got)
	}

	monitor.SetOnline(false)
	store.UpdateProgress(ctx, "schemax", models.ProgressUpdate{Score: models.Int(80)})
	store.UpdateProgress(ctx, "schemax", models.ProgressUpdate{Score: models.Int(90)})
	monitor.SetOnline(true)

	api.setSyncResponse(func(n int, record models.ProgressRecord) (*models.ProgressRecord, error) {
		if n == 1 {
			stale := record
			stale.Score = 1
			return &stale, nil
		}
		return nil, errRemoteDown
	})
	result := store.SyncOfflineProgress(ctx)
	if result.Synced != 1 || result.Failed != 1 {
		t.Fatalf("unexpected drain %+v", result)
	}
	if got := store.GetProgressForRoom("database").Score; got != 90 {
		t.Fatalf("newer local update must not be overwritten, score = %d", got)
	}
}

func TestProgressStore_StartPrefersServerExceptUnsyncedRooms(t *testing.T) {
	repos := setupServicesTestDB(t)
	ctx := context.Background()

	offline := newTestProgressStore(repos, &fakeRemote{}, connectivity.NewMonitor(false), nil)
	offline.UpdateProgress(ctx, "database", models.ProgressUpdate{ProgressPercentage: models.Int(60)})

	api := &fakeRemote{summary: &remote.ProgressSummary{RoomProgress: []models.ProgressRecord{
		{RoomName: models.RoomDatabase, ProgressPercentage: 10, CurrentLevel: 1},
		{RoomName: "netxus", ProgressPercentage: 50, CurrentLevel: 3},
	}}}

	bus := events.NewBus()
	var loaded []models.ProgressRecord
	bus.Subscribe(events.TopicProgressLoaded, func(payload any) {
		loaded = payload.(events.ProgressLoaded).Records
	})

	store := newTestProgressStore(repos, api, connectivity.NewMonitor(false), bus)
	store.Start(ctx)
	defer store.Stop(ctx)

	if got := store.GetProgressForRoom("database").ProgressPercentage; got != 60 {
		t.Errorf("unsynced local room should be kept, got %d", got)
	}
	if got := store.GetProgressForRoom("networking").ProgressPercentage; got != 50 {
		t.Errorf("server room should be loaded, got %d", got)
	}
	if len(loaded) != 2 {
		t.Errorf("progress-loaded carried %d records", len(loaded))
	}
}

func TestProgressStore_StartFallsBackToLocalCache(t *testing.T) {
	repos := setupServicesTestDB(t)
	ctx := context.Background()

	first := newTestProgressStore(repos, &fakeRemote{}, connectivity.NewMonitor(true), nil)
	first.UpdateProgress(ctx, "flowchart", models.ProgressUpdate{ProgressPercentage: models.Int(80)})
	first.SyncOfflineProgress(ctx)

	store := newTestProgressStore(repos, &fakeRemote{summaryErr: errRemoteDown}, connectivity.NewMonitor(false), nil)
	store.Start(ctx)
	defer store.Stop(ctx)

	if got := store.GetProgressForRoom("flowchart").ProgressPercentage; got != 80 {
		t.Fatalf("expected cached progress 80, got %d", got)
	}
}

func TestProgressStore_ConvenienceOperations(t *testing.T) {
	repos := setupServicesTestDB(t)
	store := newTestProgressStore(repos, &fakeRemote{}, connectivity.NewMonitor(false), nil)
	ctx := context.Background()

	store.CompleteChallenge(ctx, "codevance", ChallengeResult{Level: 3, TimeSpent: 120})
	record := store.GetProgressForRoom("programming")
	if record.ProgressPercentage != 60 || record.CurrentLevel != 3 || record.Score != models.DefaultChallengeScore || record.TimeSpent != 120 {
		t.Fatalf("unexpected record after challenge %+v", record)
	}

	store.IncrementLevel(ctx, "programming", 0)
	record = store.GetProgressForRoom("programming")
	if record.CurrentLevel != 4 || record.ProgressPercentage != 80 || record.Completed {
		t.Fatalf("unexpected record after level up %+v", record)
	}

	store.MarkRoomComplete(ctx, "programming", 95)
	record = store.GetProgressForRoom("programming")
	if !record.Completed || record.ProgressPercentage != 100 || record.Score != 95 || record.CurrentLevel != models.MaxLevel {
		t.Fatalf("unexpected record after completion %+v", record)
	}

	if !store.ResetProgress(ctx, "programming") {
		t.Fatal("reset failed")
	}
	record = store.GetProgressForRoom("programming")
	if record.Completed || record.ProgressPercentage != 0 || record.Score != 0 || record.CurrentLevel != 1 {
		t.Fatalf("reset must zero the record, got %+v", record)
	}
	pending := store.PendingUpdates(ctx)
	if last := pending[len(pending)-1]; last.ProgressData.ProgressPercentage != 0 {
		t.Errorf("reset must be synced, last pending %+v", last)
	}

	display := store.GetProgressDisplay("programming")
	if display.DisplayName != "CODEVANCE" {
		t.Errorf("display name = %s", display.DisplayName)
	}
}

func TestProgressStore_OverallStats(t *testing.T) {
	repos := setupServicesTestDB(t)
	store := newTestProgressStore(repos, &fakeRemote{}, connectivity.NewMonitor(false), nil)
	ctx := context.Background()

	store.MarkRoomComplete(ctx, "flowchart", 90)
	store.UpdateProgress(ctx, "networking", models.ProgressUpdate{ProgressPercentage: models.Int(40), Score: models.Int(30)})

	stats := store.GetOverallStats()
	if stats.TotalRooms != 2 || stats.CompletedRooms != 1 || stats.TotalProgress != 140 || stats.TotalScore != 120 || stats.AvgProgress != 70 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestProgressStore_PublishesProgressUpdated(t *testing.T) {
	repos := setupServicesTestDB(t)
	bus := events.NewBus()
	var got []events.ProgressUpdated
	bus.Subscribe(events.TopicProgressUpdated, func(payload any) {
		got = append(got, payload.(events.ProgressUpdated))
	})

	store := newTestProgressStore(repos, &fakeRemote{}, connectivity.NewMonitor(false), bus)
	store.UpdateProgress(context.Background(), "database", models.ProgressUpdate{ProgressPercentage: models.Int(20)})

	if len(got) != 1 || got[0].RoomName != models.RoomDatabase || got[0].UserID != testIdentity.ID || got[0].Progress.ProgressPercentage != 20 {
		t.Fatalf("unexpected events %+v", got)
	}
}

func TestProgressStore_NoIdentityIsNoop(t *testing.T) {
	repos := setupServicesTestDB(t)
	api := &fakeRemote{}
	store := NewProgressStore(nil, repos.progress, repos.outbox, api, nil, connectivity.NewMonitor(true))
	ctx := context.Background()

	store.Start(ctx)
	if store.UpdateProgress(ctx, "database", models.ProgressUpdate{ProgressPercentage: models.Int(50)}) {
		t.Error("update must be a no-op without identity")
	}
	if store.MarkRoomComplete(ctx, "database", 100) || store.CompleteChallenge(ctx, "database", ChallengeResult{}) ||
		store.IncrementLevel(ctx, "database", 2) || store.ResetProgress(ctx, "database") || store.SaveToStorage(ctx) {
		t.Error("operations must report no-op without identity")
	}
	if result := store.SyncOfflineProgress(ctx); result.Attempted != 0 {
		t.Error("sync must be a no-op without identity")
	}
	if len(store.GetAllProgress()) != 0 || store.PendingUpdates(ctx) != nil {
		t.Error("no state may be created without identity")
	}
	if got := store.GetProgressForRoom("database"); got.ProgressPercentage != 0 || got.CurrentLevel != 1 {
		t.Errorf("default record expected, got %+v", got)
	}
	store.Stop(ctx)

	if api.syncedCount() != 0 {
		t.Error("no remote calls without identity")
	}
}

func TestProgressStore_SubscriberMayUpdateStore(t *testing.T) {
	repos := setupServicesTestDB(t)
	bus := events.NewBus()
	store := newTestProgressStore(repos, &fakeRemote{}, connectivity.NewMonitor(false), bus)
	ctx := context.Background()

	bus.Subscribe(events.TopicProgressUpdated, func(payload any) {
		update := payload.(events.ProgressUpdated)
		if update.Progress.ProgressPercentage >= 80 && !update.Progress.Completed {
			store.MarkRoomComplete(ctx, string(update.RoomName), 90)
		}
	})

	finishWithin(t, "UpdateProgress", func() {
		store.UpdateProgress(ctx, "database", models.ProgressUpdate{ProgressPercentage: models.Int(80)})
	})

	record := store.GetProgressForRoom("database")
	if !record.Completed || record.ProgressPercentage != 100 || record.Score != 90 {
		t.Fatalf("subscriber update was lost: %+v", record)
	}

	finishWithin(t, "ResetProgress", func() {
		store.ResetProgress(ctx, "database")
	})
}

func TestProgressStore_SubscriberMaySyncDuringReconcile(t *testing.T) {
	repos := setupServicesTestDB(t)
	bus := events.NewBus()
	api := &fakeRemote{}
	api.setSyncResponse(func(_ int, record models.ProgressRecord) (*models.ProgressRecord, error) {
		server := record
		server.Score = 77
		return &server, nil
	})
	store := newTestProgressStore(repos, api, connectivity.NewMonitor(true), bus)
	ctx := context.Background()

	serverEvents := 0
	bus.Subscribe(events.TopicProgressUpdated, func(payload any) {
		if payload.(events.ProgressUpdated).Progress.Score != 77 || serverEvents > 0 {
			return
		}
		serverEvents++
		store.SyncOfflineProgress(ctx)
		store.UpdateProgress(ctx, "networking", models.ProgressUpdate{Notes: models.String("seen")})
	})

	store.UpdateProgress(ctx, "networking", models.ProgressUpdate{ProgressPercentage: models.Int(20), Score: models.Int(5)})
	finishWithin(t, "SyncOfflineProgress", func() {
		store.SyncOfflineProgress(ctx)
	})

	if serverEvents == 0 {
		t.Fatal("adopted server record was not published")
	}
	if got := store.GetProgressForRoom("networking"); got.Score != 77 || got.Notes != "seen" {
		t.Fatalf("unexpected record %+v", got)
	}
}
