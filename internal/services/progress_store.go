package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ad/go-techlabs-agent/internal/connectivity"
	"github.com/ad/go-techlabs-agent/internal/db"
	"github.com/ad/go-techlabs-agent/internal/events"
	"github.com/ad/go-techlabs-agent/internal/jobs"
	"github.com/ad/go-techlabs-agent/internal/localfirst"
	"github.com/ad/go-techlabs-agent/internal/models"
	"github.com/ad/go-techlabs-agent/internal/remote"
)

// ProgressAPI is the remote side of progress synchronization.
type ProgressAPI interface {
	FetchProgressSummary(ctx context.Context, userID int64) (*remote.ProgressSummary, error)
	SyncProgress(ctx context.Context, userID int64, idempotencyKey string, record models.ProgressRecord) (*models.ProgressRecord, error)
}

// ChallengeResult describes one finished challenge. Zero fields fall back to
// the room's current level and the default challenge score.
type ChallengeResult struct {
	Level     int `json:"level"`
	Score     int `json:"score"`
	TimeSpent int `json:"time_spent"`
}

// ProgressStore keeps the learner's per-room progress. The local cache is the
// source of truth; every change is queued in a durable outbox and synced to
// the remote API whenever the agent is online.
type ProgressStore struct {
	identity *models.Identity
	api      ProgressAPI
	bus      *events.Bus
	monitor  *connectivity.Monitor

	cache  *localfirst.Cache[models.Room, models.ProgressRecord]
	outbox *localfirst.Outbox[models.PendingUpdate]

	// writeMu orders local writes against server reconciliation.
	writeMu sync.Mutex
	now     func() time.Time

	// reconciled holds server records adopted during a drain; they are
	// published once the drain has finished.
	reconciledMu sync.Mutex
	reconciled   []models.ProgressRecord

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewProgressStore(
	identity *models.Identity,
	progressRepo *db.ProgressRepository,
	outboxRepo *db.OutboxRepository,
	api ProgressAPI,
	bus *events.Bus,
	monitor *connectivity.Monitor,
) *ProgressStore {
	s := &ProgressStore{
		identity: identity,
		api:      api,
		bus:      bus,
		monitor:  monitor,
		now:      time.Now,
	}

	if !identity.Valid() {
		log.Printf("[PROGRESS] No user identity available, progress tracking is disabled")
		s.cache = localfirst.NewCache[models.Room, models.ProgressRecord](nil)
		return s
	}

	s.cache = localfirst.NewCache[models.Room, models.ProgressRecord](progressRepo.ForUser(identity.ID))
	s.outbox = localfirst.NewOutbox[models.PendingUpdate](outboxRepo, identity.ID, db.OutboxKindProgress)
	return s
}

func (s *ProgressStore) enabled(op string) bool {
	if s.identity.Valid() {
		return true
	}
	log.Printf("[PROGRESS] No user identity, ignoring %s", op)
	return false
}

func (s *ProgressStore) online() bool {
	return s.monitor == nil || s.monitor.Online()
}

// Start loads the learner's progress and begins draining the outbox in the
// background. Stop ends it.
func (s *ProgressStore) Start(ctx context.Context) {
	if !s.enabled("start") {
		return
	}

	s.load(ctx)

	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if s.monitor != nil {
		s.monitor.OnChange(func(online bool) {
			if online {
				s.outbox.Notify()
			}
		})
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.outbox.Run(runCtx, s.online, s.sendPending, func(localfirst.DrainResult) {
			s.publishReconciled()
		})
	}()
	s.outbox.Notify()
}

// LoadCached reads the durable local cache without contacting the server.
func (s *ProgressStore) LoadCached(ctx context.Context) error {
	if !s.enabled("cache load") {
		return nil
	}
	return s.cache.Load(ctx)
}

func (s *ProgressStore) load(ctx context.Context) {
	if err := s.LoadCached(ctx); err != nil {
		log.Printf("[PROGRESS] Failed to load cached progress for user %d: %v", s.identity.ID, err)
	}

	summary, err := s.api.FetchProgressSummary(ctx, s.identity.ID)
	if err != nil {
		log.Printf("[PROGRESS] Could not load progress from server, using local cache: %v", err)
	} else {
		s.applySummary(ctx, summary)
	}

	records := s.GetAllProgress()
	log.Printf("[PROGRESS] Loaded progress for %d rooms", len(records))
	s.bus.Publish(events.TopicProgressLoaded, events.ProgressLoaded{
		UserID:  s.identity.ID,
		Records: records,
	})
}

// applySummary replaces the cache with the server view, except for rooms
// whose local changes have not been synced yet.
func (s *ProgressStore) applySummary(ctx context.Context, summary *remote.ProgressSummary) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	pending, err := s.outbox.Pending(ctx)
	if err != nil {
		log.Printf("[PROGRESS] Failed to read pending updates, keeping local cache: %v", err)
		return
	}
	unsynced := make(map[models.Room]bool, len(pending))
	for _, item := range pending {
		unsynced[item.Value.RoomName] = true
	}

	local := s.cache.Snapshot()
	next := make(map[models.Room]models.ProgressRecord, len(summary.RoomProgress))
	for _, record := range summary.RoomProgress {
		room, ok := models.NormalizeRoom(string(record.RoomName))
		if !ok {
			log.Printf("[PROGRESS] Ignoring server progress for unknown room %q", record.RoomName)
			continue
		}
		record.RoomName = room
		next[room] = record
	}
	for room := range unsynced {
		if record, ok := local[room]; ok {
			next[room] = record
		}
	}

	s.cache.Replace(next)
	if err := s.cache.Persist(ctx); err != nil {
		log.Printf("[PROGRESS] Failed to persist loaded progress: %v", err)
	}
}

func (s *ProgressStore) UpdateProgress(ctx context.Context, roomName string, update models.ProgressUpdate) bool {
	if !s.enabled("progress update") {
		return false
	}
	room, ok := models.NormalizeRoom(roomName)
	if !ok {
		log.Printf("[PROGRESS] Unknown room %q, update ignored", roomName)
		return false
	}

	s.writeMu.Lock()
	merged := s.cache.Update(room, func(current models.ProgressRecord, ok bool) models.ProgressRecord {
		if !ok {
			current = models.NewProgressRecord(room)
		}
		return models.MergeProgress(current, update, s.now())
	})
	s.commit(ctx, room, merged)
	s.writeMu.Unlock()

	s.publishUpdated(room, merged)
	return true
}

// commit persists the cache and queues the record for sync. Local state is
// already updated, so failures here are only logged. Callers hold writeMu.
func (s *ProgressStore) commit(ctx context.Context, room models.Room, record models.ProgressRecord) {
	if err := s.cache.Persist(ctx); err != nil {
		log.Printf("[PROGRESS] Failed to save progress locally: %v", err)
	}

	pending := models.PendingUpdate{
		RoomName:     room,
		ProgressData: record,
		Timestamp:    s.now(),
	}
	if _, err := s.outbox.Enqueue(ctx, pending); err != nil {
		log.Printf("[PROGRESS] Failed to queue %s update for sync: %v", room, err)
	} else if !s.online() {
		log.Printf("[PROGRESS] Offline, %s update queued for later sync", room)
	}
	s.outbox.Notify()
}

// publishUpdated tells observers about a new record. It must be called without
// writeMu held, since subscribers may call back into the store.
func (s *ProgressStore) publishUpdated(room models.Room, record models.ProgressRecord) {
	s.bus.Publish(events.TopicProgressUpdated, events.ProgressUpdated{
		UserID:   s.identity.ID,
		RoomName: room,
		Progress: record,
	})
}

func (s *ProgressStore) sendPending(ctx context.Context, item localfirst.Item[models.PendingUpdate]) error {
	server, err := s.api.SyncProgress(ctx, s.identity.ID, item.ID, item.Value.ProgressData)
	if err != nil {
		return err
	}
	if server != nil {
		if record, ok := s.reconcile(ctx, item, *server); ok {
			s.reconciledMu.Lock()
			s.reconciled = append(s.reconciled, record)
			s.reconciledMu.Unlock()
		}
	}
	return nil
}

func (s *ProgressStore) publishReconciled() {
	s.reconciledMu.Lock()
	records := s.reconciled
	s.reconciled = nil
	s.reconciledMu.Unlock()

	for _, record := range records {
		s.publishUpdated(record.RoomName, record)
	}
}

// reconcile adopts the server's record unless a later local update for the
// same room is still waiting to be synced. It reports whether the cache changed.
func (s *ProgressStore) reconcile(ctx context.Context, item localfirst.Item[models.PendingUpdate], server models.ProgressRecord) (models.ProgressRecord, bool) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	room := item.Value.RoomName
	pending, err := s.outbox.Pending(ctx)
	if err != nil {
		log.Printf("[PROGRESS] Failed to read pending updates, keeping local %s record: %v", room, err)
		return server, false
	}
	seen := false
	for _, p := range pending {
		if p.ID == item.ID {
			seen = true
			continue
		}
		if seen && p.Value.RoomName == room {
			return server, false
		}
	}

	server.RoomName = room
	s.cache.Put(room, server)
	if err := s.cache.Persist(ctx); err != nil {
		log.Printf("[PROGRESS] Failed to save server progress for %s: %v", room, err)
	}
	return server, true
}

func (s *ProgressStore) MarkRoomComplete(ctx context.Context, roomName string, finalScore int) bool {
	return s.UpdateProgress(ctx, roomName, models.ProgressUpdate{
		ProgressPercentage: models.Int(100),
		CurrentLevel:       models.Int(models.MaxLevel),
		Score:              models.Int(finalScore),
		Completed:          models.Bool(true),
		Attempts:           models.Int(1),
	})
}

func (s *ProgressStore) CompleteChallenge(ctx context.Context, roomName string, result ChallengeResult) bool {
	current := s.GetProgressForRoom(roomName)

	level := result.Level
	if level <= 0 {
		level = max(1, current.CurrentLevel)
	}
	level = min(level, models.MaxLevel)
	percentage := min(100, level*models.LevelStep)

	score := result.Score
	if score <= 0 {
		score = models.DefaultChallengeScore
	}

	return s.UpdateProgress(ctx, roomName, models.ProgressUpdate{
		ProgressPercentage: models.Int(percentage),
		CurrentLevel:       models.Int(level),
		Score:              models.Int(max(current.Score, score)),
		TimeSpent:          models.Int(result.TimeSpent),
		Attempts:           models.Int(1),
		Completed:          models.Bool(percentage >= 100),
	})
}

// IncrementLevel moves the room to level, or to the next level when level is 0.
func (s *ProgressStore) IncrementLevel(ctx context.Context, roomName string, level int) bool {
	if level <= 0 {
		level = min(models.MaxLevel, max(1, s.GetProgressForRoom(roomName).CurrentLevel)+1)
	}
	level = min(level, models.MaxLevel)

	return s.UpdateProgress(ctx, roomName, models.ProgressUpdate{
		CurrentLevel:       models.Int(level),
		ProgressPercentage: models.Int(min(100, level*models.LevelStep)),
		Attempts:           models.Int(1),
		Completed:          models.Bool(level >= models.MaxLevel),
	})
}

// ResetProgress replaces the room's record with a fresh one. It is the only
// operation that lowers progress.
func (s *ProgressStore) ResetProgress(ctx context.Context, roomName string) bool {
	if !s.enabled("progress reset") {
		return false
	}
	room, ok := models.NormalizeRoom(roomName)
	if !ok {
		log.Printf("[PROGRESS] Unknown room %q, reset ignored", roomName)
		return false
	}

	record := models.NewProgressRecord(room)
	now := s.now()
	record.LastAccessed = &now

	s.writeMu.Lock()
	s.cache.Put(room, record)
	s.commit(ctx, room, record)
	s.writeMu.Unlock()

	log.Printf("[PROGRESS] Progress for %s reset", room)
	s.publishUpdated(room, record)
	return true
}

// GetProgressForRoom returns the cached record or a fresh default. It never
// does I/O.
func (s *ProgressStore) GetProgressForRoom(roomName string) models.ProgressRecord {
	room, ok := models.NormalizeRoom(roomName)
	if !ok {
		return models.NewProgressRecord(models.Room(roomName))
	}
	if record, ok := s.cache.Get(room); ok {
		return record
	}
	return models.NewProgressRecord(room)
}

// GetAllProgress returns the cached records in command center order.
func (s *ProgressStore) GetAllProgress() []models.ProgressRecord {
	snapshot := s.cache.Snapshot()
	records := make([]models.ProgressRecord, 0, len(snapshot))
	for _, room := range models.AllRooms {
		if record, ok := snapshot[room]; ok {
			records = append(records, record)
		}
	}
	return records
}

func (s *ProgressStore) GetOverallStats() models.OverallStats {
	return models.ComputeOverallStats(s.GetAllProgress())
}

func (s *ProgressStore) GetProgressDisplay(roomName string) models.ProgressDisplay {
	return s.GetProgressForRoom(roomName).Display()
}

// SaveToStorage persists the cache even when nothing changed.
func (s *ProgressStore) SaveToStorage(ctx context.Context) bool {
	if !s.enabled("save") {
		return false
	}
	if err := s.cache.Persist(ctx); err != nil {
		log.Printf("[PROGRESS] Autosave failed: %v", err)
		return false
	}
	return true
}

// SyncOfflineProgress drains the pending queue now. It does nothing while
// offline.
func (s *ProgressStore) SyncOfflineProgress(ctx context.Context) localfirst.DrainResult {
	if !s.enabled("sync") {
		return localfirst.DrainResult{}
	}
	if !s.online() {
		log.Printf("[PROGRESS] Offline, sync postponed")
		return localfirst.DrainResult{}
	}

	result, err := s.outbox.Drain(ctx, s.sendPending)
	s.publishReconciled()
	if err != nil {
		log.Printf("[PROGRESS] Sync of pending updates failed: %v", err)
	}
	if result.Attempted > 0 {
		log.Printf("[PROGRESS] Synced %d of %d offline progress updates", result.Synced, result.Attempted)
	}
	return result
}

func (s *ProgressStore) PendingUpdates(ctx context.Context) []models.PendingUpdate {
	if !s.identity.Valid() {
		return nil
	}
	items, err := s.outbox.Pending(ctx)
	if err != nil {
		log.Printf("[PROGRESS] Failed to read pending updates: %v", err)
		return nil
	}
	updates := make([]models.PendingUpdate, 0, len(items))
	for _, item := range items {
		update := item.Value
		update.ID = item.ID
		updates = append(updates, update)
	}
	return updates
}

func (s *ProgressStore) StartAutoSave(runner *jobs.Runner, interval time.Duration) error {
	if !s.enabled("autosave") {
		return nil
	}
	return runner.Every("progress-autosave", interval, func(ctx context.Context) {
		s.SaveToStorage(ctx)
	})
}

// Stop ends the background sync and saves the cache one last time.
func (s *ProgressStore) Stop(ctx context.Context) {
	if !s.identity.Valid() {
		return
	}
	s.runMu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.runMu.Unlock()

	if cancel != nil {
		cancel()
		s.wg.Wait()
	}
	s.SaveToStorage(ctx)
}
