package services

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/ad/go-techlabs-agent/internal/connectivity"
	"github.com/ad/go-techlabs-agent/internal/db"
	"github.com/ad/go-techlabs-agent/internal/events"
	"github.com/ad/go-techlabs-agent/internal/localfirst"
	"github.com/ad/go-techlabs-agent/internal/models"
)

const (
	// PerfectScoreThreshold is the level score that also earns perfect_score_specialist.
	PerfectScoreThreshold = 95
	// SpeedRunSeconds is the room time below which speed_runner is earned.
	SpeedRunSeconds = 1800
	// RequiredLevels is how many levels must be finished for room and difficulty badges.
	RequiredLevels = models.MaxLevel
)

// BadgeAPI is the remote side of badge persistence.
type BadgeAPI interface {
	FetchUserBadges(ctx context.Context, userID int64) ([]models.EarnedBadge, error)
	AwardBadge(ctx context.Context, userID int64, idempotencyKey string, badge models.EarnedBadge) error
}

// BadgeDispatcher hands a new badge to the notification presenter without waiting.
type BadgeDispatcher interface {
	Dispatch(userID int64, badge models.EarnedBadge)
}

// AchievementEngine decides which badges the learner has earned and grants
// each of them at most once.
type AchievementEngine struct {
	identity   *models.Identity
	catalog    *BadgeCatalog
	badgeRepo  *db.BadgeRepository
	api        BadgeAPI
	bus        *events.Bus
	dispatcher BadgeDispatcher
	monitor    *connectivity.Monitor

	earned *localfirst.Cache[models.BadgeKey, models.EarnedBadge]
	outbox *localfirst.Outbox[models.BadgeAward]

	// roomMu makes room completion checks see each other's awards.
	roomMu sync.Mutex
	now    func() time.Time

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewAchievementEngine(
	identity *models.Identity,
	catalog *BadgeCatalog,
	badgeRepo *db.BadgeRepository,
	outboxRepo *db.OutboxRepository,
	api BadgeAPI,
	bus *events.Bus,
	dispatcher BadgeDispatcher,
	monitor *connectivity.Monitor,
) *AchievementEngine {
	e := &AchievementEngine{
		identity:   identity,
		catalog:    catalog,
		badgeRepo:  badgeRepo,
		api:        api,
		bus:        bus,
		dispatcher: dispatcher,
		monitor:    monitor,
		now:        time.Now,
	}

	if !identity.Valid() {
		log.Printf("[ACHIEVEMENT_ENGINE] No user identity available, badges are disabled")
		e.earned = localfirst.NewCache[models.BadgeKey, models.EarnedBadge](nil)
		return e
	}

	e.earned = localfirst.NewCache[models.BadgeKey, models.EarnedBadge](badgeRepo.ForUser(identity.ID))
	e.outbox = localfirst.NewOutbox[models.BadgeAward](outboxRepo, identity.ID, db.OutboxKindBadgeAward)
	return e
}

func (e *AchievementEngine) enabled(op string) bool {
	if e.identity.Valid() {
		return true
	}
	log.Printf("[ACHIEVEMENT_ENGINE] No user identity, ignoring %s", op)
	return false
}

func (e *AchievementEngine) online() bool {
	return e.monitor == nil || e.monitor.Online()
}

// Start loads earned badges and begins retrying unsaved awards in the background.
func (e *AchievementEngine) Start(ctx context.Context) {
	if !e.enabled("start") {
		return
	}

	e.Load(ctx)

	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	if e.monitor != nil {
		e.monitor.OnChange(func(online bool) {
			if online {
				e.outbox.Notify()
			}
		})
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.outbox.Run(runCtx, e.online, e.sendAward, nil)
	}()
	e.outbox.Notify()
}

// Load merges the locally stored badges with the ones the server knows about
// and stores the union locally.
func (e *AchievementEngine) Load(ctx context.Context) {
	if !e.enabled("badge load") {
		return
	}

	if err := e.earned.Load(ctx); err != nil {
		log.Printf("[ACHIEVEMENT_ENGINE] Failed to load local badges for user %d: %v", e.identity.ID, err)
	}

	badges, err := e.api.FetchUserBadges(ctx, e.identity.ID)
	if err != nil {
		log.Printf("[ACHIEVEMENT_ENGINE] Could not load user achievements from server: %v", err)
		log.Printf("[ACHIEVEMENT_ENGINE] Using %d locally stored badges", e.earned.Len())
		return
	}

	added := 0
	for _, badge := range badges {
		if badge.BadgeName == "" {
			continue
		}
		if def, ok := e.catalog.Lookup(badge.BadgeName); ok && badge.Name == "" {
			badge.BadgeDefinition = def
		}
		if badge.Key == "" {
			badge.Key = badge.BadgeName
		}
		if badge.EarnedAt.IsZero() {
			badge.EarnedAt = e.now()
		}
		if e.earned.PutIfAbsent(badge.BadgeName, badge) {
			added++
		}
	}

	if err := e.earned.Persist(ctx); err != nil {
		log.Printf("[ACHIEVEMENT_ENGINE] Failed to store loaded badges: %v", err)
	}
	log.Printf("[ACHIEVEMENT_ENGINE] Loaded %d badges (%d from server only)", e.earned.Len(), added)
}

// AwardBadge grants key once. It reports whether this call earned the badge;
// unknown and already earned keys are logged no-ops.
func (e *AchievementEngine) AwardBadge(ctx context.Context, key models.BadgeKey, badgeCtx map[string]any) bool {
	if !e.enabled("award of " + key.String()) {
		return false
	}

	badge, ok := e.claim(key, badgeCtx)
	if !ok {
		return false
	}
	e.announce(ctx, badge)
	return true
}

// claim records key as earned in memory. Only the first claim of a key
// succeeds.
func (e *AchievementEngine) claim(key models.BadgeKey, badgeCtx map[string]any) (models.EarnedBadge, bool) {
	def, ok := e.catalog.Lookup(key)
	if !ok {
		log.Printf("[ACHIEVEMENT_ENGINE] Unknown badge: %s", key)
		return models.EarnedBadge{}, false
	}

	badge := models.EarnedBadge{
		BadgeName:       key,
		EarnedAt:        e.now(),
		BadgeDefinition: def,
		Context:         copyContext(badgeCtx),
	}
	if !e.earned.PutIfAbsent(key, badge) {
		log.Printf("[ACHIEVEMENT_ENGINE] Badge %s already earned", key)
		return models.EarnedBadge{}, false
	}
	log.Printf("[ACHIEVEMENT_ENGINE] Awarded badge %s (%s) to user %d", key, def.Name, e.identity.ID)
	return badge, true
}

// announce runs the side effects of a claimed badge: notification, event,
// local store and remote outbox, in that order. Callers must not hold roomMu.
func (e *AchievementEngine) announce(ctx context.Context, badge models.EarnedBadge) {
	key := badge.BadgeName
	if e.dispatcher != nil {
		e.dispatcher.Dispatch(e.identity.ID, badge)
	}

	e.bus.Publish(events.TopicBadgeEarned, events.BadgeEarned{
		UserID:    e.identity.ID,
		BadgeKey:  key,
		BadgeInfo: badge.BadgeDefinition,
		Context:   badge.Context,
	})

	if err := e.badgeRepo.AssignToUser(ctx, e.identity.ID, badge); err != nil {
		log.Printf("[ACHIEVEMENT_ENGINE] Failed to store badge %s locally: %v", key, err)
	}
	if _, err := e.outbox.Enqueue(ctx, models.BadgeAward{UserID: e.identity.ID, Badge: badge}); err != nil {
		log.Printf("[ACHIEVEMENT_ENGINE] Failed to queue badge %s for the server: %v", key, err)
		return
	}
	e.outbox.Notify()
}

func (e *AchievementEngine) sendAward(ctx context.Context, item localfirst.Item[models.BadgeAward]) error {
	if err := e.api.AwardBadge(ctx, item.Value.UserID, item.ID, item.Value.Badge); err != nil {
		return err
	}
	log.Printf("[ACHIEVEMENT_ENGINE] Badge %s saved to server", item.Value.Badge.BadgeName)
	return nil
}

func copyContext(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (e *AchievementEngine) awardContext(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra)+1)
	for k, v := range base {
		out[k] = v
	}
	out["completedAt"] = e.now().UTC().Format(time.RFC3339)
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func (e *AchievementEngine) claimInto(claimed []models.EarnedBadge, key models.BadgeKey, badgeCtx map[string]any) []models.EarnedBadge {
	if badge, ok := e.claim(key, badgeCtx); ok {
		claimed = append(claimed, badge)
	}
	return claimed
}

// announceAll announces claimed badges in claim order and returns their keys.
func (e *AchievementEngine) announceAll(ctx context.Context, claimed []models.EarnedBadge) []models.BadgeKey {
	if len(claimed) == 0 {
		return nil
	}
	keys := make([]models.BadgeKey, 0, len(claimed))
	for _, badge := range claimed {
		e.announce(ctx, badge)
		keys = append(keys, badge.BadgeName)
	}
	return keys
}

func normalizeBadgeRoom(op, roomName string) (models.Room, bool) {
	room, ok := models.NormalizeRoom(roomName)
	if !ok {
		log.Printf("[ACHIEVEMENT_ENGINE] Unknown room %q in %s", roomName, op)
	}
	return room, ok
}

// CheckLevelCompletion awards the room's level badge and, for a score of at
// least PerfectScoreThreshold, perfect_score_specialist. It returns the badges
// earned by this call.
func (e *AchievementEngine) CheckLevelCompletion(ctx context.Context, roomName string, level, score, timeSpent int, extra map[string]any) []models.BadgeKey {
	if !e.enabled("level check") {
		return nil
	}
	room, ok := normalizeBadgeRoom("level check", roomName)
	if !ok {
		return nil
	}

	var claimed []models.EarnedBadge
	claimed = e.claimInto(claimed, models.LevelBadge(room, level), e.awardContext(map[string]any{
		"roomName":  room.Codename(),
		"level":     level,
		"score":     score,
		"timeSpent": timeSpent,
	}, extra))

	if score >= PerfectScoreThreshold {
		claimed = e.claimInto(claimed, models.BadgePerfectScore, e.awardContext(map[string]any{
			"roomName": room.Codename(),
		}, nil))
	}
	return e.announceAll(ctx, claimed)
}

// CheckRoomCompletion needs RequiredLevels finished levels. It awards the
// room badge, speed_runner for a fast room, room_explorer when no room was
// complete before this call and finally tech_polymath once every room is done.
func (e *AchievementEngine) CheckRoomCompletion(ctx context.Context, roomName string, totalScore, totalTime, completedLevels int, extra map[string]any) []models.BadgeKey {
	if !e.enabled("room check") {
		return nil
	}
	if completedLevels < RequiredLevels {
		return nil
	}
	room, ok := normalizeBadgeRoom("room check", roomName)
	if !ok {
		return nil
	}

	e.roomMu.Lock()
	firstRoom := !e.hasAnyRoomComplete()

	var claimed []models.EarnedBadge
	claimed = e.claimInto(claimed, models.RoomCompleteBadge(room), e.awardContext(map[string]any{
		"roomName":        room.Codename(),
		"totalScore":      totalScore,
		"totalTime":       totalTime,
		"completedLevels": completedLevels,
	}, extra))

	if totalTime < SpeedRunSeconds {
		claimed = e.claimInto(claimed, models.BadgeSpeedRunner, e.awardContext(map[string]any{
			"roomName":  room.Codename(),
			"totalTime": totalTime,
		}, nil))
	}

	if firstRoom {
		claimed = e.claimInto(claimed, models.BadgeRoomExplorer, e.awardContext(map[string]any{
			"firstRoom": room.Codename(),
		}, nil))
	}
	claimed = append(claimed, e.claimAllRooms()...)
	e.roomMu.Unlock()

	return e.announceAll(ctx, claimed)
}

func (e *AchievementEngine) hasAnyRoomComplete() bool {
	for _, badge := range e.earned.Values() {
		if badge.BadgeName.IsRoomComplete() {
			return true
		}
	}
	return false
}

// CheckDifficultyCompletion awards the room's easy or hard badge once all
// levels of that difficulty are finished.
func (e *AchievementEngine) CheckDifficultyCompletion(ctx context.Context, roomName string, difficulty models.Difficulty, completedLevels int, extra map[string]any) []models.BadgeKey {
	if !e.enabled("difficulty check") {
		return nil
	}
	if completedLevels < RequiredLevels {
		return nil
	}
	room, ok := normalizeBadgeRoom("difficulty check", roomName)
	if !ok {
		return nil
	}

	key := models.DifficultyBadge(room, difficulty)
	if _, ok := e.catalog.Lookup(key); !ok {
		log.Printf("[ACHIEVEMENT_ENGINE] No %s badge for %s", difficulty, room)
		return nil
	}

	return e.announceAll(ctx, e.claimInto(nil, key, e.awardContext(map[string]any{
		"roomName":        room.Codename(),
		"difficulty":      string(difficulty),
		"completedLevels": completedLevels,
	}, extra)))
}

// CheckAllRoomsCompletion awards tech_polymath when every room has its
// room badge.
func (e *AchievementEngine) CheckAllRoomsCompletion(ctx context.Context) []models.BadgeKey {
	if !e.enabled("all rooms check") {
		return nil
	}
	e.roomMu.Lock()
	claimed := e.claimAllRooms()
	e.roomMu.Unlock()
	return e.announceAll(ctx, claimed)
}

// claimAllRooms claims tech_polymath when every room badge is earned. Callers
// hold roomMu.
func (e *AchievementEngine) claimAllRooms() []models.EarnedBadge {
	completed := make([]string, 0, len(models.AllRooms))
	for _, room := range models.AllRooms {
		if !e.earned.Has(models.RoomCompleteBadge(room)) {
			return nil
		}
		completed = append(completed, room.Codename())
	}
	return e.claimInto(nil, models.BadgeTechPolymath, e.awardContext(map[string]any{
		"completedRooms": completed,
	}, nil))
}

// GetUserBadges returns earned badges, oldest first.
func (e *AchievementEngine) GetUserBadges() []models.EarnedBadge {
	badges := e.earned.Values()
	sort.Slice(badges, func(i, j int) bool {
		if !badges[i].EarnedAt.Equal(badges[j].EarnedAt) {
			return badges[i].EarnedAt.Before(badges[j].EarnedAt)
		}
		return badges[i].BadgeName < badges[j].BadgeName
	})
	return badges
}

func (e *AchievementEngine) HasBadge(key models.BadgeKey) bool {
	return e.earned.Has(key)
}

func (e *AchievementEngine) TotalPoints() int {
	total := 0
	for _, badge := range e.earned.Values() {
		total += badge.Points
	}
	return total
}

func (e *AchievementEngine) Catalog() *BadgeCatalog {
	return e.catalog
}

// SyncPendingAwards retries unsaved awards now. It does nothing while offline.
func (e *AchievementEngine) SyncPendingAwards(ctx context.Context) localfirst.DrainResult {
	if !e.enabled("badge sync") {
		return localfirst.DrainResult{}
	}
	if !e.online() {
		log.Printf("[ACHIEVEMENT_ENGINE] Offline, badge sync postponed")
		return localfirst.DrainResult{}
	}

	result, err := e.outbox.Drain(ctx, e.sendAward)
	if err != nil {
		log.Printf("[ACHIEVEMENT_ENGINE] Badge sync failed: %v", err)
	}
	return result
}

func (e *AchievementEngine) PendingAwards(ctx context.Context) int {
	if !e.identity.Valid() {
		return 0
	}
	n, err := e.outbox.Len(ctx)
	if err != nil {
		log.Printf("[ACHIEVEMENT_ENGINE] Failed to count pending awards: %v", err)
		return 0
	}
	return n
}

// Stop ends the background award sync.
func (e *AchievementEngine) Stop() {
	e.runMu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.runMu.Unlock()

	if cancel != nil {
		cancel()
		e.wg.Wait()
	}
}
