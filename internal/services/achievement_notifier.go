package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ad/go-techlabs-agent/internal/models"
	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
)

// BadgeNotifier presents a newly earned badge to the learner.
type BadgeNotifier interface {
	NotifyBadge(ctx context.Context, userID int64, badge models.EarnedBadge) error
}

var badgeTypeEmojis = map[models.BadgeType]string{
	models.BadgeTypeLevel:      "⭐",
	models.BadgeTypeDifficulty: "🎯",
	models.BadgeTypeRoom:       "🏆",
	models.BadgeTypeSpecial:    "⚡",
	models.BadgeTypeMilestone:  "🚪",
	models.BadgeTypeLegendary:  "👑",
}

var badgeEmojis = map[models.BadgeKey]string{
	models.BadgePerfectScore: "💯",
	models.BadgeSpeedRunner:  "⚡",
	models.BadgeRoomExplorer: "🚪",
	models.BadgeTechPolymath: "👑",
}

func GetBadgeEmoji(def models.BadgeDefinition) string {
	if emoji, ok := badgeEmojis[def.Key]; ok {
		return emoji
	}
	if emoji, ok := badgeTypeEmojis[def.Type]; ok {
		return emoji
	}
	return "🏅"
}

func FormatBadgeNotification(def models.BadgeDefinition) string {
	return fmt.Sprintf(
		"🏆 Badge Earned!\n\n%s %s\n\n%s\n\n+%d points",
		GetBadgeEmoji(def),
		def.Name,
		def.Description,
		def.Points,
	)
}

type LogNotifier struct{}

func (LogNotifier) NotifyBadge(_ context.Context, userID int64, badge models.EarnedBadge) error {
	log.Printf("[ACHIEVEMENT_NOTIFIER] User %d earned %s:\n%s", userID, badge.BadgeName, FormatBadgeNotification(badge.BadgeDefinition))
	return nil
}

// MessageSender is the part of *bot.Bot used for notifications.
type MessageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// TelegramNotifier posts badge notifications to a fixed chat.
type TelegramNotifier struct {
	sender MessageSender
	chatID int64
}

func NewTelegramNotifier(sender MessageSender, chatID int64) *TelegramNotifier {
	return &TelegramNotifier{sender: sender, chatID: chatID}
}

func (n *TelegramNotifier) NotifyBadge(ctx context.Context, userID int64, badge models.EarnedBadge) error {
	params := &bot.SendMessageParams{
		ChatID:    n.chatID,
		Text:      FormatBadgeHTML(badge.BadgeDefinition),
		ParseMode: tgmodels.ParseModeHTML,
	}

	_, err := n.sender.SendMessage(ctx, params)
	if err != nil {
		log.Printf("[ACHIEVEMENT_NOTIFIER] Failed to send notification for user %d to chat %d: %v", userID, n.chatID, err)
		return err
	}
	return nil
}

type badgeNotification struct {
	userID int64
	badge  models.EarnedBadge
}

// NotificationDispatcher delivers notifications on its own goroutine. Dispatch
// never blocks and every dispatched notification is delivered once.
type NotificationDispatcher struct {
	notifier BadgeNotifier
	timeout  time.Duration

	mu      sync.Mutex
	pending []badgeNotification
	closed  bool

	wake chan struct{}
	done chan struct{}
}

func NewNotificationDispatcher(notifier BadgeNotifier) *NotificationDispatcher {
	d := &NotificationDispatcher{
		notifier: notifier,
		timeout:  10 * time.Second,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go d.worker()
	return d
}

func (d *NotificationDispatcher) Dispatch(userID int64, badge models.EarnedBadge) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		log.Printf("[ACHIEVEMENT_NOTIFIER] Dispatcher closed, dropping notification for %s", badge.BadgeName)
		return
	}
	d.pending = append(d.pending, badgeNotification{userID: userID, badge: badge})
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *NotificationDispatcher) worker() {
	defer close(d.done)
	for {
		d.mu.Lock()
		batch := d.pending
		d.pending = nil
		closed := d.closed
		d.mu.Unlock()

		for _, n := range batch {
			d.deliver(n)
		}
		if closed && len(batch) == 0 {
			return
		}
		if len(batch) == 0 {
			<-d.wake
		}
	}
}

func (d *NotificationDispatcher) deliver(n badgeNotification) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.notifier.NotifyBadge(ctx, n.userID, n.badge); err != nil {
		log.Printf("[ACHIEVEMENT_NOTIFIER] Error notifying user %d about %s: %v", n.userID, n.badge.BadgeName, err)
	}
}

// Close delivers what is already queued and stops the worker, or gives up
// when ctx ends first.
func (d *NotificationDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
