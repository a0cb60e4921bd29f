// Package remote talks to the platform API that eventually receives progress
// and badge awards.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ad/go-techlabs-agent/internal/models"
)

var (
	ErrStatus   = errors.New("unexpected status")
	ErrNotFound = errors.New("not found")
)

const DefaultTimeout = 10 * time.Second

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: timeout,
		},
	}
}

type ProgressSummary struct {
	RoomProgress []models.ProgressRecord `json:"room_progress"`
	OverallStats models.OverallStats     `json:"overall_stats"`
}

type progressResponse struct {
	Progress *models.ProgressRecord `json:"progress"`
}

type badgeAwardRequest struct {
	BadgeName models.BadgeKey  `json:"badge_name"`
	BadgeType models.BadgeType `json:"badge_type"`
	Points    int              `json:"points"`
	Metadata  map[string]any   `json:"metadata"`
}

type achievementAwardRequest struct {
	AchievementKey models.BadgeKey `json:"achievement_key"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Icon           string          `json:"icon"`
	BadgeColor     string          `json:"badge_color"`
	Points         int             `json:"points"`
	Category       string          `json:"category"`
	ProgressData   map[string]any  `json:"progress_data"`
}

func (c *Client) FetchProgressSummary(ctx context.Context, userID int64) (*ProgressSummary, error) {
	var out ProgressSummary
	path := fmt.Sprintf("/users/%d/progress/summary", userID)
	if err := c.do(ctx, http.MethodGet, path, userID, "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SyncProgress posts a validated record. The returned record is the server's
// authoritative view and is nil when the server does not send one.
func (c *Client) SyncProgress(ctx context.Context, userID int64, idempotencyKey string, record models.ProgressRecord) (*models.ProgressRecord, error) {
	var out progressResponse
	path := fmt.Sprintf("/users/%d/progress", userID)
	if err := c.do(ctx, http.MethodPost, path, userID, idempotencyKey, record, &out); err != nil {
		return nil, err
	}
	return out.Progress, nil
}

func (c *Client) FetchUserBadges(ctx context.Context, userID int64) ([]models.EarnedBadge, error) {
	var out []models.EarnedBadge
	if err := c.do(ctx, http.MethodGet, "/achievements/user", userID, "", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AwardBadge writes the badge and the achievement resources. The award is
// persisted only when both writes succeed.
func (c *Client) AwardBadge(ctx context.Context, userID int64, idempotencyKey string, badge models.EarnedBadge) error {
	metadata := badge.Context
	if metadata == nil {
		metadata = map[string]any{}
	}

	badgeReq := badgeAwardRequest{
		BadgeName: badge.BadgeName,
		BadgeType: badge.Type,
		Points:    badge.Points,
		Metadata:  metadata,
	}
	if err := c.do(ctx, http.MethodPost, "/badges/award", userID, idempotencyKey, badgeReq, nil); err != nil {
		return fmt.Errorf("badges award: %w", err)
	}

	achievementReq := achievementAwardRequest{
		AchievementKey: badge.BadgeName,
		Title:          badge.Name,
		Description:    badge.Description,
		Icon:           badge.Icon,
		BadgeColor:     badge.Color,
		Points:         badge.Points,
		Category:       badge.Room,
		ProgressData:   metadata,
	}
	if err := c.do(ctx, http.MethodPost, "/achievements/award", userID, idempotencyKey, achievementReq, nil); err != nil {
		return fmt.Errorf("achievements award: %w", err)
	}
	return nil
}

// Ping checks the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", 0, "", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, userID int64, idempotencyKey string, in, out any) error {
	var body io.Reader
	if in != nil {
		jsonData, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if userID > 0 {
		req.Header.Set("X-User-ID", strconv.FormatInt(userID, 10))
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s returned %d: %w", method, path, resp.StatusCode, ErrStatus)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
