package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"dutydesk/models"

	"golang.org/x/time/rate"
)

// Notifier delivers out-of-band announcements of new pings.
type Notifier interface {
	NotifyPing(ctx context.Context, ping *models.Ping) error
}

// Nop drops every notification. It is used when no channel is configured.
type Nop struct{}

func (Nop) NotifyPing(context.Context, *models.Ping) error { return nil }

// DiscordChannel posts ping announcements to a guild text channel. Sends
// are paced by a token bucket so bursts of pings stay under the channel
// rate limit.
type DiscordChannel struct {
	http      *http.Client
	apiBase   string
	channelID string
	botToken  string
	limiter   *rate.Limiter
}

func NewDiscordChannel(apiBase, channelID, botToken string, timeout time.Duration) *DiscordChannel {
	return &DiscordChannel{
		http:      &http.Client{Timeout: timeout},
		apiBase:   apiBase,
		channelID: channelID,
		botToken:  botToken,
		limiter:   rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

type message struct {
	Content string `json:"content"`
}

// FormatPing renders the channel message for a ping.
func FormatPing(ping *models.Ping) string {
	text := fmt.Sprintf("📣 **%s** requests an instructor for **%s**", ping.Requester.Tag, ping.TestType)
	if ping.Note != "" {
		text += fmt.Sprintf(": %s", ping.Note)
	}
	return text
}

func (d *DiscordChannel) NotifyPing(ctx context.Context, ping *models.Ping) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notification rate limit: %w", err)
	}

	body, err := json.Marshal(message{Content: FormatPing(ping)})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	endpoint := fmt.Sprintf("%s/channels/%s/messages", d.apiBase, url.PathEscape(d.channelID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+d.botToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post message: status %d: %s", resp.StatusCode, detail)
	}
	return nil
}
