// Package observability provides a Slack callback for alerting on
// transport failures and circuit-breaker trips.
package observability

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/obsidian-copilot/transport-core/pkg/types"
)

// SlackConfig contains configuration for Slack alerting.
type SlackConfig struct {
	WebhookURL       string        // Slack webhook URL
	Channel          string        // Override channel (optional)
	Username         string        // Bot username (default: "Transport Core")
	IconEmoji        string        // Bot icon emoji (default: ":satellite:")
	AlertOnFailure   bool          // Alert on transport failure events
	AlertOnCircuit   bool          // Alert when a circuit breaker opens
	MinErrorInterval time.Duration // Minimum interval between alerts (rate limiting)
	ErrorThreshold   int           // Number of events before alerting
}

// DefaultSlackConfig returns default configuration from environment.
func DefaultSlackConfig() SlackConfig {
	return SlackConfig{
		WebhookURL:       os.Getenv("SLACK_WEBHOOK_URL"),
		Channel:          os.Getenv("SLACK_CHANNEL"),
		Username:         "Transport Core",
		IconEmoji:        ":satellite:",
		AlertOnFailure:   true,
		AlertOnCircuit:   true,
		MinErrorInterval: time.Minute,
		ErrorThreshold:   1,
	}
}

// SlackCallback implements Callback by posting alerts to a Slack webhook.
type SlackCallback struct {
	config     SlackConfig
	client     *http.Client
	lastAlert  time.Time
	errorCount int
	mu         sync.Mutex
}

type slackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color      string       `json:"color,omitempty"`
	Title      string       `json:"title,omitempty"`
	Text       string       `json:"text,omitempty"`
	Fields     []slackField `json:"fields,omitempty"`
	Footer     string       `json:"footer,omitempty"`
	Timestamp  int64        `json:"ts,omitempty"`
	MarkdownIn []string     `json:"mrkdwn_in,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackCallback creates a new Slack callback.
func NewSlackCallback(cfg SlackConfig) (*SlackCallback, error) {
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("slack: webhook_url is required")
	}
	return &SlackCallback{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Name returns the callback name.
func (s *SlackCallback) Name() string {
	return "slack"
}

// OnEvent alerts on transport failures and circuit-open transitions.
func (s *SlackCallback) OnEvent(ctx context.Context, evt Event) error {
	switch evt.Type {
	case EventTransportFailed:
		if !s.config.AlertOnFailure {
			return nil
		}
		if !s.shouldAlert() {
			return nil
		}
		return s.send(ctx, s.buildFailureMessage(evt))

	case EventHealthChanged, EventHealthUpdated:
		if !s.config.AlertOnCircuit {
			return nil
		}
		if evt.Health == nil || evt.Health.CircuitState != types.CircuitOpen {
			return nil
		}
		if !s.shouldAlert() {
			return nil
		}
		return s.send(ctx, s.buildCircuitOpenMessage(evt))

	case EventTransportSwitched:
		if !s.config.AlertOnFailure {
			return nil
		}
		return s.send(ctx, s.buildSwitchMessage(evt))
	}
	return nil
}

// shouldAlert applies the error-threshold/min-interval rate limit shared by
// failure and circuit alerts.
func (s *SlackCallback) shouldAlert() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.errorCount++
	if s.errorCount < s.config.ErrorThreshold {
		return false
	}
	if time.Since(s.lastAlert) < s.config.MinErrorInterval {
		return false
	}
	s.lastAlert = time.Now()
	s.errorCount = 0
	return true
}

// Shutdown is a no-op for Slack.
func (s *SlackCallback) Shutdown(ctx context.Context) error {
	return nil
}

func (s *SlackCallback) buildFailureMessage(evt Event) slackMessage {
	errMsg := "unknown error"
	if evt.Err != nil {
		errMsg = evt.Err.Error()
	}
	if len(errMsg) > 500 {
		errMsg = errMsg[:500] + "..."
	}

	caser := cases.Title(language.English)
	fields := []slackField{
		{Title: "Transport", Value: caser.String(string(evt.Transport)), Short: true},
		{Title: "Time", Value: evt.Timestamp.Format(time.RFC3339), Short: true},
	}

	return slackMessage{
		Channel:   s.config.Channel,
		Username:  s.config.Username,
		IconEmoji: s.config.IconEmoji,
		Attachments: []slackAttachment{{
			Color:      "danger",
			Title:      ":x: Transport Failed",
			Text:       fmt.Sprintf("```%s```", errMsg),
			Fields:     fields,
			Footer:     "Transport Core Alert",
			Timestamp:  time.Now().Unix(),
			MarkdownIn: []string{"text"},
		}},
	}
}

func (s *SlackCallback) buildCircuitOpenMessage(evt Event) slackMessage {
	caser := cases.Title(language.English)
	fields := []slackField{
		{Title: "Transport", Value: caser.String(string(evt.Transport)), Short: true},
		{Title: "Error Rate", Value: fmt.Sprintf("%.1f%%", evt.Health.ErrorRate*100), Short: true},
		{Title: "Consecutive Failures", Value: fmt.Sprintf("%d", evt.Health.ConsecutiveFailures), Short: true},
	}

	return slackMessage{
		Channel:   s.config.Channel,
		Username:  s.config.Username,
		IconEmoji: s.config.IconEmoji,
		Attachments: []slackAttachment{{
			Color:      "warning",
			Title:      ":warning: Circuit Breaker Opened",
			Text:       fmt.Sprintf("Circuit for `%s` opened after repeated failures", evt.Transport),
			Fields:     fields,
			Footer:     "Transport Core Alert",
			Timestamp:  time.Now().Unix(),
			MarkdownIn: []string{"text"},
		}},
	}
}

func (s *SlackCallback) buildSwitchMessage(evt Event) slackMessage {
	caser := cases.Title(language.English)
	text := fmt.Sprintf("Failed over from `%s` to `%s`", evt.Transport, evt.FallbackTo)

	return slackMessage{
		Channel:   s.config.Channel,
		Username:  s.config.Username,
		IconEmoji: s.config.IconEmoji,
		Attachments: []slackAttachment{{
			Color: "warning",
			Title: fmt.Sprintf(":twisted_rightwards_arrows: %s Failover", caser.String(string(evt.Transport))),
			Text:  text,
			Fields: []slackField{
				{Title: "From", Value: string(evt.Transport), Short: true},
				{Title: "To", Value: string(evt.FallbackTo), Short: true},
			},
			Footer:     "Transport Core Alert",
			Timestamp:  time.Now().Unix(),
			MarkdownIn: []string{"text"},
		}},
	}
}

func (s *SlackCallback) send(ctx context.Context, msg slackMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack: failed to send message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
