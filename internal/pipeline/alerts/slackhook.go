package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/autopiloot/corepipe/internal/domain"
)

// SlackNotifier posts a formatted message to an incoming webhook. It is the
// one concrete Notifier the pipeline ships; the Slack SDK itself is an
// out-of-scope collaborator, so this is a plain net/http POST of the
// webhook's expected block payload.
type SlackNotifier struct {
	WebhookURL string
	Channel    string
	Client     *http.Client
}

func NewSlackNotifier(webhookURL, channel string) *SlackNotifier {
	ch := channel
	if ch != "" && ch[0] != '#' {
		ch = "#" + ch
	}
	return &SlackNotifier{WebhookURL: webhookURL, Channel: ch, Client: &http.Client{Timeout: 5 * time.Second}}
}

type slackBlock struct {
	Text    string `json:"text"`
	Channel string `json:"channel,omitempty"`
}

func (n *SlackNotifier) Notify(ctx context.Context, alertType string, severity domain.DLQSeverity, payload map[string]any) error {
	if n.WebhookURL == "" {
		return nil
	}

	text := fmt.Sprintf("[%s] %s", severity, alertType)
	for k, v := range payload {
		text += fmt.Sprintf("\n  %s: %v", k, v)
	}

	body, err := json.Marshal(slackBlock{Text: text, Channel: n.Channel})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook: status %d", resp.StatusCode)
	}
	return nil
}
