package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SlackClient posts Block Kit messages to an incoming webhook.
type SlackClient struct {
	webhookURL string
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// NewSlackClient returns nil when webhookURL is empty.
func NewSlackClient(webhookURL, appBaseURL string) *SlackClient {
	if webhookURL == "" {
		return nil
	}
	return &SlackClient{
		webhookURL: webhookURL,
		baseURL:    strings.TrimRight(appBaseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackButton struct {
	Type     string    `json:"type"`
	Text     slackText `json:"text"`
	URL      string    `json:"url"`
	ActionID string    `json:"action_id"`
}

type slackBlock struct {
	Type      string       `json:"type"`
	Text      *slackText   `json:"text,omitempty"`
	Accessory *slackButton `json:"accessory,omitempty"`
}

type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

func markdown(s string) *slackText { return &slackText{Type: "mrkdwn", Text: s} }

var divider = slackBlock{Type: "divider"}

// message builds the webhook payload for b.
func (c *SlackClient) message(b Batch) slackMessage {
	n := len(b.Violations)
	blocks := []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: "🌊 " + plural(n, "New Violation") + " Detected"}},
		{Type: "section", Text: markdown(fmt.Sprintf("*Subscription:* %s\n*Detected:* %s", b.SubscriptionName, b.DateRange()))},
		divider,
	}

	rs := rows(b.Violations)
	for i, r := range rs {
		var badges []string
		if r.Impaired {
			badges = append(badges, "⚠️ Impaired Water")
		}
		if r.Repeat {
			badges = append(badges, "🔄 Repeat Offender")
		}
		if r.DAC {
			badges = append(badges, "🌍 DAC")
		}

		text := fmt.Sprintf("*%s* (%s)\n*Pollutant:* %s\n*Max Ratio:* %s NAL\n*Count:* %s\n*County:* %s",
			r.FacilityName, r.PermitID, r.Pollutant, r.Ratio, plural(r.Count, "exceedance"), r.County)
		if len(badges) > 0 {
			text += "\n" + strings.Join(badges, " • ")
		}

		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: markdown(text),
			Accessory: &slackButton{
				Type:     "button",
				Text:     slackText{Type: "plain_text", Text: "View Details", Emoji: true},
				URL:      c.baseURL + "/facilities/" + r.FacilityID,
				ActionID: "view_facility",
			},
		})
		if i < len(rs)-1 {
			blocks = append(blocks, divider)
		}
	}

	blocks = append(blocks, divider, slackBlock{
		Type: "section",
		Text: markdown("_Data from CIWQS • Last updated: " + c.now().Format("Jan 2, 2006 3:04 PM MST") + "_"),
		Accessory: &slackButton{
			Type:     "button",
			Text:     slackText{Type: "plain_text", Text: "View Dashboard"},
			URL:      c.baseURL + "/dashboard",
			ActionID: "view_dashboard",
		},
	})

	return slackMessage{
		Text:   fmt.Sprintf("Stormwater Watch: %s in %s", plural(n, "new violation"), b.SubscriptionName),
		Blocks: blocks,
	}
}

// Send posts the alert for b.
func (c *SlackClient) Send(ctx context.Context, b Batch) error {
	return c.post(ctx, c.message(b))
}

// SendError posts an operational failure to the same webhook.
func (c *SlackClient) SendError(ctx context.Context, cause error, where string) error {
	title := "🚨 Stormwater Watch Error"
	detail := fmt.Sprintf("*Message:* %s", cause)
	if where != "" {
		title += ": " + where
		detail += "\n*Context:* " + where
	}
	return c.post(ctx, slackMessage{
		Text:   title,
		Blocks: []slackBlock{{Type: "section", Text: markdown(detail)}},
	})
}

func (c *SlackClient) post(ctx context.Context, msg slackMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding slack message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("slack webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
