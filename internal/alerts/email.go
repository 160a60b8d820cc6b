package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"io"
	"net/http"
	"strings"
	texttemplate "text/template"
	"time"
)

const resendEndpoint = "https://api.resend.com/emails"

// EmailClient sends alert emails through the Resend HTTP API.
type EmailClient struct {
	apiKey     string
	from       string
	baseURL    string
	endpoint   string
	httpClient *http.Client
	now        func() time.Time
}

// NewEmailClient returns nil when apiKey is empty so email delivery is
// reported as unconfigured instead of failing at startup.
func NewEmailClient(apiKey, from, appBaseURL string) *EmailClient {
	if apiKey == "" {
		return nil
	}
	return &EmailClient{
		apiKey:     apiKey,
		from:       from,
		baseURL:    strings.TrimRight(appBaseURL, "/"),
		endpoint:   resendEndpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

type emailView struct {
	Heading          string
	SubscriptionName string
	Rows             []row
	DashboardURL     string
	SettingsURL      string
	UpdatedAt        string
}

func (c *EmailClient) view(b Batch) emailView {
	return emailView{
		Heading:          plural(len(b.Violations), "new violation") + " detected " + b.DateRange(),
		SubscriptionName: b.SubscriptionName,
		Rows:             rows(b.Violations),
		DashboardURL:     c.baseURL + "/dashboard",
		SettingsURL:      c.baseURL + "/settings",
		UpdatedAt:        c.now().Format("Jan 2, 2006 3:04 PM MST"),
	}
}

// Render returns the HTML and plain text bodies for b.
func (c *EmailClient) Render(b Batch) (html, text string, err error) {
	v := c.view(b)
	var hb, tb bytes.Buffer
	if err := emailHTML.Execute(&hb, v); err != nil {
		return "", "", fmt.Errorf("render html: %w", err)
	}
	if err := emailText.Execute(&tb, v); err != nil {
		return "", "", fmt.Errorf("render text: %w", err)
	}
	return hb.String(), strings.TrimSpace(tb.String()), nil
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text"`
}

type resendResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Send delivers b to b.To and returns the provider message id.
func (c *EmailClient) Send(ctx context.Context, b Batch) (string, error) {
	if b.To == "" {
		return "", fmt.Errorf("subscription %q has no recipient email", b.SubscriptionName)
	}
	html, text, err := c.Render(b)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(resendRequest{
		From:    c.from,
		To:      []string{b.To},
		Subject: b.Subject(),
		HTML:    html,
		Text:    text,
	})
	if err != nil {
		return "", fmt.Errorf("encoding email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("resend request: %w", err)
	}
	defer resp.Body.Close()

	var out resendResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode/100 != 2 {
		if out.Message != "" {
			return "", fmt.Errorf("resend returned HTTP %d: %s", resp.StatusCode, out.Message)
		}
		return "", fmt.Errorf("resend returned HTTP %d", resp.StatusCode)
	}
	return out.ID, nil
}

var emailHTML = htmltemplate.Must(htmltemplate.New("email.html").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; }
    .container { max-width: 600px; margin: 0 auto; padding: 20px; }
    .header { background: #0d7377; color: white; padding: 20px; border-radius: 8px 8px 0 0; }
    .content { background: #f9fafb; padding: 20px; border: 1px solid #e5e7eb; }
    .footer { background: #f3f4f6; padding: 15px; text-align: center; font-size: 12px; color: #6b7280; border-radius: 0 0 8px 8px; }
    table { width: 100%; border-collapse: collapse; margin: 20px 0; }
    th, td { padding: 12px; text-align: left; border-bottom: 1px solid #e5e7eb; }
    .badge { display: inline-block; padding: 4px 8px; border-radius: 4px; font-size: 12px; font-weight: 600; }
    .badge-high { background: #fee2e2; color: #991b1b; }
    .badge-medium { background: #fef3c7; color: #92400e; }
    .button { display: inline-block; padding: 12px 24px; background: #0d7377; color: white; text-decoration: none; border-radius: 6px; margin-top: 20px; }
    .provenance { margin-top: 20px; padding: 15px; background: #f3f4f6; border-radius: 6px; font-size: 12px; }
  </style>
</head>
<body>
  <div class="container">
    <div class="header">
      <h1>Stormwater Watch Alert</h1>
      <p>{{.Heading}}</p>
    </div>
    <div class="content">
      <h2>Subscription: {{.SubscriptionName}}</h2>
      <p>Violations detected matching your criteria:</p>
      <table>
        <thead>
          <tr><th>Facility</th><th>Pollutant</th><th>Max Ratio</th><th>Count</th><th>County</th><th>Status</th></tr>
        </thead>
        <tbody>
          {{- range .Rows}}
          <tr>
            <td><strong>{{.FacilityName}}</strong><br><small>{{.PermitID}}</small></td>
            <td>{{.Pollutant}}</td>
            <td>{{.Ratio}}</td>
            <td>{{.Count}}</td>
            <td>{{.County}}</td>
            <td>
              {{- if .Impaired}}<span class="badge badge-high">Impaired Water</span>{{end}}
              {{- if .Repeat}}<span class="badge badge-medium">Repeat Offender</span>{{end -}}
            </td>
          </tr>
          {{- end}}
        </tbody>
      </table>
      <a href="{{.DashboardURL}}" class="button">Review Dashboard</a>
      <div class="provenance">
        <strong>Data Source:</strong> CIWQS Interactive Violation Report<br>
        <strong>Last Updated:</strong> {{.UpdatedAt}}<br>
        <small>This is an automated alert from Stormwater Watch. Data is refreshed nightly from public regulatory sources.</small>
      </div>
    </div>
    <div class="footer">
      <p>Stormwater Watch • Monitoring California Stormwater Violations</p>
      <p><a href="{{.SettingsURL}}">Manage Subscriptions</a></p>
    </div>
  </div>
</body>
</html>`))

var emailText = texttemplate.Must(texttemplate.New("email.txt").Parse(`
Stormwater Watch Alert
======================

{{.Heading}}

Subscription: {{.SubscriptionName}}

Violations:
{{range .Rows}}
- {{.FacilityName}} ({{.PermitID}})
  Pollutant: {{.Pollutant}}
  Max Ratio: {{.Ratio}}
  Count: {{.Count}}
  County: {{.County}}
{{- if .Impaired}}
  ⚠️ Impaired Water{{end}}
{{- if .Repeat}}
  ⚠️ Repeat Offender{{end}}
{{end}}
View Dashboard: {{.DashboardURL}}

Data Source: CIWQS Interactive Violation Report
Last Updated: {{.UpdatedAt}}

---
Stormwater Watch • Monitoring California Stormwater Violations
Manage Subscriptions: {{.SettingsURL}}
`))
