// Package slack posts playbook notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/aegis/internal/playbook"
)

const (
	maxPlaybookLen = 2500
	maxOutputLen   = 1500
	httpTimeout    = 10 * time.Second
)

// Notifier sends playbook updates to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Send posts the current state of p to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, p *playbook.Playbook) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(p))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "slack notification sent", "playbook_id", p.ID, "status", p.Status)
	return nil
}

func buildMessage(p *playbook.Playbook) map[string]any {
	blocks := []map[string]any{
		headerBlock(p),
		divider(),
		fieldsBlock(p),
	}
	switch p.Status {
	case playbook.StatusPendingApproval:
		blocks = append(blocks, divider(), playbookBlock(p))
	case playbook.StatusSucceeded, playbook.StatusFailed:
		if p.Run != nil {
			blocks = append(blocks, divider(), runBlock(p.Run))
		}
	}
	blocks = append(blocks, divider(), contextBlock(p))
	return map[string]any{"blocks": blocks}
}

func divider() map[string]any { return map[string]any{"type": "divider"} }

func headerBlock(p *playbook.Playbook) map[string]any {
	text := fmt.Sprintf("%s %s: %s on %s", statusEmoji(p.Status), statusTitle(p.Status), p.Classification.Type, p.Agent)
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func statusTitle(s playbook.Status) string {
	switch s {
	case playbook.StatusPendingApproval:
		return "Playbook awaiting approval"
	case playbook.StatusSucceeded:
		return "Playbook succeeded"
	case playbook.StatusFailed:
		return "Playbook failed"
	case playbook.StatusRejected:
		return "Playbook rejected"
	case playbook.StatusExpired:
		return "Playbook expired"
	default:
		return "Playbook " + string(s)
	}
}

func fieldsBlock(p *playbook.Playbook) map[string]any {
	c := p.Classification
	fields := []map[string]any{
		mrkdwn(fmt.Sprintf("*Status:* %s", p.Status)),
		mrkdwn(fmt.Sprintf("*Trigger:* %s rule %s", c.Trigger, c.RuleID)),
		mrkdwn(fmt.Sprintf("*Agent:* %s (%s)", p.Agent, c.AgentIP)),
		mrkdwn(fmt.Sprintf("*File:* `%s`", p.Filename)),
		mrkdwn(fmt.Sprintf("*Model:* %s", shortModel(p.Model))),
		mrkdwn(fmt.Sprintf("*Tokens:* %d in / %d out", p.TokensIn, p.TokensOut)),
	}
	if c.SignatureID != "" {
		fields = append(fields, mrkdwn(fmt.Sprintf("*Signature:* %s", c.SignatureID)))
	}
	if !p.YAMLValid {
		fields = append(fields, mrkdwn(fmt.Sprintf("*YAML:* invalid (%s)", p.YAMLError)))
	}
	if p.DecidedBy != "" {
		fields = append(fields, mrkdwn(fmt.Sprintf("*Decided by:* %s", p.DecidedBy)))
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func playbookBlock(p *playbook.Playbook) map[string]any {
	return section(fmt.Sprintf("*Playbook* (expires %s)\n```%s```",
		p.ExpiresAt.UTC().Format("2006-01-02 15:04 UTC"), truncate(p.Content, maxPlaybookLen)))
}

func runBlock(r *playbook.RunResult) map[string]any {
	text := fmt.Sprintf("*Run:* %s, rc %d, %.1fs", r.Status, r.RC, r.Duration)
	if r.Error != "" {
		text += "\n" + r.Error
	}
	if out := tail(r.Stdout, maxOutputLen); out != "" {
		text += fmt.Sprintf("\n```%s```", out)
	}
	return section(text)
}

func contextBlock(p *playbook.Playbook) map[string]any {
	ts := p.CreatedAt
	if p.DecidedAt != nil {
		ts = *p.DecidedAt
	}

	text := fmt.Sprintf("aegis • playbook %s • %s", p.ID, ts.UTC().Format("2006-01-02 15:04 UTC"))
	if p.Status == playbook.StatusPendingApproval {
		text += fmt.Sprintf(" • `aegisctl playbooks approve %s`", p.ID)
	}

	return map[string]any{
		"type":     "context",
		"elements": []map[string]any{mrkdwn(text)},
	}
}

func section(text string) map[string]any {
	return map[string]any{"type": "section", "text": mrkdwn(text)}
}

func mrkdwn(text string) map[string]any {
	return map[string]any{"type": "mrkdwn", "text": text}
}

func statusEmoji(s playbook.Status) string {
	switch s {
	case playbook.StatusFailed:
		return "\U0001f534" // red circle
	case playbook.StatusPendingApproval:
		return "\U0001f7e1" // yellow circle
	case playbook.StatusSucceeded:
		return "\U0001f7e2" // green circle
	default:
		return "\u26aa" // white circle
	}
}

// dateModelRe matches model names ending with a YYYYMMDD date suffix.
var dateModelRe = regexp.MustCompile(`-\d{8}$`)

func shortModel(model string) string {
	return dateModelRe.ReplaceAllString(model, "")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// tail keeps the end of s, where ansible prints its recap.
func tail(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	start := len(s) - limit + 3
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return "..." + s[start:]
}
