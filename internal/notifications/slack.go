// Package notifications posts run summaries to Slack.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/Harvey-AU/searchpilot/internal/runner"
	"github.com/Harvey-AU/searchpilot/internal/session"
	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
)

// maxListedFailures caps the failed sessions named in one message
const maxListedFailures = 5

// ErrNotConfigured is returned by NewFromEnv when no Slack target is set
var ErrNotConfigured = errors.New("slack notifications not configured")

// SlackNotifier posts a summary of each run to Slack, either through an
// incoming webhook or as a bot message to a channel.
type SlackNotifier struct {
	webhookURL string
	client     *slack.Client
	channel    string
	apiURL     string
}

// Option configures a SlackNotifier
type Option func(*SlackNotifier)

// WithAPIURL points the bot client at a different Slack API endpoint
func WithAPIURL(apiURL string) Option {
	return func(n *SlackNotifier) {
		n.apiURL = apiURL
	}
}

// NewWebhookNotifier posts to an incoming webhook
func NewWebhookNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{webhookURL: webhookURL}
}

// NewBotNotifier posts to channel using a bot token
func NewBotNotifier(token, channel string, opts ...Option) *SlackNotifier {
	n := &SlackNotifier{channel: channel}
	for _, opt := range opts {
		opt(n)
	}

	var clientOpts []slack.Option
	if n.apiURL != "" {
		clientOpts = append(clientOpts, slack.OptionAPIURL(n.apiURL))
	}
	n.client = slack.New(token, clientOpts...)
	return n
}

// NewFromEnv builds a notifier from SLACK_WEBHOOK_URL, or from
// SLACK_BOT_TOKEN and SLACK_CHANNEL.
func NewFromEnv() (*SlackNotifier, error) {
	if url := os.Getenv("SLACK_WEBHOOK_URL"); url != "" {
		return NewWebhookNotifier(url), nil
	}
	token, channel := os.Getenv("SLACK_BOT_TOKEN"), os.Getenv("SLACK_CHANNEL")
	if token != "" && channel != "" {
		return NewBotNotifier(token, channel), nil
	}
	return nil, ErrNotConfigured
}

// NotifyRun implements runner.Notifier
func (n *SlackNotifier) NotifyRun(ctx context.Context, summary runner.Summary) error {
	blocks := buildMessageBlocks(summary)
	fallbackText := fallbackText(summary)

	if n.webhookURL != "" {
		err := slack.PostWebhookContext(ctx, n.webhookURL, &slack.WebhookMessage{
			Text:   fallbackText,
			Blocks: &slack.Blocks{BlockSet: blocks},
		})
		if err != nil {
			return fmt.Errorf("failed to post Slack webhook: %w", err)
		}
		log.Info().Str("mode", summary.Mode).Msg("Run summary sent to Slack webhook")
		return nil
	}

	if n.client == nil {
		return ErrNotConfigured
	}
	_, ts, err := n.client.PostMessageContext(ctx, n.channel,
		slack.MsgOptionBlocks(blocks...),
		slack.MsgOptionText(fallbackText, false),
	)
	if err != nil {
		return fmt.Errorf("failed to post Slack message: %w", err)
	}
	log.Info().
		Str("channel", n.channel).
		Str("ts", ts).
		Str("mode", summary.Mode).
		Msg("Run summary sent to Slack")
	return nil
}

func fallbackText(s runner.Summary) string {
	return fmt.Sprintf("Search run finished: %d/%d sessions completed", s.Completed(), s.Total())
}

func buildMessageBlocks(s runner.Summary) []slack.Block {
	var emoji string
	switch {
	case s.Err != nil || s.Completed() == 0:
		emoji = ":x:"
	case s.Failed() > 0 || s.Skipped() > 0:
		emoji = ":warning:"
	default:
		emoji = ":white_check_mark:"
	}

	title := fmt.Sprintf("%s *Search run finished* (%s)", emoji, s.Mode)
	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, title, false, false), nil, nil),
	}

	if s.Err != nil {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, "Configuration error: "+s.Err.Error(), false, false),
			nil, nil,
		))
		return blocks
	}

	overview := fmt.Sprintf("%d/%d sessions completed, %d searches, %d target clicks in %s",
		s.Completed(), s.Total(), s.Searches(), s.Clicks(), formatDuration(s.Duration()))
	blocks = append(blocks, slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, overview, false, false),
		statusFields(s),
		nil,
	))

	if failures := failureLines(s.Reports); failures != "" {
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType, failures, false, false),
		))
	}
	return blocks
}

func statusFields(s runner.Summary) []*slack.TextBlockObject {
	counts := s.StatusCounts()
	statuses := make([]session.Status, 0, len(counts))
	for status := range counts {
		statuses = append(statuses, status)
	}
	slices.Sort(statuses)

	fields := make([]*slack.TextBlockObject, 0, len(statuses))
	for _, status := range statuses {
		fields = append(fields, slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("*%s*\n%d", status, counts[status]), false, false))
	}
	return fields
}

func failureLines(reports []session.Report) string {
	var lines []string
	for _, r := range reports {
		if r.Succeeded() {
			continue
		}
		if len(lines) == maxListedFailures {
			lines = append(lines, "…")
			break
		}
		line := fmt.Sprintf("`%s` %s", shortID(r.ID), r.Status())
		if r.Err != nil {
			line += ": " + r.Err.Error()
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "unknown"
	}
	return id
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
