package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bundleradar/internal/detector"
)

const (
	colorWhale   = 0xff0000
	colorLarge   = 0x00ff9d
	colorDefault = 0xf7a600
)

type discordField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp"`
}

type discordPayload struct {
	Content string         `json:"content"`
	Embeds  []discordEmbed `json:"embeds"`
}

// DiscordNotifier posts an embed to a Discord webhook.
type DiscordNotifier struct {
	webhookURL string
	client     *http.Client
	logger     zerolog.Logger
}

// NewDiscordNotifier 构造 Discord webhook 告警器。
func NewDiscordNotifier(webhookURL string, timeout time.Duration, logger zerolog.Logger) *DiscordNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DiscordNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "alert_discord").Logger(),
	}
}

// Notify implements Notifier.
func (n *DiscordNotifier) Notify(ctx context.Context, note Notification) error {
	body, err := json.Marshal(buildDiscordPayload(note))
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send discord request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord 响应码异常: %d", resp.StatusCode)
	}

	n.logger.Info().Str("mint", note.Alert.Mint).
		Str("alert_id", note.Alert.ID.String()).
		Msg("告警已发送 (Discord)")
	return nil
}

func buildDiscordPayload(note Notification) discordPayload {
	a := note.Alert

	content := fmt.Sprintf("🔥 **BUNDLE DETECTED** — `%s`", a.Mint)
	if note.Mention != "" {
		content = note.Mention + " " + content
	}

	desc := strings.Builder{}
	desc.WriteString(fmt.Sprintf("🧩 **Trades:** %d in ~%ss\n", a.TradeCount, windowSeconds(a)))
	desc.WriteString(fmt.Sprintf("💰 **Total:** %s SOL\n", sol(a.TotalSol)))
	desc.WriteString(fmt.Sprintf("💣 **Biggest single buy:** ~%s SOL\n", sol(a.MaxSingleSol)))
	desc.WriteString(fmt.Sprintf("📊 **Dominance:** ~%s%%\n", fixed(a.DominancePct, 1)))
	desc.WriteString(fmt.Sprintf("🏷 **Market cap:** %s\n", marketCapText(note)))
	desc.WriteString(fmt.Sprintf("📜 **CA:** `%s`\n", a.Mint))
	desc.WriteString(fmt.Sprintf("⏱ Age: %s", ageText(a)))

	embed := discordEmbed{
		Title:       strings.TrimSpace(fmt.Sprintf("🎯 BUNDLE DETECTED – %s — %s", a.Tier.Label(), a.Name)),
		Description: desc.String(),
		Color:       tierColor(a.Tier),
		Timestamp:   a.DetectedAt.UTC().Format(time.RFC3339),
	}
	if note.Link != "" {
		embed.Fields = []discordField{{
			Name:  "🔗 OPEN",
			Value: fmt.Sprintf("[💥 **OPEN** 💥](%s)", note.Link),
		}}
	}

	return discordPayload{Content: content, Embeds: []discordEmbed{embed}}
}

func tierColor(t detector.Tier) int {
	switch t {
	case detector.TierWhale:
		return colorWhale
	case detector.TierLarge:
		return colorLarge
	default:
		return colorDefault
	}
}

var _ Notifier = (*DiscordNotifier)(nil)
