package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

// maxContent is Discord's message length limit.
const maxContent = 2000

// Discord posts operator alerts to a channel webhook.
type Discord struct {
	session   *discordgo.Session
	webhookID string
	token     string
}

// NewDiscord parses a webhook URL of the form
// https://discord.com/api/webhooks/{id}/{token}. An empty URL returns nil,
// and a nil *Discord drops every alert.
func NewDiscord(webhookURL string) (*Discord, error) {
	if webhookURL == "" {
		return nil, nil
	}
	id, token, err := parseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	s, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	return &Discord{session: s, webhookID: id, token: token}, nil
}

func parseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parsing webhook URL: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("webhook URL %q has no /webhooks/{id}/{token} path", raw)
}

// Notify sends msg. Failures are returned for the caller to log; an alert
// never changes the outcome of the job that raised it.
func (d *Discord) Notify(ctx context.Context, msg string) error {
	if d == nil {
		return nil
	}
	if r := []rune(msg); len(r) > maxContent {
		msg = string(r[:maxContent-3]) + "..."
	}
	_, err := d.session.WebhookExecute(d.webhookID, d.token, false,
		&discordgo.WebhookParams{Content: msg}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	slog.Debug("alert sent", "len", utf8.RuneCountInString(msg))
	return nil
}
