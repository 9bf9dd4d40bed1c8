package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// discordContentLimit is the maximum length of a webhook message.
const discordContentLimit = 2000

// DiscordSender posts alerts to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a sender for the webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     newHTTPClient(),
	}
}

// Send posts the message with the title in bold. HTML tags used by the
// shared message formats are converted to Discord markdown.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	content := fmt.Sprintf("**%s**\n%s", title, htmlToMarkdown.Replace(message))
	if len(content) > discordContentLimit {
		content = content[:discordContentLimit-3] + "..."
	}

	if _, err := postJSON(ctx, d.client, d.webhookURL, map[string]string{"content": content}); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}

var htmlToMarkdown = strings.NewReplacer(
	"<b>", "**", "</b>", "**",
	"<code>", "`", "</code>", "`",
	"&amp;", "&", "&lt;", "<", "&gt;", ">",
)
