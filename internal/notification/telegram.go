package notification

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// TelegramAPI is the Bot API base URL.
const TelegramAPI = "https://api.telegram.org"

var markdownV2 = strings.NewReplacer(
	`_`, `\_`, `*`, `\*`, `[`, `\[`, `]`, `\]`, `(`, `\(`, `)`, `\)`,
	`~`, `\~`, "`", "\\`", `>`, `\>`, `#`, `\#`, `+`, `\+`, `-`, `\-`,
	`=`, `\=`, `|`, `\|`, `{`, `\{`, `}`, `\}`, `.`, `\.`, `!`, `\!`,
)

var levelIcon = map[AlertLevel]string{
	AlertInfo:     "ℹ️",
	AlertWarning:  "⚠️",
	AlertCritical: "🚨",
}

// TelegramNotifier sends alerts to a chat through the Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	log      *slog.Logger
}

func NewTelegramNotifier(botToken, chatID string, log *slog.Logger) *TelegramNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  TelegramAPI,
		client:   newHTTPClient(),
		log:      log.With("component", "notify", "backend", "telegram"),
	}
}

// WithBaseURL points the notifier at another Bot API host.
func (t *TelegramNotifier) WithBaseURL(u string) *TelegramNotifier {
	t.baseURL = u
	return t
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	msg := struct {
		ChatID    string `json:"chat_id"`
		Text      string `json:"text"`
		ParseMode string `json:"parse_mode"`
	}{t.chatID, formatMarkdown(alert), "MarkdownV2"}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	if err := postJSON(ctx, t.client, url, msg); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	t.log.Debug("alert delivered", "title", alert.Title, "level", alert.Level)
	return nil
}

func formatMarkdown(a Alert) string {
	icon, ok := levelIcon[a.Level]
	if !ok {
		icon = levelIcon[AlertInfo]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*\n\n%s", icon, markdownV2.Replace(a.Title), markdownV2.Replace(a.Message))
	if a.Symbol != "" || a.Broker != "" {
		b.WriteString("\n" + markdownV2.Replace(fmt.Sprintf("symbol=%s broker=%s", a.Symbol, a.Broker)))
	}
	return b.String()
}
