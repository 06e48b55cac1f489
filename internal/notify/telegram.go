package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/polywatch/polywatch/internal/models"
)

// telegramChunkSize keeps messages under the Bot API's 4096-char limit.
const telegramChunkSize = 4000

// TelegramSink delivers notifications through the Telegram Bot API.
type TelegramSink struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewTelegramSink creates a Telegram sink for the given bot token and
// chat ID.
func NewTelegramSink(botToken, chatID string) (*TelegramSink, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram: invalid chat ID: %w", err)
	}

	return &TelegramSink{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     3,
		retryDelayBase: time.Second,
	}, nil
}

func (s *TelegramSink) Name() string {
	return "telegram"
}

func (s *TelegramSink) Deliver(ctx context.Context, ev models.ChangeEvent) error {
	return s.send(ctx, s.formatEvent(ev))
}

func (s *TelegramSink) Post(ctx context.Context, text string) error {
	return s.send(ctx, escapeMarkdownV2(text))
}

// formatEvent renders one event as a MarkdownV2 message.
func (s *TelegramSink) formatEvent(ev models.ChangeEvent) string {
	subject := ev.MarketQuestion
	if subject == "" {
		subject = ev.MarketID
	}
	header := fmt.Sprintf("*%s*\n%s\n", escapeMarkdownV2(string(ev.Kind)), escapeMarkdownV2(subject))

	var detail string
	switch ev.Kind {
	case models.KindPriceMove:
		emoji := "📈"
		if ev.NewValue < ev.OldValue {
			emoji = "📉"
		}
		detail = fmt.Sprintf("%s %s %s → %s \\(Δ%s\\)",
			emoji,
			escapeMarkdownV2(ev.Outcome),
			escapeMarkdownV2(fmt.Sprintf("%.1f%%", ev.OldValue*100)),
			escapeMarkdownV2(fmt.Sprintf("%.1f%%", ev.NewValue*100)),
			escapeMarkdownV2(fmt.Sprintf("%.1f%%", ev.Magnitude*100)))
	case models.KindVolumeJump:
		detail = fmt.Sprintf("💰 volume %s → %s \\(%s\\)",
			escapeMarkdownV2(fmt.Sprintf("%.0f", ev.OldValue)),
			escapeMarkdownV2(fmt.Sprintf("%.0f", ev.NewValue)),
			escapeMarkdownV2(fmt.Sprintf("+%.0f%%", ev.Magnitude*100)))
	case models.KindStatusChange:
		detail = fmt.Sprintf("🏁 %s → %s",
			escapeMarkdownV2(string(ev.OldStatus)), escapeMarkdownV2(string(ev.NewStatus)))
		if ev.ResolvedOutcome != "" {
			detail += fmt.Sprintf("\n🎯 outcome: %s", escapeMarkdownV2(ev.ResolvedOutcome))
		}
	case models.KindNewMarket:
		detail = "🆕 now tracking"
	case models.KindMarketRemoved:
		detail = "🗑 no longer listed"
	}

	timestamp := escapeMarkdownV2(ev.DetectedAt.Format("2006-01-02 15:04:05"))
	return fmt.Sprintf("%s%s\n⏰ %s", header, detail, timestamp)
}

// send delivers a MarkdownV2 message with linear-backoff retry,
// chunking long messages at the API limit.
func (s *TelegramSink) send(ctx context.Context, text string) error {
	for _, chunk := range chunkMessage(text, telegramChunkSize) {
		if err := s.sendChunk(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (s *TelegramSink) sendChunk(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(s.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < s.maxRetries; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := s.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(s.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("telegram: failed after %d retries: %w", s.maxRetries, lastErr)
}

// chunkMessage splits text into pieces no longer than size, preferring
// line boundaries.
func chunkMessage(text string, size int) []string {
	if len(text) <= size {
		return []string{text}
	}

	var chunks []string
	for len(text) > size {
		cut := strings.LastIndexByte(text[:size], '\n')
		if cut <= 0 {
			cut = size
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n")
	}
	if len(text) > 0 {
		chunks = append(chunks, text)
	}
	return chunks
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
