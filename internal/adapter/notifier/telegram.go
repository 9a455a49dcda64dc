package notifier

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/semmidev/davkeep/internal/config"
	"github.com/semmidev/davkeep/internal/domain"
)

// Telegram rejects bot uploads above this size.
const maxDocumentSize = 50 * 1024 * 1024

var _ domain.Notifier = (*Telegram)(nil)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Telegram struct {
	bot          sender
	chatID       int64
	sendFile     bool
	failuresOnly bool
}

func NewTelegram(cfg *config.TelegramConfig) (*Telegram, error) {
	chatID, err := strconv.ParseInt(cfg.ChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat id: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &Telegram{
		bot:          bot,
		chatID:       chatID,
		sendFile:     cfg.SendFile,
		failuresOnly: cfg.FailuresOnly,
	}, nil
}

func (t *Telegram) Notify(ctx context.Context, event domain.BackupEvent) error {
	if t.failuresOnly && !event.Failed() {
		return nil
	}

	if t.shouldSendFile(event) {
		file := tgbotapi.NewDocument(t.chatID, tgbotapi.FilePath(event.LocalPath))
		file.Caption = fmt.Sprintf("📦 Backup: %s (%.2f MB)", event.Filename, sizeMB(event.Size))

		if _, err := t.bot.Send(file); err != nil {
			return fmt.Errorf("failed to send telegram file: %w", err)
		}
		return nil
	}

	msg := tgbotapi.NewMessage(t.chatID, formatEvent(event))
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram notification: %w", err)
	}
	return nil
}

func (t *Telegram) shouldSendFile(event domain.BackupEvent) bool {
	if !t.sendFile || event.Failed() || event.Size > maxDocumentSize {
		return false
	}
	_, err := os.Stat(event.LocalPath)
	return err == nil
}

func formatEvent(event domain.BackupEvent) string {
	if event.Failed() {
		return fmt.Sprintf(
			"❌ Backup Failed\n\n"+
				"🏷 Job: %s\n"+
				"📁 File: %s\n"+
				"⚠️ Error: %v\n"+
				"🕐 Time: %s",
			event.Job,
			event.RemotePath,
			event.Err,
			event.At.Format("2006-01-02 15:04:05"),
		)
	}

	message := fmt.Sprintf(
		"✅ Backup Created\n\n"+
			"🏷 Job: %s\n"+
			"📁 File: %s\n"+
			"📊 Size: %.2f MB\n"+
			"⏱ Duration: %s\n"+
			"🕐 Time: %s",
		event.Job,
		event.RemotePath,
		sizeMB(event.Size),
		event.Duration.Round(time.Millisecond),
		event.At.Format("2006-01-02 15:04:05"),
	)
	if event.ArchivedAs != "" {
		message += fmt.Sprintf("\n🗄 Previous: %s", event.ArchivedAs)
	}
	if event.Pruned > 0 {
		message += fmt.Sprintf("\n🧹 Pruned: %d", event.Pruned)
	}
	return message
}

func sizeMB(size int64) float64 {
	return float64(size) / (1024 * 1024)
}
