// Package notify is the chat notifier (spec §6): a sidecar that tails
// yesterday's log for the ERROR digest or a heartbeat, and understands the
// four chat commands. Grounded on the teacher's NotificationService for
// chat-ID persistence and the Telegram bot wiring, and on
// trading_telegram_bot.py for the tail/heartbeat cadence.
package notify

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const chatIDFile = "chat_id.txt"
const maxErrorLinesReported = 10
const tailCadence = 12 * time.Hour

// KillSwitchWriter is the minimal contract notify needs against the
// kill-switch file: the two mutating commands flip it, everything else in
// the daemon only reads it via telemetry.KillSwitch.
type KillSwitchWriter interface {
	SetKilled(killed bool) error
}

// Bot is the Telegram-backed chat notifier.
type Bot struct {
	api       *tgbotapi.BotAPI
	chatID    int64
	logDir    string
	logName   string
	killSwitch KillSwitchWriter
	log       zerolog.Logger
}

func New(token string, chatID int64, logDir, logName string, killSwitch KillSwitchWriter, log zerolog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("notify: init telegram bot: %w", err)
	}
	b := &Bot{api: api, chatID: chatID, logDir: logDir, logName: logName, killSwitch: killSwitch, log: log}
	if b.chatID == 0 {
		b.chatID = b.loadChatID()
	}
	return b, nil
}

func (b *Bot) loadChatID() int64 {
	data, err := os.ReadFile(chatIDFile)
	if err != nil {
		return 0
	}
	id, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func (b *Bot) saveChatID(id int64) {
	if err := os.WriteFile(chatIDFile, []byte(strconv.FormatInt(id, 10)), 0o644); err != nil {
		b.log.Warn().Err(err).Msg("failed to persist chat id")
	}
}

// Notify sends a plain message, a no-op until a chat id is known.
func (b *Bot) Notify(text string) {
	if b.chatID == 0 {
		return
	}
	msg := tgbotapi.NewMessage(b.chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Warn().Err(err).Msg("failed to send telegram message")
	}
}

// ListenCommands polls for updates and handles help/kill_telegram_bot/
// kill_trading_bot/turn_on_trading_bot (spec §6).
func (b *Bot) ListenCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(update)
		}
	}
}

func (b *Bot) handleUpdate(update tgbotapi.Update) {
	if update.Message == nil {
		return
	}
	if b.chatID == 0 {
		b.chatID = update.Message.Chat.ID
		b.saveChatID(b.chatID)
	}
	if !update.Message.IsCommand() {
		return
	}
	switch update.Message.Command() {
	case "help":
		b.Notify("Commands: help, kill_telegram_bot, kill_trading_bot, turn_on_trading_bot")
	case "kill_telegram_bot":
		b.Notify("Telegram notifier shutting down.")
		b.api.StopReceivingUpdates()
	case "kill_trading_bot":
		if err := b.killSwitch.SetKilled(true); err != nil {
			b.Notify(fmt.Sprintf("Failed to set kill switch: %v", err))
			return
		}
		b.Notify("Kill switch engaged. Trading daemon will stop on its next poll.")
	case "turn_on_trading_bot":
		if err := b.killSwitch.SetKilled(false); err != nil {
			b.Notify(fmt.Sprintf("Failed to clear kill switch: %v", err))
			return
		}
		b.Notify("Kill switch cleared. Trading daemon will resume on its next poll.")
	}
}

// TailLoop tails yesterday's log every 12h: an ERROR digest (up to the last
// 10 ERROR lines) if any ERROR lines are present, otherwise a heartbeat
// with the most recently logged USDT balance line. Blocks; call in a
// goroutine.
func (b *Bot) TailLoop(ctx context.Context) {
	ticker := time.NewTicker(tailCadence)
	defer ticker.Stop()
	b.tailOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.tailOnce()
		}
	}
}

func (b *Bot) tailOnce() {
	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	logPath := filepath.Join(b.logDir, b.logName+"-"+yesterday+".log")

	f, err := os.Open(logPath)
	if err != nil {
		b.Notify("No log file from yesterday. Going quiet until the next cycle.")
		return
	}
	defer f.Close()

	errorLines, lastBalanceLine := scanLog(f)

	if len(errorLines) > 0 {
		for _, line := range digestMessages(errorLines) {
			b.Notify(line)
		}
		return
	}
	b.Notify(fmt.Sprintf("All clear. Last recorded balance line: %s", lastBalanceLine))
}

// scanLog splits a log file's lines into ERROR lines (in file order) and
// the most recently seen balance line.
func scanLog(r io.Reader) (errorLines []string, lastBalanceLine string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		upper := strings.ToUpper(line)
		if strings.Contains(upper, "ERROR") {
			errorLines = append(errorLines, line)
		} else if strings.Contains(line, "usdt_balance") {
			lastBalanceLine = line
		}
	}
	return errorLines, lastBalanceLine
}

// digestMessages wraps the last maxErrorLinesReported error lines with the
// digest header/footer, as a sequence of messages ready for Notify.
func digestMessages(errorLines []string) []string {
	start := 0
	if len(errorLines) > maxErrorLinesReported {
		start = len(errorLines) - maxErrorLinesReported
	}
	out := []string{"===== ERROR DIGEST ====="}
	out = append(out, errorLines[start:]...)
	out = append(out, "=========================")
	return out
}
