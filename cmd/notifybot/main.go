// Command notifybot runs the chat notifier sidecar (spec §6): it tails the
// daemon logs for a 12-hour digest/heartbeat and answers the four chat
// commands, writing the shared kill-switch file on request.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nshin-labs/pivottrader/internal/config"
	"github.com/nshin-labs/pivottrader/internal/notify"
	"github.com/nshin-labs/pivottrader/internal/obslog"
	"github.com/nshin-labs/pivottrader/internal/telemetry"
)

func main() {
	log := obslog.New("notifybot")
	cfg := config.Load()

	if cfg.TelegramToken == "" {
		log.Fatal().Msg("TELEGRAM_BOT_TOKEN is required to run notifybot")
	}

	killSwitch := telemetry.NewKillSwitch(cfg.KillSwitchPath)

	bot, err := notify.New(cfg.TelegramToken, cfg.TelegramChatID, cfg.NotifyLogDir, cfg.NotifyLogName, killSwitch, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init telegram bot")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go bot.ListenCommands(ctx)
	go bot.TailLoop(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info().Msg("notifybot shutting down")
	cancel()
}
