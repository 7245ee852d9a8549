package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/example/advisory-booking/internal/availability"
	"github.com/example/advisory-booking/internal/booking"
	"github.com/example/advisory-booking/internal/config"
	"github.com/example/advisory-booking/internal/logging"
	"github.com/example/advisory-booking/internal/notify"
	"github.com/example/advisory-booking/internal/token"
	"github.com/example/advisory-booking/internal/web"
)

func newServerCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Serve the booking pages",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			log := logging.New(cfg.LogLevel, cfg.LogFormat)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			st, err := openStore(ctx, cfg, migrateUp, log)
			if err != nil {
				return err
			}
			defer st.Close()

			codec, err := token.NewCodec(cfg.TokenSecret, cfg.TokenEncrypt)
			if err != nil {
				return err
			}

			notifyLog := logging.Component(log, "notify")
			dispatcher := notify.NewDispatcher(buildNotifier(cfg, notifyLog), cfg.NotifyTimeout, notifyLog)
			// let in-flight notifications finish before exit
			defer dispatcher.Wait()

			rules := cfg.Rules()
			engine := availability.NewEngine(rules, st)
			committer := booking.NewCommitter(rules, st, dispatcher, logging.Component(log, "booking"))

			ws := &web.Server{
				Booking:      booking.NewService(codec, engine, committer, st),
				Log:          logging.Component(log, "web"),
				ContactEmail: cfg.ContactEmail,
				Ping:         st.Ping,
			}
			log.Info().
				Str("timezone", cfg.Timezone).
				Strs("slots", cfg.SlotTimes).
				Dur("lead_time", cfg.LeadTime).
				Int("horizon_days", cfg.HorizonDays).
				Msg("booking calendar")
			return web.Start(ctx, cfg.ListenAddr, ws.Routes(), log)
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup (postgres)")

	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}

// buildNotifier always logs and adds the webhook and Telegram channels that
// are configured. A Telegram setup error disables that channel only.
func buildNotifier(cfg config.Config, log zerolog.Logger) notify.Notifier {
	ns := notify.Multi{notify.Log{Logger: log}}
	if cfg.NotifyWebhookURL != "" {
		ns = append(ns, notify.Webhook{URL: cfg.NotifyWebhookURL})
	}
	if cfg.TelegramBotToken != "" {
		tg, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			log.Warn().Err(err).Msg("telegram notifications disabled")
		} else {
			ns = append(ns, tg)
		}
	}
	return ns
}
