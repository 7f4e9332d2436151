package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/NIC619/tem-operator-bot/internal/app"
	"github.com/NIC619/tem-operator-bot/internal/domain"
	"github.com/NIC619/tem-operator-bot/internal/infra/config"
	applog "github.com/NIC619/tem-operator-bot/internal/infra/log"
	"github.com/NIC619/tem-operator-bot/internal/infra/metrics"
	"github.com/NIC619/tem-operator-bot/internal/usecase/intake"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "scheduler")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	comps, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось собрать зависимости")
	}
	defer comps.Close()

	mailbox := intake.NewService(comps.Mail, comps.Repo, comps.Review, comps.Notifier,
		cfg.MailboxFilter(), cfg.Workers.MailboxLookback, logger.With().Str("component", "intake").Logger())

	go every(ctx, "mailbox_poll", cfg.Workers.PollInterval, comps.Cache, logger, func(ctx context.Context) error {
		res, err := mailbox.Poll(ctx)
		if err == nil {
			logger.Info().Int("fetched", res.Fetched).Int("admitted", res.Admitted).Int("failed", res.Failed).Msg("опрос почты завершён")
		}
		return err
	})
	go every(ctx, "followups", cfg.Workers.FollowupEvery, comps.Cache, logger, func(ctx context.Context) error {
		sent, err := comps.Review.RunDueFollowups(ctx)
		if err == nil && sent > 0 {
			logger.Info().Int("sent", sent).Msg("напоминания отправлены")
		}
		return err
	})

	logger.Info().Msg("scheduler запущен")
	<-ctx.Done()
	logger.Info().Msg("scheduler остановлен")
}

// every запускает job сразу и затем по таймеру. Ключ в кэше не даёт двум
// репликам выполнить один и тот же тик.
func every(ctx context.Context, name string, interval time.Duration, guard domain.Cache, logger zerolog.Logger, job func(context.Context) error) {
	if interval <= 0 {
		logger.Warn().Str("job", name).Msg("интервал не задан, задача отключена")
		return
	}
	lockTTL := interval * 9 / 10
	run := func() {
		err := guard.Once("lock:"+name, lockTTL, func() error { return job(ctx) })
		metrics.ObserveTask(name, err)
		if err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Str("job", name).Msg("задача завершилась ошибкой")
		}
	}
	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
