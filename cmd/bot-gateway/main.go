package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"
	_ "time/tzdata"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/NIC619/tem-operator-bot/internal/adapters/bot"
	"github.com/NIC619/tem-operator-bot/internal/app"
	"github.com/NIC619/tem-operator-bot/internal/domain"
	"github.com/NIC619/tem-operator-bot/internal/infra/config"
	apphttp "github.com/NIC619/tem-operator-bot/internal/infra/http"
	applog "github.com/NIC619/tem-operator-bot/internal/infra/log"
	"github.com/NIC619/tem-operator-bot/internal/infra/metrics"
)

const (
	webhookPath  = "/telegram/webhook"
	updateBuffer = 256
	updateTTL    = 24 * time.Hour
)

var errQueueFull = errors.New("очередь апдейтов переполнена")

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "bot-gateway")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	comps, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: не удалось собрать зависимости")
	}
	defer comps.Close()

	handler := bot.NewHandler(comps.Bot, logger.With().Str("component", "handler").Logger(), comps.Review)
	updates := make(chan tgbotapi.Update, updateBuffer)
	enqueue := dedupEnqueue(comps.Cache, updates)

	server := apphttp.NewServer(logger.With().Str("component", "http").Logger())
	if cfg.Telegram.WebhookURL != "" {
		server.Router.With(apphttp.WebhookSecretMiddleware(cfg.Telegram.WebhookSecret)).
			Post(webhookPath, apphttp.UpdateHandler(enqueue))
		if err := registerWebhook(comps.Bot, cfg.Telegram.WebhookURL, cfg.Telegram.WebhookSecret); err != nil {
			logger.Fatal().Err(err).Msg("bot-gateway: не удалось зарегистрировать вебхук")
		}
		logger.Info().Str("url", cfg.Telegram.WebhookURL).Msg("режим вебхука")
	} else {
		if _, err := comps.Bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			logger.Warn().Err(err).Msg("не удалось снять вебхук")
		}
		go poll(ctx, comps.Bot, enqueue, logger)
		logger.Info().Msg("режим long polling")
	}

	go func() {
		if err := server.Start(":" + strconv.Itoa(cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("HTTP сервер остановлен")
			stop()
		}
	}()

	consume(ctx, handler, updates)

	logger.Info().Msg("остановка бота")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP сервер не остановился корректно")
	}
}

// dedupEnqueue кладёт апдейт в очередь один раз: Telegram повторяет доставку,
// если не получил ответа на вебхук.
func dedupEnqueue(c domain.Cache, updates chan<- tgbotapi.Update) func(context.Context, tgbotapi.Update) error {
	return func(_ context.Context, upd tgbotapi.Update) error {
		return c.Once(fmt.Sprintf("tg:update:%d", upd.UpdateID), updateTTL, func() error {
			select {
			case updates <- upd:
				return nil
			default:
				return errQueueFull
			}
		})
	}
}

// consume обрабатывает события строго по одному в порядке поступления.
func consume(ctx context.Context, h *bot.Handler, updates <-chan tgbotapi.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case upd := <-updates:
			h.HandleUpdate(ctx, upd)
		}
	}
}

func poll(ctx context.Context, api *tgbotapi.BotAPI, enqueue func(context.Context, tgbotapi.Update) error, logger zerolog.Logger) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	ch := api.GetUpdatesChan(u)
	defer api.StopReceivingUpdates()
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-ch:
			if !ok {
				return
			}
			for {
				err := enqueue(ctx, upd)
				if err == nil {
					break
				}
				logger.Warn().Err(err).Int("update", upd.UpdateID).Msg("не удалось поставить апдейт в очередь")
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
			}
		}
	}
}

func registerWebhook(api *tgbotapi.BotAPI, url, secret string) error {
	params := tgbotapi.Params{"url": url + webhookPath}
	if secret != "" {
		params["secret_token"] = secret
	}
	_, err := api.MakeRequest("setWebhook", params)
	return err
}
