package app

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/NIC619/tem-operator-bot/internal/adapters/bot"
	"github.com/NIC619/tem-operator-bot/internal/adapters/gmail"
	"github.com/NIC619/tem-operator-bot/internal/adapters/oracle"
	"github.com/NIC619/tem-operator-bot/internal/adapters/repo"
	"github.com/NIC619/tem-operator-bot/internal/domain"
	"github.com/NIC619/tem-operator-bot/internal/infra/cache"
	"github.com/NIC619/tem-operator-bot/internal/infra/config"
	"github.com/NIC619/tem-operator-bot/internal/infra/db"
	"github.com/NIC619/tem-operator-bot/internal/infra/openai"
	"github.com/NIC619/tem-operator-bot/internal/infra/queue"
	"github.com/NIC619/tem-operator-bot/internal/infra/workpool"
	"github.com/NIC619/tem-operator-bot/internal/usecase/review"
)

const (
	keyPrefix     = "tem:"
	eventsListKey = "tem:events"
	taskTimeout   = 3 * time.Minute
)

// Components общий граф зависимостей для bot-gateway и scheduler.
type Components struct {
	DB       *pgxpool.Pool
	Repo     *repo.Postgres
	Bot      *tgbotapi.BotAPI
	Notifier *bot.Notifier
	Cache    domain.Cache
	Events   domain.EventPublisher
	Tasks    *workpool.Pool
	Mail     *gmail.Client
	Review   *review.Service

	closers []func()
}

// Build подключает хранилища и внешние сервисы. При ошибке уже открытые ресурсы закрываются.
func Build(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (_ *Components, err error) {
	c := &Components{}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	reviewCfg, err := cfg.ReviewConfig()
	if err != nil {
		return nil, err
	}

	c.DB, err = db.Connect(ctx, cfg.PGDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	c.closers = append(c.closers, c.DB.Close)
	if err := repo.Migrate(ctx, c.DB); err != nil {
		return nil, err
	}
	c.Repo = repo.NewPostgres(c.DB)

	if cfg.Telegram.Token == "" {
		return nil, fmt.Errorf("не указан токен Telegram (TG_BOT_TOKEN)")
	}
	if cfg.Telegram.GroupChatID == 0 {
		return nil, fmt.Errorf("не указан чат редакции (TG_GROUP_CHAT_ID)")
	}
	c.Bot, err = tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	c.Notifier = bot.NewNotifier(c.Bot, cfg.Telegram.GroupChatID, cfg.Telegram.OperatorChatID, logger.With().Str("component", "notifier").Logger())

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient, err = cache.Dial(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		c.closers = append(c.closers, func() { _ = redisClient.Close() })
		c.Cache = cache.NewRedis(redisClient, keyPrefix)
	} else {
		logger.Warn().Msg("REDIS_ADDR не задан, ключи идемпотентности хранятся в памяти процесса")
		c.Cache = cache.NewMemory()
	}

	switch {
	case cfg.RabbitMQ.URL != "":
		publisher, err := queue.NewRabbitPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq: %w", err)
		}
		c.closers = append(c.closers, func() { _ = publisher.Close() })
		c.Events = publisher
	case redisClient != nil:
		c.Events = queue.NewRedisPublisher(redisClient, eventsListKey, 0)
	default:
		c.Events = queue.Discard{}
	}

	c.Tasks = workpool.New(ctx, cfg.Workers.PoolSize, taskTimeout, logger.With().Str("component", "tasks").Logger(),
		func(ctx context.Context, task string, taskErr error) {
			if err := c.Notifier.NotifyOperator(ctx, fmt.Sprintf("⚠️ Фоновая задача %s завершилась ошибкой: %v", task, taskErr)); err != nil {
				logger.Error().Err(err).Msg("не удалось уведомить оператора")
			}
		})
	c.closers = append(c.closers, c.Tasks.Wait)

	ts, err := gmail.TokenSource(ctx, cfg.Mail.CredentialsFile, cfg.Mail.TokenFile, logger)
	if err != nil {
		return nil, err
	}
	c.Mail, err = gmail.New(ctx, ts, cfg.Mail.From, cfg.Mail.FromName, logger.With().Str("component", "gmail").Logger())
	if err != nil {
		return nil, err
	}

	// Сбой оракула сразу уходит оператору подсказкой /override.
	llm := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout).WithMaxRetries(0)
	picker := oracle.NewLLM(llm, cfg.OpenAI.Model, cfg.OpenAI.Timeout, cfg.Review.ReviewersFile, logger.With().Str("component", "oracle").Logger())

	c.Review = review.NewService(review.Deps{
		Repo:   c.Repo,
		Oracle: picker,
		Mail:   c.Mail,
		Chat:   c.Notifier,
		Tasks:  c.Tasks,
		Events: c.Events,
		Cache:  c.Cache,
	}, reviewCfg, logger.With().Str("component", "review").Logger())
	return c, nil
}

// Close освобождает ресурсы в обратном порядке. Фоновые задачи дожидаются завершения первыми.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
