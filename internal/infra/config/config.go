package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/NIC619/tem-operator-bot/internal/domain"
	"github.com/NIC619/tem-operator-bot/internal/usecase/review"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	ConfigPath  string `envconfig:"CONFIG_PATH"`

	Telegram struct {
		Token          string `envconfig:"TG_BOT_TOKEN"`
		GroupChatID    int64  `envconfig:"TG_GROUP_CHAT_ID"`
		OperatorChatID int64  `envconfig:"TG_OPERATOR_CHAT_ID"`
		WebhookURL     string `envconfig:"TG_WEBHOOK_URL"`
		WebhookSecret  string `envconfig:"TG_WEBHOOK_SECRET"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	RabbitMQ struct {
		URL      string `envconfig:"RABBITMQ_URL"`
		Exchange string `envconfig:"RABBITMQ_EXCHANGE" default:"review.events"`
	} `envconfig:""`

	OpenAI struct {
		APIKey  string        `envconfig:"OPENAI_API_KEY"`
		BaseURL string        `envconfig:"OPENAI_BASE_URL"`
		Model   string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
		Timeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"60s"`
	} `envconfig:""`

	Mail struct {
		CredentialsFile string `envconfig:"GMAIL_CREDENTIALS_FILE" default:"credentials.json"`
		TokenFile       string `envconfig:"GMAIL_TOKEN_FILE" default:"token.json"`
		From            string `envconfig:"MAIL_FROM"`
		FromName        string `envconfig:"MAIL_FROM_NAME" default:"TEM Editorial Team"`
		SubjectPrefix   string `envconfig:"MAIL_SUBJECT_PREFIX"`
		Label           string `envconfig:"MAIL_LABEL"`
	} `envconfig:""`

	Review struct {
		ReviewersFile   string `envconfig:"REVIEWERS_FILE" default:"reviewers.md"`
		FollowupDays    int    `envconfig:"FOLLOWUP_DAYS" default:"3"`
		PublishTimezone string `envconfig:"PUBLISH_TZ" default:"Asia/Taipei"`
		PublishTime     string `envconfig:"PUBLISH_TIME" default:"09:30"`
		HistoryDays     int    `envconfig:"HISTORY_DAYS" default:"90"`
	} `envconfig:""`

	Workers struct {
		PoolSize        int           `envconfig:"WORKER_POOL_SIZE" default:"4"`
		PollInterval    time.Duration `envconfig:"MAILBOX_POLL_INTERVAL" default:"5m"`
		FollowupEvery   time.Duration `envconfig:"FOLLOWUP_CHECK_INTERVAL" default:"1h"`
		MailboxLookback time.Duration `envconfig:"MAILBOX_LOOKBACK" default:"24h"`
	} `envconfig:""`
}

// policyFile секция review-политики в YAML.
type policyFile struct {
	ReviewersFile   string `yaml:"reviewers_file"`
	FollowupDays    int    `yaml:"followup_days"`
	PublishTimezone string `yaml:"publish_timezone"`
	PublishTime     string `yaml:"publish_time"`
	HistoryDays     int    `yaml:"history_days"`
	SubjectPrefix   string `yaml:"subject_prefix"`
	SubmissionLabel string `yaml:"submission_label"`
	OperatorChatID  int64  `yaml:"operator_chat_id"`
	GroupChatID     int64  `yaml:"group_chat_id"`
	PollInterval    string `yaml:"poll_interval"`
}

// Load загружает конфиг из .env, окружения и необязательного YAML-файла политики.
func Load() AppConfig {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("не удалось прочитать .env: %v", err)
	}
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	if cfg.ConfigPath != "" {
		if err := cfg.applyPolicyFile(cfg.ConfigPath); err != nil {
			log.Fatalf("не удалось загрузить %s: %v", cfg.ConfigPath, err)
		}
	}
	return cfg
}

func (c *AppConfig) applyPolicyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var p policyFile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("разбор yaml: %w", err)
	}
	if p.ReviewersFile != "" {
		c.Review.ReviewersFile = p.ReviewersFile
	}
	if p.FollowupDays > 0 {
		c.Review.FollowupDays = p.FollowupDays
	}
	if p.PublishTimezone != "" {
		c.Review.PublishTimezone = p.PublishTimezone
	}
	if p.PublishTime != "" {
		c.Review.PublishTime = p.PublishTime
	}
	if p.HistoryDays > 0 {
		c.Review.HistoryDays = p.HistoryDays
	}
	if p.SubjectPrefix != "" {
		c.Mail.SubjectPrefix = p.SubjectPrefix
	}
	if p.SubmissionLabel != "" {
		c.Mail.Label = p.SubmissionLabel
	}
	if p.OperatorChatID != 0 {
		c.Telegram.OperatorChatID = p.OperatorChatID
	}
	if p.GroupChatID != 0 {
		c.Telegram.GroupChatID = p.GroupChatID
	}
	if p.PollInterval != "" {
		d, err := time.ParseDuration(p.PollInterval)
		if err != nil {
			return fmt.Errorf("poll_interval: %w", err)
		}
		c.Workers.PollInterval = d
	}
	return nil
}

// ReviewConfig собирает неизменяемую конфигурацию сервиса рецензирования.
func (c AppConfig) ReviewConfig() (review.Config, error) {
	schedule, err := domain.ParsePublishSchedule(c.Review.PublishTimezone, c.Review.PublishTime)
	if err != nil {
		return review.Config{}, err
	}
	return review.Config{
		FollowupInterval: time.Duration(c.Review.FollowupDays) * 24 * time.Hour,
		HistoryWindow:    time.Duration(c.Review.HistoryDays) * 24 * time.Hour,
		Publish:          schedule,
		Operator:         domain.Operator{ChatID: c.Telegram.OperatorChatID},
	}, nil
}

// MailboxFilter возвращает фильтр опроса почты.
func (c AppConfig) MailboxFilter() domain.MailboxFilter {
	return domain.MailboxFilter{SubjectPrefix: c.Mail.SubjectPrefix, Label: c.Mail.Label}
}
