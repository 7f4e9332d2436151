package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	BotSendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_send_errors_total",
		Help: "Ошибки отправки сообщений ботом",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})

	SubmissionsAdmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "review_submissions_admitted_total",
		Help: "Количество принятых в работу статей",
	})

	StatusTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "review_status_transitions_total",
		Help: "Переходы статусов статей",
	}, []string{"status"})

	OracleFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "review_oracle_failures_total",
		Help: "Ошибки подбора рецензентов",
	}, []string{"stage"})

	DeliveryFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "review_delivery_failures_total",
		Help: "Ошибки доставки писем и сообщений",
	}, []string{"channel"})

	FollowupsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "review_followups_sent_total",
		Help: "Отправленные напоминания рецензентам",
	})

	BackgroundTasks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "review_background_tasks_total",
		Help: "Фоновые задачи по результату",
	}, []string{"task", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		BotSendErrors,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
		SubmissionsAdmitted,
		StatusTransitions,
		OracleFailures,
		DeliveryFailures,
		FollowupsSent,
		BackgroundTasks,
	)
}

// StartServer запускает HTTP сервер с эндпоинтами /metrics и /healthz.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens, totalTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	if totalTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(totalTokens))
	}
}

// IncTransition учитывает переход статьи в статус.
func IncTransition(status string) {
	StatusTransitions.WithLabelValues(status).Inc()
}

// IncOracleFailure учитывает неудачный подбор рецензентов.
func IncOracleFailure(stage string) {
	OracleFailures.WithLabelValues(stage).Inc()
}

// IncDeliveryFailure учитывает недоставленное письмо или сообщение.
func IncDeliveryFailure(channel string) {
	DeliveryFailures.WithLabelValues(channel).Inc()
}

// ObserveTask учитывает завершение фоновой задачи.
func ObserveTask(task string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	BackgroundTasks.WithLabelValues(task, status).Inc()
}
