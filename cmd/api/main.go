package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mishraclinic/whatsapp-assistant/internal/api/router"
	"github.com/mishraclinic/whatsapp-assistant/internal/appointments"
	"github.com/mishraclinic/whatsapp-assistant/internal/calendar"
	appconfig "github.com/mishraclinic/whatsapp-assistant/internal/config"
	"github.com/mishraclinic/whatsapp-assistant/internal/conversation"
	"github.com/mishraclinic/whatsapp-assistant/internal/db"
	"github.com/mishraclinic/whatsapp-assistant/internal/http/handlers"
	"github.com/mishraclinic/whatsapp-assistant/internal/intent"
	"github.com/mishraclinic/whatsapp-assistant/internal/knowledge"
	"github.com/mishraclinic/whatsapp-assistant/internal/messaging"
	"github.com/mishraclinic/whatsapp-assistant/internal/observability/metrics"
	"github.com/mishraclinic/whatsapp-assistant/internal/patients"
	"github.com/mishraclinic/whatsapp-assistant/internal/slots"
	"github.com/mishraclinic/whatsapp-assistant/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting whatsapp assistant",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	pool, err := db.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := db.ConnectRedis(ctx, db.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		TLS:      cfg.RedisTLS,
	})
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	patientRepo := patients.NewRepository(pool)
	slotRepo := slots.NewRepository(pool)
	apptRepo := appointments.NewRepository(pool)
	bookingSvc := appointments.NewService(slotRepo, apptRepo, logger, m)

	var modelClassifier intent.ModelClassifier
	if cfg.GeminiAPIKey != "" {
		gc, err := intent.NewGeminiClassifier(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID, cfg.ClassifierTimeout)
		if err != nil {
			logger.Error("failed to create gemini classifier", "error", err)
			os.Exit(1)
		}
		defer gc.Close()
		modelClassifier = gc
	} else {
		logger.Warn("GEMINI_API_KEY not set, using rule-based classification only")
	}
	classifier := intent.NewClassifier(modelClassifier, logger, m)

	var answerer *knowledge.Client
	if cfg.KnowledgeAPIURL != "" {
		answerer, err = knowledge.NewClient(knowledge.Options{
			BaseURL:    cfg.KnowledgeAPIURL,
			Token:      cfg.KnowledgeAPIToken,
			OrgID:      cfg.KnowledgeOrgID,
			Collection: cfg.KnowledgeCollection,
			Timeout:    cfg.KnowledgeTimeout,
		})
		if err != nil {
			logger.Error("failed to create knowledge client", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("DOCSER_API_URL not set, medical queries disabled")
	}

	invites, err := calendar.NewService(ctx, cfg.GoogleServiceAccountJSON, cfg.GoogleCalendarID, cfg.CalendarTimeout, logger)
	if err != nil {
		logger.Error("failed to create calendar service", "error", err)
		os.Exit(1)
	}
	if invites == nil {
		logger.Warn("GOOGLE_SERVICE_ACCOUNT_JSON not set, calendar invites disabled")
	}

	sender := messaging.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioWhatsAppNumber, logger)
	messenger := messaging.NewMessenger(sender, cfg.MaxMessageLength, cfg.ChunkSendDelay, logger, m)

	sched, err := conversation.NewSchedule(cfg.ClinicTimezone, cfg.ClinicOpenHour, cfg.ClinicCloseHour, cfg.SlotDuration)
	if err != nil {
		logger.Error("invalid clinic schedule", "error", err)
		os.Exit(1)
	}

	routerCfg := conversation.RouterConfig{
		Patients:   patientRepo,
		Bookings:   bookingSvc,
		Classifier: classifier,
		Messenger:  messenger,
		Contexts:   conversation.NewContextStore(redisClient, time.Hour),
		Schedule:   sched,
		ClinicName: cfg.ClinicName,
		Logger:     logger,
		Metrics:    m,
	}
	if answerer != nil {
		routerCfg.Knowledge = answerer
	}
	if invites != nil {
		routerCfg.Invites = invites
	}
	convRouter := conversation.NewRouter(routerCfg)

	r := router.New(&router.Config{
		Logger:          logger,
		WhatsAppHandler: handlers.NewWhatsAppHandler(convRouter, logger),
		HealthHandler:   handlers.NewHealthHandler(pool, redisClient, cfg.Env),
		MetricsHandler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
