package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/straye-as/lead-engine/internal/auth"
	"github.com/straye-as/lead-engine/internal/config"
	"github.com/straye-as/lead-engine/internal/credentials"
	"github.com/straye-as/lead-engine/internal/database"
	"github.com/straye-as/lead-engine/internal/email"
	"github.com/straye-as/lead-engine/internal/events"
	"github.com/straye-as/lead-engine/internal/http/handler"
	"github.com/straye-as/lead-engine/internal/http/middleware"
	"github.com/straye-as/lead-engine/internal/http/router"
	"github.com/straye-as/lead-engine/internal/jobs"
	"github.com/straye-as/lead-engine/internal/logger"
	"github.com/straye-as/lead-engine/internal/metrics"
	"github.com/straye-as/lead-engine/internal/pdf"
	"github.com/straye-as/lead-engine/internal/repository"
	"github.com/straye-as/lead-engine/internal/service"
	"github.com/straye-as/lead-engine/internal/storage"
	"go.uber.org/zap"
)

// @title Lead Engine API
// @version 1.0
// @description Lead intake, triage, assignment and lifecycle API
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT Bearer token with a tenant_id claim

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name x-api-key
// @description API key, sent together with X-Tenant-ID

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Load basic configuration first (for logging setup)
	basicCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLogger(&basicCfg.Logging, &basicCfg.App)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting application",
		zap.String("app", basicCfg.App.Name),
		zap.String("env", basicCfg.App.Environment),
		zap.Int("port", basicCfg.App.Port),
	)

	// In development secrets come from the environment, in staging/production from Azure Key Vault
	cfg, err := config.LoadWithSecrets(ctx, log)
	if err != nil {
		return fmt.Errorf("failed to load secrets: %w", err)
	}

	db, err := database.NewDatabase(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Storage for proposal archives
	fileStorage, err := storage.NewStorage(&cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	log.Info("Storage initialized", zap.String("mode", cfg.Storage.Mode))

	key, err := cfg.Email.CredentialKeyBytes()
	if err != nil {
		return fmt.Errorf("invalid credential key: %w", err)
	}
	cipher, err := credentials.NewCipher(key)
	if err != nil {
		return fmt.Errorf("failed to create credential cipher: %w", err)
	}

	// Event fan-out: in-process bus for SSE, optionally bridged to RabbitMQ
	bus := events.NewInMemoryBus(log.Named("events"), m)
	var publisher events.Publisher = bus
	var amqpPublisher *events.AMQPPublisher
	if cfg.Events.AMQPURL != "" {
		amqpPublisher, err = events.NewAMQPPublisher(cfg.Events.AMQPURL, cfg.Events.AMQPExchange, log.Named("amqp"))
		if err != nil {
			log.Warn("AMQP bridge unavailable, continuing with in-process events only", zap.Error(err))
		} else {
			publisher = events.MultiPublisher{bus, amqpPublisher}
			log.Info("AMQP bridge connected", zap.String("exchange", cfg.Events.AMQPExchange))
		}
	}

	// Repositories
	leadRepo := repository.NewLeadRepository(db)
	timelineRepo := repository.NewTimelineRepository(db)
	agentRepo := repository.NewAgentRepository(db)
	orgRepo := repository.NewOrganizationRepository(db)

	// Services
	sender := email.NewSMTPSender(&cfg.Email)
	mailer := service.NewMailDispatcher(orgRepo, cipher, sender, m, log.Named("mail"))
	balancer := service.NewAssignmentBalancer(agentRepo, log)
	renderer := pdf.NewProposalRenderer(
		pdf.NewGotenbergClient(cfg.Pdf.GotenbergURL, cfg.Pdf.Username, cfg.Pdf.Password, cfg.Pdf.TimeoutDuration()),
	)
	leadService := service.NewLeadService(
		leadRepo,
		timelineRepo,
		balancer,
		mailer,
		renderer,
		storage.NewProposalArchive(fileStorage),
		publisher,
		m,
		service.LeadServiceConfig{
			Triage: service.TriageRules{
				RejectBelow:  cfg.Triage.RejectBelow,
				QualifyAbove: cfg.Triage.QualifyAbove,
			},
			BookingBaseURL: cfg.App.BookingBaseURL,
		},
		log,
		db,
	)
	followUpService := service.NewFollowUpService(
		leadRepo,
		timelineRepo,
		mailer,
		m,
		log.Named("follow_up"),
		cfg.FollowUp.StaleForDuration(),
		cfg.App.BookingBaseURL,
	)
	followUpService.SetBatchSize(cfg.FollowUp.BatchSize)

	// Middleware and handlers
	authMiddleware := auth.NewMiddleware(cfg, log)
	tenantScope := middleware.NewTenantScope(log)
	rateLimiter := middleware.NewRateLimiter(&cfg.RateLimit, log)
	leadHandler := handler.NewLeadHandler(leadService, log)
	eventsHandler := handler.NewEventsHandler(bus, cfg.Events.SubscriberBuffer, log)

	rt := router.NewRouter(
		cfg,
		log,
		db,
		m,
		registry,
		authMiddleware,
		tenantScope,
		rateLimiter,
		leadHandler,
		eventsHandler,
	)

	var scheduler *jobs.Scheduler
	if cfg.FollowUp.Enabled {
		scheduler = jobs.NewScheduler(log)
		if err := jobs.RegisterFollowUpJob(
			scheduler,
			followUpService,
			log,
			cfg.FollowUp.Cron,
			cfg.FollowUp.TimeoutDuration(),
		); err != nil {
			return fmt.Errorf("failed to register follow-up job: %w", err)
		}
		scheduler.Start()
		log.Info("Scheduler started with follow-up job",
			zap.String("cron_expr", cfg.FollowUp.Cron),
			zap.Duration("stale_for", cfg.FollowUp.StaleForDuration()),
		)
	} else {
		log.Info("Follow-up reminders disabled")
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      rt.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		if scheduler != nil {
			<-scheduler.Stop().Done()
			log.Info("Scheduler stopped")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Close event streams first so Shutdown is not held open by SSE clients
		bus.Close()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("Failed to shutdown gracefully", zap.Error(err))
			return err
		}

		if err := leadService.Drain(ctx); err != nil {
			log.Warn("Pending emails not delivered before shutdown", zap.Error(err))
		}

		if amqpPublisher != nil {
			if err := amqpPublisher.Close(); err != nil {
				log.Warn("Error closing AMQP connection", zap.Error(err))
			}
		}

		log.Info("Server stopped gracefully")
	}

	return nil
}
