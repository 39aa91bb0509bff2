package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pesio-ai/be-documents/internal/client"
	"github.com/pesio-ai/be-documents/internal/handler"
	"github.com/pesio-ai/be-documents/internal/jobqueue"
	"github.com/pesio-ai/be-documents/internal/platform/metrics"
	"github.com/pesio-ai/be-documents/internal/platform/middleware"
	"github.com/pesio-ai/be-documents/internal/platform/natsclient"
	"github.com/pesio-ai/be-documents/internal/repository"
	"github.com/pesio-ai/be-documents/internal/scanner"
	"github.com/pesio-ai/be-documents/internal/scheduler"
	"github.com/pesio-ai/be-documents/internal/service"
	"github.com/pesio-ai/be-documents/internal/storage"
)

const healthInterval = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and gRPC servers and the approval job workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Documents Service")

	db, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	// Repositories
	store := repository.NewDocumentRepository(db)
	directory := repository.NewDirectoryRepository(db)

	// Adapters
	objects, err := storage.NewMinioStore(cfg.Storage, log.Logger)
	if err != nil {
		return err
	}

	checks := map[string]handler.Check{"database": db.Ping}

	var malware service.MalwareScanner = scanner.Disabled{}
	if cfg.Scanner.Enabled {
		clamd := scanner.NewClamdScanner(cfg.Scanner.Address, cfg.Scanner.Timeout)
		malware = clamd
		checks["scanner"] = clamd.Ping
	} else {
		log.Warn().Msg("Malware scanning is disabled")
	}

	var publisher client.Publisher
	nc, err := natsclient.Connect(cfg.NATS.URL, cfg.Service.Name, log.Logger)
	if err != nil {
		log.Warn().Err(err).Msg("NATS unavailable, notifications disabled")
	} else {
		defer nc.Close()
		publisher = nc
	}
	notifier := client.NewNotificationPublisher(publisher, cfg.NATS.SubjectPrefix, log.Logger)

	m := metrics.New()

	sched, err := scheduler.New(jobqueue.NewPostgresQueue(db), store, directory, notifier, cfg.Workflow, m, log)
	if err != nil {
		return err
	}

	// Services
	documents := service.NewDocumentService(store, directory, objects, malware, sched, cfg.Workflow, m, log)
	approvals := service.NewApprovalService(store, directory, sched, cfg.Workflow, m, log)

	// HTTP
	health := handler.NewHealthHandler(cfg.Service.Name, checks, log.Logger)
	httpHandler := handler.NewHTTPHandler(documents, approvals, cfg.Workflow.MaxUploadBytes, log)

	mux := http.NewServeMux()
	mux.Handle("GET /health", health)
	mux.Handle("GET /metrics", m.Handler())
	httpHandler.Register(mux)

	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(cfg.Server.RequestTimeout)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// gRPC
	grpcServer := handler.NewGRPCServer(health, log.Logger)
	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("create gRPC listener: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		health.Run(gctx, healthInterval)
		return nil
	})

	if err := sched.Start(gctx); err != nil {
		return err
	}

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		health.Shutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown failed")
		}
		grpcServer.GracefulStop()
		if err := sched.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Approval job workers did not stop in time")
		}
		return nil
	})

	err = g.Wait()
	log.Info().Msg("Server stopped")
	return err
}
