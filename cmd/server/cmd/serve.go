package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-expense-approvals/internal/client"
	"github.com/pesio-ai/be-expense-approvals/internal/handler"
	"github.com/pesio-ai/be-expense-approvals/internal/platform/config"
	"github.com/pesio-ai/be-expense-approvals/internal/platform/database"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/internal/repository/memory"
	"github.com/pesio-ai/be-expense-approvals/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and gRPC servers",
	RunE:  runServe,
}

type stores struct {
	approvals repository.ApprovalStore
	flows     repository.FlowConfigStore
	health    handler.HealthCheck
	close     func()
}

func openStores(ctx context.Context) (*stores, error) {
	switch cfg.Store.Kind {
	case config.StoreMemory:
		m := memory.New()
		if cfg.Store.SeedFile != "" {
			if err := m.LoadSeedFile(cfg.Store.SeedFile); err != nil {
				return nil, err
			}
			log.Info().Str("file", cfg.Store.SeedFile).Msg("Memory store seeded")
		}
		log.Warn().Msg("Using in-memory store; state is lost on exit")
		return &stores{approvals: m, flows: m, close: func() {}}, nil

	default:
		if cfg.Database.MigrateOnStart {
			if err := database.RunMigrations(cfg.Database.URL); err != nil {
				return nil, fmt.Errorf("run migrations: %w", err)
			}
			log.Info().Msg("Database migrations applied")
		}
		db, err := openDatabase(ctx)
		if err != nil {
			return nil, err
		}
		pg := repository.NewPostgresStore(db)
		return &stores{approvals: pg, flows: pg, health: db.Ping, close: db.Close}, nil
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Str("store", cfg.Store.Kind).
		Msg("Starting Expense Approvals Service")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open store")
		return err
	}
	defer st.close()

	converter, err := client.NewStaticRateConverter(cfg.Currency.Base, cfg.Currency.Rates)
	if err != nil {
		log.Error().Err(err).Msg("Invalid currency configuration")
		return err
	}

	var conn *nats.Conn
	if cfg.NATS.URL != "" {
		conn, err = client.ConnectNATS(cfg.NATS.URL, cfg.Service.Name, log.Logger)
		if err != nil {
			log.Error().Err(err).Msg("Failed to connect to NATS")
			return err
		}
		defer func() { _ = conn.Drain() }()
		log.Info().Str("url", cfg.NATS.URL).Str("prefix", cfg.NATS.SubjectPrefix).Msg("NATS publisher enabled")
	} else {
		log.Info().Msg("NATS URL not set; approval events are not published")
	}
	publisher := client.NewNotificationPublisher(conn, cfg.NATS.SubjectPrefix, log.Logger)

	inbox, err := repository.OpenNotificationInbox(cfg.Notifications.BoltPath, cfg.Notifications.PerUserCap)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open notification inbox")
		return err
	}
	defer inbox.Close()

	engine := service.NewApprovalEngine(st.approvals, converter, log)
	flows := service.NewFlowService(st.flows, st.approvals, log)
	notifications := service.NewNotificationService(inbox, publisher, log)

	httpHandler := handler.NewHTTPHandler(engine, flows, notifications, st.health, log)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(cfg.Server.RequestTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		handler.UnaryLogger(log.Logger),
		handler.UnaryIdentify(engine),
	))
	handler.RegisterApprovalServiceServer(grpcServer, handler.NewGRPCHandler(engine, notifications, log.Logger))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(handler.ApprovalServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Error().Err(err).Msg("Failed to create gRPC listener")
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("Server failed")
	}

	log.Info().Msg("Shutting down server...")
	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	grpcServer.GracefulStop()

	log.Info().Msg("Server stopped")
	return runErr
}
