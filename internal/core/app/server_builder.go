package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/theblitlabs/gologger"
	"github.com/theblitlabs/parity-server/internal/agentchannel"
	"github.com/theblitlabs/parity-server/internal/api"
	"github.com/theblitlabs/parity-server/internal/api/handlers"
	v1 "github.com/theblitlabs/parity-server/internal/api/v1"
	"github.com/theblitlabs/parity-server/internal/core/backends"
	"github.com/theblitlabs/parity-server/internal/core/config"
	"github.com/theblitlabs/parity-server/internal/core/services"
	"github.com/theblitlabs/parity-server/internal/database/repositories"
	"github.com/theblitlabs/parity-server/internal/storage/db"
	"github.com/theblitlabs/parity-server/internal/taskqueue"
	"github.com/theblitlabs/parity-server/internal/utils"
)

// Server holds every long-lived component a running replica owns, wired
// by ServerBuilder and torn down in dependency order by Shutdown.
type Server struct {
	Config     *config.Config
	HTTPServer *http.Server
	DBManager  *db.DBManager

	FinalizeWorker   *services.FinalizeWorker
	GCService        *services.GCService
	PollerService    *services.PollerService
	ReconcilerService *services.ReconcilerService

	stopChannel chan struct{}
}

// Shutdown stops the background services, closes the HTTP server, and
// finally closes the database connection — mirroring the teacher's
// staged shutdown; only the HTTP stage runs under a timeout (20s).
func (s *Server) Shutdown(ctx context.Context) {
	log := gologger.Get()
	close(s.stopChannel)

	s.FinalizeWorker.Stop()
	s.GCService.Stop()
	s.PollerService.Stop()
	s.ReconcilerService.Stop()
	log.Info().Msg("background services stopped")

	shutdownCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	shutdownStart := time.Now()
	if err := s.HTTPServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	} else {
		log.Info().Dur("duration_ms", time.Since(shutdownStart)).Msg("http server gracefully closed")
	}

	if err := s.DBManager.Close(); err != nil {
		log.Error().Err(err).Msg("error closing database connection")
	} else {
		log.Info().Msg("database connection closed")
	}

	log.Info().Msg("shutdown complete")
}

// ServerBuilder assembles a Server stage by stage, short-circuiting on
// the first error the way the teacher's builder does.
type ServerBuilder struct {
	config *config.Config

	dbManager      *db.DBManager
	runnerRepo     *repositories.RunnerRepository
	checkpointRepo *repositories.CheckpointRepository
	queue          *taskqueue.Queue

	registry *services.RunnerRegistry
	locks    *services.LockManager
	hub      *agentchannel.Hub
	backends *backends.Resolver

	checkpointService *services.CheckpointService
	finalizeWorker    *services.FinalizeWorker
	gcService         *services.GCService
	pollerService     *services.PollerService
	reconciler        *services.ReconcilerService

	httpServer  *http.Server
	stopChannel chan struct{}
	err         error
}

func NewServerBuilder(cfg *config.Config) *ServerBuilder {
	return &ServerBuilder{
		config:      cfg,
		stopChannel: make(chan struct{}),
	}
}

func (sb *ServerBuilder) InitDatabase() *ServerBuilder {
	if sb.err != nil {
		return sb
	}

	log := gologger.Get()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sb.dbManager = db.GetDBManager()
	if err := sb.dbManager.Connect(ctx, sb.config.Database.GetConnectionURL()); err != nil {
		sb.err = fmt.Errorf("failed to connect to database: %w", err)
		return sb
	}

	if err := sb.dbManager.GetDB().WithContext(ctx).AutoMigrate(&taskqueue.FinalizeTask{}); err != nil {
		sb.err = fmt.Errorf("failed to migrate task queue: %w", err)
		return sb
	}

	log.Info().Msg("connected to database")
	return sb
}

func (sb *ServerBuilder) InitRepositories() *ServerBuilder {
	if sb.err != nil {
		return sb
	}

	gormDB := sb.dbManager.GetDB()
	sb.runnerRepo = repositories.NewRunnerRepository(gormDB)
	sb.checkpointRepo = repositories.NewCheckpointRepository(gormDB)
	sb.queue = taskqueue.New(gormDB)
	return sb
}

func (sb *ServerBuilder) InitServices() *ServerBuilder {
	if sb.err != nil {
		return sb
	}

	gormDB := sb.dbManager.GetDB()
	agentCfg := sb.config.Agent

	sb.registry = services.NewRunnerRegistry(sb.runnerRepo, time.Duration(agentCfg.RegistryCacheTTLSeconds)*time.Second)
	sb.locks = services.NewLockManager(gormDB)
	sb.hub = agentchannel.NewHub(
		time.Duration(agentCfg.HeartbeatIntervalSeconds)*time.Second,
		time.Duration(agentCfg.HeartbeatTimeoutSeconds)*time.Second,
		time.Duration(agentCfg.RPCTimeoutSeconds)*time.Second,
	)
	sb.backends = backends.NewResolver(sb.hub)

	sb.checkpointService = services.NewCheckpointService(
		gormDB, sb.checkpointRepo, sb.registry, sb.locks, sb.backends, sb.queue,
		time.Duration(sb.config.Checkpoint.FinalizeCooldownSeconds)*time.Second,
	)

	// Agent-initiated create/finalize/status calls (spec §4.6's hook path)
	// arrive as unsolicited WS requests; answer them the same way the
	// HTTP handlers do, straight into CheckpointService.
	sb.hub.SetRequestHandler(agentchannel.RequestHandler(services.NewAgentDispatcher(sb.checkpointService)))

	sb.finalizeWorker = services.NewFinalizeWorker(
		gormDB, sb.checkpointRepo, sb.registry, sb.locks, sb.backends, sb.queue,
		time.Duration(sb.config.Checkpoint.ReadinessTimeoutSeconds)*time.Second,
		sb.config.Checkpoint.WorkerPoolSize,
		"finalize-worker",
	)

	sb.gcService = services.NewGCService(
		gormDB, sb.checkpointRepo, sb.registry, sb.locks, sb.backends,
		time.Duration(sb.config.GC.IntervalSeconds)*time.Second,
		time.Duration(sb.config.GC.MaxAgeSeconds)*time.Second,
		sb.config.GC.BatchSize,
	)

	sb.pollerService = services.NewPollerService(
		sb.checkpointRepo, sb.registry, sb.checkpointService,
		time.Duration(sb.config.Poller.IntervalSeconds)*time.Second,
		time.Duration(sb.config.Poller.MinAgeSeconds)*time.Second,
		sb.config.Poller.BatchSize,
	)

	sb.reconciler = services.NewReconcilerService(
		sb.checkpointRepo, sb.queue,
		time.Duration(sb.config.Reconcile.IntervalSeconds)*time.Second,
		sb.config.Reconcile.BatchSize,
	)

	return sb
}

func (sb *ServerBuilder) InitBackgroundServices() *ServerBuilder {
	if sb.err != nil {
		return sb
	}

	ctx := context.Background()
	sb.finalizeWorker.Run(ctx)

	if err := sb.gcService.Start(); err != nil {
		sb.err = fmt.Errorf("failed to start gc service: %w", err)
		return sb
	}
	if err := sb.pollerService.Start(); err != nil {
		sb.err = fmt.Errorf("failed to start poller service: %w", err)
		return sb
	}
	if err := sb.reconciler.Start(); err != nil {
		sb.err = fmt.Errorf("failed to start reconciler service: %w", err)
		return sb
	}

	return sb
}

func (sb *ServerBuilder) InitRouter() *ServerBuilder {
	if sb.err != nil {
		return sb
	}

	h := &v1.Handlers{
		Checkpoint: handlers.NewCheckpointHandler(sb.checkpointService),
		Runner:     handlers.NewRunnerHandler(sb.backends, time.Duration(sb.config.Checkpoint.ReadinessTimeoutSeconds)*time.Second),
		Admin:      handlers.NewAdminHandler(sb.registry),
		Webhook:    handlers.NewWebhookHandler(sb.checkpointService, sb.checkpointRepo, sb.config.Webhooks.GitLabSecret, sb.config.Webhooks.GitHubSecret),
		Internal:   handlers.NewInternalHandler(sb.hub),
		Health:     handlers.NewHealthHandler(sb.dbManager.GetDB()),
		Agent:      handlers.NewAgentHandler(sb.hub),
	}

	router := api.NewRouter(h, sb.registry, sb.config.Admin.APIKey, sb.config.Server.Endpoint)

	if err := utils.VerifyPortAvailable(sb.config.Server.Host, sb.config.Server.Port); err != nil {
		sb.err = fmt.Errorf("server port is not available: %w", err)
		return sb
	}

	sb.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%s", sb.config.Server.Host, sb.config.Server.Port),
		Handler: router,
	}

	return sb
}

func (sb *ServerBuilder) Build() (*Server, error) {
	if sb.err != nil {
		return nil, sb.err
	}

	return &Server{
		Config:            sb.config,
		HTTPServer:        sb.httpServer,
		DBManager:         sb.dbManager,
		FinalizeWorker:    sb.finalizeWorker,
		GCService:         sb.gcService,
		PollerService:     sb.pollerService,
		ReconcilerService: sb.reconciler,
		stopChannel:       sb.stopChannel,
	}, nil
}
