package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-speaker/internal/bus"
	"github.com/loqalabs/loqa-speaker/internal/config"
	"github.com/loqalabs/loqa-speaker/internal/intake"
	"github.com/loqalabs/loqa-speaker/internal/journal"
	"github.com/loqalabs/loqa-speaker/internal/natsserver"
	"github.com/loqalabs/loqa-speaker/internal/presence"
	"github.com/loqalabs/loqa-speaker/internal/protocol"
	"github.com/loqalabs/loqa-speaker/internal/speech"
)

const journalPruneInterval = time.Hour

var errShuttingDown = errors.New("runtime is shutting down")

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	// metricsServer is only set when metrics have their own listener.
	metricsServer *http.Server

	// closing is set once by stopServices. Readers hold closeMu across
	// provider.Get so no pipeline is built after the provider shut down.
	closeMu sync.RWMutex
	closing bool

	provider  *speech.Provider
	journal   *journal.Journal
	busServer *natsserver.EmbeddedServer
	bus       *bus.Client
	intake    *intake.Service
	presence  *presence.Heartbeat
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := r.startServices(ctx); err != nil {
		r.stopServices()
		return err
	}

	if bind := r.cfg.Telemetry.PrometheusBind; bind != "" && metricsHandler != nil {
		r.startMetricsServer(bind, metricsHandler)
		metricsHandler = nil
	}

	mux := r.routes(metricsHandler)
	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.pruneJournal(ctx)
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsServer != nil {
		_ = r.metricsServer.Shutdown(shutdownCtx)
	}
	r.wg.Wait()
	r.stopServices()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) startMetricsServer(bind string, handler http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	r.metricsServer = &http.Server{
		Addr:              bind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.logger.Info("metrics listener started", slog.String("addr", bind))
		if err := r.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) startServices(ctx context.Context) error {
	j, err := journal.Open(ctx, r.cfg.Journal, r.logger)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	r.journal = j
	listeners := []speech.Listener{j.HandleOutcome}

	if r.cfg.Bus.Enabled {
		srv, err := natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return err
		}
		r.busServer = srv
		busCfg := r.cfg.Bus
		if srv != nil {
			busCfg.Servers = []string{srv.ClientURL()}
		}
		client, err := bus.Connect(ctx, r.cfg.RuntimeName, busCfg, r.logger)
		if err != nil {
			return err
		}
		r.bus = client

		r.intake = intake.NewService(r.cfg.Intake, client, r.queuer, r.logger)
		listeners = append(listeners, r.intake.HandleOutcome)
	}

	r.provider = speech.NewProvider(PipelineBuilder(r.cfg, r.logger, listeners...))
	if !r.cfg.Speech.LazyStart || r.cfg.Speech.PreloadOnStart {
		p, err := r.provider.Get()
		if err != nil {
			return fmt.Errorf("start speech pipeline: %w", err)
		}
		if r.cfg.Speech.PreloadOnStart {
			if _, err := p.Models().EnsureLoaded(ctx); err != nil {
				r.logger.Warn("model preload failed", slog.String("error", err.Error()))
			}
		}
	}

	if r.intake != nil {
		if err := r.intake.Start(); err != nil {
			return fmt.Errorf("start intake: %w", err)
		}
	}
	if r.bus != nil {
		hb, err := presence.New(ctx, r.cfg.Node, r.bus, r.speakerStatus, r.logger)
		if err != nil {
			return fmt.Errorf("start presence: %w", err)
		}
		r.presence = hb
	}
	return nil
}

// stopServices tears down in reverse start order. The pipeline stops before
// the bus so its final outcomes can still be published.
func (r *Runtime) stopServices() {
	r.closeMu.Lock()
	if r.closing {
		r.closeMu.Unlock()
		return
	}
	r.closing = true
	r.closeMu.Unlock()

	if r.presence != nil {
		r.presence.Close()
	}
	if r.intake != nil {
		r.intake.Close()
	}
	if r.provider != nil {
		r.provider.Shutdown()
	}
	if r.bus != nil {
		r.bus.Close()
	}
	r.busServer.Shutdown()
	if r.journal != nil {
		if err := r.journal.Close(); err != nil {
			r.logger.Warn("journal close error", slog.String("error", err.Error()))
		}
	}
}

// pipeline returns the shared pipeline, building it on first use, unless
// the runtime is shutting down.
func (r *Runtime) pipeline() (*speech.Pipeline, error) {
	r.closeMu.RLock()
	defer r.closeMu.RUnlock()
	if r.closing {
		return nil, errShuttingDown
	}
	return r.provider.Get()
}

func (r *Runtime) queuer() (intake.Queuer, error) {
	p, err := r.pipeline()
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *Runtime) speakerStatus() (protocol.SpeakerStatus, bool) {
	p := r.provider.Current()
	if p == nil {
		return protocol.SpeakerStatus{}, false
	}
	st := p.Status()
	return protocol.SpeakerStatus{
		ModelID:      st.ModelID,
		ModelState:   st.ModelState,
		Loads:        st.Loads,
		QueueDepth:   st.QueueDepth,
		Processed:    st.Processed,
		LastActivity: st.LastActivity,
		Running:      st.Running,
	}, true
}

func (r *Runtime) pruneJournal(ctx context.Context) {
	ticker := time.NewTicker(journalPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.journal.Prune(ctx); err != nil {
				r.logger.Warn("journal prune failed", slog.String("error", err.Error()))
			}
		}
	}
}
