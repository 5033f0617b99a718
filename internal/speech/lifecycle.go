package speech

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-speaker/internal/tts"
)

// ModelState is the load state of the synthesis model.
type ModelState int32

const (
	ModelUnloaded ModelState = iota
	ModelLoading
	ModelLoaded
	ModelUnloading
)

func (s ModelState) String() string {
	switch s {
	case ModelUnloaded:
		return "unloaded"
	case ModelLoading:
		return "loading"
	case ModelLoaded:
		return "loaded"
	case ModelUnloading:
		return "unloading"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

const (
	unloadIdle     = "idle"
	unloadShutdown = "shutdown"
	unloadFailure  = "failure"
	unloadManual   = "manual"
)

// ModelManager owns the single synthesis model handle. Load and unload are
// serialized by one mutex; state is readable without it.
type ModelManager struct {
	loader  tts.Loader
	modelID string
	logger  *slog.Logger
	metrics *pipelineMetrics

	mu      sync.Mutex
	model   tts.Model
	state   atomic.Int32
	loads   atomic.Int64
	unloads atomic.Int64
}

func newModelManager(loader tts.Loader, modelID string, log *slog.Logger, metrics *pipelineMetrics) *ModelManager {
	return &ModelManager{
		loader:  loader,
		modelID: modelID,
		logger:  log.With(slog.String("model", modelID)),
		metrics: metrics,
	}
}

// EnsureLoaded returns the loaded model, loading it first if needed.
func (m *ModelManager) EnsureLoaded(ctx context.Context) (tts.Model, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.model != nil {
		return m.model, nil
	}

	m.state.Store(int32(ModelLoading))
	start := time.Now()
	model, err := m.loader.Load(ctx, m.modelID)
	if err != nil {
		m.state.Store(int32(ModelUnloaded))
		return nil, fmt.Errorf("load model %s: %w", m.modelID, err)
	}
	m.model = model
	m.state.Store(int32(ModelLoaded))
	count := m.loads.Add(1)
	m.metrics.recordLoad(time.Since(start))
	m.logger.Info("tts model loaded", slog.Int64("load_count", count), slog.Duration("took", time.Since(start)))
	return model, nil
}

// Unload releases the model if one is loaded.
func (m *ModelManager) Unload() error {
	return m.unload(unloadManual)
}

func (m *ModelManager) unload(reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.model == nil {
		return nil
	}
	m.state.Store(int32(ModelUnloading))
	err := m.model.Close()
	m.model = nil
	m.state.Store(int32(ModelUnloaded))
	m.unloads.Add(1)
	m.metrics.recordUnload(reason)
	if err != nil {
		m.logger.Warn("tts model close reported error", slog.String("reason", reason), slogError(err))
		return fmt.Errorf("close model %s: %w", m.modelID, err)
	}
	m.logger.Info("tts model unloaded", slog.String("reason", reason))
	return nil
}

func (m *ModelManager) State() ModelState { return ModelState(m.state.Load()) }

func (m *ModelManager) Loaded() bool { return m.State() == ModelLoaded }

// Loads returns how many times the model has been loaded.
func (m *ModelManager) Loads() int64 { return m.loads.Load() }

func (m *ModelManager) Unloads() int64 { return m.unloads.Load() }
