// Package presence announces this speaker's pipeline status on the bus and
// tracks the other speakers it hears from.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loqalabs/loqa-speaker/internal/bus"
	"github.com/loqalabs/loqa-speaker/internal/config"
	"github.com/loqalabs/loqa-speaker/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// StatusFunc reports the local pipeline status. ok is false when no pipeline
// has been built yet.
type StatusFunc func() (status protocol.SpeakerStatus, ok bool)

type Peer struct {
	Status   protocol.SpeakerStatus `json:"status"`
	LastSeen time.Time              `json:"last_seen"`
	Healthy  bool                   `json:"healthy"`
}

type Heartbeat struct {
	cfg      config.NodeConfig
	bus      *bus.Client
	status   StatusFunc
	log      *slog.Logger
	clock    func() time.Time
	cancel   context.CancelFunc
	done     chan struct{}
	sub      *nats.Subscription
	meter    metric.Meter
	reg      metric.Registration
	mu       sync.RWMutex
	peers    map[string]*Peer
	lastSent time.Time
}

func New(ctx context.Context, cfg config.NodeConfig, busClient *bus.Client, status StatusFunc, log *slog.Logger) (*Heartbeat, error) {
	ctx, cancel := context.WithCancel(ctx)
	h := &Heartbeat{
		cfg:    cfg,
		bus:    busClient,
		status: status,
		log:    log.With(slog.String("component", "presence")),
		clock:  time.Now,
		cancel: cancel,
		done:   make(chan struct{}),
		meter:  otel.Meter("github.com/loqalabs/loqa-speaker/internal/presence"),
		peers:  make(map[string]*Peer),
	}

	if err := h.initMetrics(); err != nil {
		h.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	sub, err := busClient.Conn().Subscribe(protocol.SubjectStatusPrefix+".*", h.handleStatus)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe speaker status: %w", err)
	}
	h.sub = sub

	if err := h.publish(); err != nil {
		h.log.Warn("failed to publish initial heartbeat", slog.String("error", err.Error()))
	}
	go h.run(ctx)
	return h, nil
}

func (h *Heartbeat) Close() {
	h.cancel()
	<-h.done
	if h.sub != nil {
		_ = h.sub.Drain()
	}
	if h.reg != nil {
		_ = h.reg.Unregister()
	}
}

func (h *Heartbeat) interval() time.Duration {
	return time.Duration(h.cfg.HeartbeatInterval) * time.Millisecond
}

func (h *Heartbeat) run(ctx context.Context) {
	defer close(h.done)
	ticker := time.NewTicker(h.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.publish(); err != nil {
				h.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
			h.evaluateHealth()
		}
	}
}

func (h *Heartbeat) snapshot() protocol.SpeakerStatus {
	status, ok := h.status()
	if !ok {
		status = protocol.SpeakerStatus{ModelState: "unloaded"}
	}
	status.NodeID = h.cfg.ID
	status.Timestamp = h.clock().UTC()
	return status
}

func (h *Heartbeat) publish() error {
	status := h.snapshot()
	if err := h.bus.PublishJSON(protocol.StatusSubject(h.cfg.ID), status); err != nil {
		return err
	}
	h.mu.Lock()
	h.lastSent = status.Timestamp
	h.mu.Unlock()
	return nil
}

func (h *Heartbeat) handleStatus(msg *nats.Msg) {
	var status protocol.SpeakerStatus
	if err := json.Unmarshal(msg.Data, &status); err != nil {
		h.log.Warn("invalid speaker status", slog.String("error", err.Error()))
		return
	}
	if status.NodeID == "" || status.NodeID == h.cfg.ID {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[status.NodeID] = &Peer{Status: status, LastSeen: h.clock(), Healthy: true}
}

// evaluateHealth marks peers unhealthy after three missed heartbeats.
func (h *Heartbeat) evaluateHealth() {
	timeout := 3 * h.interval()
	now := h.clock()
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, peer := range h.peers {
		if now.Sub(peer.LastSeen) > timeout {
			peer.Healthy = false
		}
	}
}

// Peers returns the other speakers seen on the bus, ordered by node id.
func (h *Heartbeat) Peers() []Peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Peer, 0, len(h.peers))
	for _, p := range h.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status.NodeID < out[j].Status.NodeID })
	return out
}

// Healthy reports whether a heartbeat went out within the last three intervals.
func (h *Heartbeat) Healthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.lastSent.IsZero() && h.clock().Sub(h.lastSent) <= 3*h.interval()
}

func (h *Heartbeat) initMetrics() error {
	peers, err := h.meter.Int64ObservableGauge("speaker.peers", metric.WithDescription("Healthy peer speakers on the bus"))
	if err != nil {
		return err
	}
	loaded, err := h.meter.Int64ObservableGauge("speaker.model.loaded", metric.WithDescription("1 while the synthesis model is resident"))
	if err != nil {
		return err
	}
	h.reg, err = h.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		var healthy int64
		for _, p := range h.Peers() {
			if p.Healthy {
				healthy++
			}
		}
		obs.ObserveInt64(peers, healthy)
		var resident int64
		if status, ok := h.status(); ok && status.ModelState == "loaded" {
			resident = 1
		}
		obs.ObserveInt64(loaded, resident)
		return nil
	}, peers, loaded)
	return err
}
