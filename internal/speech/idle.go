package speech

import (
	"log/slog"
	"time"
)

func (p *Pipeline) runIdleMonitor() {
	defer close(p.monitorDone)
	p.logger.Debug("idle monitor started",
		slog.Duration("timeout", p.opts.IdleTimeout),
		slog.Duration("interval", p.opts.IdlePollInterval))

	ticker := time.NewTicker(p.opts.IdlePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.monitorStop:
			p.logger.Debug("idle monitor stopped")
			return
		case <-ticker.C:
			p.evictIfIdle(p.clock())
		}
	}
}

// evictIfIdle unloads the model when it is loaded, nothing has happened for
// the idle timeout, and the queue is empty. A request queued between the
// emptiness check and the unload simply reloads the model.
func (p *Pipeline) evictIfIdle(now time.Time) bool {
	if !p.models.Loaded() {
		return false
	}
	idle := now.Sub(p.LastActivity())
	if idle < p.opts.IdleTimeout {
		return false
	}
	if !p.queue.empty() {
		return false
	}
	p.logger.Info("tts idle, unloading model", slog.Duration("idle", idle.Truncate(time.Second)))
	if err := p.models.unload(unloadIdle); err != nil {
		p.logger.Warn("idle unload failed", slogError(err))
	}
	return true
}
