package audio

import (
	"context"
	"time"
)

// NullSink discards audio. When realtime is set it still takes as long as
// the clip would take to play.
type NullSink struct {
	realtime bool
}

func NewNullSink(realtime bool) *NullSink {
	return &NullSink{realtime: realtime}
}

func (n *NullSink) Play(ctx context.Context, clip Clip) error {
	if !n.realtime {
		return nil
	}
	timer := time.NewTimer(clip.Duration())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (n *NullSink) Close() error { return nil }
