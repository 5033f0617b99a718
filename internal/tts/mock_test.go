package tts

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMockModelChunks(t *testing.T) {
	loader := NewMockLoader(8000, 20*time.Millisecond, 0)
	model, err := loader.Load(context.Background(), "mock")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	chunks, errs := model.Synthesize(context.Background(), SynthRequest{ID: "x", Text: "one two three four five six seven", Speed: 1})
	var got []SynthChunk
	for c := range chunks {
		got = append(got, c)
	}
	if err := <-errs; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks for 7 words, got %d", len(got))
	}
	// 20ms at 8kHz, 2 bytes per sample.
	if len(got[0].PCM) != 320 {
		t.Fatalf("expected 320 bytes, got %d", len(got[0].PCM))
	}
	if !got[1].Final {
		t.Fatal("expected last chunk to be final")
	}
}

func TestMockModelClosed(t *testing.T) {
	model, _ := NewMockLoader(8000, 10*time.Millisecond, 0).Load(context.Background(), "mock")
	_ = model.Close()
	_, errs := model.Synthesize(context.Background(), SynthRequest{Text: "anything at all"})
	if err := <-errs; !errors.Is(err, ErrModelClosed) {
		t.Fatalf("expected ErrModelClosed, got %v", err)
	}
}

func TestMockLoadHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMockLoader(8000, 0, time.Second).Load(ctx, "mock"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
