package speech

import (
	"context"
	"errors"
	"testing"
)

func newTestManager(loader *fakeLoader) *ModelManager {
	log := discardLogger()
	return newModelManager(loader, "test-model", log, newPipelineMetrics(nil, log))
}

func TestModelManagerTransitions(t *testing.T) {
	loader := &fakeLoader{}
	m := newTestManager(loader)

	if m.State() != ModelUnloaded {
		t.Fatalf("expected unloaded, got %s", m.State())
	}
	first, err := m.EnsureLoaded(context.Background())
	if err != nil {
		t.Fatalf("ensure loaded: %v", err)
	}
	second, err := m.EnsureLoaded(context.Background())
	if err != nil {
		t.Fatalf("ensure loaded again: %v", err)
	}
	if first != second {
		t.Fatal("expected the same handle while loaded")
	}
	if m.State() != ModelLoaded || m.Loads() != 1 {
		t.Fatalf("expected loaded once, state=%s loads=%d", m.State(), m.Loads())
	}

	if err := m.Unload(); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if err := m.Unload(); err != nil {
		t.Fatalf("second unload: %v", err)
	}
	if loader.closes.Load() != 1 || m.Unloads() != 1 {
		t.Fatalf("double unload must be a no-op, closes=%d", loader.closes.Load())
	}
	if m.State() != ModelUnloaded {
		t.Fatalf("expected unloaded, got %s", m.State())
	}

	if _, err := m.EnsureLoaded(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if m.Loads() != 2 {
		t.Fatalf("expected load count 2, got %d", m.Loads())
	}
}

func TestModelManagerLoadFailure(t *testing.T) {
	boom := errors.New("weights missing")
	m := newTestManager(&fakeLoader{err: boom})

	if _, err := m.EnsureLoaded(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected load error, got %v", err)
	}
	if m.State() != ModelUnloaded || m.Loads() != 0 {
		t.Fatalf("failed load must leave manager unloaded, state=%s loads=%d", m.State(), m.Loads())
	}
}

func TestModelStateString(t *testing.T) {
	for state, want := range map[ModelState]string{
		ModelUnloaded:  "unloaded",
		ModelLoading:   "loading",
		ModelLoaded:    "loaded",
		ModelUnloading: "unloading",
		ModelState(9):  "unknown(9)",
	} {
		if got := state.String(); got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
}
