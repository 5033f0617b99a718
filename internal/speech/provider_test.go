package speech

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestProviderBuildsOnce(t *testing.T) {
	var builds atomic.Int32
	provider := NewProvider(func() (*Pipeline, error) {
		builds.Add(1)
		return New(Options{Loader: &fakeLoader{}, Sink: &recordingSink{}, Logger: discardLogger()})
	})
	t.Cleanup(provider.Shutdown)

	var wg sync.WaitGroup
	results := make([]*Pipeline, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pl, err := provider.Get()
			if err != nil {
				t.Errorf("get: %v", err)
				return
			}
			results[i] = pl
		}(i)
	}
	wg.Wait()

	if builds.Load() != 1 {
		t.Fatalf("expected one build, got %d", builds.Load())
	}
	for _, pl := range results {
		if pl != results[0] {
			t.Fatal("expected every caller to share one pipeline")
		}
	}
	if !results[0].Status().Running {
		t.Fatal("expected provider to start the pipeline")
	}

	provider.Shutdown()
	if provider.Current() != nil {
		t.Fatal("expected shutdown to clear the instance")
	}
	if results[0].Status().Running {
		t.Fatal("expected shutdown to stop the pipeline")
	}
	next, err := provider.Get()
	if err != nil {
		t.Fatalf("get after shutdown: %v", err)
	}
	if next == results[0] || builds.Load() != 2 {
		t.Fatal("expected a fresh pipeline after shutdown")
	}
}
