package follow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"regwatch/internal/broker"
	"regwatch/internal/jobs"
	"regwatch/internal/registry"
	"regwatch/pkg/logx"
)

type fakeRegistry struct {
	mu   sync.Mutex
	gets []string
	fail map[string]error
}

func (c *fakeRegistry) Search(ctx context.Context, term string) (registry.SearchPage, error) {
	return registry.SearchPage{}, nil
}

func (c *fakeRegistry) Get(ctx context.Context, id string) (registry.Package, error) {
	c.mu.Lock()
	c.gets = append(c.gets, id)
	err := c.fail[id]
	c.mu.Unlock()
	if err != nil {
		return registry.Package{}, err
	}
	return registry.Package{ID: id, Name: id, MaxVersion: "2.0.0"}, nil
}

func (c *fakeRegistry) recorded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.gets...)
}

func TestRefreshSweepUpdatesOutdated(t *testing.T) {
	client := &fakeRegistry{}
	b := broker.New(client, broker.Options{Debounce: 10 * time.Millisecond})
	defer b.Close()

	store := NewStore()
	store.Follow(Followed{ID: "stale", RefreshedAt: time.Now().Add(-2 * time.Hour)})
	store.Follow(Followed{ID: "fresh", RefreshedAt: time.Now()})

	job := NewRefreshOutdatedJob(store, b, time.Hour, logx.Nop())
	action, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if action != jobs.Continue {
		t.Fatalf("want Continue, got %v", action)
	}

	gets := client.recorded()
	if len(gets) != 1 || gets[0] != "stale" {
		t.Fatalf("want one refresh for the stale entry, got %v", gets)
	}
	f, _ := store.Get("stale")
	if f.MaxVersion != "2.0.0" {
		t.Fatalf("stale entry not updated: %+v", f)
	}
}

func TestRefreshSweepSkipsFailures(t *testing.T) {
	client := &fakeRegistry{fail: map[string]error{"broken": errors.New("502")}}
	b := broker.New(client, broker.Options{Debounce: 10 * time.Millisecond})
	defer b.Close()

	store := NewStore()
	old := time.Now().Add(-2 * time.Hour)
	store.Follow(Followed{ID: "broken", RefreshedAt: old})
	store.Follow(Followed{ID: "fine", RefreshedAt: old.Add(time.Minute)})

	job := NewRefreshOutdatedJob(store, b, time.Hour, logx.Nop())
	action, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if action != jobs.Continue {
		t.Fatalf("want Continue, got %v", action)
	}

	// Both were attempted, oldest first; only the healthy one got updated.
	gets := client.recorded()
	if len(gets) != 2 || gets[0] != "broken" || gets[1] != "fine" {
		t.Fatalf("want both attempted in staleness order, got %v", gets)
	}
	if f, _ := store.Get("broken"); !f.RefreshedAt.Equal(old) {
		t.Fatalf("failed refresh must not stamp the entry: %+v", f)
	}
	if f, _ := store.Get("fine"); f.MaxVersion != "2.0.0" {
		t.Fatalf("healthy entry not updated: %+v", f)
	}
}
