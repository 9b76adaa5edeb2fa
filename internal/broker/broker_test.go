package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"regwatch/internal/registry"
)

// fakeClient records upstream calls in arrival order. Delays simulate
// slow upstream responses.
type fakeClient struct {
	mu    sync.Mutex
	calls []string // "search:<term>" / "get:<id>"
	delay time.Duration
	err   error
}

func (c *fakeClient) Search(ctx context.Context, term string) (registry.SearchPage, error) {
	c.record("search:" + term)
	if err := c.sleep(ctx); err != nil {
		return registry.SearchPage{}, err
	}
	if c.err != nil {
		return registry.SearchPage{}, c.err
	}
	return registry.SearchPage{Packages: []registry.Package{{ID: term}}, Total: 1}, nil
}

func (c *fakeClient) Get(ctx context.Context, id string) (registry.Package, error) {
	c.record("get:" + id)
	if err := c.sleep(ctx); err != nil {
		return registry.Package{}, err
	}
	if c.err != nil {
		return registry.Package{}, c.err
	}
	return registry.Package{ID: id}, nil
}

func (c *fakeClient) record(call string) {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	c.mu.Unlock()
}

func (c *fakeClient) sleep(ctx context.Context) error {
	if c.delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.delay):
		return nil
	}
}

func (c *fakeClient) recorded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func TestSearchDebounceLastWins(t *testing.T) {
	client := &fakeClient{}
	b := New(client, Options{Debounce: 100 * time.Millisecond})
	defer b.Close()

	type result struct {
		page registry.SearchPage
		err  error
	}
	results := make([]chan result, 3)
	for i, term := range []string{"a", "ab", "abc"} {
		ch := make(chan result, 1)
		results[i] = ch
		go func(term string) {
			page, err := b.Search(context.Background(), term)
			ch <- result{page, err}
		}(term)
		// Well inside the debounce window, so each call supersedes the
		// previous one.
		time.Sleep(25 * time.Millisecond)
	}

	for i, ch := range results {
		select {
		case res := <-ch:
			if i < 2 {
				if !errors.Is(res.err, ErrReplyLost) {
					t.Fatalf("superseded search %d: want ErrReplyLost, got %v", i, res.err)
				}
			} else {
				if res.err != nil {
					t.Fatalf("final search: unexpected error: %v", res.err)
				}
				if len(res.page.Packages) != 1 || res.page.Packages[0].ID != "abc" {
					t.Fatalf("final search: unexpected page: %+v", res.page)
				}
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("search %d did not settle", i)
		}
	}

	calls := client.recorded()
	if len(calls) != 1 || calls[0] != "search:abc" {
		t.Fatalf("want exactly one upstream call for the settled term, got %v", calls)
	}
}

func TestCancelSearchBeforeDebounce(t *testing.T) {
	client := &fakeClient{}
	b := New(client, Options{Debounce: 120 * time.Millisecond})
	defer b.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Search(context.Background(), "doomed")
		errCh <- err
	}()
	time.Sleep(30 * time.Millisecond)

	if err := b.CancelSearch(context.Background()); err != nil {
		t.Fatalf("CancelSearch: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrReplyLost) {
			t.Fatalf("want ErrReplyLost for cancelled search, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled search did not settle")
	}

	// Past the debounce window: the cancel must have prevented dispatch.
	time.Sleep(200 * time.Millisecond)
	if calls := client.recorded(); len(calls) != 0 {
		t.Fatalf("want zero upstream calls after cancel, got %v", calls)
	}
}

func TestRefreshQueuesFIFOBehindSearch(t *testing.T) {
	client := &fakeClient{delay: 120 * time.Millisecond}
	b := New(client, Options{Debounce: 10 * time.Millisecond})
	defer b.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := b.Search(context.Background(), "x"); err != nil {
			t.Errorf("search: %v", err)
		}
	}()
	// Let the search pass its debounce and hit the (slow) upstream.
	time.Sleep(50 * time.Millisecond)

	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			pkg, err := b.Refresh(context.Background(), id)
			if err != nil {
				t.Errorf("refresh %s: %v", id, err)
				return
			}
			if pkg.ID != id {
				t.Errorf("refresh %s: got package %q", id, pkg.ID)
			}
		}(id)
		// Sequence the two refreshes so FIFO order is observable.
		time.Sleep(20 * time.Millisecond)
	}

	wg.Wait()

	want := []string{"search:x", "get:a", "get:b"}
	got := client.recorded()
	if len(got) != len(want) {
		t.Fatalf("want calls %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("want calls %v, got %v", want, got)
		}
	}
}

func TestAbandonedCallerDoesNotStickTheBroker(t *testing.T) {
	client := &fakeClient{}
	b := New(client, Options{Debounce: 80 * time.Millisecond})
	defer b.Close()

	// Caller gives up while its search is still debouncing; the reply
	// has nowhere to go and must be silently dropped.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := b.Search(ctx, "abandoned"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want DeadlineExceeded, got %v", err)
	}

	// An unrelated command is still served correctly.
	pkg, err := b.Refresh(context.Background(), "alive")
	if err != nil {
		t.Fatalf("refresh after abandoned search: %v", err)
	}
	if pkg.ID != "alive" {
		t.Fatalf("unexpected package: %+v", pkg)
	}
}

func TestUpstreamErrorForwardedVerbatim(t *testing.T) {
	upstreamErr := errors.New("upstream said no")
	client := &fakeClient{err: upstreamErr}
	b := New(client, Options{Debounce: 10 * time.Millisecond})
	defer b.Close()

	if _, err := b.Search(context.Background(), "x"); !errors.Is(err, upstreamErr) {
		t.Fatalf("want upstream error forwarded, got %v", err)
	}

	// The broker survives the failure and keeps serving.
	client.err = nil
	if _, err := b.Refresh(context.Background(), "y"); err != nil {
		t.Fatalf("refresh after upstream error: %v", err)
	}
}

func TestEmptySearchTermStillDispatched(t *testing.T) {
	client := &fakeClient{}
	b := New(client, Options{Debounce: 10 * time.Millisecond})
	defer b.Close()

	if _, err := b.Search(context.Background(), ""); err != nil {
		t.Fatalf("empty-term search: %v", err)
	}
	calls := client.recorded()
	if len(calls) != 1 || calls[0] != "search:" {
		t.Fatalf("want one upstream call for empty term, got %v", calls)
	}
}

func TestCloseDrainsQueuedRefreshes(t *testing.T) {
	client := &fakeClient{delay: 60 * time.Millisecond}
	b := New(client, Options{Debounce: 10 * time.Millisecond})

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := b.Refresh(context.Background(), id); err != nil {
				t.Errorf("refresh %s: %v", id, err)
			}
		}(id)
		time.Sleep(20 * time.Millisecond)
	}
	// "a" is in flight, "b" is queued. Close must let both finish.
	b.Close()

	wg.Wait()

	select {
	case <-b.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("broker task did not drain after Close")
	}

	if err := func() error {
		_, err := b.Refresh(context.Background(), "late")
		return err
	}(); !errors.Is(err, ErrSendFailed) {
		t.Fatalf("want ErrSendFailed after Close, got %v", err)
	}
}
