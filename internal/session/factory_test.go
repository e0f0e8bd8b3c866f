package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/gaspardpetit/skybridge/internal/upstream"
)

// echoServer answers getProfile with the bearer token it received as the
// handle, and rejects the token "BAD" as expired.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if tok == "BAD" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"ExpiredToken","message":"Token has expired"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"did":"` + r.URL.Query().Get("actor") + `","handle":"` + tok + `"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

type phaseLog struct {
	mu     sync.Mutex
	phases map[string][]Phase
}

func (l *phaseLog) observe(cid string, p Phase) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.phases == nil {
		l.phases = map[string][]Phase{}
	}
	l.phases[cid] = append(l.phases[cid], p)
}

func (l *phaseLog) only(t *testing.T) []Phase {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.phases) != 1 {
		t.Fatalf("observed %d calls; want 1", len(l.phases))
	}
	for _, ps := range l.phases {
		return ps
	}
	return nil
}

func assertPhases(t *testing.T, got []Phase, want ...Phase) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("phases = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("phases = %v; want %v", got, want)
		}
	}
}

func newTestFactory(t *testing.T, host string) (*Factory, *Registry, *phaseLog) {
	reg := NewRegistry()
	log := &phaseLog{}
	return NewFactory(host, WithRegistry(reg), WithObserver(log.observe)), reg, log
}

func userA() SessionData { return SessionData{AccountID: "did:plc:a", Handle: "a.test", AccessToken: "A1", RefreshToken: "RA"} }
func userB() SessionData { return SessionData{AccountID: "did:plc:b", Handle: "b.test", AccessToken: "A2", RefreshToken: "RB"} }

func TestConcurrentSessionsSeeOnlyTheirOwnToken(t *testing.T) {
	srv := echoServer(t)
	f, reg, _ := newTestFactory(t, srv.URL)

	// Both operations wait until the other is registered, so they are
	// guaranteed to overlap.
	var ready sync.WaitGroup
	ready.Add(2)
	run := func(data SessionData) func() ([]string, error) {
		return func() ([]string, error) {
			return WithUserSession(context.Background(), f, data, func(ctx context.Context, c *upstream.Client) ([]string, error) {
				ready.Done()
				ready.Wait()
				if n := reg.Len(); n != 2 {
					t.Errorf("registry has %d entries while both calls run; want 2", n)
				}
				var seen []string
				for i := 0; i < 5; i++ {
					p, err := c.GetProfile(ctx, data.AccountID)
					if err != nil {
						return nil, err
					}
					seen = append(seen, p.Handle)
				}
				return seen, nil
			})
		}
	}

	var g errgroup.Group
	var seenA, seenB []string
	g.Go(func() (err error) { seenA, err = run(userA())(); return })
	g.Go(func() (err error) { seenB, err = run(userB())(); return })
	if err := g.Wait(); err != nil {
		t.Fatalf("WithUserSession: %v", err)
	}
	for _, tok := range seenA {
		if tok != "A1" {
			t.Fatalf("call for A observed token %q", tok)
		}
	}
	for _, tok := range seenB {
		if tok != "A2" {
			t.Fatalf("call for B observed token %q", tok)
		}
	}
	if reg.Len() != 0 {
		t.Fatalf("registry has %d entries after both calls; want 0", reg.Len())
	}
}

func TestFaultInOneHolderDoesNotLeak(t *testing.T) {
	srv := echoServer(t)
	f, reg, _ := newTestFactory(t, srv.URL)

	poisoned := make(chan struct{})
	var g errgroup.Group
	var errA error
	var handleB string
	g.Go(func() error {
		_, errA = WithUserSession(context.Background(), f, userA(), func(ctx context.Context, c *upstream.Client) (struct{}, error) {
			s, err := c.Session()
			if err != nil {
				return struct{}{}, err
			}
			s.Credentials.UpdateTokens("BAD", "")
			close(poisoned)
			_, err = c.GetProfile(ctx, "did:plc:a")
			return struct{}{}, err
		})
		return nil
	})
	g.Go(func() error {
		p, err := WithUserSession(context.Background(), f, userB(), func(ctx context.Context, c *upstream.Client) (*upstream.Profile, error) {
			<-poisoned
			return c.GetProfile(ctx, "did:plc:b")
		})
		if err != nil {
			return err
		}
		handleB = p.Handle
		return nil
	})
	if err := g.Wait(); err != nil {
		t.Fatalf("call for B failed: %v", err)
	}
	if !errors.Is(errA, upstream.ErrCredentialExpired) {
		t.Fatalf("call for A err = %v; want ErrCredentialExpired", errA)
	}
	if handleB != "A2" {
		t.Fatalf("call for B used token %q; want A2", handleB)
	}
	if reg.Len() != 0 {
		t.Fatalf("registry not empty: %d", reg.Len())
	}
}

func TestFailingOperationIsDeregistered(t *testing.T) {
	f, reg, log := newTestFactory(t, "http://unused")
	boom := errors.New("boom")
	_, err := WithUserSession(context.Background(), f, userA(), func(ctx context.Context, c *upstream.Client) (int, error) {
		if reg.Len() != 1 {
			t.Errorf("entry not registered during operation")
		}
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v; want boom", err)
	}
	if reg.Len() != 0 {
		t.Fatalf("registry has %d entries after failure; want 0", reg.Len())
	}
	assertPhases(t, log.only(t), PhaseCreated, PhaseRegistered, PhaseExecuting, PhaseFailed, PhaseDeregistered)
}

func TestSucceedingOperationPhases(t *testing.T) {
	f, reg, log := newTestFactory(t, "http://unused")
	got, err := WithUserSession(context.Background(), f, userA(), func(ctx context.Context, c *upstream.Client) (string, error) {
		s, err := c.Session()
		if err != nil {
			return "", err
		}
		return s.AccountID, nil
	})
	if err != nil || got != "did:plc:a" {
		t.Fatalf("result = %q, %v", got, err)
	}
	if reg.Len() != 0 {
		t.Fatalf("registry not empty")
	}
	assertPhases(t, log.only(t), PhaseCreated, PhaseRegistered, PhaseExecuting, PhaseSucceeded, PhaseDeregistered)
}

func TestPanickingOperationIsDeregistered(t *testing.T) {
	f, reg, log := newTestFactory(t, "http://unused")
	func() {
		defer func() {
			if r := recover(); r != "kaboom" {
				t.Fatalf("recovered %v; want kaboom", r)
			}
		}()
		_, _ = WithUserSession(context.Background(), f, userA(), func(ctx context.Context, c *upstream.Client) (int, error) {
			panic("kaboom")
		})
	}()
	if reg.Len() != 0 {
		t.Fatalf("registry has %d entries after panic; want 0", reg.Len())
	}
	assertPhases(t, log.only(t), PhaseCreated, PhaseRegistered, PhaseExecuting, PhaseFailed, PhaseDeregistered)
}

func TestCancelledBeforeExecution(t *testing.T) {
	f, reg, log := newTestFactory(t, "http://unused")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	_, err := WithUserSession(ctx, f, userA(), func(ctx context.Context, c *upstream.Client) (int, error) {
		called = true
		return 1, nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("err = %v, called = %v; want context.Canceled without running", err, called)
	}
	if reg.Len() != 0 {
		t.Fatalf("registry not empty")
	}
	assertPhases(t, log.only(t), PhaseCreated, PhaseRegistered, PhaseCancelled, PhaseDeregistered)
}

func TestCancelledDuringUpstreamCall(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	f, reg, log := newTestFactory(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	_, err := WithUserSession(ctx, f, userA(), func(ctx context.Context, c *upstream.Client) (*upstream.Profile, error) {
		return c.GetProfile(ctx, "did:plc:a")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v; want context.Canceled", err)
	}
	if reg.Len() != 0 {
		t.Fatalf("registry not empty after cancellation")
	}
	assertPhases(t, log.only(t), PhaseCreated, PhaseRegistered, PhaseExecuting, PhaseCancelled, PhaseDeregistered)
}

func TestEscapedClientCannotResolveSession(t *testing.T) {
	f, _, _ := newTestFactory(t, "http://unused")
	c, err := WithUserSession(context.Background(), f, userA(), func(ctx context.Context, c *upstream.Client) (*upstream.Client, error) {
		return c, nil
	})
	if err != nil {
		t.Fatalf("WithUserSession: %v", err)
	}
	if _, err := c.Session(); !errors.Is(err, upstream.ErrNoSession) {
		t.Fatalf("escaped client resolved a session: %v", err)
	}
}

func TestManyConcurrentSessions(t *testing.T) {
	srv := echoServer(t)
	f, reg, _ := newTestFactory(t, srv.URL)
	users := []SessionData{userA(), userB()}
	var g errgroup.Group
	for i := 0; i < 50; i++ {
		u := users[i%2]
		g.Go(func() error {
			p, err := WithUserSession(context.Background(), f, u, func(ctx context.Context, c *upstream.Client) (*upstream.Profile, error) {
				return c.GetProfile(ctx, u.AccountID)
			})
			if err != nil {
				return err
			}
			if p.Handle != u.AccessToken {
				return errors.New("call for " + u.AccountID + " observed token " + p.Handle)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if reg.Len() != 0 {
		t.Fatalf("registry has %d leaked entries", reg.Len())
	}
}

func TestDuplicateCorrelationIDRejected(t *testing.T) {
	reg := NewRegistry()
	f := NewFactory("http://unused", WithRegistry(reg))
	f.newID = func() string { return "fixed" }
	release, err := reg.Register(Entry{CorrelationID: "fixed", Credentials: NewCredentialHolder(userB())})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	defer release()
	called := false
	_, err = WithUserSession(context.Background(), f, userA(), func(ctx context.Context, c *upstream.Client) (int, error) {
		called = true
		return 0, nil
	})
	if !errors.Is(err, ErrDuplicateRegistration) || called {
		t.Fatalf("err = %v, called = %v; want ErrDuplicateRegistration", err, called)
	}
	if reg.Len() != 1 {
		t.Fatalf("existing entry must survive a rejected registration")
	}
}
