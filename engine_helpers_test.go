package credflow

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/credflow/internal/audit"
	"github.com/MrEthical07/credflow/notify"
	"github.com/MrEthical07/credflow/userstore"
	"github.com/MrEthical07/credflow/userstore/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testPepper = "unit-test-pepper"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password.Pepper = testPepper
	cfg.Tokens.AccessSecret = []byte("access-secret-access-secret-0001")
	cfg.Tokens.RefreshSecret = []byte("refresh-secret-refresh-secret-02")
	cfg.Tokens.SignupSecret = []byte("signup-secret-signup-secret-0003")
	cfg.Tokens.ResetSecret = []byte("reset-secret-reset-secret-000004")
	cfg.Reset.DebugEcho = true
	cfg.Outbox.DropIfFull = false
	cfg.Audit.DropIfFull = false
	return cfg
}

type testEnv struct {
	engine *Engine
	users  *memory.Store
	mail   *notify.Recorder
	audit  *audit.ChannelSink
	clock  *fakeClock
	mr     *miniredis.Miniredis
	rdb    *redis.Client
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	mr, rdb := newTestRedis(t)
	env := &testEnv{
		users: memory.New(),
		mail:  notify.NewRecorder(64),
		audit: audit.NewChannelSink(256),
		clock: newFakeClock(),
		mr:    mr,
		rdb:   rdb,
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(env.users).
		WithNotifier(env.mail).
		WithAuditSink(env.audit).
		WithClock(env.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	env.engine = engine
	return env
}

func (env *testEnv) seedUser(t *testing.T, email, pw string) userstore.Credential {
	t.Helper()

	hash, err := env.engine.hasher.Hash(pw)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	user, err := env.users.Create(context.Background(), userstore.Credential{
		Email:         email,
		PasswordHash:  hash,
		RoleID:        "member",
		PermissionIDs: []string{"profile:read"},
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

// nextMail returns the next notification with the given template, skipping
// any others.
func (env *testEnv) nextMail(t *testing.T, template string) notify.Message {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("no %q notification received", template)
		}
		msg, ok := env.mail.Next(remaining)
		if !ok {
			t.Fatalf("no %q notification received", template)
		}
		if msg.Template == template {
			return msg
		}
	}
}

func (env *testEnv) nextAudit(t *testing.T, eventType string) audit.Event {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case event := <-env.audit.Events():
			if event.EventType == eventType {
				return event
			}
		case <-timeout:
			t.Fatalf("no %q audit event received", eventType)
		}
	}
}

func (env *testEnv) hasRefreshSession(userID string) bool {
	return env.mr.Exists(env.engine.sessions.RefreshKey(userID))
}

func tamperSignature(token string) string {
	parts := strings.Split(token, ".")
	parts[2] = strings.Repeat("A", len(parts[2]))
	return strings.Join(parts, ".")
}

func assertKind(t *testing.T, err error, want Kind) {
	t.Helper()
	if got := KindOf(err); got != want {
		t.Fatalf("expected kind %s, got %s (err=%v)", want, got, err)
	}
}
