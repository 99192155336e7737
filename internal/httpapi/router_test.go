package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrEthical07/credflow"
	"github.com/MrEthical07/credflow/notify"
	"github.com/MrEthical07/credflow/userstore/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

const testAdminToken = "admin-token"

type apiEnv struct {
	server *httptest.Server
	client *http.Client
	mail   *notify.Recorder
}

func newAPIEnv(t *testing.T) *apiEnv {
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

	cfg := credflow.DefaultConfig()
	cfg.Tokens.AccessSecret = []byte("access-secret-access-secret-0001")
	cfg.Tokens.RefreshSecret = []byte("refresh-secret-refresh-secret-02")
	cfg.Tokens.SignupSecret = []byte("signup-secret-signup-secret-0003")
	cfg.Tokens.ResetSecret = []byte("reset-secret-reset-secret-000004")
	cfg.Reset.DebugEcho = true
	cfg.Outbox.DropIfFull = false

	reg := prometheus.NewRegistry()
	mail := notify.NewRecorder(32)
	engine, err := credflow.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(memory.New()).
		WithNotifier(mail).
		WithMetricsRegisterer(reg).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	server := httptest.NewServer(NewRouter(Options{
		Engine:     engine,
		Gatherer:   reg,
		AdminToken: testAdminToken,
		RefreshTTL: cfg.Tokens.RefreshTTL,
	}))
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &apiEnv{
		server: server,
		client: &http.Client{Jar: jar, Timeout: 5 * time.Second},
		mail:   mail,
	}
}

func (env *apiEnv) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, env.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := env.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, out
}

func (env *apiEnv) expect(t *testing.T, method, path string, body any, headers map[string]string, status int) []byte {
	t.Helper()
	resp, out := env.do(t, method, path, body, headers)
	if resp.StatusCode != status {
		t.Fatalf("%s %s: expected %d, got %d (%s)", method, path, status, resp.StatusCode, out)
	}
	return out
}

func (env *apiEnv) signup(t *testing.T, email, pw string) {
	t.Helper()
	env.expect(t, http.MethodPost, "/auth/signup", map[string]string{"email": email, "password": pw}, nil, http.StatusAccepted)

	deadline := time.Now().Add(2 * time.Second)
	for {
		msg, ok := env.mail.Next(time.Until(deadline))
		if !ok {
			t.Fatal("no signup mail")
		}
		if msg.Template == notify.TemplateSignupVerify && msg.To == email {
			env.expect(t, http.MethodGet, "/auth/signup/verify?token="+msg.Context["token"], nil, nil, http.StatusCreated)
			return
		}
	}
}

func (env *apiEnv) signin(t *testing.T, email, pw string) string {
	t.Helper()
	out := env.expect(t, http.MethodPost, "/auth/signin", map[string]string{"email": email, "password": pw}, nil, http.StatusOK)
	var resp accessResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("decode signin: %v", err)
	}
	if resp.AccessToken == "" || resp.TokenType != "Bearer" {
		t.Fatalf("unexpected signin response %s", out)
	}
	return resp.AccessToken
}

func decodeError(t *testing.T, out []byte) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, out)
	}
	return resp
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	env := newAPIEnv(t)
	env.signup(t, "u@x.com", "Secret123!")
	access := env.signin(t, "u@x.com", "Secret123!")

	out := env.expect(t, http.MethodGet, "/auth/me", nil, bearer(access), http.StatusOK)
	var me meResponse
	if err := json.Unmarshal(out, &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.Email != "u@x.com" || me.UserID == "" {
		t.Fatalf("unexpected me response %+v", me)
	}

	env.expect(t, http.MethodPost, "/auth/refresh", nil, nil, http.StatusOK)

	env.expect(t, http.MethodPost, "/auth/password/change",
		map[string]string{"old_password": "Secret123!", "new_password": "NewSecret456!"},
		bearer(access), http.StatusNoContent)

	out = env.expect(t, http.MethodPost, "/auth/refresh", nil, nil, http.StatusForbidden)
	if code := decodeError(t, out).Code; code != "forbidden" {
		t.Fatalf("expected forbidden code, got %q", code)
	}

	env.signin(t, "u@x.com", "NewSecret456!")
	env.expect(t, http.MethodPost, "/auth/signout", nil, nil, http.StatusNoContent)
	env.expect(t, http.MethodPost, "/auth/refresh", nil, nil, http.StatusUnauthorized)

	out = env.expect(t, http.MethodPost, "/auth/signout", nil, nil, http.StatusBadRequest)
	if code := decodeError(t, out).Code; code != "bad_request" {
		t.Fatalf("expected bad_request code, got %q", code)
	}
}

func TestErrorStatusesOverHTTP(t *testing.T) {
	env := newAPIEnv(t)
	env.signup(t, "u@x.com", "Secret123!")

	out := env.expect(t, http.MethodPost, "/auth/signin", map[string]string{"email": "u@x.com", "password": "Wrong123!"}, nil, http.StatusForbidden)
	if code := decodeError(t, out).Code; code != "forbidden" {
		t.Fatalf("expected forbidden, got %q", code)
	}
	env.expect(t, http.MethodPost, "/auth/signin", map[string]string{"email": "nobody@x.com", "password": "Wrong123!"}, nil, http.StatusNotFound)
	env.expect(t, http.MethodPost, "/auth/signup", map[string]string{"email": "u@x.com", "password": "Secret123!"}, nil, http.StatusConflict)
	env.expect(t, http.MethodPost, "/auth/signup", map[string]string{"email": "bad", "password": "Secret123!"}, nil, http.StatusBadRequest)
	env.expect(t, http.MethodPost, "/auth/signin", map[string]string{"unknown": "field"}, nil, http.StatusBadRequest)
	env.expect(t, http.MethodGet, "/auth/signup/verify?token=garbage", nil, nil, http.StatusUnauthorized)
	env.expect(t, http.MethodGet, "/auth/me", nil, nil, http.StatusUnauthorized)
}

func TestPasswordResetOverHTTP(t *testing.T) {
	env := newAPIEnv(t)
	env.signup(t, "u@x.com", "Secret123!")

	out := env.expect(t, http.MethodPost, "/auth/password/forgot", map[string]string{"email": "u@x.com"}, nil, http.StatusAccepted)
	var challenge resetChallengeResponse
	if err := json.Unmarshal(out, &challenge); err != nil {
		t.Fatalf("decode challenge: %v", err)
	}
	if challenge.OTP == "" || challenge.ResetToken == "" {
		t.Fatalf("expected debug echo, got %s", out)
	}

	env.expect(t, http.MethodPost, "/auth/password/verify-otp",
		map[string]string{"otp": challenge.OTP, "reset_token": challenge.ResetToken}, nil, http.StatusOK)
	env.expect(t, http.MethodPost, "/auth/password/reset",
		map[string]string{"email": "u@x.com", "password": "NewSecret456!", "reset_token": challenge.ResetToken},
		nil, http.StatusNoContent)
	env.expect(t, http.MethodPost, "/auth/password/reset",
		map[string]string{"email": "u@x.com", "password": "NewSecret456!", "reset_token": challenge.ResetToken},
		nil, http.StatusForbidden)

	env.signin(t, "u@x.com", "NewSecret456!")
}

func TestAdminRoutes(t *testing.T) {
	env := newAPIEnv(t)
	env.signup(t, "u@x.com", "Secret123!")
	env.signin(t, "u@x.com", "Secret123!")

	body := map[string][]string{"emails": {"u@x.com", "ghost@x.com"}}
	env.expect(t, http.MethodPost, "/admin/blacklist", body, nil, http.StatusUnauthorized)

	admin := map[string]string{"X-Admin-Token": testAdminToken}
	out := env.expect(t, http.MethodPost, "/admin/blacklist", body, admin, http.StatusNotFound)
	if resp := decodeError(t, out); len(resp.Emails) != 1 || resp.Emails[0] != "ghost@x.com" {
		t.Fatalf("expected unresolved ghost@x.com, got %+v", resp)
	}
	env.expect(t, http.MethodPost, "/auth/refresh", nil, nil, http.StatusOK)

	env.expect(t, http.MethodPost, "/admin/blacklist", map[string][]string{"emails": {"u@x.com"}}, admin, http.StatusNoContent)
	env.expect(t, http.MethodPost, "/auth/refresh", nil, nil, http.StatusForbidden)

	env.expect(t, http.MethodPost, "/admin/blacklist/all", nil, admin, http.StatusNoContent)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newAPIEnv(t)
	env.expect(t, http.MethodGet, "/healthz", nil, nil, http.StatusOK)

	env.expect(t, http.MethodPost, "/auth/signin", map[string]string{"email": "nobody@x.com", "password": "Wrong123!"}, nil, http.StatusNotFound)
	out := env.expect(t, http.MethodGet, "/metrics", nil, nil, http.StatusOK)
	if !bytes.Contains(out, []byte(`credflow_flow_total{flow="signin",outcome="not_found"} 1`)) {
		t.Fatalf("flow counter missing from metrics output:\n%s", out)
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{credflow.ErrUserNotFound, http.StatusNotFound},
		{credflow.ErrAccountExists, http.StatusConflict},
		{credflow.ErrUnauthorized, http.StatusUnauthorized},
		{credflow.ErrInvalidOTP, http.StatusForbidden},
		{credflow.ErrTokenInvalid, http.StatusUnauthorized},
		{credflow.ErrTokenExpired, http.StatusUnauthorized},
		{credflow.ErrBadRequest, http.StatusBadRequest},
		{credflow.ErrStoreUnavailable, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusOf(tt.err); got != tt.want {
			t.Errorf("StatusOf(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
