package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"paperscape/internal/config"
	"paperscape/internal/model"
	"paperscape/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

type memUsers struct {
	mu      sync.Mutex
	byID    map[string]*model.User
	pingErr error
}

func newMemUsers() *memUsers {
	return &memUsers{byID: make(map[string]*model.User)}
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == store.NormalizeEmail(email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memUsers) FindByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (m *memUsers) Create(_ context.Context, nu store.NewUser) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email := store.NormalizeEmail(nu.Email)
	for _, u := range m.byID {
		if u.Email == email {
			return nil, store.ErrDuplicate
		}
	}
	u := &model.User{
		ID:        uuid.NewString(),
		Email:     email,
		Role:      nu.Role,
		Active:    nu.Active,
		Origin:    nu.Origin,
		CreatedAt: time.Now(),
	}
	if nu.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(nu.Password), bcrypt.MinCost)
		if err != nil {
			return nil, err
		}
		u.PasswordHash = string(hash)
	}
	if nu.ActivationCode != "" {
		code := nu.ActivationCode
		u.ActivationCode = &code
	}
	m.byID[u.ID] = u
	cp := *u
	return &cp, nil
}

func (m *memUsers) ActivateByCode(_ context.Context, code string, _ time.Time) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.ActivationCode != nil && *u.ActivationCode == code && !u.Active {
			u.Active = true
			u.ActivationCode = nil
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memUsers) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	return nil
}

func (m *memUsers) Promote(_ context.Context, id string, role model.Role) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	u.Role = role
	u.Active = true
	u.ActivationCode = nil
	cp := *u
	return &cp, nil
}

func (m *memUsers) List(_ context.Context, limit, offset int) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.User, 0, len(m.byID))
	for _, u := range m.byID {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	if offset >= len(out) {
		return []model.User{}, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *memUsers) Ping(context.Context) error { return m.pingErr }

type captureMailer struct {
	mu    sync.Mutex
	links map[string]string
}

func (m *captureMailer) SendActivationLink(_ context.Context, to, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.links == nil {
		m.links = make(map[string]string)
	}
	m.links[to] = link
	return nil
}

type testEnv struct {
	srv    *Server
	users  *memUsers
	mailer *captureMailer
	redis  *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &config.Config{
		App: config.AppConfig{
			Env:         "test",
			PublicURL:   "https://api.paperscape.test",
			FrontendURL: "https://paperscape.test",
			RateLimit:   100,
			RateBurst:   100,
		},
		Security: config.SecurityConfig{
			JWTSecret:     "test-secret",
			JWTTTL:        time.Hour,
			CookieTTL:     time.Hour,
			AdminEmail:    "Admin@Paperscape.test",
			AdminPassword: "admin-password",
		},
	}
	env := &testEnv{users: newMemUsers(), mailer: &captureMailer{}, redis: mr}
	env.srv, err = NewServer(cfg, nil, Deps{Users: env.users, Redis: rdb, Mailer: env.mailer})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(w, req)
	return w
}

func (e *testEnv) login(t *testing.T, email, password string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/users/login", `{"email":"`+email+`","password":"`+password+`"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d: %s", email, w.Code, w.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body["token"]
}

func (e *testEnv) signupAndActivate(t *testing.T, email, password string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/users/login", `{"email":"`+email+`","password":"`+password+`"}`, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("signup: expected 401, got %d: %s", w.Code, w.Body.String())
	}
	link := e.mailer.links[email]
	path := strings.TrimPrefix(link, "https://api.paperscape.test")
	if !strings.HasPrefix(path, "/api/v1/users/activate/") {
		t.Fatalf("unexpected activation link %q", link)
	}
	w = e.do(t, http.MethodGet, path, "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("activate: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	return e.login(t, email, password)
}

func TestServer_RootAndNotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/", "", "")
	if w.Code != http.StatusOK || w.Body.String() != "API Working" {
		t.Fatalf("unexpected root response %d %q", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("expected security headers")
	}

	w = env.do(t, http.MethodGet, "/api/v1/features", "", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Can't find /api/v1/features on this server!") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestServer_Healthz(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, http.MethodGet, "/healthz", "", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	env.redis.SetError("LOADING")
	if w := env.do(t, http.MethodGet, "/healthz", "", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when redis fails, got %d", w.Code)
	}
}

func TestServer_LocalFlow(t *testing.T) {
	env := newTestEnv(t)
	tok := env.signupAndActivate(t, "reader@example.com", "secret123")

	w := env.do(t, http.MethodGet, "/api/v1/users/logged-in", "", tok)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Welcome to Paperscape!") {
		t.Fatalf("logged-in: %d %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/api/v1/users/me", "", tok)
	if w.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "password") || strings.Contains(w.Body.String(), "$2a$") {
		t.Fatalf("password hash leaked: %s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "reader@example.com") {
		t.Fatalf("unexpected me body: %s", w.Body.String())
	}

	// 普通用户无权访问管理接口
	if w := env.do(t, http.MethodGet, "/api/v1/users", "", tok); w.Code != http.StatusForbidden {
		t.Fatalf("list users: expected 403, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/metrics", "", tok); w.Code != http.StatusForbidden {
		t.Fatalf("metrics: expected 403, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/metrics", "", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("metrics anonymous: expected 401, got %d", w.Code)
	}
}

func TestServer_AdminListsUsers(t *testing.T) {
	env := newTestEnv(t)
	if err := env.srv.SeedAdmin(context.Background()); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	// 重复执行保持幂等
	if err := env.srv.SeedAdmin(context.Background()); err != nil {
		t.Fatalf("seed admin again: %v", err)
	}
	env.signupAndActivate(t, "reader@example.com", "secret123")

	adminTok := env.login(t, "admin@paperscape.test", "admin-password")
	w := env.do(t, http.MethodGet, "/api/v1/users?limit=1&offset=1", "", adminTok)
	if w.Code != http.StatusOK {
		t.Fatalf("list users: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Status  string       `json:"status"`
		Results int          `json:"results"`
		Users   []model.User `json:"users"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Results != 1 || len(body.Users) != 1 || body.Users[0].Email != "reader@example.com" {
		t.Fatalf("unexpected page: %+v", body)
	}

	if w := env.do(t, http.MethodGet, "/metrics", "", adminTok); w.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200 for admin, got %d", w.Code)
	}
}

func TestServer_SeedAdminPromotesExisting(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.users.Create(context.Background(), store.NewUser{
		Email: "admin@paperscape.test", Password: "whatever1", Role: model.RoleUser, Origin: model.OriginLocal,
		ActivationCode: "pending",
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := env.srv.SeedAdmin(context.Background()); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	u, _ := env.users.FindByEmail(context.Background(), "admin@paperscape.test")
	if u.Role != model.RoleAdmin || !u.Active || u.ActivationCode != nil {
		t.Fatalf("expected promoted admin, got %+v", u)
	}
}

func TestServer_DeleteAccount(t *testing.T) {
	env := newTestEnv(t)
	tok := env.signupAndActivate(t, "leaver@example.com", "secret123")

	w := env.do(t, http.MethodDelete, "/api/v1/users/me", "", tok)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", w.Code)
	}
	if _, err := env.users.FindByEmail(context.Background(), "leaver@example.com"); err != store.ErrNotFound {
		t.Fatalf("expected account to be gone, got %v", err)
	}

	w = env.do(t, http.MethodGet, "/api/v1/users/logged-in", "", tok)
	if w.Code != http.StatusUnauthorized || !strings.Contains(w.Body.String(), "no longer exists") {
		t.Fatalf("expected stale token rejection, got %d %s", w.Code, w.Body.String())
	}
}

func TestParseLimitOffset(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", 50, 0},
		{"limit=10&offset=20", 10, 20},
		{"limit=0&offset=-1", 50, 0},
		{"limit=500", 50, 0},
		{"limit=abc&offset=xyz", 50, 0},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/users?"+tt.query, nil)
		limit, offset := parseLimitOffset(c, defaultListLimit)
		if limit != tt.wantLimit || offset != tt.wantOffset {
			t.Fatalf("%q: expected %d/%d, got %d/%d", tt.query, tt.wantLimit, tt.wantOffset, limit, offset)
		}
	}
}

func TestNewServer_RequiresSecret(t *testing.T) {
	_, err := NewServer(&config.Config{}, nil, Deps{Users: newMemUsers()})
	if err == nil {
		t.Fatalf("expected error without jwt secret")
	}
}

func TestNewServer_RejectsDevSecretInProduction(t *testing.T) {
	cfg := &config.Config{}
	cfg.App.Env = "production"
	cfg.Security.JWTSecret = config.DevJWTSecret
	if _, err := NewServer(cfg, nil, Deps{Users: newMemUsers()}); err == nil {
		t.Fatalf("expected error for default jwt secret in production")
	}

	cfg.App.Env = "development"
	srv, err := NewServer(cfg, nil, Deps{Users: newMemUsers()})
	if err != nil {
		t.Fatalf("dev secret should be accepted outside production: %v", err)
	}
	srv.Close()
}
