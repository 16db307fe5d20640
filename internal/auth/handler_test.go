package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/polly-app/backend/internal/auth"
	"github.com/polly-app/backend/internal/middleware"
	"github.com/polly-app/backend/internal/models"
)

type memUsers struct {
	mu    sync.Mutex
	users map[uuid.UUID]*models.User
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[uuid.UUID]*models.User)}
}

func (m *memUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, strings.TrimSpace(email)) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrUserNotFound
}

func (m *memUsers) Create(_ context.Context, email, hash, name string, role models.Role) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range m.users {
		if u.Email == email {
			return nil, auth.ErrEmailTaken
		}
	}
	now := time.Now().UTC()
	u := &models.User{ID: uuid.New(), Email: email, Password: hash, Name: name, Role: role, CreatedAt: now, UpdatedAt: now}
	m.users[u.ID] = u
	cp := *u
	return &cp, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func newRouter(t *testing.T) (*gin.Engine, *auth.JWTService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	jwtService := auth.NewJWTService("test-secret", 1)
	h := auth.NewHandler(newMemUsers(), jwtService, []string{" Boss@Example.com "}, zap.NewNop())
	r := gin.New()
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.GET("/auth/me", middleware.JWT(jwtService), h.Me(middleware.ContextUserID))
	return r, jwtService
}

func call(t *testing.T, r *gin.Engine, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w.Code, env
}

func TestRegisterAndLogin(t *testing.T) {
	r, jwtService := newRouter(t)

	code, env := call(t, r, http.MethodPost, "/auth/register", "", map[string]string{
		"name": "Ada", "email": "ada@example.com", "password": "secret1",
	})
	require.Equal(t, http.StatusCreated, code, env.Error)
	var reg auth.TokenResponse
	require.NoError(t, json.Unmarshal(env.Data, &reg))
	assert.Equal(t, models.RoleMember, reg.User.Role)
	claims, err := jwtService.Validate(reg.Token)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, claims.UserID)

	code, env = call(t, r, http.MethodPost, "/auth/register", "", map[string]string{
		"name": "Ada", "email": "ADA@example.com", "password": "secret1",
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "email already registered", env.Error)

	code, env = call(t, r, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "ada@example.com", "password": "secret1",
	})
	require.Equal(t, http.StatusOK, code, env.Error)
	var login auth.TokenResponse
	require.NoError(t, json.Unmarshal(env.Data, &login))
	assert.Equal(t, reg.User.ID, login.User.ID)

	code, _ = call(t, r, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "ada@example.com", "password": "wrong-one",
	})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = call(t, r, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "nobody@example.com", "password": "secret1",
	})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env = call(t, r, http.MethodGet, "/auth/me", login.Token, nil)
	require.Equal(t, http.StatusOK, code)
	var me models.UserPublic
	require.NoError(t, json.Unmarshal(env.Data, &me))
	assert.Equal(t, "Ada", me.Name)
}

func TestRegisterValidation(t *testing.T) {
	r, _ := newRouter(t)

	code, _ := call(t, r, http.MethodPost, "/auth/register", "", map[string]string{
		"name": "Ada", "email": "ada@example.com", "password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = call(t, r, http.MethodPost, "/auth/register", "", map[string]string{
		"name": "Ada", "email": "not-an-email", "password": "secret1",
	})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env := call(t, r, http.MethodPost, "/auth/register", "", map[string]string{
		"name": "  ", "email": "ada@example.com", "password": "secret1",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "name is required", env.Error)
}

func TestRegisterAdminEmail(t *testing.T) {
	r, _ := newRouter(t)
	code, env := call(t, r, http.MethodPost, "/auth/register", "", map[string]string{
		"name": "Boss", "email": "boss@example.com", "password": "secret1",
	})
	require.Equal(t, http.StatusCreated, code, env.Error)
	var reg auth.TokenResponse
	require.NoError(t, json.Unmarshal(env.Data, &reg))
	assert.Equal(t, models.RoleAdmin, reg.User.Role)
}

func TestMeUnknownUser(t *testing.T) {
	r, jwtService := newRouter(t)
	tok, err := jwtService.Generate(uuid.New(), "ghost@example.com", "member")
	require.NoError(t, err)
	code, _ := call(t, r, http.MethodGet, "/auth/me", tok, nil)
	assert.Equal(t, http.StatusNotFound, code)
}
