package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinderly/liveclass/internal/models"
)

type fakeUserStore struct {
	users map[string]*models.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: map[string]*models.User{}}
}

func (f *fakeUserStore) GetByEmail(_ context.Context, email string) (*models.User, error) {
	u, ok := f.users[strings.ToLower(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUserStore) List(_ context.Context, role string) ([]models.UserPublic, error) {
	var out []models.UserPublic
	for _, u := range f.users {
		if role == "" || string(u.Role) == role {
			out = append(out, u.ToPublic())
		}
	}
	return out, nil
}

func (f *fakeUserStore) Create(_ context.Context, email, hash, name string, role models.Role) (*models.User, error) {
	key := strings.ToLower(email)
	if _, ok := f.users[key]; ok {
		return nil, ErrEmailTaken
	}
	u := &models.User{ID: uuid.New(), Email: email, Password: hash, FullName: name, Role: role, CreatedAt: time.Now()}
	f.users[key] = u
	return u, nil
}

func postJSON(r http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func setupAuthRouter(store UserStore, jwt *JWTService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(store, jwt, nil)
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	return r
}

func TestRegisterAndLogin(t *testing.T) {
	jwt := NewJWTService("secret", 1)
	r := setupAuthRouter(newFakeUserStore(), jwt)

	w := postJSON(r, "/auth/register", RegisterRequest{Email: "kid@school.test", Password: "crayons", FullName: "Kid"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var body struct {
		Data TokenResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, models.RoleStudent, body.Data.User.Role)
	claims, err := jwt.Validate(body.Data.Token)
	require.NoError(t, err)
	assert.Equal(t, "Kid", claims.Name)

	w = postJSON(r, "/auth/register", RegisterRequest{Email: "KID@school.test", Password: "crayons", FullName: "Kid"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = postJSON(r, "/auth/login", LoginRequest{Email: "kid@school.test", Password: "crayons"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = postJSON(r, "/auth/login", LoginRequest{Email: "kid@school.test", Password: "markers"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = postJSON(r, "/auth/login", LoginRequest{Email: "nobody@school.test", Password: "crayons"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegisterRejectsAdminRole(t *testing.T) {
	r := setupAuthRouter(newFakeUserStore(), NewJWTService("secret", 1))
	w := postJSON(r, "/auth/register", RegisterRequest{Email: "x@school.test", Password: "secret1", FullName: "X", Role: "admin"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(r, "/auth/register", RegisterRequest{Email: "t@school.test", Password: "secret1", FullName: "T", Role: "teacher"})
	assert.Equal(t, http.StatusCreated, w.Code)
}
