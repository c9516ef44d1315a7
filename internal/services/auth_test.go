package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func setupAuthConfig() {
	viper.Set("argon2.salt_length", 16)
	viper.Set("argon2.time", 1)
	viper.Set("argon2.memory", 64*1024)
	viper.Set("argon2.threads", 4)
	viper.Set("argon2.key_length", 32)
	viper.Set("jwt.secret_key", "test-secret")
	viper.Set("jwt.expiry_hours", 24)
}

func TestAuthService_Login(t *testing.T) {
	setupAuthConfig()

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAuthService(db, nil)

	hashed, err := hashPassword("password123")
	assert.NoError(t, err)
	tenantID := 7

	t.Run("successful login", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, email, name, role, tenant_id, password FROM users").
			WithArgs("bursar@hillview.ac.ke").
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "role", "tenant_id", "password"}).
				AddRow(9, "bursar@hillview.ac.ke", "Grace Njeri", "bursar", tenantID, hashed))
		mock.ExpectExec("UPDATE users SET last_login").
			WithArgs(9).
			WillReturnResult(sqlmock.NewResult(0, 1))

		body, _ := json.Marshal(LoginRequest{Email: "Bursar@hillview.ac.ke", Password: "password123"})
		r := httptest.NewRequest("POST", "/auth/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Login(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response AuthResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.NotEmpty(t, response.Token)
		assert.Equal(t, "bursar@hillview.ac.ke", response.User.Email)
		assert.NotNil(t, response.User.TenantID)
		assert.Equal(t, tenantID, *response.User.TenantID)
	})

	t.Run("wrong password", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, email, name, role, tenant_id, password FROM users").
			WithArgs("bursar@hillview.ac.ke").
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "role", "tenant_id", "password"}).
				AddRow(9, "bursar@hillview.ac.ke", "Grace Njeri", "bursar", tenantID, hashed))

		body, _ := json.Marshal(LoginRequest{Email: "bursar@hillview.ac.ke", Password: "wrong-password"})
		r := httptest.NewRequest("POST", "/auth/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Login(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown email", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, email, name, role, tenant_id, password FROM users").
			WithArgs("ghost@hillview.ac.ke").
			WillReturnError(sql.ErrNoRows)

		body, _ := json.Marshal(LoginRequest{Email: "ghost@hillview.ac.ke", Password: "password123"})
		r := httptest.NewRequest("POST", "/auth/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Login(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("invalid request body", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/auth/login", bytes.NewBuffer([]byte("invalid")))
		w := httptest.NewRecorder()

		service.Login(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("validation failure", func(t *testing.T) {
		body, _ := json.Marshal(LoginRequest{Email: "not-an-email", Password: "password123"})
		r := httptest.NewRequest("POST", "/auth/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Login(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthService_Logout(t *testing.T) {
	setupAuthConfig()

	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, redisMock := redismock.NewClientMock()
	service := NewAuthService(db, redisClient)

	t.Run("blacklists the presented token", func(t *testing.T) {
		redisMock.ExpectSet("blacklist:some-jwt-token", "1", 24*time.Hour).SetVal("OK")

		r := httptest.NewRequest("POST", "/auth/logout", nil)
		r.Header.Set("Authorization", "Bearer some-jwt-token")
		w := httptest.NewRecorder()

		service.Logout(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("missing token is still a successful logout", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/auth/logout", nil)
		w := httptest.NewRecorder()

		service.Logout(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestAuthService_GetUserAccount(t *testing.T) {
	setupAuthConfig()

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAuthService(db, nil)
	now := time.Now()
	tenantID := 7

	t.Run("returns the operator profile", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, email, name, role, tenant_id, last_login, created_at, updated_at").
			WithArgs("9").
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "role", "tenant_id", "last_login", "created_at", "updated_at"}).
				AddRow(9, "bursar@hillview.ac.ke", "Grace Njeri", "bursar", tenantID, now, now, now))

		r := httptest.NewRequest("GET", "/auth/account", nil)
		r = r.WithContext(context.WithValue(r.Context(), "userID", "9"))
		w := httptest.NewRecorder()

		service.GetUserAccount(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var user struct {
			Email string `json:"email"`
			Role  string `json:"role"`
		}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))
		assert.Equal(t, "bursar@hillview.ac.ke", user.Email)
		assert.Equal(t, "bursar", user.Role)
	})

	t.Run("unauthenticated request", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/auth/account", nil)
		w := httptest.NewRecorder()

		service.GetUserAccount(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPasswordHashing(t *testing.T) {
	setupAuthConfig()

	hashed, err := hashPassword("correct horse battery staple")
	assert.NoError(t, err)
	assert.Contains(t, hashed, "$")

	assert.True(t, verifyPassword("correct horse battery staple", hashed))
	assert.False(t, verifyPassword("wrong password", hashed))
	assert.False(t, verifyPassword("correct horse battery staple", "not-a-valid-hash"))

	// Salts are random, so the same password never hashes twice to the same value.
	second, err := hashPassword("correct horse battery staple")
	assert.NoError(t, err)
	assert.NotEqual(t, hashed, second)
}
