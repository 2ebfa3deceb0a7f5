package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestPasswordHashAndVerify(t *testing.T) {
	pm := NewPasswordManager(4, 8) // low cost to keep the test fast

	hash, err := pm.Hash("correct horse battery")
	if err != nil {
		t.Fatal(err)
	}
	if hash == "correct horse battery" {
		t.Fatal("password must not be stored in the clear")
	}
	if err := pm.Verify(hash, "correct horse battery"); err != nil {
		t.Errorf("matching password rejected: %v", err)
	}
	if err := pm.Verify(hash, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestPasswordLengthLimits(t *testing.T) {
	pm := NewPasswordManager(4, 8)
	if _, err := pm.Hash("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Errorf("expected ErrPasswordTooShort, got %v", err)
	}
	if _, err := pm.Hash(strings.Repeat("x", 200)); !errors.Is(err, ErrPasswordTooLong) {
		t.Errorf("expected ErrPasswordTooLong, got %v", err)
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	m := NewJWTManager("test-secret", time.Minute, time.Hour)

	token, err := m.GenerateAccessToken(UserClaims{UserID: "u1", Username: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	claims, err := m.ValidateAccessToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != "u1" || claims.Username != "alice" {
		t.Errorf("claims mismatch: %+v", claims)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	m := NewJWTManager("test-secret", -time.Minute, time.Hour)
	m.accessDuration = -time.Minute

	token, err := m.GenerateAccessToken(UserClaims{UserID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.ValidateAccessToken(token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestForeignSecretRejected(t *testing.T) {
	issuer := NewJWTManager("secret-a", time.Minute, time.Hour)
	verifier := NewJWTManager("secret-b", time.Minute, time.Hour)

	token, err := issuer.GenerateAccessToken(UserClaims{UserID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := verifier.ValidateAccessToken(token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestRefreshTokenHashing(t *testing.T) {
	m := NewJWTManager("test-secret", time.Minute, time.Hour)

	a, err := m.GenerateRefreshToken()
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.GenerateRefreshToken()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("refresh tokens must be unique")
	}
	if HashRefreshToken(a) == a {
		t.Error("the stored key must be a hash, not the token")
	}
	if HashRefreshToken(a) != HashRefreshToken(a) {
		t.Error("hashing must be deterministic")
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewJWTManager("test-secret", time.Minute, time.Hour)

	router := gin.New()
	router.GET("/me", Middleware(m), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": UserID(c)})
	})

	// no token
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing token should 401, got %d", w.Code)
	}

	// garbage token
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer nope")
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad token should 401, got %d", w.Code)
	}

	// valid token
	token, err := m.GenerateAccessToken(UserClaims{UserID: "u1", Username: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("valid token should pass, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "u1") {
		t.Errorf("user id not propagated: %s", w.Body.String())
	}
}
