package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := New("test-secret")
	token, err := svc.GenerateToken("u1", "alice", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != "u1" || claims.Nickname != "alice" {
		t.Fatalf("claims=%+v", claims)
	}
}

func TestValidateToken_WrongSecret(t *testing.T) {
	token, err := New("secret-a").GenerateToken("u1", "", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := New("secret-b").ValidateToken(token); err == nil {
		t.Fatalf("token accepted across secrets")
	}
}

func TestValidateToken_Expired(t *testing.T) {
	svc := New("test-secret")
	token, err := svc.GenerateToken("u1", "", -time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := svc.ValidateToken(token); err == nil {
		t.Fatalf("expired token accepted")
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := New("test-secret")
	r := gin.New()
	r.GET("/me", svc.Middleware(), func(c *gin.Context) {
		id, ok := UserID(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, id)
	})

	// No header.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d want 401", w.Code)
	}

	// Malformed header.
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Token abc")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d want 401", w.Code)
	}

	// Valid token.
	token, err := svc.GenerateToken("u42", "", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "u42" {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
}
