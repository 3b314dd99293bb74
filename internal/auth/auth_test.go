package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type users map[string]bool

func (u users) Exists(_ context.Context, userID string) (bool, error) {
	if userID == "broken" {
		return false, errors.New("db down")
	}
	return u[userID], nil
}

func TestGenerateAccessToken(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		secret  string
		ttl     time.Duration
		wantErr bool
	}{
		{"valid token", "u-1", "test-secret", 15 * time.Minute, false},
		{"empty secret", "u-1", "", 15 * time.Minute, false},
		{"zero ttl", "u-1", "test-secret", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := GenerateAccessToken(tt.userID, tt.secret, tt.ttl)
			if (err != nil) != tt.wantErr {
				t.Errorf("GenerateAccessToken() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && token == "" {
				t.Error("GenerateAccessToken() returned empty token")
			}
		})
	}
}

func TestParseAccessToken(t *testing.T) {
	secret := "test-secret-key"
	token, err := GenerateAccessToken("u-42", secret, 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	tests := []struct {
		name    string
		token   string
		secret  string
		wantUID string
		wantErr error
	}{
		{"valid token", token, secret, "u-42", nil},
		{"wrong secret", token, "wrong-secret", "", ErrTokenInvalid},
		{"invalid token", "invalid.token.here", secret, "", ErrTokenInvalid},
		{"empty token", "", secret, "", ErrTokenInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ParseAccessToken(tt.token, tt.secret)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseAccessToken() error = %v, want %v", err, tt.wantErr)
				return
			}
			if tt.wantErr == nil && claims.UserID != tt.wantUID {
				t.Errorf("ParseAccessToken() UserID = %v, want %v", claims.UserID, tt.wantUID)
			}
		})
	}
}

func TestParseAccessToken_Expired(t *testing.T) {
	secret := "test-secret"
	token, err := GenerateAccessToken("u-1", secret, -time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	claims, err := ParseAccessToken(token, secret)
	if !errors.Is(err, ErrTokenExpired) {
		t.Errorf("ParseAccessToken() error = %v, want ErrTokenExpired", err)
	}
	if claims != nil {
		t.Error("ParseAccessToken() should return nil claims for expired token")
	}
}

func TestParseAccessToken_RejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u-1"})
	s, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	if _, err := ParseAccessToken(s, "secret"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseAccessToken() error = %v, want ErrTokenInvalid", err)
	}
}

func TestVerifyBearerToken(t *testing.T) {
	secret := "s3cret"
	v := NewVerifier(secret, users{"alice": true})
	good, _ := GenerateAccessToken("alice", secret, time.Minute)
	ghost, _ := GenerateAccessToken("ghost", secret, time.Minute)
	broken, _ := GenerateAccessToken("broken", secret, time.Minute)

	if uid, err := v.VerifyBearerToken(context.Background(), good); err != nil || uid != "alice" {
		t.Errorf("VerifyBearerToken(good) = %q, %v", uid, err)
	}
	if _, err := v.VerifyBearerToken(context.Background(), ""); !errors.Is(err, ErrTokenMissing) {
		t.Errorf("empty token error = %v, want ErrTokenMissing", err)
	}
	if _, err := v.VerifyBearerToken(context.Background(), ghost); !errors.Is(err, ErrUnknownUser) {
		t.Errorf("ghost token error = %v, want ErrUnknownUser", err)
	}
	_, err := v.VerifyBearerToken(context.Background(), broken)
	if err == nil || errors.Is(err, ErrTokenInvalid) || errors.Is(err, ErrUnknownUser) {
		t.Errorf("lookup failure error = %v, want an unclassified error", err)
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=abc", nil)
	if got := TokenFromRequest(r); got != "abc" {
		t.Errorf("query token = %q, want abc", got)
	}
	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "bearer xyz")
	if got := TokenFromRequest(r); got != "xyz" {
		t.Errorf("header token = %q, want xyz", got)
	}
	r.Header.Set("Authorization", "Basic xyz")
	if got := TokenFromRequest(r); got != "" {
		t.Errorf("basic auth token = %q, want empty", got)
	}
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	secret := "s3cret"
	v := NewVerifier(secret, users{"alice": true})
	engine := gin.New()
	engine.GET("/me", AuthMiddleware(v), func(c *gin.Context) {
		c.String(http.StatusOK, GetUserID(c))
	})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: expected 401, got %d", w.Code)
	}

	token, _ := GenerateAccessToken("alice", secret, time.Minute)
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "alice" {
		t.Fatalf("valid token: got %d %q", w.Code, w.Body.String())
	}
}
