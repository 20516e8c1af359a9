package registry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func recordingHandler(hit *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hit = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuthOpenWhenNoSecret(t *testing.T) {
	a := &API{config: Config{}}
	var hit bool
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/artifacts", nil)

	a.requireAuth(recordingHandler(&hit)).ServeHTTP(rec, req)

	if !hit || rec.Code != http.StatusOK {
		t.Fatalf("open deployment rejected the request: hit=%v code=%d", hit, rec.Code)
	}
}

func TestRequireAuthRejectsMissingToken(t *testing.T) {
	a := &API{config: Config{JWTSecret: "sekrit"}}
	var hit bool
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/artifacts", nil)

	a.requireAuth(recordingHandler(&hit)).ServeHTTP(rec, req)

	if hit || rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token passed auth: hit=%v code=%d", hit, rec.Code)
	}
}

func TestRequireAuthAcceptsSignedToken(t *testing.T) {
	secret := "sekrit"
	token, err := jwt.New(jwt.SigningMethodHS256).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	a := &API{config: Config{JWTSecret: secret}}
	var hit bool
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/artifacts", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	a.requireAuth(recordingHandler(&hit)).ServeHTTP(rec, req)

	if !hit || rec.Code != http.StatusOK {
		t.Fatalf("valid token rejected: hit=%v code=%d", hit, rec.Code)
	}
}

func TestRequireAuthRejectsForgedToken(t *testing.T) {
	token, err := jwt.New(jwt.SigningMethodHS256).SignedString([]byte("other"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	a := &API{config: Config{JWTSecret: "sekrit"}}
	var hit bool
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/artifacts", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	a.requireAuth(recordingHandler(&hit)).ServeHTTP(rec, req)

	if hit || rec.Code != http.StatusUnauthorized {
		t.Fatalf("forged token passed auth: hit=%v code=%d", hit, rec.Code)
	}
}
