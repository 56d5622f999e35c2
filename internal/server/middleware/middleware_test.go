package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/r1hq/r1/internal/crypto"
	"github.com/r1hq/r1/internal/metrics"
	"github.com/r1hq/r1/internal/model"
	"github.com/r1hq/r1/internal/service"
	"github.com/r1hq/r1/internal/signing"
	"github.com/r1hq/r1/internal/store"
)

const (
	testJWTSecret = "test-secret-for-jwt-middleware-tests"
	testDataKey   = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
)

type testEnv struct {
	store   *store.Store
	auth    *service.AuthService
	keys    *service.KeyService
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open("")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cipher, err := crypto.NewCipher(testDataKey)
	if err != nil {
		t.Fatalf("crypto.NewCipher: %v", err)
	}

	return &testEnv{
		store:   st,
		auth:    service.NewAuthService(st, cipher, testJWTSecret, time.Hour),
		keys:    service.NewKeyService(st),
		metrics: metrics.New(),
	}
}

func (e *testEnv) registerUser(t *testing.T, username string, admin bool) *model.User {
	t.Helper()
	u, err := e.auth.Register(context.Background(), username, username+"@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if admin {
		if err := e.store.SetUserAdmin(context.Background(), u.ID, true); err != nil {
			t.Fatalf("SetUserAdmin: %v", err)
		}
		u.IsAdmin = true
	}
	return u
}

// ---------------------------------------------------------------------------
// RequestID middleware tests
// ---------------------------------------------------------------------------

func TestRequestIDGeneratesUUID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetRequestID(r.Context()) == "" {
			t.Error("expected non-empty request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	respID := rr.Header().Get("X-Request-ID")
	if len(respID) != 36 {
		t.Errorf("expected UUID-length request ID, got %q (len=%d)", respID, len(respID))
	}
}

func TestRequestIDPreservesClientID(t *testing.T) {
	clientID := "my-custom-trace-id-123"

	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := GetRequestID(r.Context()); id != clientID {
			t.Errorf("expected context ID %q, got %q", clientID, id)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", clientID)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if respID := rr.Header().Get("X-Request-ID"); respID != clientID {
		t.Errorf("expected response X-Request-ID %q, got %q", clientID, respID)
	}
}

// ---------------------------------------------------------------------------
// SignatureAuth middleware tests
// ---------------------------------------------------------------------------

func okHandler(t *testing.T, wantPrincipal string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := GetPrincipal(r.Context())
		if wantPrincipal == "" {
			if p != nil {
				t.Errorf("expected no principal, got %+v", p)
			}
		} else {
			if p == nil || p.ID != wantPrincipal {
				t.Errorf("expected principal %q, got %+v", wantPrincipal, p)
			}
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestSignatureAuthAllowlistPassThrough(t *testing.T) {
	env := newTestEnv(t)

	handler := SignatureAuth(env.keys, env.metrics, []string{"/api/auth/login"})(okHandler(t, ""))

	// No x-api-key, arbitrary body: must reach the handler untouched.
	req := httptest.NewRequest("POST", "/api/auth/login", bytes.NewBufferString(`{"email":"x"}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 for allow-listed route, got %d", rr.Code)
	}
}

func TestSignatureAuthDefersWithoutKey(t *testing.T) {
	env := newTestEnv(t)

	handler := SignatureAuth(env.keys, env.metrics, nil)(okHandler(t, ""))

	req := httptest.NewRequest("POST", "/api/prompts", bytes.NewBufferString(`{}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected deferral to reach handler, got %d", rr.Code)
	}
}

func TestSignatureAuthRejectsInvalidKey(t *testing.T) {
	env := newTestEnv(t)

	handler := SignatureAuth(env.keys, env.metrics, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run for an invalid key")
	}))

	unknown, _ := service.Generate()
	req := httptest.NewRequest("POST", "/api/prompts", nil)
	req.Header.Set(signing.HeaderAPIKey, unknown)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestSignatureAuthRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	owner := env.registerUser(t, "alice", false)

	plaintext, err := env.keys.Create(context.Background(), owner.ID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	handler := SignatureAuth(env.keys, env.metrics, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run for a bad signature")
	}))

	body := []byte(`{"title":"x"}`)
	headers := signing.Sign("POST", "/api/prompts", body, plaintext)

	// Valid key, signature computed over a different body.
	req := httptest.NewRequest("POST", "/api/prompts", bytes.NewReader([]byte(`{"title":"tampered"}`)))
	req.Header.Set(signing.HeaderAPIKey, plaintext)
	req.Header.Set(signing.HeaderSignature, headers[signing.HeaderSignature])
	req.Header.Set(signing.HeaderTimestamp, headers[signing.HeaderTimestamp])
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestSignatureAuthMissingSignatureHeaders(t *testing.T) {
	env := newTestEnv(t)
	owner := env.registerUser(t, "bob", false)

	plaintext, err := env.keys.Create(context.Background(), owner.ID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	handler := SignatureAuth(env.keys, env.metrics, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run without signature headers")
	}))

	// Key presented but no signature or timestamp headers at all.
	req := httptest.NewRequest("POST", "/api/prompts", nil)
	req.Header.Set(signing.HeaderAPIKey, plaintext)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestSignatureAuthEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	owner := env.registerUser(t, "user-42", false)

	plaintext, err := env.keys.Create(context.Background(), owner.ID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	body := []byte(`{"title":"x"}`)
	var gotBody []byte
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := GetPrincipal(r.Context())
		if p == nil || p.ID != owner.ID {
			t.Errorf("expected principal %q, got %+v", owner.ID, p)
		}
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	})

	handler := SignatureAuth(env.keys, env.metrics, nil)(inner)

	headers := signing.Sign("POST", "/api/prompts", body, plaintext)
	req := httptest.NewRequest("POST", "/api/prompts", bytes.NewReader(body))
	req.Header.Set(signing.HeaderAPIKey, plaintext)
	req.Header.Set(signing.HeaderSignature, headers[signing.HeaderSignature])
	req.Header.Set(signing.HeaderTimestamp, headers[signing.HeaderTimestamp])
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	// The body must be readable downstream after signature verification.
	if !bytes.Equal(gotBody, body) {
		t.Errorf("handler read body %q, want %q", gotBody, body)
	}
}

// ---------------------------------------------------------------------------
// Bearer-token middleware tests
// ---------------------------------------------------------------------------

func TestRequireAuthMissingHeader(t *testing.T) {
	env := newTestEnv(t)

	handler := RequireAuth(env.auth, env.metrics)(okHandler(t, ""))

	req := httptest.NewRequest("GET", "/api/users/me", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestRequireAuthBadToken(t *testing.T) {
	env := newTestEnv(t)

	handler := RequireAuth(env.auth, env.metrics)(okHandler(t, ""))

	req := httptest.NewRequest("GET", "/api/users/me", nil)
	req.Header.Set("Authorization", "Bearer garbage.token.here")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestRequireAuthDeletedUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.registerUser(t, "ghost", false)
	token, err := env.auth.IssueJWT(ctx, u.ID)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}
	if err := env.store.DeleteUser(ctx, u.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}

	handler := RequireAuth(env.auth, env.metrics)(okHandler(t, ""))

	req := httptest.NewRequest("GET", "/api/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for deleted user, got %d", rr.Code)
	}
}

func TestRequireAuthSuccessSetsHeaders(t *testing.T) {
	env := newTestEnv(t)

	u := env.registerUser(t, "alice", true)
	token, err := env.auth.IssueJWT(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}

	handler := RequireAuth(env.auth, env.metrics)(okHandler(t, u.ID))

	req := httptest.NewRequest("GET", "/api/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get(HeaderUserID); got != u.ID {
		t.Errorf("X-User-Id: got %q, want %q", got, u.ID)
	}
	if got := rr.Header().Get(HeaderUserAdmin); got != strconv.FormatBool(true) {
		t.Errorf("X-User-Admin: got %q, want %q", got, "true")
	}
}

func TestOptionalAuthFallsThrough(t *testing.T) {
	env := newTestEnv(t)

	handler := OptionalAuth(env.auth, env.metrics)(okHandler(t, ""))

	// No header at all, then a bad token: both reach the handler with no
	// principal and no rejection.
	for _, setup := range []func(*http.Request){
		func(r *http.Request) {},
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer bad-token") },
	} {
		req := httptest.NewRequest("GET", "/api/prompts", nil)
		setup(req)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rr.Code)
		}
	}
}

func TestOptionalAuthSetsPrincipal(t *testing.T) {
	env := newTestEnv(t)

	u := env.registerUser(t, "bob", false)
	token, err := env.auth.IssueJWT(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}

	handler := OptionalAuth(env.auth, env.metrics)(okHandler(t, u.ID))

	req := httptest.NewRequest("GET", "/api/prompts", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

// ---------------------------------------------------------------------------
// RequireAdmin / RequirePrincipal tests
// ---------------------------------------------------------------------------

func TestRequireAdminAllowsAdmins(t *testing.T) {
	handler := RequireAdmin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/admin/users", nil)
	req = req.WithContext(WithPrincipal(req.Context(), &model.Principal{ID: "u1", IsAdmin: true}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestRequireAdminBlocksNonAdmins(t *testing.T) {
	handler := RequireAdmin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("inner handler should not be called for non-admin")
	}))

	req := httptest.NewRequest("GET", "/api/admin/users", nil)
	req = req.WithContext(WithPrincipal(req.Context(), &model.Principal{ID: "u1"}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
}

func TestRequireAdminBlocksUnauthenticated(t *testing.T) {
	handler := RequireAdmin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("inner handler should not be called for unauthenticated")
	}))

	req := httptest.NewRequest("GET", "/api/admin/users", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
}

func TestRequirePrincipal(t *testing.T) {
	handler := RequirePrincipal()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/api/prompts", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without principal, got %d", rr.Code)
	}

	req = httptest.NewRequest("POST", "/api/prompts", nil)
	req = req.WithContext(WithPrincipal(req.Context(), &model.Principal{ID: "u1"}))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 with principal, got %d", rr.Code)
	}
}

func TestGetPrincipalWithoutValue(t *testing.T) {
	if got := GetPrincipal(context.Background()); got != nil {
		t.Errorf("expected nil principal from bare context, got %+v", got)
	}
}
