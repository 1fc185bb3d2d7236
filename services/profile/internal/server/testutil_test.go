package server

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	jwt "github.com/golang-jwt/jwt/v5"
	"homefinder/internal/usertoken"
	"homefinder/pkg/domain"
	"homefinder/pkg/events"
	"homefinder/pkg/store"
	"homefinder/services/profile/internal/app"
	"homefinder/services/profile/internal/authclient"
)

// fakeAuthService is an httptest stand-in for the auth provider keyed by
// bearer token.
type fakeAuthService struct {
	mu          sync.Mutex
	sessions    map[string]domain.Session
	meCalls     int
	renames     []string
	logouts     int
	failRenames bool
}

func newFakeAuthService(t *testing.T, sessions map[string]domain.Session) (*fakeAuthService, *httptest.Server) {
	t.Helper()
	f := &fakeAuthService{sessions: sessions}
	srv := httptest.NewServer(http.HandlerFunc(f.serveHTTP))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeAuthService) add(token string, session domain.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[token] = session
}

func (f *fakeAuthService) counts() (me, logouts int, renames []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.meCalls, f.logouts, append([]string(nil), f.renames...)
}

func (f *fakeAuthService) serveHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	session, ok := f.sessions[token]
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
		return
	}
	switch {
	case r.URL.Path == "/auth/me" && r.Method == http.MethodGet:
		f.meCalls++
		_ = json.NewEncoder(w).Encode(session)
	case r.URL.Path == "/auth/me" && r.Method == http.MethodPatch:
		if f.failRenames {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "auth unavailable"})
			return
		}
		var req struct {
			DisplayName string `json:"displayName"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.renames = append(f.renames, req.DisplayName)
		session.DisplayName = req.DisplayName
		f.sessions[token] = session
		_ = json.NewEncoder(w).Encode(session)
	case r.URL.Path == "/auth/logout" && r.Method == http.MethodPost:
		f.logouts++
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

type testEnv struct {
	auth     *fakeAuthService
	store    *store.MemoryStore
	events   *events.Recorder
	srv      *httptest.Server
	redis    *miniredis.Miniredis
	verifier *usertoken.Verifier
}

func newTestEnv(t *testing.T, verifier *usertoken.Verifier, tweak func(*Config)) *testEnv {
	t.Helper()
	auth, authSrv := newFakeAuthService(t, map[string]domain.Session{
		"tok-u1": {ID: "u1", DisplayName: "Alice", Email: "a@x.com"},
		"tok-u2": {ID: "u2", DisplayName: "Bob", Email: "b@x.com"},
	})
	mem := store.NewMemoryStore()
	rec := &events.Recorder{}
	application, err := app.New(app.Config{
		Store:  mem,
		Auth:   authclient.NewClient(authSrv.URL),
		Events: rec,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	redis := miniredis.RunT(t)
	cfg := Config{
		App:           application,
		TokenVerifier: verifier,
		RedisAddr:     redis.Addr(),
	}
	if tweak != nil {
		tweak(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &testEnv{auth: auth, store: mem, events: rec, srv: srv, redis: redis, verifier: verifier}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func newJWKSVerifier(t *testing.T) (*usertoken.Verifier, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{
				{
					"kty": "RSA",
					"kid": "kid-1",
					"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
					"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
				},
			},
		})
	}))
	t.Cleanup(jwksServer.Close)

	verifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:  jwksServer.URL,
		Issuer:   "homefinder-auth",
		Audience: "homefinder-api",
		Leeway:   30 * time.Second,
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return verifier, key
}

func mustSignUserToken(t *testing.T, key *rsa.PrivateKey, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    "homefinder-auth",
		Audience:  jwt.ClaimStrings{"homefinder-api"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		NotBefore: jwt.NewNumericDate(time.Now().Add(-time.Second)),
	})
	token.Header["kid"] = "kid-1"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
