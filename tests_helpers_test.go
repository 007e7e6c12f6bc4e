// File: tests_helpers_test.go

package tokenizer

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

var (
	testSymmetricKey = "test-secret-32-bytes-long-1234567890"
	testEpoch        = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
)

// Test Helper Functions

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testRedisClient starts an in-process redis server for the test.
func testRedisClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, server
}

type testUser struct {
	id        string
	kind      string
	abilities []string
	claims    map[string]any
	password  string
}

func newTestUser(id string) *testUser {
	return &testUser{id: id, kind: "users", password: "secret"}
}

func (u *testUser) SubjectType() string          { return u.kind }
func (u *testUser) SubjectID() string            { return u.id }
func (u *testUser) Abilities() []string          { return u.abilities }
func (u *testUser) CustomClaims() map[string]any { return u.claims }

// testProvider is a UserProvider over a fixed set of users.
type testProvider struct {
	mu    sync.Mutex
	users map[string]*testUser
	calls int
}

func newTestProvider(users ...*testUser) *testProvider {
	p := &testProvider{users: make(map[string]*testUser)}
	for _, u := range users {
		p.users[u.id] = u
	}
	return p
}

func (p *testProvider) RetrieveByID(ctx context.Context, id string) (Subject, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++

	if u, ok := p.users[id]; ok {
		return u, nil
	}
	return nil, nil
}

func (p *testProvider) RetrieveByCredentials(ctx context.Context, credentials map[string]string) (Subject, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, ok := p.users[credentials["id"]]
	if !ok || u.password != credentials["password"] {
		return nil, nil
	}
	return u, nil
}

// fakeRequest is a Request backed by plain maps.
type fakeRequest struct {
	headers map[string]string
	form    map[string]string
	cookies map[string]string
}

func newFakeRequest() *fakeRequest {
	return &fakeRequest{
		headers: make(map[string]string),
		form:    make(map[string]string),
		cookies: make(map[string]string),
	}
}

func bearerRequest(token string) *fakeRequest {
	r := newFakeRequest()
	r.headers["Authorization"] = "Bearer " + token
	return r
}

func (r *fakeRequest) Header(name string) string    { return r.headers[name] }
func (r *fakeRequest) FormValue(key string) string { return r.form[key] }

func (r *fakeRequest) Cookie(name string) (string, bool) {
	value, ok := r.cookies[name]
	return value, ok
}

func newTestConfig() *Config {
	cfg := DefaultConfig(testSymmetricKey)
	return &cfg
}

type testEnv struct {
	tokenizer *Tokenizer
	store     *MemoryTokenStore
	clock     *FakeClock
	provider  *testProvider
	user      *testUser
}

// newTestTokenizer builds a tokenizer over a memory store with a fake clock
// and a provider knowing user "42".
func newTestTokenizer(t *testing.T, cfg *Config, opts ...Option) *testEnv {
	t.Helper()

	if cfg == nil {
		cfg = newTestConfig()
	}
	env := &testEnv{
		store: NewMemoryTokenStore(),
		clock: NewFakeClock(testEpoch),
		user:  newTestUser("42"),
	}
	env.provider = newTestProvider(env.user)

	base := []Option{
		WithClock(env.clock),
		WithLogger(testLogger()),
		WithProvider("users", env.provider),
	}
	tk, err := New(cfg, env.store, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tk.Close() })

	env.tokenizer = tk
	return env
}

// issue creates a pair for the env user with the default driver.
func (env *testEnv) issue(t *testing.T, scopes ...string) *TokenPair {
	t.Helper()

	grant, err := env.tokenizer.Grant("", env.user)
	require.NoError(t, err)
	pair, err := grant.CreateToken(context.Background(), "test", "", scopes)
	require.NoError(t, err)
	return pair
}

func writeTempKeyFiles(t *testing.T, dir string, privatePEM, publicPEM []byte) (privatePath, publicPath string) {
	t.Helper()

	privatePath = filepath.Join(dir, "private.pem")
	publicPath = filepath.Join(dir, "public.pem")
	require.NoError(t, os.WriteFile(privatePath, privatePEM, 0600))
	require.NoError(t, os.WriteFile(publicPath, publicPEM, 0644))
	return privatePath, publicPath
}

// generateTempRSAPair writes a PKCS1 RSA key, the format older tooling emits.
func generateTempRSAPair(t *testing.T) (privatePath, publicPath string) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privatePEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})
	publicBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	require.NoError(t, err)
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicBytes})

	return writeTempKeyFiles(t, t.TempDir(), privatePEM, publicPEM)
}

// generateTempECDSAPair writes a SEC1 EC key.
func generateTempECDSAPair(t *testing.T) (privatePath, publicPath string) {
	t.Helper()

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	privateBytes, err := x509.MarshalECPrivateKey(privateKey)
	require.NoError(t, err)
	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: privateBytes})

	publicBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	require.NoError(t, err)
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicBytes})

	return writeTempKeyFiles(t, t.TempDir(), privatePEM, publicPEM)
}

// generateTempCertificate writes an RSA key whose public half is a
// self-signed certificate.
func generateTempCertificate(t *testing.T) (privatePath, publicPath string) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Test Org"},
		},
		NotBefore: time.Now(),
		NotAfter:  time.Now().Add(time.Hour),
	}
	certBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	privatePEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certBytes})

	return writeTempKeyFiles(t, t.TempDir(), privatePEM, certPEM)
}

// generateKeyFiles writes a fresh pair for algo and returns the directory
// and file names, ready for DriverConfig and Config.KeyPath.
func generateKeyFiles(t *testing.T, algo string) (dir, privateFile, publicFile string) {
	t.Helper()

	privatePEM, publicPEM, err := GenerateKeyPair(algo, 2048)
	require.NoError(t, err)

	dir = t.TempDir()
	writeTempKeyFiles(t, dir, privatePEM, publicPEM)
	return dir, "private.pem", "public.pem"
}

// recorder collects dispatched events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Handle(ctx context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()

	kinds := make([]EventKind, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Kind()
	}
	return kinds
}

var allEventKinds = []EventKind{
	EventAccessTokenCreated,
	EventAccessTokenRefreshing,
	EventAccessTokenRefreshed,
	EventAccessTokenRevoked,
	EventAuthenticated,
	EventLogin,
	EventLogout,
}
