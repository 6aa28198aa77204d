//go:build integration

// Package integration drives the assembled engine over HTTP. The in-process
// suites run the full checked pipeline against in-memory stores; the
// postgres suite exercises the real repositories and is skipped unless
// TEST_DATABASE_URL is set.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/restoreassist/trial-engine/internal/devices"
	"github.com/restoreassist/trial-engine/internal/fraud"
	"github.com/restoreassist/trial-engine/internal/trial"
	"github.com/restoreassist/trial-engine/internal/users"
	"github.com/restoreassist/trial-engine/pkg/common"
	"github.com/restoreassist/trial-engine/pkg/middleware"
	"github.com/restoreassist/trial-engine/test/helpers"
)

const integrationJWTSecret = "integration-secret"

// ============================================
// IN-PROCESS ENGINE HARNESS
// ============================================

// staticDirectory is the user-store collaborator for in-process suites.
type staticDirectory struct {
	mu    sync.Mutex
	users map[uuid.UUID]*users.User
}

func newStaticDirectory() *staticDirectory {
	return &staticDirectory{users: make(map[uuid.UUID]*users.User)}
}

func (d *staticDirectory) Add(user *users.User) *users.User {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[user.ID] = user
	return user
}

func (d *staticDirectory) FindByID(_ context.Context, id uuid.UUID) (*users.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.users[id], nil
}

// staticVerifier is the payments collaborator for in-process suites. Card
// reuse is counted over the registered cards, matching the SQL distinct-user
// count.
type staticVerifier struct {
	mu    sync.Mutex
	cards map[uuid.UUID]string
}

func newStaticVerifier() *staticVerifier {
	return &staticVerifier{cards: make(map[uuid.UUID]string)}
}

func (v *staticVerifier) SetCard(userID uuid.UUID, cardFingerprint string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cards[userID] = cardFingerprint
}

func (v *staticVerifier) CardFingerprintForUser(_ context.Context, userID uuid.UUID) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cards[userID], nil
}

func (v *staticVerifier) CountDistinctUsersForCardFingerprint(_ context.Context, cardFingerprint string) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	count := 0
	for _, fp := range v.cards {
		if fp == cardFingerprint {
			count++
		}
	}
	return count, nil
}

// recordingBus captures published subjects so suites can assert on the
// event stream without a broker.
type recordingBus struct {
	mu       sync.Mutex
	subjects []string
}

func (b *recordingBus) Publish(_ context.Context, subject string, _ interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subjects = append(b.subjects, subject)
	return nil
}

func (b *recordingBus) Published(subject string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	count := 0
	for _, s := range b.subjects {
		if s == subject {
			count++
		}
	}
	return count
}

// engineHarness is one fully wired engine over in-memory stores, fronted by
// an httptest server. Each test gets a fresh harness so state never leaks.
type engineHarness struct {
	server    *httptest.Server
	client    *http.Client
	baseURL   string
	directory *staticDirectory
	verifier  *staticVerifier
	bus       *recordingBus
	registry  *devices.Service
	store     *trial.MemoryStore
	policy    fraud.Policy
}

// startEngine wires the checked pipeline the way cmd/trialengine does in
// postgres mode, with memory-backed stores standing in for the database.
func startEngine(t *testing.T) *engineHarness {
	t.Helper()

	policy := fraud.DefaultPolicy()
	bus := &recordingBus{}
	directory := newStaticDirectory()
	verifier := newStaticVerifier()

	tokenStore := trial.NewMemoryStore()
	registry := devices.NewService(devices.NewMemoryStore(), bus)
	detector := fraud.NewDetector(policy, tokenStore, verifier)
	scorer := fraud.NewScorer(policy)
	manager := trial.NewTokenManager(tokenStore, registry, policy)

	svc := trial.NewService(trial.StoreModePostgres, policy, tokenStore, manager,
		registry, directory, detector, scorer, bus)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.CorrelationID())

	trial.NewHandler(svc).RegisterRoutes(router, integrationJWTSecret)
	devices.NewHandler(registry).RegisterRoutes(router, integrationJWTSecret)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &engineHarness{
		server:    server,
		client:    server.Client(),
		baseURL:   server.URL,
		directory: directory,
		verifier:  verifier,
		bus:       bus,
		registry:  registry,
		store:     tokenStore,
		policy:    policy,
	}
}

// ============================================
// REQUEST HELPERS
// ============================================

// apiResponse mirrors the common.Response envelope with typed data.
type apiResponse[T any] struct {
	Success bool                 `json:"success"`
	Data    T                    `json:"data"`
	Meta    *common.Meta         `json:"meta,omitempty"`
	Error   *common.ErrorDetails `json:"error,omitempty"`
}

func doRawRequest(t *testing.T, h *engineHarness, method, path string, body interface{}, headers map[string]string) *http.Response {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, h.baseURL+path, reqBody)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := h.client.Do(req)
	require.NoError(t, err)
	return resp
}

func doRequest[T any](t *testing.T, h *engineHarness, method, path string, body interface{}, headers map[string]string) *apiResponse[T] {
	t.Helper()

	resp := doRawRequest(t, h, method, path, body, headers)
	defer resp.Body.Close()

	var envelope apiResponse[T]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return &envelope
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func signToken(t *testing.T, role string) string {
	t.Helper()

	claims := middleware.Claims{
		UserID: uuid.NewString(),
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(integrationJWTSecret))
	require.NoError(t, err)
	return signed
}

// activate registers a user and runs one activation over the wire.
func activate(t *testing.T, h *engineHarness, req *trial.ActivateTrialRequest) *apiResponse[trial.ActivationResult] {
	t.Helper()
	return doRequest[trial.ActivationResult](t, h, http.MethodPost, "/api/v1/trials/activate", req, nil)
}

// seedAndActivate adds a fresh user to the directory and activates on the
// given request, mutating the request's user id to the new user.
func seedAndActivate(t *testing.T, h *engineHarness, req *trial.ActivateTrialRequest) *apiResponse[trial.ActivationResult] {
	t.Helper()
	user := h.directory.Add(helpers.CreateTestUser(""))
	req.UserID = user.ID
	return activate(t, h, req)
}
