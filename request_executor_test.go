package authbridge

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengovern/resilient-authbridge/store"
)

type scripted struct {
	mu        sync.Mutex
	responses []*NormalizedResponse
	requests  []*NormalizedRequest
}

func (s *scripted) ExecuteRequest(_ context.Context, req *NormalizedRequest) (*NormalizedResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		return &NormalizedResponse{StatusCode: 200, Data: []byte(`{}`)}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func respond(code int, body string) *NormalizedResponse {
	return &NormalizedResponse{StatusCode: code, Headers: map[string]string{}, Data: []byte(body)}
}

func newExecutor(adapter TransportAdapter, st store.CredentialStore, policy *RetryPolicy, rec *logoutRecorder) *RequestExecutor {
	log := quietLogger()
	refresher := NewRefreshCoordinator(adapter, st, rec, refreshURL, "", time.Second, log)
	return NewRequestExecutor(adapter, st, policy, NewRateLimiter(time.Second), refresher, time.Second, log)
}

func TestExecute_GetRecoversAfterTwoServerErrors(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the real 1s+2s backoff")
	}
	adapter := &scripted{responses: []*NormalizedResponse{
		respond(500, ""), respond(500, ""), respond(200, `{"ok":true}`),
	}}
	st := store.NewMemoryStore(store.Credentials{AccessToken: "a", RefreshToken: "r"})
	re := newExecutor(adapter, st, DefaultRetryPolicy(), &logoutRecorder{})

	rc := rcFor(http.MethodGet)
	start := time.Now()
	resp, err := re.Execute(context.Background(), rc)
	require.NoError(t, err)

	assert.Equal(t, `{"ok":true}`, string(resp.Data))
	assert.GreaterOrEqual(t, time.Since(start), 3*time.Second)
	assert.Equal(t, 2, rc.RetryMeta.RetryCount)
	assert.Len(t, adapter.requests, 3)
}

func TestExecute_PostServerErrorIsNotRetried(t *testing.T) {
	adapter := &scripted{responses: []*NormalizedResponse{respond(500, "")}}
	re := newExecutor(adapter, store.NewMemoryStore(store.Credentials{}), DefaultRetryPolicy(), &logoutRecorder{})

	rc := rcFor(http.MethodPost)
	start := time.Now()
	_, err := re.Execute(context.Background(), rc)

	nerr, ok := AsNormalizedError(err)
	require.True(t, ok)
	assert.Equal(t, KindAPI, nerr.Type)
	assert.Equal(t, 500, nerr.Status)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Zero(t, rc.RetryMeta.RetryCount)
	assert.Len(t, adapter.requests, 1)
}

func TestExecute_RetryCeiling(t *testing.T) {
	adapter := &scripted{responses: []*NormalizedResponse{
		respond(503, ""), respond(503, ""), respond(503, ""), respond(503, ""), respond(200, ""),
	}}
	policy := NewRetryPolicy(3, nil, time.Millisecond, 2*time.Millisecond)
	re := newExecutor(adapter, store.NewMemoryStore(store.Credentials{}), policy, &logoutRecorder{})

	rc := rcFor(http.MethodGet)
	_, err := re.Execute(context.Background(), rc)

	nerr, ok := AsNormalizedError(err)
	require.True(t, ok)
	assert.Equal(t, KindAPI, nerr.Type)
	assert.Equal(t, 3, rc.RetryMeta.RetryCount)
	assert.Len(t, adapter.requests, 4, "initial attempt plus three retries")
}

func TestExecute_RefreshResendsWithNewToken(t *testing.T) {
	adapter := &scripted{responses: []*NormalizedResponse{
		respond(401, `{"code":"token_not_valid"}`),
		respond(200, `{"access":"fresh"}`),
		respond(200, `{"id":1}`),
	}}
	st := store.NewMemoryStore(store.Credentials{AccessToken: "stale", RefreshToken: "r"})
	re := newExecutor(adapter, st, DefaultRetryPolicy(), &logoutRecorder{})

	rc := rcFor(http.MethodPost)
	resp, err := re.Execute(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, `{"id":1}`, string(resp.Data))
	assert.True(t, rc.RefreshRetried)
	assert.Zero(t, rc.RetryMeta.RetryCount, "the resend is not a policy retry")

	require.Len(t, adapter.requests, 3)
	assert.Equal(t, "Bearer stale", adapter.requests[0].Headers["Authorization"])
	assert.Equal(t, refreshURL, adapter.requests[1].Endpoint)
	assert.Equal(t, "Bearer fresh", adapter.requests[2].Headers["Authorization"])
}

func TestExecute_SecondUnauthorizedEndsSession(t *testing.T) {
	adapter := &scripted{responses: []*NormalizedResponse{
		respond(401, ""),
		respond(200, `{"access":"fresh"}`),
		respond(401, `{"code":"token_not_valid"}`),
	}}
	st := store.NewMemoryStore(store.Credentials{AccessToken: "stale", RefreshToken: "r"})
	rec := &logoutRecorder{}
	re := newExecutor(adapter, st, DefaultRetryPolicy(), rec)

	_, err := re.Execute(context.Background(), rcFor(http.MethodGet))
	nerr, ok := AsNormalizedError(err)
	require.True(t, ok)
	assert.Equal(t, KindAuth, nerr.Type)
	assert.ErrorIs(t, err, ErrSessionRejected)
	assert.Len(t, adapter.requests, 3, "no second refresh")

	creds, _ := st.Get(context.Background())
	assert.True(t, creds.IsEmpty())
	assert.Equal(t, 1, rec.count())
}

func TestExecute_RefreshFailureRejectsWithAuth(t *testing.T) {
	adapter := &scripted{responses: []*NormalizedResponse{
		respond(401, ""),
		respond(401, `{"code":"token_not_valid"}`),
	}}
	st := store.NewMemoryStore(store.Credentials{AccessToken: "stale", RefreshToken: "r"})
	rec := &logoutRecorder{}
	re := newExecutor(adapter, st, DefaultRetryPolicy(), rec)

	_, err := re.Execute(context.Background(), rcFor(http.MethodGet))
	nerr, ok := AsNormalizedError(err)
	require.True(t, ok)
	assert.Equal(t, KindAuth, nerr.Type)
	assert.ErrorIs(t, err, ErrRefreshFailed)

	creds, _ := st.Get(context.Background())
	assert.True(t, creds.IsEmpty())
	assert.Equal(t, 1, rec.count())
}

func TestExecute_NoTokenMeansNoAuthorizationHeader(t *testing.T) {
	adapter := &scripted{}
	re := newExecutor(adapter, store.NewMemoryStore(store.Credentials{}), DefaultRetryPolicy(), &logoutRecorder{})

	rc := NewRequestContext("https://api.example.com", map[string]string{"x-tenant": "t1"},
		&NormalizedRequest{Endpoint: "/web/users/", Headers: map[string]string{"X-Request-Id": "req-1"}})
	_, err := re.Execute(context.Background(), rc)
	require.NoError(t, err)

	require.Len(t, adapter.requests, 1)
	sent := adapter.requests[0]
	assert.Equal(t, http.MethodGet, sent.Method)
	assert.Equal(t, "https://api.example.com/web/users/", sent.Endpoint)
	assert.NotContains(t, sent.Headers, "Authorization")
	assert.Equal(t, "t1", sent.Headers["X-Tenant"])
	assert.Equal(t, "req-1", sent.Headers["X-Request-Id"])
}

func TestExecute_CancelDuringBackoff(t *testing.T) {
	adapter := &scripted{responses: []*NormalizedResponse{respond(503, "")}}
	re := newExecutor(adapter, store.NewMemoryStore(store.Credentials{}), DefaultRetryPolicy(), &logoutRecorder{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := re.Execute(ctx, rcFor(http.MethodGet))
	nerr, ok := AsNormalizedError(err)
	require.True(t, ok)
	assert.Equal(t, KindNetwork, nerr.Type)
	assert.Equal(t, CodeTimeout, nerr.Code)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecute_RateLimitHoldsNextSend(t *testing.T) {
	limited := respond(http.StatusTooManyRequests, "")
	limited.Headers["retry-after"] = "1"
	adapter := &scripted{responses: []*NormalizedResponse{limited, respond(200, "")}}
	policy := NewRetryPolicy(3, nil, time.Millisecond, 5*time.Second)
	re := newExecutor(adapter, store.NewMemoryStore(store.Credentials{}), policy, &logoutRecorder{})

	start := time.Now()
	_, err := re.Execute(context.Background(), rcFor(http.MethodGet))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
	assert.Len(t, adapter.requests, 2)
}

type brokenStore struct {
	store.CredentialStore
}

func (brokenStore) Get(context.Context) (store.Credentials, error) {
	return store.Credentials{}, store.ErrStoreClosed
}

func TestExecute_StoreFailureIsNotNetwork(t *testing.T) {
	adapter := &scripted{}
	re := newExecutor(adapter, brokenStore{}, DefaultRetryPolicy(), &logoutRecorder{})

	_, err := re.Execute(context.Background(), rcFor(http.MethodGet))
	nerr, ok := AsNormalizedError(err)
	require.True(t, ok)
	assert.Equal(t, KindUnknown, nerr.Type)
	assert.ErrorIs(t, err, ErrCredentialStore)
	assert.ErrorIs(t, err, store.ErrStoreClosed)
	assert.False(t, IsRecoverable(err))
	assert.Empty(t, adapter.requests)
}
