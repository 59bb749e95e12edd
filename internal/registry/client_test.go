package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stitchd/internal/placement"
	"stitchd/pkg/platform/circuit"
	"stitchd/pkg/platform/sentinel"
)

const testSigningKey = "test-signing-key"

func testPlacement() placement.Placement {
	return placement.Placement{
		UserID:          42,
		MasterPersonIDs: []string{"mp-1"},
		Level:           placement.LevelCurious,
		Confidence:      80,
		CalculatedAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestClient_Publish(t *testing.T) {
	var got placementPayload
	var authHeader string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/placements", r.URL.Path)
		authHeader = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client, err := New(srv.URL, testSigningKey)
	require.NoError(t, err)

	err = client.Publish(context.Background(), testPlacement())
	require.NoError(t, err)

	assert.Equal(t, []string{"mp-1"}, got.MasterPersonIDs)
	assert.Equal(t, "curious", got.Placement.Level)
	assert.Equal(t, 80, got.Placement.Confidence)
	assert.Equal(t, "2025-06-01T12:00:00Z", got.CalculatedAt)

	require.True(t, strings.HasPrefix(authHeader, "Bearer "))
	raw := strings.TrimPrefix(authHeader, "Bearer ")
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return []byte(testSigningKey), nil
	})
	require.NoError(t, err)
	claims := token.Claims.(*jwt.RegisteredClaims)
	assert.Equal(t, "stitchd", claims.Issuer)
	assert.Contains(t, claims.Audience, "global-registry")
}

func TestClient_PublishServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := New(srv.URL, testSigningKey)
	require.NoError(t, err)

	err = client.Publish(context.Background(), testPlacement())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestClient_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	breaker := circuit.New("global-registry", circuit.WithFailureThreshold(2))
	client, err := New(srv.URL, testSigningKey, WithBreaker(breaker))
	require.NoError(t, err)

	require.Error(t, client.Publish(context.Background(), testPlacement()))
	require.Error(t, client.Publish(context.Background(), testPlacement()))
	require.True(t, breaker.IsOpen())

	err = client.Publish(context.Background(), testPlacement())
	require.ErrorIs(t, err, sentinel.ErrUnavailable)
}

func TestClient_CircuitRecoversAfterDownstreamHeals(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	breaker := circuit.New("global-registry",
		circuit.WithFailureThreshold(2),
		circuit.WithSuccessThreshold(1),
		circuit.WithCooldown(time.Minute),
		circuit.WithClock(func() time.Time { return now }),
	)
	client, err := New(srv.URL, testSigningKey, WithBreaker(breaker))
	require.NoError(t, err)

	require.Error(t, client.Publish(context.Background(), testPlacement()))
	require.Error(t, client.Publish(context.Background(), testPlacement()))
	require.True(t, breaker.IsOpen())

	// Registry comes back, but the circuit still blocks during cooldown.
	healthy.Store(true)
	err = client.Publish(context.Background(), testPlacement())
	require.ErrorIs(t, err, sentinel.ErrUnavailable)

	// After the cooldown a probe goes through, succeeds, and closes the
	// circuit; publishing resumes without a restart.
	now = now.Add(2 * time.Minute)
	require.NoError(t, client.Publish(context.Background(), testPlacement()))
	assert.False(t, breaker.IsOpen())
	require.NoError(t, client.Publish(context.Background(), testPlacement()))
}

func TestClient_New(t *testing.T) {
	_, err := New("", testSigningKey)
	require.Error(t, err)

	_, err = New("http://registry.local", "")
	require.Error(t, err)
}
