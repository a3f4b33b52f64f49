package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/fan-verify/internal/auth"
	"github.com/example/fan-verify/internal/handlers"
	"github.com/example/fan-verify/internal/repository"
	"github.com/example/fan-verify/internal/usecase"
	"github.com/example/fan-verify/internal/visionclassifier"
)

var errNotWired = errors.New("not wired in this test")

// slowVerification holds GetStatus open until release is closed.
type slowVerification struct {
	started chan struct{}
	release chan struct{}
}

func (v *slowVerification) VerifyIdentity(ctx context.Context, userID string, document, selfie visionclassifier.Image) (*usecase.VerificationResult, error) {
	return nil, errNotWired
}

func (v *slowVerification) SaveResult(ctx context.Context, userID string, faceVerified bool, confidence *float64) (string, error) {
	return "", errNotWired
}

func (v *slowVerification) CompleteVerification(ctx context.Context, userID string) (string, error) {
	return "", errNotWired
}

func (v *slowVerification) GetStatus(ctx context.Context, sessionUserID, targetUserID string) (*usecase.StatusView, error) {
	close(v.started)
	<-v.release
	return &usecase.StatusView{Status: repository.StatusVerified, FaceVerified: true}, nil
}

func (v *slowVerification) GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error) {
	return nil, errNotWired
}

type knownAccounts struct{}

func (knownAccounts) Register(ctx context.Context, in usecase.RegisterInput) (*usecase.Session, error) {
	return nil, errNotWired
}

func (knownAccounts) Login(ctx context.Context, email, password string) (*usecase.Session, error) {
	return nil, errNotWired
}

func (knownAccounts) GoogleLogin(ctx context.Context, idToken string) (*usecase.Session, error) {
	return nil, errNotWired
}

func (knownAccounts) Me(ctx context.Context, userID string) (*repository.User, error) {
	return nil, errNotWired
}

func (knownAccounts) UserExists(ctx context.Context, userID string) (bool, error) {
	return userID == "user-123", nil
}

func TestServerDrainsInFlightStatusRequestOnShutdown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	verification := &slowVerification{started: make(chan struct{}), release: make(chan struct{})}
	released := false
	defer func() {
		if !released {
			close(verification.release)
		}
	}()

	tokens := auth.NewTokenManager("test-secret", "", time.Hour)
	token, _, err := tokens.Issue("user-123")
	require.NoError(t, err)

	server := newHTTPServer("", handlers.Dependencies{
		Verification: verification,
		Accounts:     knownAccounts{},
		Tokens:       tokens,
		Logger:       logger,
	}, []string{"http://localhost:3000"})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveHTTPServerWithOptions(server, 2*time.Second, logger, listener, signalCh)
	}()

	addr := listener.Addr().String()
	waitForServer(t, addr)

	req, err := http.NewRequest(http.MethodGet, "http://"+addr+"/api/verification/status", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 2 * time.Second}
	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := client.Do(req)
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case <-verification.started:
	case err := <-errCh:
		t.Fatalf("request failed before reaching the handler: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not reach the status handler")
	}

	signalCh <- syscall.SIGTERM
	time.Sleep(50 * time.Millisecond)
	close(verification.release)
	released = true

	select {
	case resp := <-respCh:
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

		var body struct {
			Success      bool              `json:"success"`
			Status       repository.Status `json:"status"`
			FaceVerified bool              `json:"faceVerified"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.True(t, body.Success)
		assert.Equal(t, repository.StatusVerified, body.Status)
		assert.True(t, body.FaceVerified)
	case err := <-errCh:
		t.Fatalf("request failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not complete")
	}

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}

	_, err = net.DialTimeout("tcp", addr, 100*time.Millisecond)
	assert.Error(t, err, "listener should be closed after shutdown")
}

func TestServerRejectsUnauthenticatedRequestsBeforeShutdown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	server := newHTTPServer("", handlers.Dependencies{
		Verification: &slowVerification{started: make(chan struct{}), release: make(chan struct{})},
		Accounts:     knownAccounts{},
		Tokens:       auth.NewTokenManager("test-secret", "", time.Hour),
		Logger:       logger,
	}, nil)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveHTTPServerWithOptions(server, time.Second, logger, listener, signalCh)
	}()
	addr := listener.Addr().String()
	waitForServer(t, addr)

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/api/verification/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = client.Get("http://" + addr + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	signalCh <- syscall.SIGINT
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server %s did not become ready", addr)
}
