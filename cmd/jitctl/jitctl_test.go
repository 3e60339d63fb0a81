package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jitaccess/internal/access/handler"
	"jitaccess/internal/access/models"
	"jitaccess/internal/access/service"
	"jitaccess/internal/access/store"
	"jitaccess/pkg/platform/middleware/auth"
	request "jitaccess/pkg/platform/middleware/request"
)

const testToken = "cli-token"

type okEnforcer struct{}

func (okEnforcer) SubmitGrant(context.Context, models.PolicyGrant) error { return nil }

func newTestServer(t *testing.T) string {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := service.New(store.NewInMemory(),
		service.WithEnforcer(okEnforcer{}),
		service.WithApprovers("bob@co"),
		service.WithLogger(logger),
	)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(auth.RequirePrincipal(testToken, logger))
	handler.New(svc, logger).Register(r)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		svc.Wait()
	})
	return srv.URL
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRequestApproveDescribe(t *testing.T) {
	base := newTestServer(t)
	as := func(principal string, args ...string) []string {
		return append([]string{"--server", base, "--principal", principal, "--token", testToken, "-o", "json"}, args...)
	}

	out, err := runCLI(t, as("alice@co", "request", "db.read", "--ttl", "30m", "--params", `{"db":"orders"}`, "--reason", "incident")...)
	require.NoError(t, err)
	var created map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	reqID := created["id"]
	require.NotEmpty(t, reqID)

	out, err = runCLI(t, as("bob@co", "approve", reqID, "--ttl", "15m")...)
	require.NoError(t, err)
	var approved requestView
	require.NoError(t, json.Unmarshal([]byte(out), &approved))
	assert.Equal(t, "approved", approved.Status)
	assert.Equal(t, "15m", approved.GrantedTTL)
	assert.Equal(t, "bob@co", approved.Approver)

	out, err = runCLI(t, as("alice@co", "describe", reqID)...)
	require.NoError(t, err)
	var described requestView
	require.NoError(t, json.Unmarshal([]byte(out), &described))
	assert.Equal(t, reqID, described.ID)
	assert.JSONEq(t, `{"db":"orders"}`, string(described.ActionParams))

	out, err = runCLI(t, as("bob@co", "list", "approved", "db.read")...)
	require.NoError(t, err)
	var listed []requestView
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, reqID, listed[0].ID)
}

func TestRejectTwiceIsConflict(t *testing.T) {
	base := newTestServer(t)
	common := []string{"--server", base, "--token", testToken}

	out, err := runCLI(t, append(common, "--principal", "alice@co", "request", "deploy")...)
	require.NoError(t, err)
	require.Contains(t, out, "Access request ")
	reqID := extractID(t, out)

	out, err = runCLI(t, append(common, "--principal", "bob@co", "reject", reqID)...)
	require.NoError(t, err)
	assert.Contains(t, out, "rejected")

	_, err = runCLI(t, append(common, "--principal", "bob@co", "reject", reqID)...)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 409, apiErr.Status)
	assert.Equal(t, "already_decided", apiErr.Code)
}

func TestTextListEmpty(t *testing.T) {
	base := newTestServer(t)
	out, err := runCLI(t, "--server", base, "--principal", "bob@co", "--token", testToken, "list")
	require.NoError(t, err)
	assert.Equal(t, "No access requests found.\n", out)
}

func TestClientSideValidation(t *testing.T) {
	base := newTestServer(t)

	_, err := runCLI(t, "--server", base, "--principal", "alice@co", "request", "db.read", "--ttl", "1d")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--ttl")

	_, err = runCLI(t, "--server", base, "--principal", "alice@co", "request", "db.read", "--params", "{")
	require.Error(t, err)

	_, err = runCLI(t, "--server", base, "describe", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--principal")

	_, err = runCLI(t, "--server", "ftp://nope", "--principal", "alice@co", "describe", "abc")
	require.Error(t, err)
}

func TestWrongTokenIsUnauthorized(t *testing.T) {
	base := newTestServer(t)
	_, err := runCLI(t, "--server", base, "--principal", "alice@co", "--token", "wrong", "list")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.Status)
}

func TestEnvFallback(t *testing.T) {
	base := newTestServer(t)
	t.Setenv("JIT_SERVER", base)
	t.Setenv("JIT_PRINCIPAL", "bob@co")
	t.Setenv("JIT_API_TOKEN", testToken)

	out, err := runCLI(t, "list", "all")
	require.NoError(t, err)
	assert.Contains(t, out, "No access requests found.")
}

func extractID(t *testing.T, out string) string {
	t.Helper()
	var reqID string
	_, err := fmt.Sscanf(out, "Access request %s created.", &reqID)
	require.NoError(t, err)
	return reqID
}

func TestBearerToken(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := service.New(store.NewInMemory(), service.WithEnforcer(okEnforcer{}), service.WithLogger(logger))
	require.NoError(t, err)
	verifier := auth.NewTokenVerifier("k3y", "", "")

	r := chi.NewRouter()
	r.Use(auth.RequireBearer(verifier, logger))
	handler.New(svc, logger).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		svc.Wait()
	})

	token, err := verifier.Issue("alice@co", time.Minute)
	require.NoError(t, err)

	out, err := runCLI(t, "--server", srv.URL, "--bearer", token, "-o", "json", "request", "db.read")
	require.NoError(t, err)
	var created map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &created))

	out, err = runCLI(t, "--server", srv.URL, "--bearer", token, "-o", "json", "describe", created["id"])
	require.NoError(t, err)
	var described requestView
	require.NoError(t, json.Unmarshal([]byte(out), &described))
	assert.Equal(t, "alice@co", described.Requester)
}
