/*
Copyright 2015 All rights reserved.
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogatekeeper/identity-relay/pkg/config"
	"github.com/gogatekeeper/identity-relay/pkg/constant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAPI struct {
	server     *httptest.Server
	deliveries int32
	tokens     int32
}

// newFakeAPI serves the openid discovery, the token endpoint and the target api.
func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	fake := &fakeAPI{}
	mux := http.NewServeMux()

	mux.HandleFunc("/.well-known/openid-configuration", func(wrt http.ResponseWriter, _ *http.Request) {
		writeJSON(wrt, http.StatusOK, map[string]interface{}{
			"issuer":                 fake.server.URL,
			"authorization_endpoint": fake.server.URL + "/oauth2/authorize",
			"token_endpoint":         fake.server.URL + "/oauth2/token",
			"jwks_uri":               fake.server.URL + "/jwks",
		})
	})
	mux.HandleFunc("/oauth2/token", func(wrt http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&fake.tokens, 1)
		writeJSON(wrt, http.StatusOK, map[string]interface{}{
			"access_token": "server-test-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc(constant.DefaultEndpointPath, func(wrt http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&fake.deliveries, 1)
		if req.Header.Get(constant.AuthTokenHeader) != "server-test-token" {
			writeJSON(wrt, http.StatusUnauthorized, map[string]interface{}{"message": "Unauthorized"})
			return
		}
		writeJSON(wrt, http.StatusOK, map[string]interface{}{"received": true})
	})

	fake.server = httptest.NewServer(mux)
	t.Cleanup(fake.server.Close)
	return fake
}

func writeJSON(wrt http.ResponseWriter, code int, body interface{}) {
	wrt.Header().Set(constant.ContentTypeHeader, constant.ContentTypeJSON)
	wrt.WriteHeader(code)
	_ = json.NewEncoder(wrt).Encode(body)
}

func newTestConfig(api *fakeAPI) *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Listen = "127.0.0.1:0"
	cfg.TokenURL = api.server.URL + "/oauth2/token"
	cfg.ClientID = "relay-client"
	cfg.ClientSecret = "c2VjcmV0"
	cfg.EndpointURL = api.server.URL
	cfg.ProjectID = "demo-project"
	cfg.MetadataTimeout = 100 * time.Millisecond
	cfg.DiscoveryRetryCount = 0
	cfg.EnableMetrics = true
	cfg.CorsOrigins = []string{"https://console.example.com"}
	return cfg
}

// isolateMetadata points the metadata lookups to a closed port.
func isolateMetadata(t *testing.T) {
	t.Helper()
	closed := httptest.NewServer(http.NotFoundHandler())
	t.Setenv("GCE_METADATA_HOST", strings.TrimPrefix(closed.URL, "http://"))
	closed.Close()
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	svc, err := NewServer(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	return svc
}

func TestRelayEndToEnd(t *testing.T) {
	isolateMetadata(t)
	api := newFakeAPI(t)
	svc := newTestServer(t, newTestConfig(api))

	req := httptest.NewRequest(http.MethodPost, constant.RelayURL, strings.NewReader(`{"trigger":"manual"}`))
	req.Header.Set(constant.ContentTypeHeader, constant.ContentTypeJSON)
	resp := httptest.NewRecorder()
	svc.Router.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])

	data, ok := body["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "demo-project", data["projectId"])
	assert.Equal(t, "GCP", data["vendor"])
	assert.Equal(t, map[string]interface{}{"trigger": "manual"}, data["request"])

	assert.Equal(t, int32(1), atomic.LoadInt32(&api.tokens))
	assert.Equal(t, int32(1), atomic.LoadInt32(&api.deliveries))
	assert.NotEmpty(t, resp.Header().Get(constant.RequestIDHeader))
	assert.NotEmpty(t, resp.Header().Get(constant.VersionHeader))
}

func TestPreflight(t *testing.T) {
	isolateMetadata(t)
	api := newFakeAPI(t)
	svc := newTestServer(t, newTestConfig(api))

	req := httptest.NewRequest(http.MethodOptions, constant.RelayURL, nil)
	req.Header.Set("Origin", "https://console.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp := httptest.NewRecorder()
	svc.Router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusNoContent, resp.Code)
	assert.Equal(t, "https://console.example.com", resp.Header().Get("Access-Control-Allow-Origin"))
	assert.Zero(t, atomic.LoadInt32(&api.tokens))
}

func TestCorsHeadersRequireOrigin(t *testing.T) {
	isolateMetadata(t)
	api := newFakeAPI(t)
	svc := newTestServer(t, newTestConfig(api))

	req := httptest.NewRequest(http.MethodOptions, constant.RelayURL, nil)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp := httptest.NewRecorder()
	svc.Router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusNoContent, resp.Code)
	assert.Empty(t, resp.Header().Get("Access-Control-Allow-Origin"))
	assert.Zero(t, atomic.LoadInt32(&api.tokens))
}

func TestHealthAndMetrics(t *testing.T) {
	isolateMetadata(t)
	api := newFakeAPI(t)
	svc := newTestServer(t, newTestConfig(api))

	resp := httptest.NewRecorder()
	svc.Router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, constant.HealthURL, nil))
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "OK\n", resp.Body.String())

	resp = httptest.NewRecorder()
	svc.Router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, constant.MetricsURL, nil))
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "relay_request_status_total")
}

func TestTokenURLDiscovery(t *testing.T) {
	isolateMetadata(t)
	api := newFakeAPI(t)
	cfg := newTestConfig(api)
	cfg.TokenURL = ""
	cfg.DiscoveryURL = api.server.URL + "/.well-known/openid-configuration"

	svc := newTestServer(t, cfg)
	assert.Equal(t, api.server.URL+"/oauth2/token", svc.Relay.Credentials.TokenURL)
}

func TestTokenURLDiscoveryFailure(t *testing.T) {
	isolateMetadata(t)
	api := newFakeAPI(t)
	cfg := newTestConfig(api)
	cfg.TokenURL = ""
	cfg.DiscoveryURL = api.server.URL + "/missing"

	svc := newTestServer(t, cfg)
	assert.Empty(t, svc.Relay.Credentials.TokenURL)

	resp := httptest.NewRecorder()
	svc.Router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, constant.RelayURL, nil))
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Contains(t, resp.Body.String(), constant.EnvTokenURL)
	assert.Zero(t, atomic.LoadInt32(&api.deliveries))
}

func TestRunAndShutdown(t *testing.T) {
	isolateMetadata(t)
	api := newFakeAPI(t)
	svc := newTestServer(t, newTestConfig(api))

	require.NoError(t, svc.Run())

	resp, err := http.Get("http://" + svc.Listener.Addr().String() + constant.HealthURL)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK\n", string(body))
	assert.NoError(t, svc.Shutdown())
}

func TestCreateLogger(t *testing.T) {
	cfg := config.NewDefaultConfig()

	cfg.DisableAllLogging = true
	logger, err := CreateLogger(cfg)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.FatalLevel))

	cfg.DisableAllLogging = false
	cfg.Verbose = true
	logger, err = CreateLogger(cfg)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))
}
