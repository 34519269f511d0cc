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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gogatekeeper/identity-relay/pkg/apperrors"
	"github.com/gogatekeeper/identity-relay/pkg/constant"
	"github.com/gogatekeeper/identity-relay/pkg/endpoint"
	"github.com/gogatekeeper/identity-relay/pkg/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"
)

func writeFakeConfigFile(t *testing.T, name string, content string) string {
	t.Helper()
	filename := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(filename, []byte(content), 0600))
	return filename
}

func newValidConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.EndpointURL = "https://api.example.com"
	return cfg
}

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, constant.DefaultListen, cfg.Listen)
	assert.Equal(t, constant.DefaultEndpointPath, cfg.DefaultPath)
	assert.Equal(t, constant.DefaultPayloadVendor, cfg.PayloadVendor)
	assert.Equal(t, 10*time.Second, cfg.TokenTimeout)
	assert.Equal(t, 10*time.Second, cfg.DeliveryTimeout)
}

func TestReadConfiguration(t *testing.T) {
	testCases := []struct {
		Name     string
		File     string
		Content  string
		Expected func(t *testing.T, cfg *Config)
	}{
		{
			Name: "YAML",
			File: "config.yml",
			Content: `
token-url: https://auth.example.com/oauth2/token
client-id: relay
client-secret: c2VjcmV0
endpoint-url: https://api.example.com
delivery-timeout: 3s
cors-origins:
  - https://console.example.com
enable-iam-lookup: true
`,
			Expected: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "https://auth.example.com/oauth2/token", cfg.TokenURL)
				assert.Equal(t, "relay", cfg.ClientID)
				assert.Equal(t, "c2VjcmV0", cfg.ClientSecret)
				assert.Equal(t, 3*time.Second, cfg.DeliveryTimeout)
				assert.Equal(t, []string{"https://console.example.com"}, cfg.CorsOrigins)
				assert.True(t, cfg.EnableIAMLookup)
				assert.Equal(t, constant.DefaultPayloadVendor, cfg.PayloadVendor)
			},
		},
		{
			Name:    "JSON",
			File:    "config.json",
			Content: `{"endpoint-url": "https://api.example.com/stage/path", "endpoint-path": "assess", "verbose": true}`,
			Expected: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "https://api.example.com/stage/path", cfg.EndpointURL)
				assert.Equal(t, "assess", cfg.EndpointPath)
				assert.True(t, cfg.Verbose)
			},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.Name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			require.NoError(t, cfg.ReadConfigFile(writeFakeConfigFile(t, testCase.File, testCase.Content)))
			testCase.Expected(t, cfg)
		})
	}
}

func TestReadConfigurationErrors(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.Error(t, cfg.ReadConfigFile(filepath.Join(t.TempDir(), "missing.yml")))
	assert.Error(t, cfg.ReadConfigFile(writeFakeConfigFile(t, "bad.json", "{")))
}

func TestIsValid(t *testing.T) {
	testCases := []struct {
		Name   string
		Modify func(cfg *Config)
		Err    error
	}{
		{
			Name:   "Valid",
			Modify: func(*Config) {},
		},
		{
			Name: "MissingCredentialsAreValid",
			Modify: func(cfg *Config) {
				cfg.TokenURL = ""
				cfg.ClientID = ""
				cfg.ClientSecret = ""
			},
		},
		{
			Name:   "MissingListen",
			Modify: func(cfg *Config) { cfg.Listen = "" },
			Err:    apperrors.ErrMissingListenInterface,
		},
		{
			Name:   "MissingEndpoint",
			Modify: func(cfg *Config) { cfg.EndpointURL = "" },
			Err:    apperrors.ErrMissingEndpointURL,
		},
		{
			Name:   "RelativeEndpoint",
			Modify: func(cfg *Config) { cfg.EndpointURL = "api.example.com/path" },
			Err:    apperrors.ErrInvalidEndpointURL,
		},
		{
			Name:   "InvalidTokenURL",
			Modify: func(cfg *Config) { cfg.TokenURL = "ftp://auth.example.com" },
			Err:    apperrors.ErrInvalidTokenURL,
		},
		{
			Name:   "InvalidDiscoveryURL",
			Modify: func(cfg *Config) { cfg.DiscoveryURL = "not a url" },
			Err:    apperrors.ErrInvalidDiscoveryURL,
		},
		{
			Name:   "ZeroTimeout",
			Modify: func(cfg *Config) { cfg.DeliveryTimeout = 0 },
			Err:    apperrors.ErrInvalidTimeout,
		},
		{
			Name: "WildcardOriginWithCredentials",
			Modify: func(cfg *Config) {
				cfg.CorsOrigins = []string{"*"}
				cfg.CorsCredentials = true
			},
			Err: apperrors.ErrInvalidOriginWithCreds,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.Name, func(t *testing.T) {
			t.Parallel()
			cfg := newValidConfig()
			testCase.Modify(cfg)

			err := cfg.IsValid()
			if testCase.Err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, testCase.Err)
		})
	}
}

func TestUpdate(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Listen = "9090"
	cfg.EndpointURL = " https://api.example.com "
	cfg.DefaultPath = ""

	require.NoError(t, cfg.Update())
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "https://api.example.com", cfg.EndpointURL)
	assert.Equal(t, constant.DefaultEndpointPath, cfg.DefaultPath)

	cfg.Listen = "127.0.0.1:8081"
	require.NoError(t, cfg.Update())
	assert.Equal(t, "127.0.0.1:8081", cfg.Listen)
}

func TestAccessors(t *testing.T) {
	cfg := newValidConfig()
	cfg.TokenURL = "https://auth.example.com/oauth2/token"
	cfg.ClientID = "relay"
	cfg.ClientSecret = "c2VjcmV0"
	cfg.Scope = "relay/write"
	cfg.EndpointPath = "assess"
	cfg.ProjectID = "demo"

	assert.Equal(t, token.Credentials{
		TokenURL:        "https://auth.example.com/oauth2/token",
		ClientID:        "relay",
		ClientSecretRaw: "c2VjcmV0",
		Scope:           "relay/write",
	}, cfg.Credentials())
	assert.Equal(t, endpoint.Config{
		BaseURL:      "https://api.example.com",
		OverridePath: "assess",
		DefaultPath:  constant.DefaultEndpointPath,
	}, cfg.EndpointConfig())

	settings := cfg.EnvironmentSettings()
	assert.Equal(t, "demo", settings.ProjectID)
	assert.Equal(t, constant.DefaultServiceAccountPrefix, settings.ServiceAccountPrefix)
	assert.Equal(t, constant.DefaultPayloadVendor, settings.Vendor)
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, constant.EnvClientSecret, EnvName("ClientSecret"))
	assert.Equal(t, constant.EnvTokenURL, EnvName("TokenURL"))
	assert.Equal(t, "RELAY_ENABLE_IAM_LOOKUP", EnvName("EnableIAMLookup"))
	assert.Equal(t, "RELAY_DELIVERY_TIMEOUT", EnvName("DeliveryTimeout"))
	assert.Empty(t, EnvName("Unknown"))
}

func TestGetCommandLineOptions(t *testing.T) {
	flags := GetCommandLineOptions()

	names := map[string]bool{}
	for _, flag := range flags {
		names[flag.GetName()] = true
	}

	for _, name := range []string{"listen", "token-url", "client-secret", "cors-origins", "delivery-timeout", "verbose"} {
		assert.True(t, names[name], "flag %s is missing", name)
	}
}

func TestParseCLIOptions(t *testing.T) {
	t.Setenv(constant.EnvClientID, "from-env")

	cfg := NewDefaultConfig()

	app := cli.NewApp()
	app.Flags = GetCommandLineOptions()
	app.Action = func(cx *cli.Context) error {
		return cfg.ParseCLIOptions(cx)
	}

	err := app.Run([]string{
		constant.Prog,
		"--endpoint-url=https://api.example.com",
		"--cors-origins=https://a.example.com,https://b.example.com",
		"--delivery-timeout=3s",
		"--enable-metrics",
		"--filter-frame-deny=false",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", cfg.EndpointURL)
	assert.Equal(t, "from-env", cfg.ClientID)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CorsOrigins)
	assert.Equal(t, 3*time.Second, cfg.DeliveryTimeout)
	assert.True(t, cfg.EnableMetrics)
	assert.False(t, cfg.EnableFrameDeny)
	assert.Equal(t, constant.DefaultTokenTimeout, cfg.TokenTimeout)
}
