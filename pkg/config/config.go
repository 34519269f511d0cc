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
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gogatekeeper/identity-relay/pkg/apperrors"
	"github.com/gogatekeeper/identity-relay/pkg/constant"
	"github.com/gogatekeeper/identity-relay/pkg/endpoint"
	"github.com/gogatekeeper/identity-relay/pkg/environment"
	"github.com/gogatekeeper/identity-relay/pkg/token"
	"gopkg.in/yaml.v2"
)

//nolint:tagalign
type Config struct {
	CorsOrigins        []string `json:"cors-origins" usage:"origins to add to the CORS origins control (Access-Control-Allow-Origin)" yaml:"cors-origins"`
	CorsMethods        []string `json:"cors-methods" usage:"methods permitted in the access control (Access-Control-Allow-Methods)" yaml:"cors-methods"`
	CorsHeaders        []string `json:"cors-headers" usage:"set of headers to add to the CORS access control (Access-Control-Allow-Headers)" yaml:"cors-headers"`
	CorsExposedHeaders []string `json:"cors-exposed-headers" usage:"expose cors headers access control (Access-Control-Expose-Headers)" yaml:"cors-exposed-headers"`
	Hostnames          []string `json:"hostnames" usage:"list of hostnames the service will respond to" yaml:"hostnames"`

	ConfigFile string `env:"CONFIG_FILE" json:"config" usage:"path the a configuration file" yaml:"config"`
	Listen     string `env:"LISTEN,PORT" json:"listen" usage:"the interface the relay function is served on, e.g. {address}:{port}, a bare port is accepted" yaml:"listen"`

	TokenURL     string `env:"COGNITO_TOKEN_URL" json:"token-url" usage:"the oauth2 token endpoint used for the client credentials exchange" yaml:"token-url"`
	DiscoveryURL string `env:"COGNITO_DISCOVERY_URL" json:"discovery-url" usage:"openid discovery url used to find the token endpoint when token-url is not set" yaml:"discovery-url"`
	ClientID     string `env:"COGNITO_CLIENT_ID" json:"client-id" usage:"client id used for the client credentials exchange" yaml:"client-id"`
	ClientSecret string `env:"COGNITO_CLIENT_SECRET_B64" json:"client-secret" usage:"client secret, base64 encoded or plaintext" yaml:"client-secret"`
	Scope        string `env:"COGNITO_SCOPE" json:"scope" usage:"scope requested in the client credentials exchange" yaml:"scope"`

	EndpointURL  string `env:"AWS_API_ENDPOINT" json:"endpoint-url" usage:"base url of the api the payload is delivered to" yaml:"endpoint-url"`
	EndpointPath string `env:"AWS_API_PATH" json:"endpoint-path" usage:"path overriding the path of endpoint-url, disables the alternate path fallback" yaml:"endpoint-path"`
	DefaultPath  string `env:"AWS_API_DEFAULT_PATH" json:"default-path" usage:"path appended to endpoint-url when it has no path" yaml:"default-path"`
	APIKey       string `env:"AWS_API_KEY" json:"api-key" usage:"api key sent in the x-api-key header" yaml:"api-key"`

	ProjectID                string `env:"GCP_PROJECT" json:"project-id" usage:"project id reported in the payload, discovered from the environment when empty" yaml:"project-id"`
	ServiceAccountPrefix     string `json:"aws-service-account-prefix" usage:"email prefix of the service account federated with aws" yaml:"aws-service-account-prefix"`
	AWSServiceAccount        string `env:"AWS_SERVICE_ACCOUNT_EMAIL" json:"aws-service-account" usage:"email of the service account federated with aws" yaml:"aws-service-account"`
	WorkloadIdentityPool     string `env:"WORKLOAD_IDENTITY_POOL_ID" json:"workload-identity-pool" usage:"id of the workload identity pool reported in the payload" yaml:"workload-identity-pool"`
	WorkloadIdentityProvider string `env:"WORKLOAD_IDENTITY_PROVIDER_ID" json:"workload-identity-provider" usage:"id of the workload identity provider reported in the payload" yaml:"workload-identity-provider"`
	PayloadVendor            string `json:"payload-vendor" usage:"vendor field of the payload, empty omits it" yaml:"payload-vendor"`
	ContentSecurityPolicy    string `json:"content-security-policy" usage:"specify the content security policy" yaml:"content-security-policy"`

	TokenTimeout       time.Duration `json:"token-timeout" usage:"timeout of the token endpoint requests" yaml:"token-timeout"`
	DeliveryTimeout    time.Duration `json:"delivery-timeout" usage:"timeout of each delivery attempt" yaml:"delivery-timeout"`
	MetadataTimeout    time.Duration `json:"metadata-timeout" usage:"timeout of each metadata server lookup" yaml:"metadata-timeout"`
	CorsMaxAge         time.Duration `json:"cors-max-age" usage:"max age applied to cors headers (Access-Control-Max-Age)" yaml:"cors-max-age"`
	ServerReadTimeout  time.Duration `json:"server-read-timeout" usage:"the server read timeout on the http server" yaml:"server-read-timeout"`
	ServerWriteTimeout time.Duration `json:"server-write-timeout" usage:"the server write timeout on the http server" yaml:"server-write-timeout"`
	ServerIdleTimeout  time.Duration `json:"server-idle-timeout" usage:"the server idle timeout on the http server" yaml:"server-idle-timeout"`
	ServerGraceTimeout time.Duration `json:"server-grace-timeout" usage:"time the server waits for in-flight requests on shutdown" yaml:"server-grace-timeout"`

	DiscoveryRetryCount int `json:"discovery-retry-count" usage:"number of retries of the openid discovery at startup" yaml:"discovery-retry-count"`

	EnableIAMLookup        bool `json:"enable-iam-lookup" usage:"list the project iam resources when the environment does not report them" yaml:"enable-iam-lookup"`
	CorsCredentials        bool `json:"cors-credentials" usage:"credentials access control header (Access-Control-Allow-Credentials)" yaml:"cors-credentials"`
	EnableSecurityFilter   bool `json:"enable-security-filter" usage:"enables the security filter" yaml:"enable-security-filter"`
	EnableHTTPSRedirect    bool `json:"enable-https-redirection" usage:"enable the http to https redirection on the http service" yaml:"enable-https-redirection"`
	EnableBrowserXSSFilter bool `json:"filter-browser-xss" usage:"enable the adds the X-XSS-Protection header with mode=block" yaml:"filter-browser-xss"`
	EnableContentNoSniff   bool `json:"filter-content-nosniff" usage:"adds the X-Content-Type-Options header with the value nosniff" yaml:"filter-content-nosniff"`
	EnableFrameDeny        bool `json:"filter-frame-deny" usage:"enable to the frame deny header" yaml:"filter-frame-deny"`
	EnableMetrics          bool `json:"enable-metrics" usage:"enable the prometheus metrics collector on /metrics" yaml:"enable-metrics"`
	EnableJSONLogging      bool `json:"enable-json-logging" usage:"switch on json logging rather than text" yaml:"enable-json-logging"`
	Verbose                bool `json:"verbose" usage:"switch on debug / verbose logging, error responses carry the full error chain" yaml:"verbose"`
	DisableAllLogging      bool `json:"disable-all-logging" usage:"disables all logging to stdout and stderr" yaml:"disable-all-logging"`
}

// NewDefaultConfig returns a initialized config
func NewDefaultConfig() *Config {
	return &Config{
		Listen:               constant.DefaultListen,
		DefaultPath:          constant.DefaultEndpointPath,
		ServiceAccountPrefix: constant.DefaultServiceAccountPrefix,
		PayloadVendor:        constant.DefaultPayloadVendor,
		TokenTimeout:         constant.DefaultTokenTimeout,
		DiscoveryRetryCount:  constant.DefaultDiscoveryRetryCount,
		DeliveryTimeout:      constant.DefaultDeliveryTimeout,
		MetadataTimeout:      constant.DefaultMetadataTimeout,
		ServerGraceTimeout:   constant.DefaultServerGraceTimeout,
		ServerIdleTimeout:    constant.DefaultServerIdleTimeout,
		ServerReadTimeout:    constant.DefaultServerReadTimeout,
		ServerWriteTimeout:   constant.DefaultServerWriteTimeout,
		CorsMethods:          []string{"GET", "POST", "OPTIONS"},
		CorsHeaders:          []string{"Content-Type", "Authorization"},
		EnableContentNoSniff: true,
		EnableFrameDeny:      true,
	}
}

// ReadConfigFile reads and parses the configuration file
func (r *Config) ReadConfigFile(filename string) error {
	content, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	switch filepath.Ext(filename) {
	case ".json":
		//nolint:musttag
		err = json.Unmarshal(content, r)
	default:
		err = yaml.Unmarshal(content, r)
	}

	return err
}

// Update normalizes the values read from the sources.
func (r *Config) Update() error {
	r.Listen = strings.TrimSpace(r.Listen)
	if r.Listen != "" && !strings.Contains(r.Listen, ":") {
		r.Listen = ":" + r.Listen
	}

	r.EndpointURL = strings.TrimSpace(r.EndpointURL)
	r.TokenURL = strings.TrimSpace(r.TokenURL)
	r.DiscoveryURL = strings.TrimSpace(r.DiscoveryURL)

	if r.DefaultPath == "" {
		r.DefaultPath = constant.DefaultEndpointPath
	}

	return nil
}

// IsValid validates if the config is valid. Credentials are checked on each
// invocation instead.
func (r *Config) IsValid() error {
	validationRegistry := []func() error{
		r.isListenValid,
		r.isEndpointURLValid,
		r.isTokenURLValid,
		r.isDiscoveryURLValid,
		r.isTimeoutValid,
		r.isCorsValid,
	}

	for _, validationFunc := range validationRegistry {
		if err := validationFunc(); err != nil {
			return err
		}
	}

	return nil
}

// Credentials returns the client credentials of the token exchange.
func (r *Config) Credentials() token.Credentials {
	return token.Credentials{
		TokenURL:        r.TokenURL,
		ClientID:        r.ClientID,
		ClientSecretRaw: r.ClientSecret,
		Scope:           r.Scope,
	}
}

func (r *Config) EndpointConfig() endpoint.Config {
	return endpoint.Config{
		BaseURL:      r.EndpointURL,
		OverridePath: r.EndpointPath,
		DefaultPath:  r.DefaultPath,
	}
}

func (r *Config) EnvironmentSettings() environment.Settings {
	return environment.Settings{
		ProjectID:                r.ProjectID,
		ServiceAccountPrefix:     r.ServiceAccountPrefix,
		AWSServiceAccount:        r.AWSServiceAccount,
		WorkloadIdentityPool:     r.WorkloadIdentityPool,
		WorkloadIdentityProvider: r.WorkloadIdentityProvider,
		Vendor:                   r.PayloadVendor,
		EnableIAMLookup:          r.EnableIAMLookup,
	}
}

func (r *Config) isListenValid() error {
	if r.Listen == "" {
		return apperrors.ErrMissingListenInterface
	}
	return nil
}

func (r *Config) isEndpointURLValid() error {
	if r.EndpointURL == "" {
		return apperrors.ErrMissingEndpointURL
	}
	if !isHTTPURL(r.EndpointURL) {
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidEndpointURL, r.EndpointURL)
	}
	return nil
}

func (r *Config) isTokenURLValid() error {
	if r.TokenURL != "" && !isHTTPURL(r.TokenURL) {
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidTokenURL, r.TokenURL)
	}
	return nil
}

func (r *Config) isDiscoveryURLValid() error {
	if r.DiscoveryURL != "" && !isHTTPURL(r.DiscoveryURL) {
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidDiscoveryURL, r.DiscoveryURL)
	}
	return nil
}

func (r *Config) isTimeoutValid() error {
	timeouts := map[string]time.Duration{
		"token-timeout":    r.TokenTimeout,
		"delivery-timeout": r.DeliveryTimeout,
		"metadata-timeout": r.MetadataTimeout,
	}
	for name, timeout := range timeouts {
		if timeout <= 0 {
			return fmt.Errorf("%w: %s", apperrors.ErrInvalidTimeout, name)
		}
	}
	return nil
}

func (r *Config) isCorsValid() error {
	if !r.CorsCredentials {
		return nil
	}
	for _, origin := range r.CorsOrigins {
		if origin == "*" {
			return apperrors.ErrInvalidOriginWithCreds
		}
	}
	return nil
}

func isHTTPURL(raw string) bool {
	parsed, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
