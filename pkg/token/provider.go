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

package token

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gogatekeeper/identity-relay/pkg/apperrors"
	"github.com/gogatekeeper/identity-relay/pkg/constant"
	"github.com/gogatekeeper/identity-relay/pkg/metrics"
	"github.com/gogatekeeper/identity-relay/pkg/secret"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Credentials are the client credentials used against the token endpoint.
type Credentials struct {
	TokenURL        string
	ClientID        string
	ClientSecretRaw string
	Scope           string
}

// Options modify a single acquisition.
type Options struct {
	// ForceRefresh marks the exchange as a refresh after a rejected token,
	// the exchange itself is identical.
	ForceRefresh bool
}

// Grant is the outcome of a successful exchange. A grant is never mutated,
// a refresh produces a new one.
type Grant struct {
	Token        string                 `json:"-"`
	TokenType    string                 `json:"tokenType"`
	ExpiresIn    int                    `json:"expiresIn,omitempty"`
	GrantedScope string                 `json:"scope,omitempty"`
	Claims       map[string]interface{} `json:"claims,omitempty"`
	Expiry       *time.Time             `json:"expiry,omitempty"`
}

// Provider performs client credentials exchanges. It holds no tokens: every
// call to Acquire is a fresh request to the token endpoint.
type Provider struct {
	log     *zap.Logger
	client  *http.Client
	timeout time.Duration
}

// NewProvider returns a provider using client for the exchange, a nil client
// falls back to http.DefaultClient.
func NewProvider(log *zap.Logger, client *http.Client, timeout time.Duration) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = constant.DefaultTokenTimeout
	}

	return &Provider{log: log, client: client, timeout: timeout}
}

// Missing returns the names of the required credential fields which are
// absent, the secret counts as absent when it resolves to nothing.
func (c Credentials) Missing() []string {
	var missing []string
	if strings.TrimSpace(c.TokenURL) == "" {
		missing = append(missing, constant.EnvTokenURL)
	}
	if strings.TrimSpace(c.ClientID) == "" {
		missing = append(missing, constant.EnvClientID)
	}
	if secret.Resolve(c.ClientSecretRaw) == "" {
		missing = append(missing, constant.EnvClientSecret)
	}
	return missing
}

// Acquire exchanges the credentials for an access token.
//
//nolint:cyclop
func (p *Provider) Acquire(ctx context.Context, creds Credentials, opts Options) (*Grant, error) {
	action := "acquire"
	if opts.ForceRefresh {
		action = "refresh"
	}

	if missing := creds.Missing(); len(missing) > 0 {
		metrics.OauthTokensMetric.WithLabelValues("failure").Inc()
		return nil, &apperrors.ConfigurationError{Missing: missing}
	}

	conf := &clientcredentials.Config{
		ClientID:     strings.TrimSpace(creds.ClientID),
		ClientSecret: secret.Resolve(creds.ClientSecretRaw),
		TokenURL:     strings.TrimSpace(creds.TokenURL),
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if scope := strings.TrimSpace(creds.Scope); scope != "" {
		conf.Scopes = []string{scope}
	}

	lLog := p.log.With(
		zap.String("token_url", conf.TokenURL),
		zap.String("client_id", conf.ClientID),
		zap.Bool("force_refresh", opts.ForceRefresh),
	)
	lLog.Debug("requesting access token via client credentials")

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	start := time.Now()

	tkn, err := conf.Token(ctx)
	if err != nil {
		metrics.OauthTokensMetric.WithLabelValues("failure").Inc()
		exchangeErr := newExchangeError(err)
		lLog.Error(
			"token exchange failed",
			zap.String("error", exchangeErr.Message),
			zap.Int("status", exchangeErr.StatusCode),
		)
		return nil, exchangeErr
	}

	if tkn.AccessToken == "" {
		metrics.OauthTokensMetric.WithLabelValues("failure").Inc()
		return nil, &apperrors.TokenExchangeError{
			Message: apperrors.ErrMissingAccessToken.Error(),
			Err:     apperrors.ErrMissingAccessToken,
		}
	}

	metrics.OauthTokensMetric.WithLabelValues(action).Inc()
	metrics.OauthLatencyMetric.WithLabelValues(action).Observe(time.Since(start).Seconds())

	grant := &Grant{
		Token:        tkn.AccessToken,
		TokenType:    tkn.Type(),
		ExpiresIn:    expiresIn(tkn),
		GrantedScope: extraString(tkn, "scope"),
	}
	if !tkn.Expiry.IsZero() {
		expiry := tkn.Expiry
		grant.Expiry = &expiry
	}

	claims, err := DecodeClaims(tkn.AccessToken)
	if err != nil {
		lLog.Debug("access token claims are not decodable", zap.Error(err))
	} else {
		grant.Claims = claims
	}

	lLog.Info(
		"obtained access token",
		zap.String("token_type", grant.TokenType),
		zap.Int("expires_in", grant.ExpiresIn),
		zap.String("scope", grant.GrantedScope),
		zap.Int("token_length", len(grant.Token)),
	)

	return grant, nil
}

// newExchangeError surfaces the provider's error_description or error field
// when the endpoint answered, otherwise the transport error.
func newExchangeError(err error) *apperrors.TokenExchangeError {
	exchangeErr := &apperrors.TokenExchangeError{Message: err.Error(), Err: err}

	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		exchangeErr.ErrorCode = rErr.ErrorCode
		exchangeErr.Description = rErr.ErrorDescription
		exchangeErr.Body = string(rErr.Body)
		if rErr.Response != nil {
			exchangeErr.StatusCode = rErr.Response.StatusCode
		}

		switch {
		case rErr.ErrorDescription != "":
			exchangeErr.Message = rErr.ErrorDescription
		case rErr.ErrorCode != "":
			exchangeErr.Message = rErr.ErrorCode
		}

		return exchangeErr
	}

	if strings.Contains(err.Error(), "missing access_token") {
		exchangeErr.Message = apperrors.ErrMissingAccessToken.Error()
		exchangeErr.Err = errors.Join(apperrors.ErrMissingAccessToken, err)
	}

	return exchangeErr
}

func expiresIn(tkn *oauth2.Token) int {
	switch value := tkn.Extra("expires_in").(type) {
	case float64:
		return int(value)
	case int:
		return value
	case int64:
		return int(value)
	case string:
		if seconds, err := strconv.Atoi(value); err == nil {
			return seconds
		}
	}

	if !tkn.Expiry.IsZero() {
		return int(time.Until(tkn.Expiry).Round(time.Second).Seconds())
	}

	return 0
}

func extraString(tkn *oauth2.Token, key string) string {
	if value, ok := tkn.Extra(key).(string); ok {
		return value
	}
	return ""
}
