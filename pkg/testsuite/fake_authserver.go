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

package testsuite

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jose2 "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/gogatekeeper/identity-relay/pkg/constant"
)

const (
	FakeClientID     = "relay-client"
	FakeClientSecret = "relay-secret"
	FakeScope        = "relay/invoke"
	FakeKeyID        = "test-kid"
	WellKnownURI     = "/.well-known/openid-configuration"
	TokenURI         = "/oauth2/token"
	KeysURI          = "/oauth2/keys"
	rsaKeyBits       = 2048
)

type fakeDiscoveryResponse struct {
	Issuer     string   `json:"issuer"`
	AuthURL    string   `json:"authorization_endpoint"`
	TokenURL   string   `json:"token_endpoint"`
	JWKSURL    string   `json:"jwks_uri"`
	Algorithms []string `json:"id_token_signing_alg_values_supported"`
}

type fakeTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// FakeAuthServer simulates a client credentials authorization server with
// openid discovery. Every issued access token is an RS256 signed JWT.
type FakeAuthServer struct {
	server     *httptest.Server
	key        *rsa.PrivateKey
	expiration time.Duration
	issued     int32

	mu     sync.Mutex
	tokens []string
}

// NewFakeAuthServer starts the fake authorization server, callers must Close it.
func NewFakeAuthServer() *FakeAuthServer {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		panic("failed to generate the signing key, error: " + err.Error())
	}

	service := &FakeAuthServer{key: key, expiration: time.Hour}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get(WellKnownURI, service.discoveryHandler)
	router.Get(KeysURI, service.keysHandler)
	router.Post(TokenURI, service.tokenHandler)

	service.server = httptest.NewServer(router)
	return service
}

func (r *FakeAuthServer) Close() {
	r.server.Close()
}

// URL is the issuer, usable as the discovery url.
func (r *FakeAuthServer) URL() string {
	return r.server.URL
}

func (r *FakeAuthServer) TokenURL() string {
	return r.server.URL + TokenURI
}

// Issued is the number of tokens handed out so far.
func (r *FakeAuthServer) Issued() int {
	return int(atomic.LoadInt32(&r.issued))
}

// LastToken returns the most recently issued access token.
func (r *FakeAuthServer) LastToken() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.tokens) == 0 {
		return ""
	}
	return r.tokens[len(r.tokens)-1]
}

func (r *FakeAuthServer) discoveryHandler(wrt http.ResponseWriter, _ *http.Request) {
	renderJSON(http.StatusOK, wrt, fakeDiscoveryResponse{
		Issuer:     r.server.URL,
		AuthURL:    r.server.URL + "/oauth2/authorize",
		TokenURL:   r.TokenURL(),
		JWKSURL:    r.server.URL + KeysURI,
		Algorithms: []string{string(jose2.RS256)},
	})
}

func (r *FakeAuthServer) keysHandler(wrt http.ResponseWriter, _ *http.Request) {
	renderJSON(http.StatusOK, wrt, jose2.JSONWebKeySet{Keys: []jose2.JSONWebKey{{
		Key:       &r.key.PublicKey,
		KeyID:     FakeKeyID,
		Algorithm: string(jose2.RS256),
		Use:       "sig",
	}}})
}

func (r *FakeAuthServer) tokenHandler(wrt http.ResponseWriter, req *http.Request) {
	if req.FormValue("grant_type") != "client_credentials" {
		renderJSON(http.StatusBadRequest, wrt, map[string]string{
			"error":             "unsupported_grant_type",
			"error_description": "only client_credentials is supported",
		})
		return
	}

	clientID := req.FormValue("client_id")
	clientSecret := req.FormValue("client_secret")
	if clientID == "" || clientSecret == "" {
		user, pass, ok := req.BasicAuth()
		if !ok {
			renderJSON(http.StatusBadRequest, wrt, map[string]string{
				"error":             "invalid_request",
				"error_description": "client credentials are missing",
			})
			return
		}
		clientID, clientSecret = user, pass
	}

	if clientID != FakeClientID || clientSecret != FakeClientSecret {
		renderJSON(http.StatusUnauthorized, wrt, map[string]string{
			"error":             "invalid_client",
			"error_description": "Client authentication failed",
		})
		return
	}

	sequence := atomic.AddInt32(&r.issued, 1)
	accessToken, err := r.sign(clientID, req.FormValue("scope"), sequence)
	if err != nil {
		wrt.WriteHeader(http.StatusInternalServerError)
		return
	}

	r.mu.Lock()
	r.tokens = append(r.tokens, accessToken)
	r.mu.Unlock()

	renderJSON(http.StatusOK, wrt, fakeTokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(r.expiration.Seconds()),
		Scope:       req.FormValue("scope"),
	})
}

func (r *FakeAuthServer) sign(clientID, scope string, sequence int32) (string, error) {
	signer, err := jose2.NewSigner(
		jose2.SigningKey{Algorithm: jose2.RS256, Key: r.key},
		(&jose2.SignerOptions{}).WithType("JWT").WithHeader("kid", FakeKeyID),
	)
	if err != nil {
		return "", err
	}

	now := time.Now()
	claims := jwt.Claims{
		Issuer:   r.server.URL,
		Subject:  clientID,
		ID:       fmt.Sprintf("token-%d", sequence),
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(r.expiration)),
	}
	extra := map[string]interface{}{
		"client_id": clientID,
		"scope":     scope,
		"token_use": "access",
	}

	return jwt.Signed(signer).Claims(claims).Claims(extra).Serialize()
}

func renderJSON(code int, wrt http.ResponseWriter, data interface{}) {
	wrt.Header().Set(constant.ContentTypeHeader, constant.ContentTypeJSON)
	wrt.WriteHeader(code)
	if err := json.NewEncoder(wrt).Encode(data); err != nil {
		panic(err)
	}
}
