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
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gogatekeeper/identity-relay/pkg/constant"
)

// FakeDelivery is a request received by the fake target.
type FakeDelivery struct {
	Path      string
	AuthToken string
	APIKey    string
	Body      map[string]interface{}
}

// FakeTarget acts as the protected api. It accepts posts on the mounted
// paths, answers 404 elsewhere and 401 when the auth-token is rejected.
type FakeTarget struct {
	server *httptest.Server
	accept func(token string) bool

	mu         sync.Mutex
	deliveries []FakeDelivery
	rejected   map[string]bool
}

// NewFakeTarget starts the fake target serving paths, accept decides which
// auth tokens are valid.
func NewFakeTarget(accept func(token string) bool, paths ...string) *FakeTarget {
	target := &FakeTarget{accept: accept, rejected: map[string]bool{}}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.NotFound(func(wrt http.ResponseWriter, req *http.Request) {
		target.record(req)
		wrt.Header().Set("X-Amzn-Errortype", "MissingAuthenticationTokenException")
		renderJSON(http.StatusNotFound, wrt, map[string]string{"message": "Not Found"})
	})
	for _, path := range paths {
		router.Post(path, target.deliveryHandler)
	}

	target.server = httptest.NewServer(router)
	return target
}

func (f *FakeTarget) Close() {
	f.server.Close()
}

func (f *FakeTarget) URL() string {
	return f.server.URL
}

// Reject makes the target refuse token.
func (f *FakeTarget) Reject(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected[token] = true
}

// Deliveries returns a copy of the requests received so far.
func (f *FakeTarget) Deliveries() []FakeDelivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeDelivery(nil), f.deliveries...)
}

func (f *FakeTarget) deliveryHandler(wrt http.ResponseWriter, req *http.Request) {
	delivery := f.record(req)

	f.mu.Lock()
	rejected := f.rejected[delivery.AuthToken]
	f.mu.Unlock()

	if rejected || (f.accept != nil && !f.accept(delivery.AuthToken)) {
		wrt.Header().Set("X-Amzn-Errortype", "UnauthorizedException")
		renderJSON(http.StatusUnauthorized, wrt, map[string]string{"message": "Unauthorized"})
		return
	}

	renderJSON(http.StatusOK, wrt, map[string]interface{}{
		"received": true,
		"path":     req.URL.Path,
	})
}

func (f *FakeTarget) record(req *http.Request) FakeDelivery {
	delivery := FakeDelivery{
		Path:      req.URL.Path,
		AuthToken: req.Header.Get(constant.AuthTokenHeader),
		APIKey:    req.Header.Get(constant.APIKeyHeader),
	}

	if content, err := io.ReadAll(req.Body); err == nil && len(content) > 0 {
		_ = json.Unmarshal(content, &delivery.Body)
	}

	f.mu.Lock()
	f.deliveries = append(f.deliveries, delivery)
	f.mu.Unlock()

	return delivery
}
