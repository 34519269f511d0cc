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

package middleware

import (
	"net/http"

	"github.com/gogatekeeper/identity-relay/pkg/constant"
	"go.uber.org/zap"
)

// RequestScope is a request level context scope passed between middleware.
type RequestScope struct {
	// The parsed (unescaped) value of the request path
	Path string
	// The exact path received in the request, if different than Path
	RawPath   string
	RequestID string
	Logger    *zap.Logger
}

// GetScope returns the scope placed by the entrypoint middleware.
func GetScope(req *http.Request) (*RequestScope, bool) {
	scope, assertOk := req.Context().Value(constant.ContextScopeName).(*RequestScope)
	return scope, assertOk
}

// ScopedLogger returns the request logger, or fallback outside of the stack.
func ScopedLogger(req *http.Request, fallback *zap.Logger) *zap.Logger {
	if scope, ok := GetScope(req); ok && scope.Logger != nil {
		return scope.Logger
	}
	return fallback
}
