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
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/purell"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gofrs/uuid"
	"github.com/gogatekeeper/identity-relay/pkg/apperrors"
	"github.com/gogatekeeper/identity-relay/pkg/constant"
	"github.com/gogatekeeper/identity-relay/pkg/metrics"
	"go.uber.org/zap"
)

const (
	normalizeFlags purell.NormalizationFlags = purell.FlagRemoveDotSegments | purell.FlagRemoveDuplicateSlashes
)

// EntrypointMiddleware places the request scope and records the request metrics.
func EntrypointMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(wrt http.ResponseWriter, req *http.Request) {
			scope := &RequestScope{
				Path:      req.URL.Path,
				RawPath:   req.URL.RawPath,
				RequestID: req.Header.Get(constant.RequestIDHeader),
				Logger:    logger,
			}
			if scope.RequestID != "" {
				scope.Logger = logger.With(zap.String("request_id", scope.RequestID))
			}

			purell.NormalizeURL(req.URL, normalizeFlags)

			// ensure we have a slash in the url
			if !strings.HasPrefix(req.URL.Path, "/") {
				req.URL.Path = "/" + req.URL.Path
			}
			req.URL.RawPath = req.URL.EscapedPath()

			resp := middleware.NewWrapResponseWriter(wrt, req.ProtoMajor)
			start := time.Now()

			scope.Logger.Debug("incoming request", zap.String("path", req.URL.Path))

			next.ServeHTTP(resp, req.WithContext(context.WithValue(req.Context(), constant.ContextScopeName, scope)))

			metrics.LatencyMetric.Observe(time.Since(start).Seconds())
			metrics.StatusMetric.WithLabelValues(strconv.Itoa(resp.Status()), req.Method).Inc()

			// place back the original uri for any later consumers
			req.URL.Path = scope.Path
			req.URL.RawPath = scope.RawPath
		})
	}
}

// RequestIDMiddleware is responsible for adding a request id if none found,
// the id is echoed back in the response.
func RequestIDMiddleware(header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(wrt http.ResponseWriter, req *http.Request) {
			if v := req.Header.Get(header); v == "" {
				id, err := uuid.NewV4()
				if err != nil {
					wrt.WriteHeader(http.StatusInternalServerError)
					return
				}
				req.Header.Set(header, id.String())
			}

			wrt.Header().Set(header, req.Header.Get(header))
			next.ServeHTTP(wrt, req)
		})
	}
}

// LoggingMiddleware is a custom http logger.
func LoggingMiddleware(
	logger *zap.Logger,
	verbose bool,
) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			resp, assertOk := w.(middleware.WrapResponseWriter)
			if !assertOk {
				logger.Error(apperrors.ErrAssertionFailed.Error())
				return
			}

			scope, assertOk := GetScope(req)
			if !assertOk {
				logger.Error(apperrors.ErrAssertionFailed.Error())
				return
			}

			if verbose {
				scope.Logger = scope.Logger.With(
					zap.Any("headers", req.Header),
					zap.String("path", req.URL.Path),
					zap.String("method", req.Method),
				)
			}

			next.ServeHTTP(resp, req)

			scope.Logger.Info("client request",
				zap.Duration("latency", time.Since(start)),
				zap.Int("status", resp.Status()),
				zap.Int("bytes", resp.BytesWritten()),
				zap.String("remote_addr", req.RemoteAddr),
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path))
		})
	}
}

// ResponseHeaderMiddleware is responsible for adding response headers.
func ResponseHeaderMiddleware(headers map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(wrt http.ResponseWriter, req *http.Request) {
			for k, v := range headers {
				wrt.Header().Set(k, v)
			}

			next.ServeHTTP(wrt, req)
		})
	}
}
