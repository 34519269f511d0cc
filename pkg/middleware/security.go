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

	"github.com/gogatekeeper/identity-relay/pkg/apperrors"
	"github.com/gogatekeeper/identity-relay/pkg/constant"
	"github.com/unrolled/secure"
	"go.uber.org/zap"
)

// SecurityOptions are the checks of the security filter.
type SecurityOptions struct {
	AllowedHosts          []string
	BrowserXSSFilter      bool
	ContentSecurityPolicy string
	ContentTypeNosniff    bool
	FrameDeny             bool
	SSLRedirect           bool
}

// SecurityMiddleware performs numerous security checks on the request.
func SecurityMiddleware(
	logger *zap.Logger,
	opts SecurityOptions,
	accessForbidden http.HandlerFunc,
) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		logger.Info("enabling the security filter middleware")
		secure := secure.New(secure.Options{
			AllowedHosts:          opts.AllowedHosts,
			BrowserXssFilter:      opts.BrowserXSSFilter,
			ContentSecurityPolicy: opts.ContentSecurityPolicy,
			ContentTypeNosniff:    opts.ContentTypeNosniff,
			FrameDeny:             opts.FrameDeny,
			SSLProxyHeaders:       map[string]string{constant.HeaderXForwardedProto: "https"},
			SSLRedirect:           opts.SSLRedirect,
		})
		secure.SetBadHostHandler(accessForbidden)

		return http.HandlerFunc(func(wrt http.ResponseWriter, req *http.Request) {
			scope, assertOk := GetScope(req)
			if !assertOk {
				logger.Error(apperrors.ErrAssertionFailed.Error())
				return
			}

			// the response has been written by secure on error
			if err := secure.Process(wrt, req); err != nil {
				scope.Logger.Warn("failed security middleware", zap.Error(err))
				return
			}

			next.ServeHTTP(wrt, req)
		})
	}
}
