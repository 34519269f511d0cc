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
	"strings"

	oidc3 "github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/gogatekeeper/identity-relay/pkg/apperrors"
	"github.com/gogatekeeper/identity-relay/pkg/constant"
)

const wellKnownURI = "/.well-known/openid-configuration"

// DecodeClaims returns the payload of a JWT access token without verifying
// its signature. The claims are for diagnostics only.
func DecodeClaims(rawToken string) (map[string]interface{}, error) {
	parsed, err := jwt.ParseSigned(rawToken, constant.SignatureAlgs)
	if err != nil {
		return nil, errors.Join(apperrors.ErrParseAccessToken, err)
	}

	claims := map[string]interface{}{}
	if err := parsed.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return nil, errors.Join(apperrors.ErrParseClaims, err)
	}

	return claims, nil
}

// DiscoverTokenURL retrieves the token endpoint from the openid configuration
// published under discoveryURL, which may be the issuer or the full
// well-known document url.
func DiscoverTokenURL(ctx context.Context, client *http.Client, discoveryURL string) (string, error) {
	issuer := strings.TrimSuffix(strings.TrimSuffix(discoveryURL, "/"), wellKnownURI)
	if client != nil {
		ctx = oidc3.ClientContext(ctx, client)
	}

	provider, err := oidc3.NewProvider(ctx, issuer)
	if err != nil {
		return "", errors.Join(apperrors.ErrDiscoveryFailed, err)
	}

	tokenURL := provider.Endpoint().TokenURL
	if tokenURL == "" {
		return "", apperrors.ErrDiscoveryFailed
	}

	return tokenURL, nil
}
