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

package headers

import (
	"sort"
	"strings"

	"github.com/gogatekeeper/identity-relay/pkg/constant"
	"github.com/gogatekeeper/identity-relay/pkg/token"
)

// Build returns the headers of a delivery attempt. The token is sent both raw
// in auth-token, for gateways using that token source, and as a standard
// authorization header.
func Build(grant *token.Grant, apiKey string) map[string]string {
	hdrs := map[string]string{
		constant.ContentTypeHeader: constant.ContentTypeJSON,
	}

	if grant != nil && grant.Token != "" {
		tokenType := grant.TokenType
		if tokenType == "" {
			tokenType = constant.AuthorizationType
		}
		hdrs[constant.AuthTokenHeader] = grant.Token
		hdrs[constant.AuthorizationHeader] = tokenType + " " + grant.Token
	}

	if key := strings.TrimSpace(apiKey); key != "" {
		hdrs[constant.APIKeyHeader] = key
	}

	return hdrs
}

// Preview truncates a token for logging.
func Preview(value string) string {
	if len(value) <= constant.TokenPreviewLength {
		return value
	}
	return value[:constant.TokenPreviewLength] + "..."
}

// Names lists the header names present, sorted.
func Names(hdrs map[string]string) []string {
	names := make([]string, 0, len(hdrs))
	for name := range hdrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
