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

// Package endpoint resolves the delivery target url from the configured base
// url, an optional override path and a default path.
package endpoint

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/purell"
	"github.com/gogatekeeper/identity-relay/pkg/constant"
)

const normalizeFlags purell.NormalizationFlags = purell.FlagRemoveDotSegments | purell.FlagRemoveDuplicateSlashes

// position after "https://", a slash beyond it means the base carries a path
const schemeLength = 8

var originRegex = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9+.-]*://[^/?#]+)`)

// Config describes where payloads are delivered. It is read only.
type Config struct {
	BaseURL      string
	OverridePath string
	DefaultPath  string
}

// HasOverride reports whether an explicit path was configured.
func (c Config) HasOverride() bool {
	return strings.TrimSpace(c.OverridePath) != ""
}

// Resolve returns the url deliveries are posted to.
func Resolve(config Config) string {
	baseURL := strings.TrimSpace(config.BaseURL)

	if config.HasOverride() {
		return join(Origin(baseURL), normalizePath(config.OverridePath))
	}

	if len(baseURL) > schemeLength && strings.Contains(baseURL[schemeLength:], "/") {
		return baseURL
	}

	defaultPath := config.DefaultPath
	if strings.TrimSpace(defaultPath) == "" {
		defaultPath = constant.DefaultEndpointPath
	}

	return join(baseURL, normalizePath(defaultPath))
}

// Alternates returns the fallback candidates for baseURL, in the fixed order
// they must be attempted.
func Alternates(baseURL string) []string {
	origin := Origin(strings.TrimSpace(baseURL))
	list := make([]string, 0, len(constant.AlternatePaths))
	for _, suffix := range constant.AlternatePaths {
		list = append(list, origin+suffix)
	}
	return list
}

// Origin extracts scheme://host[:port] from rawURL. When the value does not
// parse as an absolute url the prefix is matched textually, and when even
// that fails the input is returned without a trailing slash.
func Origin(rawURL string) string {
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Scheme != "" && parsed.Host != "" {
		return parsed.Scheme + "://" + parsed.Host
	}

	if match := originRegex.FindStringSubmatch(rawURL); len(match) > 1 {
		return match[1]
	}

	return strings.TrimRight(rawURL, "/")
}

func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

func join(origin string, path string) string {
	joined := strings.TrimRight(origin, "/") + path
	if normalized, err := purell.NormalizeURLString(joined, normalizeFlags); err == nil {
		return normalized
	}
	return joined
}
