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

// Package secret resolves client secrets that may be supplied either base64
// encoded or in plaintext.
package secret

import (
	"encoding/base64"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Resolve returns the plaintext form of raw. The trimmed input is decoded as
// standard base64 and the result re-encoded; when the re-encoding matches the
// input, ignoring padding, and the decoded bytes are printable text, the
// decoded value is returned. Anything else is treated as plaintext and
// returned trimmed.
func Resolve(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	decoded, err := decode(trimmed)
	if err != nil || len(decoded) == 0 || !isText(decoded) {
		return trimmed
	}

	reencoded := base64.StdEncoding.EncodeToString(decoded)
	if strings.TrimRight(reencoded, "=") != strings.TrimRight(trimmed, "=") {
		return trimmed
	}

	return string(decoded)
}

// decode accepts both padded and unpadded standard base64.
func decode(value string) ([]byte, error) {
	if strings.HasSuffix(value, "=") {
		return base64.StdEncoding.DecodeString(value)
	}
	return base64.RawStdEncoding.DecodeString(value)
}

// isText reports whether value is valid utf-8 without control characters
// other than whitespace.
func isText(value []byte) bool {
	if !utf8.Valid(value) {
		return false
	}
	for _, char := range string(value) {
		if unicode.IsControl(char) && !unicode.IsSpace(char) {
			return false
		}
	}
	return true
}
