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

package delivery

import (
	"github.com/gogatekeeper/identity-relay/pkg/headers"
	"github.com/gogatekeeper/identity-relay/pkg/token"
)

// Result is the outcome of one delivery, either *Success or *Failure.
type Result interface {
	Succeeded() bool
	isResult()
}

// Success reports the first attempt answered with a 2xx status.
type Success struct {
	HTTPStatus          int         `json:"status"`
	StatusText          string      `json:"statusText"`
	EndpointUsed        string      `json:"endpoint"`
	RetriedWithNewToken bool        `json:"retriedWithNewToken"`
	Data                interface{} `json:"data,omitempty"`
}

func (*Success) Succeeded() bool { return true }
func (*Success) isResult()       {}

// Failure carries the diagnostics of the last failed attempt.
type Failure struct {
	LastError         ErrorDetails `json:"error"`
	EndpointAttempted string       `json:"endpoint"`
}

func (*Failure) Succeeded() bool { return false }
func (*Failure) isResult()       {}

// ErrorDetails is built for observability only, it never drives control flow.
type ErrorDetails struct {
	Message         string            `json:"message"`
	Endpoint        string            `json:"endpoint"`
	Status          int               `json:"status,omitempty"`
	StatusText      string            `json:"statusText,omitempty"`
	ResponseBody    interface{}       `json:"responseBody,omitempty"`
	ResponseHeaders map[string]string `json:"responseHeaders,omitempty"`
	Diagnostics     Diagnostics       `json:"diagnostics"`
}

// Diagnostics describes the credentials state of the failed attempt.
type Diagnostics struct {
	TokenObtained       bool     `json:"tokenObtained"`
	TokenPreview        string   `json:"tokenPreview,omitempty"`
	TokenLength         int      `json:"tokenLength,omitempty"`
	TokenType           string   `json:"tokenType,omitempty"`
	HeadersPresent      []string `json:"headersPresent"`
	RetriedWithNewToken bool     `json:"retriedWithNewToken"`
	AlternatesTried     []string `json:"alternatesTried,omitempty"`
}

func newDiagnostics(grant *token.Grant, hdrs map[string]string) Diagnostics {
	diag := Diagnostics{HeadersPresent: headers.Names(hdrs)}
	if grant != nil && grant.Token != "" {
		diag.TokenObtained = true
		diag.TokenPreview = headers.Preview(grant.Token)
		diag.TokenLength = len(grant.Token)
		diag.TokenType = grant.TokenType
	}
	return diag
}
