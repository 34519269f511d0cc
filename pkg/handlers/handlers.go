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

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gogatekeeper/identity-relay/pkg/apperrors"
	"github.com/gogatekeeper/identity-relay/pkg/constant"
	"github.com/gogatekeeper/identity-relay/pkg/delivery"
	"github.com/gogatekeeper/identity-relay/pkg/endpoint"
	"github.com/gogatekeeper/identity-relay/pkg/middleware"
	"github.com/gogatekeeper/identity-relay/pkg/token"
	"go.uber.org/zap"
)

const (
	messageDelivered      = "Payload extracted and delivered successfully"
	messageDeliveryFailed = "Payload extracted but delivery failed"
	messageTokenFailed    = "Failed to obtain access token"
)

// PayloadAssembler produces the json document of an invocation.
type PayloadAssembler interface {
	Assemble(ctx context.Context, req *http.Request) (interface{}, error)
}

// Deliverer posts a payload to the target api.
type Deliverer interface {
	Deliver(ctx context.Context, request delivery.Request) delivery.Result
}

// Response is the body of every relay invocation.
type Response struct {
	Success      bool              `json:"success"`
	Message      string            `json:"message,omitempty"`
	Data         interface{}       `json:"data,omitempty"`
	AWSResponse  *delivery.Success `json:"awsResponse,omitempty"`
	Error        interface{}       `json:"error,omitempty"`
	CognitoError *CognitoError     `json:"cognitoError,omitempty"`
	Details      string            `json:"details,omitempty"`
}

// CognitoError describes why no access token could be obtained.
type CognitoError struct {
	Message     string   `json:"message"`
	ErrorCode   string   `json:"errorCode,omitempty"`
	Description string   `json:"description,omitempty"`
	Status      int      `json:"status,omitempty"`
	Missing     []string `json:"missing,omitempty"`
}

// Relay handles one invocation: assemble the payload, obtain a token and
// deliver the payload.
type Relay struct {
	Log         *zap.Logger
	Payloads    PayloadAssembler
	Tokens      delivery.TokenSource
	Delivery    Deliverer
	Credentials token.Credentials
	Endpoint    endpoint.Config
	APIKey      string
	// Verbose adds the error chain to the responses
	Verbose bool
}

// Invoke runs the relay and returns the status code and body to answer with.
func (r *Relay) Invoke(ctx context.Context, req *http.Request) (int, *Response) {
	logger := r.Log
	if req != nil {
		logger = middleware.ScopedLogger(req, r.Log)
	}

	payload, err := r.Payloads.Assemble(ctx, req)
	if err != nil {
		logger.Error("unable to assemble the payload", zap.Error(err))
		return http.StatusInternalServerError, r.withDetails(&Response{Error: err.Error()}, err)
	}

	grant, err := r.Tokens.Acquire(ctx, r.Credentials, token.Options{})
	if err != nil {
		logger.Error("unable to obtain an access token", zap.Error(err))
		resp := &Response{
			Error:        messageTokenFailed,
			CognitoError: newCognitoError(err),
		}
		return http.StatusInternalServerError, r.withDetails(resp, err)
	}

	logger.Debug(
		"access token obtained",
		zap.String("token_type", grant.TokenType),
		zap.Int("expires_in", grant.ExpiresIn),
		zap.Int("token_length", len(grant.Token)),
	)

	result := r.Delivery.Deliver(ctx, delivery.Request{
		Payload:     payload,
		Grant:       grant,
		Credentials: r.Credentials,
		Endpoint:    r.Endpoint,
		APIKey:      r.APIKey,
	})

	switch outcome := result.(type) {
	case *delivery.Success:
		logger.Info(
			"payload delivered",
			zap.String("endpoint", outcome.EndpointUsed),
			zap.Int("status", outcome.HTTPStatus),
			zap.Bool("retried", outcome.RetriedWithNewToken),
		)
		return http.StatusOK, &Response{
			Success:     true,
			Message:     messageDelivered,
			Data:        payload,
			AWSResponse: outcome,
		}
	case *delivery.Failure:
		resp := &Response{
			Message: messageDeliveryFailed,
			Data:    payload,
			Error:   outcome.LastError,
		}
		if r.Verbose {
			resp.Details = outcome.LastError.Message
		}
		return http.StatusOK, resp
	default:
		logger.Error(apperrors.ErrAssertionFailed.Error())
		return http.StatusInternalServerError, &Response{Error: apperrors.ErrAssertionFailed.Error()}
	}
}

// ServeHTTP answers preflight requests with 204, every other request is an
// invocation.
func (r *Relay) ServeHTTP(wrt http.ResponseWriter, req *http.Request) {
	if req.Method == http.MethodOptions {
		wrt.WriteHeader(http.StatusNoContent)
		return
	}

	code, resp := r.Invoke(req.Context(), req)
	WriteJSON(wrt, code, resp, middleware.ScopedLogger(req, r.Log))
}

func (r *Relay) withDetails(resp *Response, err error) *Response {
	if r.Verbose {
		resp.Details = err.Error()
	}
	return resp
}

func newCognitoError(err error) *CognitoError {
	cognitoErr := &CognitoError{Message: err.Error()}

	var configErr *apperrors.ConfigurationError
	if errors.As(err, &configErr) {
		cognitoErr.Missing = configErr.Missing
		return cognitoErr
	}

	var exchangeErr *apperrors.TokenExchangeError
	if errors.As(err, &exchangeErr) {
		cognitoErr.Message = exchangeErr.Message
		cognitoErr.ErrorCode = exchangeErr.ErrorCode
		cognitoErr.Description = exchangeErr.Description
		cognitoErr.Status = exchangeErr.StatusCode
	}

	return cognitoErr
}

// WriteJSON encodes body as the response.
func WriteJSON(wrt http.ResponseWriter, code int, body interface{}, logger *zap.Logger) {
	wrt.Header().Set(constant.ContentTypeHeader, constant.ContentTypeJSON)
	wrt.WriteHeader(code)

	if err := json.NewEncoder(wrt).Encode(body); err != nil {
		logger.Error(apperrors.ErrMarshalResult.Error(), zap.Error(err))
	}
}

// HealthHandler is a health check handler for the service.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set(constant.VersionHeader, GetVersion())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK\n"))
}

// EmptyHandler is responsible for doing nothing.
func EmptyHandler(_ http.ResponseWriter, _ *http.Request) {}

// ForbiddenHandler answers requests rejected by the security filter.
func ForbiddenHandler(wrt http.ResponseWriter, _ *http.Request) {
	wrt.WriteHeader(http.StatusForbidden)
}
