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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	resty "github.com/go-resty/resty/v2"
	"github.com/gogatekeeper/identity-relay/pkg/apperrors"
	"github.com/gogatekeeper/identity-relay/pkg/constant"
	"github.com/gogatekeeper/identity-relay/pkg/endpoint"
	"github.com/gogatekeeper/identity-relay/pkg/headers"
	"github.com/gogatekeeper/identity-relay/pkg/metrics"
	"github.com/gogatekeeper/identity-relay/pkg/token"
	"go.uber.org/zap"
)

const (
	kindPrimary   = "primary"
	kindRetry     = "retry"
	kindAlternate = "alternate"
)

// TokenSource obtains access tokens, it is called again with ForceRefresh
// when the target rejects the token.
type TokenSource interface {
	Acquire(ctx context.Context, creds token.Credentials, opts token.Options) (*token.Grant, error)
}

// Request is a single delivery.
type Request struct {
	Payload     interface{}
	Grant       *token.Grant
	Credentials token.Credentials
	Endpoint    endpoint.Config
	APIKey      string
}

// Pipeline posts payloads to the target endpoint. Attempts are strictly
// sequential: primary, at most one retry with a refreshed token after a 401,
// then the alternate paths after a 404 when no override path is configured.
type Pipeline struct {
	log     *zap.Logger
	tokens  TokenSource
	client  *resty.Client
	timeout time.Duration
}

// NewPipeline returns a pipeline whose attempts are each bounded by timeout.
// A supplied client is used as is, a nil client is replaced by one owned by
// the pipeline.
func NewPipeline(log *zap.Logger, tokens TokenSource, client *resty.Client, timeout time.Duration) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	if client == nil {
		client = resty.New().SetLogger(log.Sugar())
	}
	if timeout <= 0 {
		timeout = constant.DefaultDeliveryTimeout
	}

	return &Pipeline{log: log, tokens: tokens, client: client, timeout: timeout}
}

type attempt struct {
	target string
	status int
	body   []byte
	header http.Header
	err    error
}

func (a *attempt) succeeded() bool {
	return a.err == nil && a.status >= http.StatusOK && a.status < http.StatusMultipleChoices
}

// Deliver posts the payload and reports the outcome. It never returns an
// error: every failure is described by a *Failure.
//
//nolint:cyclop,funlen
func (p *Pipeline) Deliver(ctx context.Context, request Request) Result {
	target := endpoint.Resolve(request.Endpoint)
	grant := request.Grant
	hdrs := headers.Build(grant, request.APIKey)

	lLog := p.log.With(zap.String("endpoint", target))

	if grant == nil || grant.Token == "" {
		lLog.Error(apperrors.ErrMissingCredentials.Error())
		return &Failure{
			EndpointAttempted: target,
			LastError: ErrorDetails{
				Message:     apperrors.ErrMissingCredentials.Error(),
				Endpoint:    target,
				Diagnostics: newDiagnostics(grant, hdrs),
			},
		}
	}

	payload := request.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}

	last := p.post(ctx, kindPrimary, target, payload, hdrs)
	if last.succeeded() {
		return p.success(last, false)
	}

	retried := false

	if last.err == nil && last.status == http.StatusUnauthorized {
		lLog.Warn("target rejected the access token, refreshing it and retrying once")

		refreshed, err := p.refresh(ctx, request.Credentials)
		if err != nil {
			lLog.Error("unable to refresh the access token", zap.Error(err))
			details := p.details(last, grant, hdrs, false, nil)
			details.Message = fmt.Sprintf("%s: %s", apperrors.ErrTokenRefreshFailed.Error(), err.Error())
			return &Failure{EndpointAttempted: target, LastError: details}
		}

		grant = refreshed
		hdrs = headers.Build(grant, request.APIKey)
		retried = true

		last = p.post(ctx, kindRetry, target, payload, hdrs)
		if last.succeeded() {
			return p.success(last, true)
		}
	}

	var tried []string

	if last.err == nil && last.status == http.StatusNotFound && !request.Endpoint.HasOverride() {
		lLog.Warn("target endpoint not found, trying alternate paths")

		for _, alternate := range endpoint.Alternates(request.Endpoint.BaseURL) {
			tried = append(tried, alternate)
			last = p.post(ctx, kindAlternate, alternate, payload, hdrs)
			if last.succeeded() {
				return p.success(last, retried)
			}
		}
	}

	details := p.details(last, grant, hdrs, retried, tried)
	lLog.Error(
		"delivery failed",
		zap.String("last_endpoint", last.target),
		zap.Int("status", last.status),
		zap.String("error", details.Message),
	)

	return &Failure{EndpointAttempted: last.target, LastError: details}
}

func (p *Pipeline) refresh(ctx context.Context, creds token.Credentials) (*token.Grant, error) {
	if p.tokens == nil {
		return nil, apperrors.ErrTokenRefreshFailed
	}

	grant, err := p.tokens.Acquire(ctx, creds, token.Options{ForceRefresh: true})
	if err != nil {
		return nil, err
	}
	if grant == nil || grant.Token == "" {
		return nil, apperrors.ErrMissingAccessToken
	}

	return grant, nil
}

func (p *Pipeline) post(
	ctx context.Context,
	kind string,
	target string,
	payload interface{},
	hdrs map[string]string,
) *attempt {
	start := time.Now()

	p.log.Debug(
		"posting payload",
		zap.String("kind", kind),
		zap.String("endpoint", target),
		zap.Strings("headers", headers.Names(hdrs)),
		zap.String("token_preview", headers.Preview(hdrs[constant.AuthTokenHeader])),
	)

	attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.R().
		SetContext(attemptCtx).
		SetHeaders(hdrs).
		SetBody(payload).
		Post(target)

	metrics.DeliveryLatencyMetric.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	outcome := &attempt{target: target, err: err}
	if err == nil && resp != nil {
		outcome.status = resp.StatusCode()
		outcome.body = resp.Body()
		outcome.header = resp.Header()
	}

	code := "error"
	if outcome.err == nil {
		code = strconv.Itoa(outcome.status)
	}
	metrics.DeliveryAttemptsMetric.WithLabelValues(kind, code).Inc()

	p.log.Info(
		"delivery attempt",
		zap.String("kind", kind),
		zap.String("endpoint", target),
		zap.Int("status", outcome.status),
		zap.Duration("latency", time.Since(start)),
		zap.Error(err),
	)

	return outcome
}

func (p *Pipeline) success(last *attempt, retried bool) *Success {
	return &Success{
		HTTPStatus:          last.status,
		StatusText:          http.StatusText(last.status),
		EndpointUsed:        last.target,
		RetriedWithNewToken: retried,
		Data:                decodeBody(last.body),
	}
}

func (p *Pipeline) details(
	last *attempt,
	grant *token.Grant,
	hdrs map[string]string,
	retried bool,
	tried []string,
) ErrorDetails {
	details := ErrorDetails{
		Endpoint:    last.target,
		Diagnostics: newDiagnostics(grant, hdrs),
	}
	details.Diagnostics.RetriedWithNewToken = retried
	details.Diagnostics.AlternatesTried = tried

	if last.err != nil {
		details.Message = fmt.Sprintf("%s: %s", apperrors.ErrDeliveryFailed.Error(), last.err.Error())
		return details
	}

	details.Status = last.status
	details.StatusText = http.StatusText(last.status)
	details.Message = fmt.Sprintf("request failed with status code %d", last.status)
	details.ResponseBody = decodeBody(last.body)

	if message := vendorMessage(details.ResponseBody); message != "" {
		details.Message += ": " + message
	}

	for _, name := range constant.DiagnosticResponseHeaders {
		if value := last.header.Get(name); value != "" {
			if details.ResponseHeaders == nil {
				details.ResponseHeaders = map[string]string{}
			}
			details.ResponseHeaders[http.CanonicalHeaderKey(name)] = value
		}
	}

	return details
}

// decodeBody returns the json value of body, or the text truncated.
func decodeBody(body []byte) interface{} {
	if len(body) == 0 {
		return nil
	}

	var decoded interface{}
	if err := json.Unmarshal(body, &decoded); err == nil {
		return decoded
	}

	if len(body) > constant.MaxErrorBodyLength {
		return string(body[:constant.MaxErrorBodyLength]) + "..."
	}

	return string(body)
}

func vendorMessage(body interface{}) string {
	fields, ok := body.(map[string]interface{})
	if !ok {
		return ""
	}

	for _, key := range []string{"message", "Message", "error"} {
		if value, ok := fields[key].(string); ok && value != "" {
			return value
		}
	}

	return ""
}
