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

package environment

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gogatekeeper/identity-relay/pkg/apperrors"
	"github.com/gogatekeeper/identity-relay/pkg/constant"
	"go.uber.org/zap"
)

// Settings are the configured values, each one takes precedence over what
// the environment reports.
type Settings struct {
	ProjectID                string
	ServiceAccountPrefix     string
	AWSServiceAccount        string
	WorkloadIdentityPool     string
	WorkloadIdentityProvider string
	Vendor                   string
	EnableIAMLookup          bool
}

// Payload is the identity document relayed to the target api.
type Payload struct {
	Vendor                   string          `json:"vendor,omitempty"`
	ProjectID                string          `json:"projectId"`
	ProjectNumber            string          `json:"projectNumber,omitempty"`
	ServiceAccountEmail      string          `json:"serviceAccountEmail,omitempty"`
	AWSServiceAccount        string          `json:"awsServiceAccount,omitempty"`
	WorkloadIdentityPool     string          `json:"workloadIdentityPool,omitempty"`
	WorkloadIdentityProvider string          `json:"workloadIdentityProvider,omitempty"`
	FunctionName             string          `json:"functionName,omitempty"`
	Region                   string          `json:"region,omitempty"`
	EventType                string          `json:"eventType,omitempty"`
	EventSource              string          `json:"eventSource,omitempty"`
	EventID                  string          `json:"eventId,omitempty"`
	Request                  json.RawMessage `json:"request,omitempty"`
	Timestamp                string          `json:"timestamp"`
}

// Assembler gathers the payload of one invocation.
type Assembler struct {
	log       *zap.Logger
	settings  Settings
	inspector Inspector
	directory Directory
	lookup    func(string) string
	now       func() time.Time
}

// NewAssembler returns an assembler. The directory may be nil, lookup reads
// the process environment variables.
func NewAssembler(
	log *zap.Logger,
	settings Settings,
	inspector Inspector,
	directory Directory,
	lookup func(string) string,
) *Assembler {
	if log == nil {
		log = zap.NewNop()
	}
	if lookup == nil {
		lookup = func(string) string { return "" }
	}
	if settings.ServiceAccountPrefix == "" {
		settings.ServiceAccountPrefix = constant.DefaultServiceAccountPrefix
	}

	return &Assembler{
		log:       log,
		settings:  settings,
		inspector: inspector,
		directory: directory,
		lookup:    lookup,
		now:       time.Now,
	}
}

// Assemble builds the payload, it fails only when the project id cannot be
// determined.
//
//nolint:funlen
func (a *Assembler) Assemble(ctx context.Context, req *http.Request) (interface{}, error) {
	projectID, source := First(ctx, a.log, a.projectIDStrategies()...)
	if projectID == "" {
		return nil, apperrors.ErrMissingProjectID
	}
	lLog := a.log.With(zap.String("project_id", projectID))
	lLog.Debug("resolved project id", zap.String("strategy", source))

	projectNumber, _ := First(ctx, lLog, Strategy{Name: "metadata", Resolve: a.numericProjectID})

	email, source := First(
		ctx,
		lLog,
		Strategy{Name: "metadata", Resolve: a.email},
		Value("env:"+constant.EnvFunctionIdentity, a.lookup(constant.EnvFunctionIdentity)),
	)
	lLog.Debug("resolved service account", zap.String("email", email), zap.String("strategy", source))

	awsAccount, source := First(
		ctx,
		lLog,
		Value("metadata", a.prefixed(email)),
		Value("config", a.settings.AWSServiceAccount),
		Value("env:"+constant.EnvAWSServiceAccount, a.lookup(constant.EnvAWSServiceAccount)),
		Strategy{Name: "iam", Resolve: func(ctx context.Context) (string, error) {
			return a.matchServiceAccount(ctx, projectID)
		}},
	)
	lLog.Debug("resolved aws service account", zap.String("email", awsAccount), zap.String("strategy", source))

	pool, _ := First(
		ctx,
		lLog,
		Value("config", a.settings.WorkloadIdentityPool),
		Value("env:"+constant.EnvWorkloadIdentityPool, a.lookup(constant.EnvWorkloadIdentityPool)),
		Strategy{Name: "iam", Resolve: func(ctx context.Context) (string, error) {
			return a.firstPool(ctx, projectNumber)
		}},
	)

	provider, _ := First(
		ctx,
		lLog,
		Value("config", a.settings.WorkloadIdentityProvider),
		Value("env:"+constant.EnvWorkloadIdentityProv, a.lookup(constant.EnvWorkloadIdentityProv)),
		Strategy{Name: "iam", Resolve: func(ctx context.Context) (string, error) {
			return a.firstProvider(ctx, projectNumber, pool)
		}},
	)

	functionName, _ := First(ctx, lLog, Env(a.lookup, constant.EnvKService, constant.EnvFunctionTarget)...)
	region, _ := First(ctx, lLog, Env(a.lookup, constant.EnvFunctionRegion)...)

	payload := &Payload{
		Vendor:                   a.settings.Vendor,
		ProjectID:                projectID,
		ProjectNumber:            projectNumber,
		ServiceAccountEmail:      email,
		AWSServiceAccount:        awsAccount,
		WorkloadIdentityPool:     pool,
		WorkloadIdentityProvider: provider,
		FunctionName:             functionName,
		Region:                   region,
		Timestamp:                a.now().UTC().Format(time.RFC3339),
	}

	if req != nil {
		payload.EventType = req.Header.Get(constant.HeaderCloudEventType)
		payload.EventSource = req.Header.Get(constant.HeaderCloudEventSource)
		payload.EventID = req.Header.Get(constant.HeaderCloudEventID)
		payload.Request = requestBody(req)
	}

	return payload, nil
}

func (a *Assembler) projectIDStrategies() []Strategy {
	strategies := []Strategy{Value("config", a.settings.ProjectID)}
	strategies = append(strategies, Env(
		a.lookup,
		constant.EnvGCPProject,
		constant.EnvGoogleCloudProject,
		constant.EnvGCloudProject,
	)...)
	if a.inspector != nil {
		strategies = append(strategies, Strategy{Name: "metadata", Resolve: a.inspector.ProjectID})
	}
	return strategies
}

func (a *Assembler) numericProjectID(ctx context.Context) (string, error) {
	if a.inspector == nil {
		return "", nil
	}
	return a.inspector.NumericProjectID(ctx)
}

func (a *Assembler) email(ctx context.Context) (string, error) {
	if a.inspector == nil {
		return "", nil
	}
	return a.inspector.Email(ctx)
}

func (a *Assembler) prefixed(email string) string {
	if strings.HasPrefix(email, a.settings.ServiceAccountPrefix) {
		return email
	}
	return ""
}

func (a *Assembler) iamEnabled() error {
	if !a.settings.EnableIAMLookup || a.directory == nil {
		return apperrors.ErrIAMLookupDisabled
	}
	return nil
}

func (a *Assembler) matchServiceAccount(ctx context.Context, projectID string) (string, error) {
	if err := a.iamEnabled(); err != nil {
		return "", err
	}

	emails, err := a.directory.ServiceAccounts(ctx, projectID)
	if err != nil {
		return "", err
	}

	for _, email := range emails {
		if strings.HasPrefix(email, a.settings.ServiceAccountPrefix) {
			return email, nil
		}
	}

	return "", apperrors.ErrNoMatchingServiceAccount
}

func (a *Assembler) firstPool(ctx context.Context, projectNumber string) (string, error) {
	if err := a.iamEnabled(); err != nil {
		return "", err
	}
	if projectNumber == "" {
		return "", apperrors.ErrNoWorkloadIdentityPool
	}

	pools, err := a.directory.WorkloadIdentityPools(ctx, projectNumber)
	if err != nil {
		return "", err
	}
	if len(pools) == 0 {
		return "", apperrors.ErrNoWorkloadIdentityPool
	}

	return pools[0], nil
}

func (a *Assembler) firstProvider(ctx context.Context, projectNumber, pool string) (string, error) {
	if err := a.iamEnabled(); err != nil {
		return "", err
	}
	if projectNumber == "" || pool == "" {
		return "", apperrors.ErrNoWorkloadProvider
	}

	providers, err := a.directory.WorkloadIdentityProviders(ctx, projectNumber, pool)
	if err != nil {
		return "", err
	}
	if len(providers) == 0 {
		return "", apperrors.ErrNoWorkloadProvider
	}

	return providers[0], nil
}

// requestBody returns the inbound body when it is a json document.
func requestBody(req *http.Request) json.RawMessage {
	if req.Body == nil || req.Body == http.NoBody {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, constant.MaxRequestBodyLength))
	if err != nil || len(body) == 0 || !json.Valid(body) {
		return nil
	}

	return json.RawMessage(body)
}
