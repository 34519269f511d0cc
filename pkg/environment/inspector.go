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
	"errors"
	"net/http"
	"time"

	"cloud.google.com/go/compute/metadata"
	"github.com/gogatekeeper/identity-relay/pkg/apperrors"
	"github.com/gogatekeeper/identity-relay/pkg/constant"
)

// Inspector answers questions about the hosting project, an empty value with
// a nil error means the fact is not known.
type Inspector interface {
	ProjectID(ctx context.Context) (string, error)
	NumericProjectID(ctx context.Context) (string, error)
	Email(ctx context.Context) (string, error)
}

// MetadataInspector reads the facts from the compute metadata server.
type MetadataInspector struct {
	client  *metadata.Client
	timeout time.Duration
}

var _ Inspector = (*MetadataInspector)(nil)

// NewMetadataInspector returns an inspector, a nil client uses the metadata
// package default.
func NewMetadataInspector(client *http.Client, timeout time.Duration) *MetadataInspector {
	if timeout <= 0 {
		timeout = constant.DefaultMetadataTimeout
	}
	return &MetadataInspector{client: metadata.NewClient(client), timeout: timeout}
}

func (m *MetadataInspector) ProjectID(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return unavailable(m.client.ProjectIDWithContext(ctx))
}

func (m *MetadataInspector) NumericProjectID(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return unavailable(m.client.NumericProjectIDWithContext(ctx))
}

// Email returns the email of the default service account of the instance.
func (m *MetadataInspector) Email(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return unavailable(m.client.EmailWithContext(ctx, constant.DefaultMetadataAccount))
}

func unavailable(value string, err error) (string, error) {
	if err == nil {
		return value, nil
	}

	var notDefined metadata.NotDefinedError
	if errors.As(err, &notDefined) {
		return "", nil
	}

	return "", errors.Join(apperrors.ErrMetadataUnavailable, err)
}
