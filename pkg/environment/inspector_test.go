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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gogatekeeper/identity-relay/pkg/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const metadataHostEnv = "GCE_METADATA_HOST"

func TestMetadataInspector(t *testing.T) {
	values := map[string]string{
		"/computeMetadata/v1/project/project-id":                      "demo-project",
		"/computeMetadata/v1/project/numeric-project-id":              "123456",
		"/computeMetadata/v1/instance/service-accounts/default/email": "aws-relay@demo-project.iam.gserviceaccount.com",
	}
	server := httptest.NewServer(http.HandlerFunc(func(wrt http.ResponseWriter, req *http.Request) {
		value, found := values[req.URL.Path]
		if !found {
			http.NotFound(wrt, req)
			return
		}
		_, _ = wrt.Write([]byte(value))
	}))
	defer server.Close()

	t.Setenv(metadataHostEnv, strings.TrimPrefix(server.URL, "http://"))

	inspector := NewMetadataInspector(server.Client(), time.Second)
	ctx := context.Background()

	projectID, err := inspector.ProjectID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "demo-project", projectID)

	number, err := inspector.NumericProjectID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "123456", number)

	email, err := inspector.Email(ctx)
	require.NoError(t, err)
	assert.Equal(t, "aws-relay@demo-project.iam.gserviceaccount.com", email)
}

func TestMetadataInspectorNotDefined(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	t.Setenv(metadataHostEnv, strings.TrimPrefix(server.URL, "http://"))

	value, err := NewMetadataInspector(server.Client(), time.Second).ProjectID(context.Background())
	require.NoError(t, err)
	assert.Empty(t, value)
}

func TestMetadataInspectorUnavailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	host := strings.TrimPrefix(server.URL, "http://")
	server.Close()

	t.Setenv(metadataHostEnv, host)

	_, err := NewMetadataInspector(nil, 200*time.Millisecond).Email(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrMetadataUnavailable)
}
