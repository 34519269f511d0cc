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
	"fmt"
	"path"
	"strings"

	"github.com/gogatekeeper/identity-relay/pkg/constant"
	iam "google.golang.org/api/iam/v1"
	"google.golang.org/api/option"
)

// Directory lists the iam resources of a project.
type Directory interface {
	// ServiceAccounts returns the emails of the project service accounts.
	ServiceAccounts(ctx context.Context, projectID string) ([]string, error)
	// WorkloadIdentityPools returns the ids of the active pools.
	WorkloadIdentityPools(ctx context.Context, projectNumber string) ([]string, error)
	// WorkloadIdentityProviders returns the ids of the active providers of a pool.
	WorkloadIdentityProviders(ctx context.Context, projectNumber, poolID string) ([]string, error)
}

// IAMDirectory is a Directory backed by the iam rest api.
type IAMDirectory struct {
	service *iam.Service
}

var _ Directory = (*IAMDirectory)(nil)

// NewIAMDirectory creates the iam client, credentials come from the
// application default credentials unless opts says otherwise.
func NewIAMDirectory(ctx context.Context, opts ...option.ClientOption) (*IAMDirectory, error) {
	service, err := iam.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating iam client: %w", err)
	}
	return &IAMDirectory{service: service}, nil
}

func (d *IAMDirectory) ServiceAccounts(ctx context.Context, projectID string) ([]string, error) {
	var emails []string

	err := d.service.Projects.ServiceAccounts.
		List("projects/"+projectID).
		Pages(ctx, func(page *iam.ListServiceAccountsResponse) error {
			for _, account := range page.Accounts {
				if account.Disabled {
					continue
				}
				emails = append(emails, account.Email)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("listing service accounts of %s: %w", projectID, err)
	}

	return emails, nil
}

func (d *IAMDirectory) WorkloadIdentityPools(ctx context.Context, projectNumber string) ([]string, error) {
	var pools []string

	err := d.service.Projects.Locations.WorkloadIdentityPools.
		List(poolParent(projectNumber)).
		Pages(ctx, func(page *iam.ListWorkloadIdentityPoolsResponse) error {
			for _, pool := range page.WorkloadIdentityPools {
				if active(pool.State, pool.Disabled) {
					pools = append(pools, path.Base(pool.Name))
				}
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("listing workload identity pools: %w", err)
	}

	return pools, nil
}

func (d *IAMDirectory) WorkloadIdentityProviders(
	ctx context.Context,
	projectNumber string,
	poolID string,
) ([]string, error) {
	var providers []string

	err := d.service.Projects.Locations.WorkloadIdentityPools.Providers.
		List(poolParent(projectNumber)+"/workloadIdentityPools/"+poolID).
		Pages(ctx, func(page *iam.ListWorkloadIdentityPoolProvidersResponse) error {
			for _, provider := range page.WorkloadIdentityPoolProviders {
				if active(provider.State, provider.Disabled) {
					providers = append(providers, path.Base(provider.Name))
				}
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("listing providers of pool %s: %w", poolID, err)
	}

	return providers, nil
}

func poolParent(projectNumber string) string {
	return "projects/" + projectNumber + "/locations/" + constant.WorkloadIdentityPoolLocation
}

func active(state string, disabled bool) bool {
	return !disabled && strings.EqualFold(state, constant.WorkloadIdentityActiveState)
}
