// Copyright 2021 FerretDB Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pool

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidTenantID is returned for tenant IDs that can't be mapped to a file path.
var ErrInvalidTenantID = errors.New("invalid tenant ID")

// tenantIDRE matches valid tenant IDs.
// They can't contain path separators and can't start with a dot, so the derived path stays in the base directory.
var tenantIDRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateTenantID returns an error wrapping ErrInvalidTenantID if tenant ID is not valid.
func ValidateTenantID(tenantID string) error {
	if !tenantIDRE.MatchString(tenantID) {
		return fmt.Errorf("%w: %q", ErrInvalidTenantID, tenantID)
	}

	return nil
}

// ContentionError is returned when a tenant database file stayed locked by another process
// for all open attempts.
type ContentionError struct {
	TenantID string
	Attempts int

	err error
}

// Error implements error interface.
func (e *ContentionError) Error() string {
	return fmt.Sprintf("tenant %q database is locked after %d attempts: %v", e.TenantID, e.Attempts, e.err)
}

// Unwrap returns the last open error.
func (e *ContentionError) Unwrap() error {
	return e.err
}
