/*
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

// Package admin is the operator surface: role-gated mutations over flags,
// rate rules, karma, and the dead-letter queue, plus the moderator
// notification and maintenance job handlers.
package admin

import (
	"github.com/samber/lo"
)

type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleOps        Role = "ops"
	RoleSupport    Role = "support"
	RoleReadOnly   Role = "read_only"
)

type Permission string

const (
	PermissionFlagMutate     Permission = "flag_mutate"
	PermissionRateRuleMutate Permission = "rate_rule_mutate"
	PermissionKarmaAdjust    Permission = "karma_adjust"
	PermissionJobRevive      Permission = "job_revive"
)

// grants is the least-privilege matrix. Support handles people problems, ops
// handles system problems, read_only mutates nothing.
var grants = map[Role][]Permission{
	RoleSuperAdmin: {PermissionFlagMutate, PermissionRateRuleMutate, PermissionKarmaAdjust, PermissionJobRevive},
	RoleOps:        {PermissionFlagMutate, PermissionRateRuleMutate, PermissionJobRevive},
	RoleSupport:    {PermissionKarmaAdjust},
	RoleReadOnly:   {},
}

func (r Role) Can(permission Permission) bool {
	allowed, ok := grants[r]
	return ok && lo.Contains(allowed, permission)
}

// Actor is the authenticated operator performing a mutation.
type Actor struct {
	ID   string
	Role Role
}
