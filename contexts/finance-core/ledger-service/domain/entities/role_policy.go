package entities

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	domainerrors "ledgerflow/contexts/finance-core/ledger-service/domain/errors"
)

const (
	PermissionEntityWrite        = "entity.write"
	PermissionTransactionSubmit  = "transaction.submit"
	PermissionTransactionApprove = "transaction.approve"
	PermissionMemberManage       = "member.manage"
	PermissionAuditVerify        = "audit.verify"
	PermissionViewRebuild        = "view.rebuild"
)

// RolePolicy is the validated, typed form of the tenant RBAC document.
// Instances are only produced by NewRolePolicy/ParseRolePolicy and are
// immutable afterwards.
type RolePolicy struct {
	roles       map[string]struct{}
	permissions map[string]struct{}
	grants      map[string]map[string]struct{}
	assignable  map[string]map[string]struct{}
}

// RolePolicyDocument is the wire shape accepted by ParseRolePolicy.
type RolePolicyDocument struct {
	Roles       []string            `json:"roles"`
	Permissions []string            `json:"permissions"`
	Grants      map[string][]string `json:"grants"`
	Assignable  map[string][]string `json:"assignable"`
}

// ParseRolePolicy decodes and validates a JSON policy document. Unknown
// fields are rejected so typos fail at startup.
func ParseRolePolicy(raw []byte) (RolePolicy, error) {
	decoder := json.NewDecoder(strings.NewReader(string(raw)))
	decoder.DisallowUnknownFields()
	var doc RolePolicyDocument
	if err := decoder.Decode(&doc); err != nil {
		return RolePolicy{}, fmt.Errorf("%w: %v", domainerrors.ErrInvalidRolePolicy, err)
	}
	return NewRolePolicy(doc)
}

func NewRolePolicy(doc RolePolicyDocument) (RolePolicy, error) {
	policy := RolePolicy{
		roles:       map[string]struct{}{},
		permissions: map[string]struct{}{},
		grants:      map[string]map[string]struct{}{},
		assignable:  map[string]map[string]struct{}{},
	}
	if len(doc.Roles) == 0 {
		return RolePolicy{}, fmt.Errorf("%w: at least one role is required", domainerrors.ErrInvalidRolePolicy)
	}
	if len(doc.Permissions) == 0 {
		return RolePolicy{}, fmt.Errorf("%w: at least one permission is required", domainerrors.ErrInvalidRolePolicy)
	}
	for _, role := range doc.Roles {
		role = strings.TrimSpace(role)
		if role == "" {
			return RolePolicy{}, fmt.Errorf("%w: empty role name", domainerrors.ErrInvalidRolePolicy)
		}
		if _, dup := policy.roles[role]; dup {
			return RolePolicy{}, fmt.Errorf("%w: duplicate role %q", domainerrors.ErrInvalidRolePolicy, role)
		}
		policy.roles[role] = struct{}{}
	}
	for _, permission := range doc.Permissions {
		permission = strings.TrimSpace(permission)
		if permission == "" {
			return RolePolicy{}, fmt.Errorf("%w: empty permission name", domainerrors.ErrInvalidRolePolicy)
		}
		policy.permissions[permission] = struct{}{}
	}
	for role, permissions := range doc.Grants {
		if _, ok := policy.roles[role]; !ok {
			return RolePolicy{}, fmt.Errorf("%w: grants reference unknown role %q", domainerrors.ErrInvalidRolePolicy, role)
		}
		set := map[string]struct{}{}
		for _, permission := range permissions {
			if _, ok := policy.permissions[permission]; !ok {
				return RolePolicy{}, fmt.Errorf("%w: role %q granted unknown permission %q", domainerrors.ErrInvalidRolePolicy, role, permission)
			}
			set[permission] = struct{}{}
		}
		policy.grants[role] = set
	}
	for actorRole, targets := range doc.Assignable {
		if _, ok := policy.roles[actorRole]; !ok {
			return RolePolicy{}, fmt.Errorf("%w: assignable references unknown role %q", domainerrors.ErrInvalidRolePolicy, actorRole)
		}
		set := map[string]struct{}{}
		for _, target := range targets {
			if _, ok := policy.roles[target]; !ok {
				return RolePolicy{}, fmt.Errorf("%w: role %q may assign unknown role %q", domainerrors.ErrInvalidRolePolicy, actorRole, target)
			}
			set[target] = struct{}{}
		}
		policy.assignable[actorRole] = set
	}
	return policy, nil
}

// DefaultRolePolicy is used when no policy document is configured.
func DefaultRolePolicy() RolePolicy {
	policy, err := NewRolePolicy(RolePolicyDocument{
		Roles: []string{"owner", "admin", "approver", "accountant", "viewer"},
		Permissions: []string{
			PermissionEntityWrite,
			PermissionTransactionSubmit,
			PermissionTransactionApprove,
			PermissionMemberManage,
			PermissionAuditVerify,
			PermissionViewRebuild,
		},
		Grants: map[string][]string{
			"owner": {
				PermissionEntityWrite, PermissionTransactionSubmit, PermissionTransactionApprove,
				PermissionMemberManage, PermissionAuditVerify, PermissionViewRebuild,
			},
			"admin": {
				PermissionEntityWrite, PermissionTransactionSubmit, PermissionTransactionApprove,
				PermissionMemberManage, PermissionAuditVerify, PermissionViewRebuild,
			},
			"approver":   {PermissionEntityWrite, PermissionTransactionSubmit, PermissionTransactionApprove},
			"accountant": {PermissionEntityWrite, PermissionTransactionSubmit},
			"viewer":     {},
		},
		Assignable: map[string][]string{
			"owner": {"owner", "admin", "approver", "accountant", "viewer"},
			"admin": {"approver", "accountant", "viewer"},
		},
	})
	if err != nil {
		panic(err)
	}
	return policy
}

func (p RolePolicy) HasRole(role string) bool {
	_, ok := p.roles[role]
	return ok
}

func (p RolePolicy) HasPermission(role string, permission string) bool {
	_, ok := p.grants[role][permission]
	return ok
}

// CanActorAssignRole applies the role-change rules: the actor must hold
// member.manage and the target must be in the actor's assignable set.
func (p RolePolicy) CanActorAssignRole(actorRole string, targetRole string) bool {
	if !p.HasRole(actorRole) || !p.HasRole(targetRole) {
		return false
	}
	if !p.HasPermission(actorRole, PermissionMemberManage) {
		return false
	}
	_, ok := p.assignable[actorRole][targetRole]
	return ok
}

func (p RolePolicy) Roles() []string {
	out := make([]string, 0, len(p.roles))
	for role := range p.roles {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}
