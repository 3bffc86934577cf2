// Package rbac provides role-based access control checks.
package rbac

import (
	"errors"
	"fmt"

	"github.com/NicolasHaas/gowarden/pkg/model"
)

// ErrPermissionDenied is returned by Require when a role lacks a permission.
var ErrPermissionDenied = errors.New("permission denied")

// permissionMatrix maps roles to their allowed permissions.
var permissionMatrix = map[model.Role]map[model.Permission]bool{
	model.RoleAdmin: {
		model.PermViewRecords:     true,
		model.PermIssueBan:        true,
		model.PermRevokeBan:       true,
		model.PermClearViolations: true,
		model.PermEditSettings:    true,
	},
	model.RoleModerator: {
		model.PermViewRecords:     true,
		model.PermIssueBan:        true,
		model.PermRevokeBan:       true,
		model.PermClearViolations: true,
	},
	model.RoleViewer: {
		model.PermViewRecords: true,
	},
	model.RoleGameServer: {
		// Connect-time ban checks need read access.
		model.PermViewRecords:  true,
		model.PermReportEvents: true,
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role model.Role, perm model.Permission) bool {
	perms, ok := permissionMatrix[role]
	if !ok {
		return false
	}
	return perms[perm]
}

// Require returns an error wrapping ErrPermissionDenied if the role lacks the permission.
func Require(role model.Role, perm model.Permission) error {
	if HasPermission(role, perm) {
		return nil
	}
	return fmt.Errorf("%w: %s requires a higher role than %s", ErrPermissionDenied, PermName(perm), role)
}

// PermName returns the wire name of a permission.
func PermName(p model.Permission) string {
	switch p {
	case model.PermViewRecords:
		return "view_records"
	case model.PermIssueBan:
		return "issue_ban"
	case model.PermRevokeBan:
		return "revoke_ban"
	case model.PermClearViolations:
		return "clear_violations"
	case model.PermEditSettings:
		return "edit_settings"
	case model.PermReportEvents:
		return "report_events"
	default:
		return "unknown"
	}
}
