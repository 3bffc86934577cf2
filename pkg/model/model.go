// Package model defines the core domain types for GoWarden.
package model

// Permission represents a specific action that can be checked against a role.
type Permission int

const (
	PermViewRecords Permission = iota
	PermIssueBan
	PermRevokeBan
	PermClearViolations
	PermEditSettings
	PermReportEvents
)

// SystemAdmin is the issuer recorded on bans created by policy.
const SystemAdmin = "system"
