// Package authz centralises capability resolution. Route middleware and
// services ask "may this role perform this action on this resource" through
// a single table instead of re-implementing role checks per route.
package authz

import "github.com/noah-isme/formatio-api/internal/models"

// Resource names a protected entity class.
type Resource string

const (
	ResourceCohort     Resource = "cohort"
	ResourceEnrollment Resource = "enrollment"
	ResourceSession    Resource = "session"
	ResourceMaterial   Resource = "material"
	ResourceReflection Resource = "reflection"
	ResourceFeed       Resource = "feed"
	ResourceExport     Resource = "export"
	ResourceActivity   Resource = "activity"
	ResourceAttendance Resource = "attendance"
	ResourceMetrics    Resource = "metrics"
)

// Action names an operation on a resource.
type Action string

const (
	ActionRead    Action = "read"
	ActionWrite   Action = "write"
	ActionGrade   Action = "grade"
	ActionReorder Action = "reorder"
	ActionPin     Action = "pin"
)

type capability struct {
	resource Resource
	action   Action
}

// Admin may do everything; the table below lists the additional grants for
// the narrower roles. Ownership constraints (a coordinator grades only their
// own cohort, a student reads only their own enrollment) are enforced by the
// services, which know the rows involved.
var grants = map[models.UserRole]map[capability]struct{}{
	models.RoleCoordinator: {
		{ResourceCohort, ActionRead}:      {},
		{ResourceEnrollment, ActionRead}:  {},
		{ResourceSession, ActionRead}:     {},
		{ResourceMaterial, ActionRead}:    {},
		{ResourceReflection, ActionRead}:  {},
		{ResourceReflection, ActionGrade}: {},
		{ResourceFeed, ActionRead}:        {},
		{ResourceActivity, ActionRead}:    {},
		{ResourceAttendance, ActionRead}:  {},
		{ResourceAttendance, ActionWrite}: {},
		{ResourceExport, ActionRead}:      {},
		{ResourceExport, ActionWrite}:     {},
	},
	models.RoleStudent: {
		{ResourceCohort, ActionRead}:     {},
		{ResourceSession, ActionRead}:    {},
		{ResourceMaterial, ActionRead}:   {},
		{ResourceReflection, ActionRead}: {},
		{ResourceReflection, ActionWrite}: {},
		{ResourceFeed, ActionRead}:       {},
		{ResourceEnrollment, ActionRead}: {},
	},
}

// Can reports whether role may perform action on resource.
func Can(role models.UserRole, resource Resource, action Action) bool {
	if role == models.RoleAdmin {
		return true
	}
	caps, ok := grants[role]
	if !ok {
		return false
	}
	_, ok = caps[capability{resource, action}]
	return ok
}
