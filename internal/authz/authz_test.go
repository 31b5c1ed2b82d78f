package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/formatio-api/internal/models"
)

func TestAdminHasAllCapabilities(t *testing.T) {
	for _, resource := range []Resource{ResourceCohort, ResourceEnrollment, ResourceReflection, ResourceFeed, ResourceMetrics} {
		for _, action := range []Action{ActionRead, ActionWrite, ActionGrade, ActionReorder, ActionPin} {
			assert.True(t, Can(models.RoleAdmin, resource, action), "admin should be allowed %s on %s", action, resource)
		}
	}
}

func TestCoordinatorCapabilities(t *testing.T) {
	assert.True(t, Can(models.RoleCoordinator, ResourceReflection, ActionGrade))
	assert.True(t, Can(models.RoleCoordinator, ResourceEnrollment, ActionRead))
	assert.True(t, Can(models.RoleCoordinator, ResourceExport, ActionWrite))
	assert.True(t, Can(models.RoleCoordinator, ResourceAttendance, ActionWrite))

	assert.False(t, Can(models.RoleCoordinator, ResourceCohort, ActionWrite))
	assert.False(t, Can(models.RoleCoordinator, ResourceFeed, ActionPin))
	assert.False(t, Can(models.RoleCoordinator, ResourceSession, ActionReorder))
}

func TestStudentCapabilities(t *testing.T) {
	assert.True(t, Can(models.RoleStudent, ResourceReflection, ActionWrite))
	assert.True(t, Can(models.RoleStudent, ResourceMaterial, ActionRead))

	assert.False(t, Can(models.RoleStudent, ResourceReflection, ActionGrade))
	assert.False(t, Can(models.RoleStudent, ResourceFeed, ActionPin))
	assert.False(t, Can(models.RoleStudent, ResourceEnrollment, ActionWrite))
	assert.False(t, Can(models.RoleStudent, ResourceExport, ActionWrite))
	assert.False(t, Can(models.RoleStudent, ResourceAttendance, ActionWrite))
}

func TestUnknownRoleDeniedEverything(t *testing.T) {
	assert.False(t, Can(models.UserRole("GUEST"), ResourceCohort, ActionRead))
}
