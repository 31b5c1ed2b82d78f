package service

import "github.com/noah-isme/formatio-api/internal/models"

// ResolveCohortStatus derives the presented cohort status from the stored
// value and the session clock. Stored completed and withdrawn are sticky and
// pass through untouched; otherwise the session counter decides: zero means
// the run has not started, anything above means it is underway. The derived
// value is never written back.
func ResolveCohortStatus(stored models.CohortStatus, currentSession int) models.CohortStatus {
	switch stored {
	case models.CohortStatusCompleted, models.CohortStatusWithdrawn:
		return stored
	}
	if currentSession <= 0 {
		return models.CohortStatusUpcoming
	}
	return models.CohortStatusActive
}
