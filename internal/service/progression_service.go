package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/formatio-api/internal/models"
	appErrors "github.com/noah-isme/formatio-api/pkg/errors"
)

type progressionEnrollmentRepository interface {
	ListByUser(ctx context.Context, userID string) ([]models.Enrollment, error)
	RecordLogin(ctx context.Context, id string, currentSession int, ts time.Time) error
}

type progressionCohortRepository interface {
	FindByID(ctx context.Context, id string) (*models.Cohort, error)
}

type progressionActivityRepository interface {
	Append(ctx context.Context, entry *models.ActivityEntry) error
}

// ProgressionService keeps each learner's session counter in step with their
// cohort's clock.
type ProgressionService struct {
	enrollments progressionEnrollmentRepository
	cohorts     progressionCohortRepository
	activity    progressionActivityRepository
	logger      *zap.Logger
}

// NewProgressionService constructs a ProgressionService instance.
func NewProgressionService(enrollments progressionEnrollmentRepository, cohorts progressionCohortRepository, activity progressionActivityRepository, logger *zap.Logger) *ProgressionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressionService{enrollments: enrollments, cohorts: cohorts, activity: activity, logger: logger}
}

// NextSession decides the learner's session number after a login. The
// counter is raised to the cohort's only on the very first login and only
// upward; every later login leaves it untouched.
func NextSession(enrollment models.Enrollment, cohort models.Cohort) (int, bool) {
	if enrollment.LoginCount == 0 && enrollment.CurrentSession < cohort.CurrentSession {
		return cohort.CurrentSession, true
	}
	return enrollment.CurrentSession, false
}

// SyncOnLogin applies the session clock across all of a user's enrollments
// and records the login on each. Failures on one enrollment do not block the
// rest; repeating the call converges on the same session numbers.
func (s *ProgressionService) SyncOnLogin(ctx context.Context, userID, userName string) ([]models.LoginSync, error) {
	enrollments, err := s.enrollments.ListByUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments for login sync")
	}

	now := time.Now().UTC()
	results := make([]models.LoginSync, 0, len(enrollments))
	for _, enrollment := range enrollments {
		cohort, err := s.cohorts.FindByID(ctx, enrollment.CohortID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				s.logger.Warn("enrollment references missing cohort",
					zap.String("enrollment_id", enrollment.ID),
					zap.String("cohort_id", enrollment.CohortID))
				continue
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cohort for login sync")
		}

		session, synced := NextSession(enrollment, *cohort)
		if err := s.enrollments.RecordLogin(ctx, enrollment.ID, session, now); err != nil {
			s.logger.Error("failed to record login on enrollment",
				zap.String("enrollment_id", enrollment.ID), zap.Error(err))
			continue
		}

		if synced {
			if err := s.activity.Append(ctx, &models.ActivityEntry{
				CohortID:      enrollment.CohortID,
				ActorID:       &enrollment.UserID,
				ActorName:     userName,
				Action:        models.ActivityLoginRecorded,
				SessionNumber: &session,
				Detail:        fmt.Sprintf("session synced to %d on first login", session),
			}); err != nil {
				s.logger.Warn("failed to record login activity", zap.Error(err))
			}
		}

		results = append(results, models.LoginSync{
			EnrollmentID:   enrollment.ID,
			CohortID:       enrollment.CohortID,
			CurrentSession: session,
			Synced:         synced,
		})
	}

	return results, nil
}
