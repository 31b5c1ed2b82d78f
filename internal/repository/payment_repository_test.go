package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/formatio-api/internal/models"
)

func TestPaymentRepositoryRecordWebhookEventFirstDelivery(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO webhook_events")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	event := &models.WebhookEvent{
		Provider:  "stripe",
		EventID:   "evt_123",
		EventType: "checkout.session.completed",
		Payload:   []byte(`{"id":"evt_123"}`),
	}
	recorded, err := repo.RecordWebhookEvent(context.Background(), event)
	require.NoError(t, err)
	require.True(t, recorded)
	require.NotEmpty(t, event.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryRecordWebhookEventDuplicate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO webhook_events")).
		WillReturnError(&pq.Error{Code: "23505"})

	event := &models.WebhookEvent{
		Provider:  "stripe",
		EventID:   "evt_123",
		EventType: "checkout.session.completed",
		Payload:   []byte(`{"id":"evt_123"}`),
	}
	recorded, err := repo.RecordWebhookEvent(context.Background(), event)
	require.NoError(t, err)
	require.False(t, recorded)
	require.NoError(t, mock.ExpectationsWereMet())
}
