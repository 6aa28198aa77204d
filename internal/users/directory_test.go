package users

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectory_FindByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dir := NewDirectory(db)
	userID := uuid.New()
	customerID := "cus_9XQzR7fLm2"

	rows := sqlmock.NewRows([]string{"id", "email", "stripe_customer_id", "created_at"}).
		AddRow(userID, "owner@restoration.example", customerID, time.Now())
	mock.ExpectQuery("SELECT id, email, stripe_customer_id, created_at").
		WithArgs(userID).
		WillReturnRows(rows)

	user, err := dir.FindByID(context.Background(), userID)

	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, userID, user.ID)
	assert.Equal(t, "owner@restoration.example", user.Email)
	require.NotNil(t, user.StripeCustomerID)
	assert.Equal(t, customerID, *user.StripeCustomerID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectory_FindByID_Absent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dir := NewDirectory(db)
	userID := uuid.New()

	mock.ExpectQuery("SELECT id, email, stripe_customer_id, created_at").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "stripe_customer_id", "created_at"}))

	user, err := dir.FindByID(context.Background(), userID)

	require.NoError(t, err)
	assert.Nil(t, user)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectory_FindByID_NullStripeCustomer(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dir := NewDirectory(db)
	userID := uuid.New()

	rows := sqlmock.NewRows([]string{"id", "email", "stripe_customer_id", "created_at"}).
		AddRow(userID, "newsignup@restoration.example", nil, time.Now())
	mock.ExpectQuery("SELECT id, email, stripe_customer_id, created_at").
		WithArgs(userID).
		WillReturnRows(rows)

	user, err := dir.FindByID(context.Background(), userID)

	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Nil(t, user.StripeCustomerID)
}

func TestDirectory_FindByID_QueryFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dir := NewDirectory(db)
	userID := uuid.New()

	mock.ExpectQuery("SELECT id, email, stripe_customer_id, created_at").
		WithArgs(userID).
		WillReturnError(errors.New("connection reset by peer"))

	user, err := dir.FindByID(context.Background(), userID)

	require.Error(t, err)
	assert.Nil(t, user)
}
