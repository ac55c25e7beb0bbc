package repository_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lenmanean/logbloga/models"
	"github.com/lenmanean/logbloga/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLicenseKeyExists(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormLicenseRepository(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "licenses" WHERE license_key = $1`)).
		WithArgs("7KQ2-M9XD-4HPA-ZC3N").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	exists, err := repo.LicenseKeyExists(context.Background(), "7KQ2-M9XD-4HPA-ZC3N")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func newLicense() *models.License {
	return &models.License{
		OrderID:         uuid.New(),
		ProductID:       uuid.New(),
		UserID:          uuid.New(),
		LicenseKey:      "7KQ2-M9XD-4HPA-ZC3N",
		Status:          models.LicenseStatusActive,
		LifetimeAccess:  true,
		AccessGrantedAt: time.Now(),
	}
}

func TestLicenseCreate_MapsUniqueViolations(t *testing.T) {
	tests := []struct {
		name       string
		constraint string
		want       error
	}{
		{"order and product", "idx_licenses_order_product", repository.ErrLicenseExists},
		{"license key", "idx_licenses_license_key", repository.ErrDuplicateLicenseKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gormDB, mock := setupMockDB(t)
			repo := repository.NewGormLicenseRepository(gormDB)

			mock.ExpectBegin()
			mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "licenses"`)).
				WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: tt.constraint})
			mock.ExpectRollback()

			err := repo.Create(context.Background(), newLicense())
			assert.ErrorIs(t, err, tt.want)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestLicenseCreate_Success(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormLicenseRepository(gormDB)

	id := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "licenses"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id.String()))
	mock.ExpectCommit()

	license := newLicense()
	require.NoError(t, repo.Create(context.Background(), license))
	assert.Equal(t, id, license.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
