package services_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lenmanean/logbloga/models"
	"github.com/lenmanean/logbloga/repository"
	"github.com/lenmanean/logbloga/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newLicenseService(licenses repository.LicenseRepository, orders *fakeOrderRepo, products *fakeProductRepo) services.LicenseService {
	return services.NewLicenseService(licenses, orders, products, zap.NewNop())
}

// sequence returns keys in order and repeats the last one.
func sequence(keys ...string) (func() (string, error), *int) {
	calls := 0
	return func() (string, error) {
		i := min(calls, len(keys)-1)
		calls++
		return keys[i], nil
	}, &calls
}

func TestRandomLicenseKey_FormatAndSpread(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		key, err := services.RandomLicenseKey()
		require.NoError(t, err)
		assert.True(t, services.ValidateLicenseKey(key), key)
		seen[key] = true
	}
	assert.Len(t, seen, 200)
}

func TestValidateLicenseKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"7KQ2-M9XD-4HPA-ZC3N", true},
		{"7kq2-m9xd-4hpa-zc3n", false},
		{"7KQ2-M9XD-4HPA", false},
		{"7KQ2M9XD4HPAZC3N", false},
		{"0KQ2-M9XD-4HPA-ZC3N", false},
		{"7KQ2-M9XD-4HPA-ZC3I", false},
		{"7KQ2-O9XD-4HPA-ZC3N", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, services.ValidateLicenseKey(tt.key), tt.key)
	}
	assert.True(t, services.ValidateLicenseKey(services.NormalizeLicenseKey("  7kq2-m9xd-4hpa-zc3n ")))
}

func TestGenerateLicenseKey_RetriesOnCollision(t *testing.T) {
	repo := newFakeLicenseRepo()
	repo.takenKeys["AAAA-AAAA-AAAA-AAAA"] = true
	svc := newLicenseService(repo, newFakeOrderRepo(), newFakeProductRepo())

	gen, calls := sequence("AAAA-AAAA-AAAA-AAAA", "BBBB-BBBB-BBBB-BBBB")
	services.SetLicenseKeyGenerator(svc, gen)

	key, err := svc.GenerateLicenseKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "BBBB-BBBB-BBBB-BBBB", key)
	assert.Equal(t, 2, *calls)
}

func TestGenerateLicenseKey_FailsAfterTenCollisions(t *testing.T) {
	repo := newFakeLicenseRepo()
	repo.takenKeys["AAAA-AAAA-AAAA-AAAA"] = true
	svc := newLicenseService(repo, newFakeOrderRepo(), newFakeProductRepo())

	gen, calls := sequence("AAAA-AAAA-AAAA-AAAA")
	services.SetLicenseKeyGenerator(svc, gen)

	_, err := svc.GenerateLicenseKey(context.Background())
	assert.ErrorIs(t, err, services.ErrLicenseKeyExhausted)
	assert.Equal(t, 10, *calls)
}

func TestCreateLicense_IgnoresActiveFlag(t *testing.T) {
	product := newProduct(false)
	repo := newFakeLicenseRepo()
	svc := newLicenseService(repo, newFakeOrderRepo(), newFakeProductRepo(product))

	orderID, userID := uuid.New(), uuid.New()
	license, err := svc.CreateLicense(context.Background(), orderID, userID, product.ID)
	require.NoError(t, err)

	assert.Equal(t, models.LicenseStatusActive, license.Status)
	assert.True(t, license.LifetimeAccess)
	assert.False(t, license.AccessGrantedAt.IsZero())
	assert.True(t, services.ValidateLicenseKey(license.LicenseKey))
}

func TestCreateLicense_UnknownProduct(t *testing.T) {
	svc := newLicenseService(newFakeLicenseRepo(), newFakeOrderRepo(), newFakeProductRepo())

	_, err := svc.CreateLicense(context.Background(), uuid.New(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, services.ErrProductNotFound)
}

func TestCreateLicense_RedeliveryReturnsExisting(t *testing.T) {
	product := newProduct(true)
	repo := newFakeLicenseRepo()
	svc := newLicenseService(repo, newFakeOrderRepo(), newFakeProductRepo(product))

	orderID, userID := uuid.New(), uuid.New()
	first, err := svc.CreateLicense(context.Background(), orderID, userID, product.ID)
	require.NoError(t, err)
	second, err := svc.CreateLicense(context.Background(), orderID, userID, product.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.LicenseKey, second.LicenseKey)
	assert.Equal(t, 1, repo.count())
}

func TestCreateLicense_RetriesKeyTakenAtInsert(t *testing.T) {
	product := newProduct(true)
	repo := newFakeLicenseRepo()
	repo.insertErrs = []error{repository.ErrDuplicateLicenseKey}
	svc := newLicenseService(repo, newFakeOrderRepo(), newFakeProductRepo(product))

	license, err := svc.CreateLicense(context.Background(), uuid.New(), uuid.New(), product.ID)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, license.ID)
	assert.Equal(t, 1, repo.count())
}

func TestCreateLicense_LookupAndInsertCollisionsShareTenAttempts(t *testing.T) {
	product := newProduct(true)
	repo := newFakeLicenseRepo()
	repo.takenKeys["AAAA-AAAA-AAAA-AAAA"] = true
	for i := 0; i < 20; i++ {
		repo.insertErrs = append(repo.insertErrs, repository.ErrDuplicateLicenseKey)
	}
	svc := newLicenseService(repo, newFakeOrderRepo(), newFakeProductRepo(product))

	// Every other key is already taken; the rest lose the race at insert.
	calls := 0
	services.SetLicenseKeyGenerator(svc, func() (string, error) {
		calls++
		if calls%2 == 1 {
			return "AAAA-AAAA-AAAA-AAAA", nil
		}
		return fmt.Sprintf("BBBB-BBBB-BBBB-%04d", calls), nil
	})

	_, err := svc.CreateLicense(context.Background(), uuid.New(), uuid.New(), product.ID)
	assert.ErrorIs(t, err, services.ErrLicenseKeyExhausted)
	assert.Equal(t, 10, calls)
	assert.Zero(t, repo.count())
}

type racingLicenseRepo struct {
	*fakeLicenseRepo
	winner models.License
}

func (r *racingLicenseRepo) Create(_ context.Context, _ *models.License) error {
	r.licenses = append(r.licenses, r.winner)
	return repository.ErrLicenseExists
}

func TestCreateLicense_LosingConcurrentInsertReturnsWinner(t *testing.T) {
	product := newProduct(true)
	orderID, userID := uuid.New(), uuid.New()
	winner := models.License{
		ID:         uuid.New(),
		OrderID:    orderID,
		ProductID:  product.ID,
		UserID:     userID,
		LicenseKey: "WWWW-WWWW-WWWW-WWWW",
		Status:     models.LicenseStatusActive,
	}
	repo := &racingLicenseRepo{fakeLicenseRepo: newFakeLicenseRepo(), winner: winner}
	svc := newLicenseService(repo, newFakeOrderRepo(), newFakeProductRepo(product))

	got, err := svc.CreateLicense(context.Background(), orderID, userID, product.ID)
	require.NoError(t, err)
	assert.Equal(t, winner.ID, got.ID)
}

func TestCreateLicensesForOrder_OnePerDistinctProduct(t *testing.T) {
	a, b := newProduct(true), newProduct(true)
	userID := uuid.New()
	order := newOrder(&userID, models.OrderStatusCompleted, a, b, a)

	repo := newFakeLicenseRepo()
	svc := newLicenseService(repo, newFakeOrderRepo(order), newFakeProductRepo(a, b))

	licenses, err := svc.CreateLicensesForOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, licenses, 2)
	assert.Equal(t, a.ID, licenses[0].ProductID)
	assert.Equal(t, b.ID, licenses[1].ProductID)
	assert.Equal(t, 2, repo.count())
}

func TestCreateLicensesForOrder_SkipsFailedProducts(t *testing.T) {
	known, missing := newProduct(true), newProduct(true)
	userID := uuid.New()
	order := newOrder(&userID, models.OrderStatusCompleted, known, missing)

	svc := newLicenseService(newFakeLicenseRepo(), newFakeOrderRepo(order), newFakeProductRepo(known))

	licenses, err := svc.CreateLicensesForOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, licenses, 1)
	assert.Equal(t, known.ID, licenses[0].ProductID)
}

func TestCreateLicensesForOrder_OrderProblems(t *testing.T) {
	product := newProduct(true)
	userID := uuid.New()
	empty := newOrder(&userID, models.OrderStatusCompleted)
	guest := newOrder(nil, models.OrderStatusCompleted, product)
	emptyGuest := newOrder(nil, models.OrderStatusCompleted)

	svc := newLicenseService(newFakeLicenseRepo(), newFakeOrderRepo(empty, guest, emptyGuest), newFakeProductRepo(product))
	ctx := context.Background()

	_, err := svc.CreateLicensesForOrder(ctx, uuid.New())
	assert.ErrorIs(t, err, repository.ErrOrderNotFound)

	licenses, err := svc.CreateLicensesForOrder(ctx, empty.ID)
	assert.NoError(t, err)
	assert.Empty(t, licenses)

	// No items is checked before the missing user.
	licenses, err = svc.CreateLicensesForOrder(ctx, emptyGuest.ID)
	assert.NoError(t, err)
	assert.Empty(t, licenses)

	_, err = svc.CreateLicensesForOrder(ctx, guest.ID)
	assert.ErrorIs(t, err, services.ErrOrderHasNoUser)
}

func TestUserHasActiveLicense(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	past, future := now.Add(-time.Hour), now.Add(time.Hour)

	tests := []struct {
		name     string
		status   models.LicenseStatus
		lifetime bool
		expires  *time.Time
		want     bool
	}{
		{"lifetime", models.LicenseStatusActive, true, nil, true},
		{"lifetime ignores past expiry", models.LicenseStatusActive, true, &past, true},
		{"expired", models.LicenseStatusActive, false, &past, false},
		{"not yet expired", models.LicenseStatusActive, false, &future, true},
		{"no expiry and not lifetime", models.LicenseStatusActive, false, nil, false},
		{"revoked", models.LicenseStatusRevoked, true, nil, false},
		{"inactive", models.LicenseStatusInactive, true, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userID, productID := uuid.New(), uuid.New()
			repo := newFakeLicenseRepo()
			repo.licenses = []models.License{{
				ID:             uuid.New(),
				UserID:         userID,
				ProductID:      productID,
				Status:         tt.status,
				LifetimeAccess: tt.lifetime,
				ExpiresAt:      tt.expires,
			}}
			svc := newLicenseService(repo, newFakeOrderRepo(), newFakeProductRepo())
			services.SetLicenseClock(svc, func() time.Time { return now })

			got, err := svc.UserHasActiveLicense(context.Background(), userID, productID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetLicenseByKey(t *testing.T) {
	owner := uuid.New()
	repo := newFakeLicenseRepo()
	repo.licenses = []models.License{{ID: uuid.New(), UserID: owner, LicenseKey: "7KQ2-M9XD-4HPA-ZC3N"}}
	svc := newLicenseService(repo, newFakeOrderRepo(), newFakeProductRepo())
	ctx := context.Background()

	got, err := svc.GetLicenseByKey(ctx, owner, " 7kq2-m9xd-4hpa-zc3n")
	require.NoError(t, err)
	assert.Equal(t, owner, got.UserID)

	_, err = svc.GetLicenseByKey(ctx, uuid.New(), "7KQ2-M9XD-4HPA-ZC3N")
	assert.ErrorIs(t, err, services.ErrLicenseNotFound)

	_, err = svc.GetLicenseByKey(ctx, owner, "not-a-key")
	assert.ErrorIs(t, err, services.ErrInvalidLicenseKey)
}
