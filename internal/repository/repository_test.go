package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/eidos-exchange/eidos-ubi/internal/model"
	bizerr "github.com/eidos-exchange/eidos-ubi/pkg/errors"
)

// setupTestDB 创建测试数据库
func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// 内存库每个连接独立
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, AutoMigrate(db))
	return db
}

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db, DriverName: "postgres"}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open gorm db: %v", err)
	}
	return gormDB, mock, func() { db.Close() }
}

var t0 = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func seedUser(t *testing.T, db *gorm.DB, id string, score int) *model.User {
	u := &model.User{ID: id, Address: "0x" + id, ReputationScore: score, TotalClaimed: decimal.Zero, Eligible: true}
	require.NoError(t, NewUserRepository(db).Create(context.Background(), u))
	return u
}

func TestUserRepository_GetByID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	seedUser(t, db, "u1", 40)

	u, err := repo.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 40, u.ReputationScore)
	assert.Empty(t, u.ClaimHistory)
	assert.Nil(t, u.LastClaimDate)

	_, err = repo.GetByID(ctx, "missing")
	assert.True(t, bizerr.Is(err, bizerr.ErrUserNotFound))

	require.NoError(t, repo.UpdateReputation(ctx, "u1", 85))
	require.NoError(t, repo.SetEligible(ctx, "u1", false))
	u, err = repo.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 85, u.ReputationScore)
	assert.False(t, u.Eligible)

	assert.True(t, bizerr.Is(repo.UpdateReputation(ctx, "missing", 1), bizerr.ErrUserNotFound))
}

func TestClaimRepository_RecordUpdatesUserAtomically(t *testing.T) {
	db := setupTestDB(t)
	users := NewUserRepository(db)
	claims := NewClaimRepository(db)
	ctx := context.Background()

	user := seedUser(t, db, "u1", 60)

	for i, amount := range []int64{12, 15} {
		ts := t0.Add(time.Duration(i) * 25 * time.Hour)
		claim := &model.Claim{
			ID:         "clm_" + string(rune('a'+i)),
			UserID:     "u1",
			Amount:     decimal.NewFromInt(amount),
			Timestamp:  ts,
			Multiplier: 1.2,
			Reason:     model.ClaimReasonDaily,
		}
		user.Streak = i + 1
		user.LastClaimDate = &ts
		user.TotalClaimed = user.TotalClaimed.Add(claim.Amount)
		require.NoError(t, claims.Record(ctx, claim, user))
	}

	got, err := users.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Streak)
	assert.True(t, got.TotalClaimed.Equal(decimal.NewFromInt(27)), "total=%s", got.TotalClaimed)
	require.NotNil(t, got.LastClaimDate)
	assert.True(t, got.LastClaimDate.Equal(t0.Add(25*time.Hour)))
	require.Len(t, got.ClaimHistory, 2)
	assert.Equal(t, "clm_a", got.ClaimHistory[0].ID)

	list, err := claims.ListByUser(ctx, "u1", 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "clm_b", list[0].ID)
}

func TestClaimRepository_RecordRollsBackForUnknownUser(t *testing.T) {
	db := setupTestDB(t)
	claims := NewClaimRepository(db)
	ctx := context.Background()

	claim := &model.Claim{ID: "clm_x", UserID: "ghost", Amount: decimal.NewFromInt(10), Timestamp: t0, Reason: model.ClaimReasonDaily}
	err := claims.Record(ctx, claim, &model.User{ID: "ghost"})
	assert.True(t, bizerr.Is(err, bizerr.ErrUserNotFound))

	_, err = claims.GetByID(ctx, "clm_x")
	assert.True(t, bizerr.Is(err, bizerr.ErrClaimNotFound))
}

func TestClaimRepository_AttachTxHashOnce(t *testing.T) {
	db := setupTestDB(t)
	claims := NewClaimRepository(db)
	ctx := context.Background()

	user := seedUser(t, db, "u1", 60)
	claim := &model.Claim{ID: "clm_1", UserID: "u1", Amount: decimal.NewFromInt(10), Timestamp: t0, Reason: model.ClaimReasonDaily}
	require.NoError(t, claims.Record(ctx, claim, user))

	unsettled, err := claims.ListUnsettled(ctx, t0.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, unsettled, 1)

	require.NoError(t, claims.AttachTxHash(ctx, "clm_1", "0xabc"))
	err = claims.AttachTxHash(ctx, "clm_1", "0xdef")
	assert.True(t, bizerr.Is(err, bizerr.ErrSettlementAlreadyStored))

	got, err := claims.GetByID(ctx, "clm_1")
	require.NoError(t, err)
	require.NotNil(t, got.TxHash)
	assert.Equal(t, "0xabc", *got.TxHash)

	err = claims.AttachTxHash(ctx, "missing", "0x1")
	assert.True(t, bizerr.Is(err, bizerr.ErrClaimNotFound))

	unsettled, err = claims.ListUnsettled(ctx, t0.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, unsettled)
}

func TestClaimRepository_AttachTxHashSQL(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "ubi_claims" SET "tx_hash"=$1 WHERE id = $2 AND tx_hash IS NULL`)).
		WithArgs("0xabc", "clm_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := NewClaimRepository(db).AttachTxHash(context.Background(), "clm_1", "0xabc")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommunityRepository_MembersAndRules(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCommunityRepository(db)
	ctx := context.Background()

	seedUser(t, db, "u2", 50)
	seedUser(t, db, "u1", 70)

	c := &model.Community{
		ID:        "c1",
		Name:      "Barrio Norte",
		TotalPool: decimal.NewFromInt(500),
		DistributionRules: []model.DistributionRule{
			{ID: "r2", Type: model.RuleTypeActivity, Weight: 0.4, Position: 1},
			{ID: "r1", Type: model.RuleTypeReputation, Weight: 0.6, Position: 0},
		},
	}
	require.NoError(t, repo.Create(ctx, c))
	require.NoError(t, repo.AddMember(ctx, "c1", "u2"))
	require.NoError(t, repo.AddMember(ctx, "c1", "u1"))
	assert.True(t, bizerr.Is(repo.AddMember(ctx, "c1", "ghost"), bizerr.ErrUserNotFound))

	got, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got.Members, 2)
	assert.Equal(t, "u1", got.Members[0].ID)
	assert.Equal(t, 70, got.Members[0].ReputationScore)
	require.Len(t, got.DistributionRules, 2)
	assert.Equal(t, model.RuleTypeReputation, got.DistributionRules[0].Type)
	assert.True(t, got.TotalPool.Equal(decimal.NewFromInt(500)))

	require.NoError(t, repo.RemoveMember(ctx, "c1", "u2"))
	got, err = repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, got.Members, 1)

	_, err = repo.GetByID(ctx, "missing")
	assert.True(t, bizerr.Is(err, bizerr.ErrCommunityNotFound))
}

func TestCommunityRepository_Pool(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCommunityRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &model.Community{ID: "c1", TotalPool: decimal.NewFromInt(100)}))

	require.NoError(t, repo.CreditPool(ctx, "c1", decimal.RequireFromString("50.5")))
	require.NoError(t, repo.DebitPool(ctx, "c1", decimal.NewFromInt(120)))

	err := repo.DebitPool(ctx, "c1", decimal.NewFromInt(31))
	assert.True(t, bizerr.Is(err, bizerr.ErrInsufficientPool))
	assert.True(t, bizerr.Is(repo.DebitPool(ctx, "c1", decimal.Zero), bizerr.ErrInvalidAmount))
	assert.True(t, bizerr.Is(repo.DebitPool(ctx, "missing", decimal.NewFromInt(1)), bizerr.ErrCommunityNotFound))

	got, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, got.TotalPool.Equal(decimal.RequireFromString("30.5")), "pool=%s", got.TotalPool)
}

func TestRepository_TransactionRollback(t *testing.T) {
	db := setupTestDB(t)
	base := NewRepository(db)
	communities := NewCommunityRepository(db)
	ctx := context.Background()

	require.NoError(t, communities.Create(ctx, &model.Community{ID: "c1", TotalPool: decimal.NewFromInt(100)}))

	err := base.Transaction(ctx, func(ctx context.Context) error {
		if err := communities.DebitPool(ctx, "c1", decimal.NewFromInt(40)); err != nil {
			return err
		}
		return communities.DebitPool(ctx, "c1", decimal.NewFromInt(70))
	})
	assert.True(t, bizerr.Is(err, bizerr.ErrInsufficientPool))

	got, err := communities.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, got.TotalPool.Equal(decimal.NewFromInt(100)))
}

func TestJobRepository_SaveAndQuery(t *testing.T) {
	db := setupTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := &model.ComputationJob{
		ID:        "job_1",
		Type:      model.JobTypeReputationScore,
		Inputs:    model.ReputationScoreInput{UserID: "u1"},
		Status:    model.JobStatusPending,
		CreatedAt: t0,
	}
	require.NoError(t, repo.Save(ctx, job))

	done := t0.Add(time.Second)
	job.Status = model.JobStatusCompleted
	job.Outputs = model.ReputationScoreOutput{Reputation: model.ReputationData{UserID: "u1", Score: 77}}
	job.CompletedAt = &done
	require.NoError(t, repo.Save(ctx, job))

	got, err := repo.GetByID(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 77, got.Outputs.(model.ReputationScoreOutput).Reputation.Score)
	assert.Equal(t, "u1", got.Inputs.(model.ReputationScoreInput).UserID)

	failed := &model.ComputationJob{
		ID:          "job_2",
		Type:        model.JobTypeTandaVerification,
		Inputs:      model.TandaVerificationInput{},
		Status:      model.JobStatusFailed,
		Error:       "COMPUTATION_TIMEOUT",
		CreatedAt:   t0.Add(time.Minute),
		CompletedAt: &done,
	}
	require.NoError(t, repo.Save(ctx, failed))

	list, err := repo.ListByStatus(ctx, model.JobStatusFailed, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "COMPUTATION_TIMEOUT", list[0].Error)
	assert.Nil(t, list[0].Outputs)

	n, err := repo.CountByTypeAndStatus(ctx, model.JobTypeReputationScore, model.JobStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	deleted, err := repo.CleanupBefore(ctx, t0.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = repo.GetByID(ctx, "job_1")
	assert.True(t, bizerr.Is(err, bizerr.ErrJobNotFound))
}
