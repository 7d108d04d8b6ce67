package entity

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/partnermap/pkg/database"
	"github.com/Ramsey-B/partnermap/pkg/models"
)

const entityID = "5b0c3c36-5d0e-4c1e-9a55-3f1a8d1f0a01"

func newTestRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	db := database.NewDatabaseInstance(sqlx.NewDb(raw, "postgres"), logger)
	return NewRepository(db, logger), mock
}

func entityRows() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(columns).
		AddRow(entityID, "Example Hotel Group", "{Example Hotels,EHG}", "example-hotel.com", nil, now, now)
}

func TestRepository_Get(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectQuery(`SELECT .+ FROM entities WHERE id = \$1`).
		WithArgs(entityID).
		WillReturnRows(entityRows())

	entity, err := repo.Get(context.Background(), entityID)
	require.NoError(t, err)
	assert.Equal(t, "Example Hotel Group", entity.MasterEntityName)
	assert.Equal(t, []string{"Example Hotels", "EHG"}, []string(entity.AlternateNames))
	assert.Nil(t, entity.BatchID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Get_NotFound(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectQuery(`SELECT .+ FROM entities`).
		WithArgs(entityID).
		WillReturnRows(sqlmock.NewRows(columns))

	_, err := repo.Get(context.Background(), entityID)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))

	_, err = repo.Get(context.Background(), "not-a-uuid")
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
}

func TestRepository_GetForUpdate(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectQuery(`SELECT .+ FROM entities WHERE id = \$1 FOR UPDATE`).
		WithArgs(entityID).
		WillReturnRows(entityRows())

	_, err := repo.GetForUpdate(context.Background(), entityID)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Create(t *testing.T) {
	repo, mock := newTestRepository(t)
	batchID := "0d4f1f3e-2a55-4b5e-8f55-6a3e3e0b1c22"

	mock.ExpectExec(`INSERT INTO entities`).
		WithArgs(sqlmock.AnyArg(), "Example Hotel Group", sqlmock.AnyArg(), "example-hotel.com", &batchID, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	entity, err := repo.Create(context.Background(), &models.Entity{
		MasterEntityName: "Example Hotel Group",
		Website:          "example-hotel.com",
		BatchID:          &batchID,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, entity.ID)
	assert.NotNil(t, entity.AlternateNames)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_AddAliases(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectExec(`UPDATE entities SET alternate_names = alternate_names \|\| ARRAY\(SELECT a FROM unnest\(\$1::text\[\]\)`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), entityID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .+ FROM entities WHERE id = \$1`).
		WithArgs(entityID).
		WillReturnRows(entityRows())

	entity, err := repo.AddAliases(context.Background(), entityID, "EHG", "EHG", "")
	require.NoError(t, err)
	assert.Contains(t, entity.AlternateNames, "EHG")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_AddAliases_Missing(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectExec(`UPDATE entities SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := repo.AddAliases(context.Background(), entityID, "EHG")
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
}

func TestRepository_FindByExactName(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectQuery(`SELECT .+ FROM entities WHERE master_entity_name = \$1 ORDER BY created_at, id LIMIT`).
		WillReturnRows(sqlmock.NewRows(columns))

	entity, err := repo.FindByExactName(context.Background(), "Nobody")
	require.NoError(t, err)
	assert.Nil(t, entity)
}

func TestRepository_DeleteByBatch(t *testing.T) {
	repo, mock := newTestRepository(t)
	batchID := "0d4f1f3e-2a55-4b5e-8f55-6a3e3e0b1c22"

	mock.ExpectExec(`DELETE FROM entities WHERE batch_id = \$1`).
		WithArgs(batchID).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.DeleteByBatch(context.Background(), batchID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRepository_ReassignShared(t *testing.T) {
	repo, mock := newTestRepository(t)
	batchID := "0d4f1f3e-2a55-4b5e-8f55-6a3e3e0b1c22"

	mock.ExpectQuery(`UPDATE entities SET batch_id = \(SELECT n\.batch_id FROM nodes n WHERE n\.entity_id = entities\.id ORDER BY n\.created_at, n\.id LIMIT 1\), updated_at = \$1 WHERE batch_id = \$2 AND EXISTS \(SELECT 1 FROM nodes n WHERE n\.entity_id = entities\.id\) RETURNING id`).
		WithArgs(sqlmock.AnyArg(), batchID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(entityID))

	ids, err := repo.ReassignShared(context.Background(), batchID)
	require.NoError(t, err)
	assert.Equal(t, []string{entityID}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_List_Unavailable(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectQuery(`SELECT .+ FROM entities ORDER BY created_at, id`).
		WillReturnError(context.DeadlineExceeded)

	_, err := repo.List(context.Background())
	assert.Equal(t, http.StatusServiceUnavailable, httperror.GetStatusCode(err))
}

func TestRepository_LockName(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtext\(\$1\)\)`).
		WithArgs("Example Hotel Group").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.LockName(context.Background(), "Example Hotel Group"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_ListIDsByBatch(t *testing.T) {
	repo, mock := newTestRepository(t)
	batchID := "9d8f6a55-3a4b-4f8e-a1c2-2b7e0c1d9e10"

	mock.ExpectQuery(`SELECT id FROM entities WHERE batch_id = \$1`).
		WithArgs(batchID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(entityID))

	ids, err := repo.ListIDsByBatch(context.Background(), batchID)
	require.NoError(t, err)
	assert.Equal(t, []string{entityID}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}
