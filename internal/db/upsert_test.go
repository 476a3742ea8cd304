package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var decisionsUpsert = UpsertConfig{
	Table:        "decisions",
	Columns:      []string{"run_id", "file_id", "reason"},
	ConflictKeys: []string{"run_id", "file_id"},
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, decisionsUpsert, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_InvalidConfig(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{Table: "t", ConflictKeys: []string{"id"}}, [][]any{{1}})
	assert.ErrorContains(t, err, "no columns specified")

	_, err = BulkUpsert(context.Background(), nil, UpsertConfig{Table: "t", Columns: []string{"id"}}, [][]any{{1}})
	assert.ErrorContains(t, err, "no conflict keys specified")
}

func TestBulkUpsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_decisions" \(LIKE "decisions"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_decisions"}, decisionsUpsert.Columns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "decisions"`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, decisionsUpsert, [][]any{
		{"run-1", "file-1", "qc_failed"},
		{"run-1", "file-2", "duplicate"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_decisions"}, decisionsUpsert.Columns).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, decisionsUpsert, [][]any{{"run-1", "file-1", "qc_failed"}})
	assert.ErrorContains(t, err, "COPY into temp table for decisions")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeSQL(t *testing.T) {
	assert.Equal(t,
		`INSERT INTO "decisions" ("run_id", "file_id", "reason") SELECT "run_id", "file_id", "reason" FROM "_tmp_upsert_decisions" ON CONFLICT ("run_id", "file_id") DO UPDATE SET "reason" = EXCLUDED."reason"`,
		decisionsUpsert.mergeSQL())

	keysOnly := UpsertConfig{Table: "audit.seen", Columns: []string{"id"}, ConflictKeys: []string{"id"}}
	assert.Equal(t,
		`INSERT INTO "audit"."seen" ("id") SELECT "id" FROM "_tmp_upsert_audit_seen" ON CONFLICT ("id") DO NOTHING`,
		keysOnly.mergeSQL())
}

func TestSanitizeTable(t *testing.T) {
	assert.Equal(t, `"runs"`, sanitizeTable("runs"))
	assert.Equal(t, `"audit"."runs"`, sanitizeTable("audit.runs"))
}
