package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "records", []string{"id", "original_name"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"records"}, []string{"id", "original_name"}).WillReturnResult(2)

	rows := [][]any{{"r1", "Oxfam"}, {"r2", "British Red Cross"}}
	n, err := CopyFrom(context.Background(), mock, "records", []string{"id", "original_name"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"records"}, []string{"id"}).WillReturnError(fmt.Errorf("copy failed"))

	_, err = CopyFrom(context.Background(), mock, "records", []string{"id"}, [][]any{{"r1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO records")
	assert.NoError(t, mock.ExpectationsWereMet())
}
