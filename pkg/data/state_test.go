package data

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDataState(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	state, err := GetDataState(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"epss": 0, "kev": 0, "imports": 0}, state)

	seedTestData(t, db)
	state, err = GetDataState(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(4), state["epss"])
	assert.Equal(t, int64(2), state["kev"])
	assert.Equal(t, int64(2), state["imports"])
}

func TestGetDataState_NilDB(t *testing.T) {
	_, err := GetDataState(context.Background(), nil)
	assert.Error(t, err)
}

func TestGetImportHistory(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	list, err := GetImportHistory(ctx, db, 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	seedTestData(t, db)
	list, err = GetImportHistory(ctx, db, 5)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, SourceKEV, list[0].Source)
	assert.Equal(t, SourceEPSS, list[1].Source)
	assert.Equal(t, 4, list[1].Records)
	assert.Equal(t, "v2025.03.14", list[1].ModelVersion)
	assert.NotEmpty(t, list[1].ImportedAt)

	list, err = GetImportHistory(ctx, db, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSaveImport_Nil(t *testing.T) {
	db := setupTestDB(t)
	assert.Error(t, saveImport(context.Background(), db, nil))
}

func TestGetImportHistory_NilDB(t *testing.T) {
	_, err := GetImportHistory(context.Background(), nil, 1)
	assert.Error(t, err)
}
