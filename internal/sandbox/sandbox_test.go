package sandbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablecron/tablecron/internal/types"
)

func sampleTable() types.Table {
	return types.Table{
		Columns: []string{"name", "score"},
		Rows: []map[string]any{
			{"name": "alice", "score": 3.0},
			{"name": "bob", "score": 1.0},
			{"name": "carol", "score": 2.0},
		},
	}
}

func TestRun_IdentityTransform(t *testing.T) {
	sb := New()
	result, err := sb.Run("data", sampleTable(), time.Second)
	require.NoError(t, err)
	assert.Len(t, result.Rows, 3)
}

func TestRun_FilterRows(t *testing.T) {
	sb := New()
	result, err := sb.Run(`FilterRows(data, {#.score >= 2.0})`, sampleTable(), time.Second)
	require.NoError(t, err)
	assert.Len(t, result.Rows, 2)
}

func TestRun_SortByDescending(t *testing.T) {
	sb := New()
	result, err := sb.Run(`SortBy(data, "score", false)`, sampleTable(), time.Second)
	require.NoError(t, err)
	require.Len(t, result.Rows, 3)
	assert.Equal(t, "alice", result.Rows[0]["name"])
}

func TestRun_TopN(t *testing.T) {
	sb := New()
	result, err := sb.Run(`TopN(SortBy(data, "score", false), 1)`, sampleTable(), time.Second)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "alice", result.Rows[0]["name"])
}

func TestRun_SelectCols(t *testing.T) {
	sb := New()
	result, err := sb.Run(`SelectCols(data, "name")`, sampleTable(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, result.Columns)
	for _, row := range result.Rows {
		_, hasScore := row["score"]
		assert.False(t, hasScore)
	}
}

func TestRun_CompileError(t *testing.T) {
	sb := New()
	_, err := sb.Run(`data +++ nonsense`, sampleTable(), time.Second)
	require.Error(t, err)
	var se *SandboxError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, Transform, se.Kind)
}

func TestRun_BadResultType(t *testing.T) {
	sb := New()
	_, err := sb.Run(`42`, sampleTable(), time.Second)
	require.Error(t, err)
	var se *SandboxError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, BadResult, se.Kind)
}

func TestRun_ZeroDeadlineUsesDefault(t *testing.T) {
	sb := New()
	result, err := sb.Run(`data`, sampleTable(), 0)
	require.NoError(t, err)
	assert.Len(t, result.Rows, 3)
}

func TestRun_NoIOPrimitivesInEnvironment(t *testing.T) {
	sb := New()
	_, err := sb.Run(`ReadFile("/etc/passwd")`, sampleTable(), time.Second)
	require.Error(t, err)
	var se *SandboxError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, Transform, se.Kind)
}
