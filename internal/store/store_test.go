package store

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablecron/tablecron/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "jobs-*.db")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	st, err := Open(f.Name())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func sampleJob(name string) types.Job {
	return types.Job{
		Name:       name,
		Schedule:   "0 * * * *",
		Source:     types.DataSource{Type: types.SourceAPI, Location: "https://example.com/data"},
		Transform:  "result = data",
		Recipients: []string{"a@example.com"},
		CreatedAt:  time.Now().UTC(),
	}
}

func TestPutAndGet(t *testing.T) {
	st := newTestStore(t)
	job := sampleJob("daily-report")

	require.NoError(t, st.Put(job))

	got, err := st.Get("daily-report")
	require.NoError(t, err)
	assert.Equal(t, job.Schedule, got.Schedule)
}

func TestPut_NameInUse(t *testing.T) {
	st := newTestStore(t)
	job := sampleJob("dup")
	require.NoError(t, st.Put(job))

	err := st.Put(job)
	assert.ErrorIs(t, err, ErrNameInUse)
}

func TestGet_NotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReplace_PreservesCreatedAtAndLastRun(t *testing.T) {
	st := newTestStore(t)
	job := sampleJob("weekly")
	require.NoError(t, st.Put(job))

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, st.TouchLastRun("weekly", now))

	updated := sampleJob("weekly")
	updated.Schedule = "0 0 * * 1"
	require.NoError(t, st.Replace("weekly", updated))

	got, err := st.Get("weekly")
	require.NoError(t, err)
	assert.Equal(t, job.CreatedAt.Unix(), got.CreatedAt.Unix())
	require.NotNil(t, got.LastRun)
	assert.Equal(t, now.Unix(), got.LastRun.Unix())
	assert.Equal(t, "0 0 * * 1", got.Schedule)
}

func TestReplace_NotFound(t *testing.T) {
	st := newTestStore(t)
	err := st.Replace("missing", sampleJob("missing"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemove(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Put(sampleJob("to-delete")))
	require.NoError(t, st.Remove("to-delete"))

	_, err := st.Get("to-delete")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemove_NotFound(t *testing.T) {
	st := newTestStore(t)
	assert.ErrorIs(t, st.Remove("missing"), ErrNotFound)
}

func TestTouchLastRun_MissingJobSilentlyDropped(t *testing.T) {
	st := newTestStore(t)
	err := st.TouchLastRun("missing", time.Now())
	assert.NoError(t, err)
}

func TestList(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Put(sampleJob("a")))
	require.NoError(t, st.Put(sampleJob("b")))

	jobs, err := st.List()
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}
