package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	smtpmock "github.com/mocktools/go-smtp-mock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablecron/tablecron/internal/fetcher"
	"github.com/tablecron/tablecron/internal/logger"
	"github.com/tablecron/tablecron/internal/mailer"
	"github.com/tablecron/tablecron/internal/metrics"
	"github.com/tablecron/tablecron/internal/sandbox"
	"github.com/tablecron/tablecron/internal/store"
	"github.com/tablecron/tablecron/internal/types"
)

func newTestExecutor(t *testing.T, smtpServer *smtpmock.Server) (*Executor, *store.Store) {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "jobs-*.db")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	st, err := store.Open(f.Name())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	mt, _ := metrics.New()
	ml := mailer.New(mailer.Config{Host: smtpServer.HostAddress, Port: smtpServer.Port, From: "reports@example.com"}, 0, 0)
	exec := New(st, fetcher.New(), sandbox.New(), ml, mt, nil, logger.New("error"), time.Second)
	return exec, st
}

func TestRun_FullSuccess_AdvancesLastRun(t *testing.T) {
	server := smtpmock.New(smtpmock.ConfigurationAttr{})
	require.NoError(t, server.Start())
	defer server.Stop()

	dataServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"name":"alice","score":3}]`))
	}))
	defer dataServer.Close()

	exec, st := newTestExecutor(t, server)
	job := types.Job{
		Name:       "report",
		Schedule:   "0 * * * *",
		Source:     types.DataSource{Type: types.SourceAPI, Location: dataServer.URL},
		Transform:  "data",
		Recipients: []string{"ops@example.com"},
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, st.Put(job))

	exec.Run(context.Background(), "report")

	got, err := st.Get("report")
	require.NoError(t, err)
	assert.NotNil(t, got.LastRun)

	messages := server.Messages()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0].MsgRequest(), "Job Results: report")
}

func TestRun_FetchFailure_SendsFailureNoticeAndSkipsLastRun(t *testing.T) {
	server := smtpmock.New(smtpmock.ConfigurationAttr{})
	require.NoError(t, server.Start())
	defer server.Stop()

	exec, st := newTestExecutor(t, server)
	job := types.Job{
		Name:       "broken",
		Schedule:   "0 * * * *",
		Source:     types.DataSource{Type: types.SourceFile, Location: "/nonexistent.csv", FileType: types.FileCSV},
		Transform:  "data",
		Recipients: []string{"ops@example.com"},
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, st.Put(job))

	exec.Run(context.Background(), "broken")

	got, err := st.Get("broken")
	require.NoError(t, err)
	assert.Nil(t, got.LastRun)

	messages := server.Messages()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0].MsgRequest(), "Job Failed: broken")
}

func TestRun_MissingJob_IsNoOp(t *testing.T) {
	server := smtpmock.New(smtpmock.ConfigurationAttr{})
	require.NoError(t, server.Start())
	defer server.Stop()

	exec, _ := newTestExecutor(t, server)
	assert.NotPanics(t, func() { exec.Run(context.Background(), "does-not-exist") })
	assert.Empty(t, server.Messages())
}
