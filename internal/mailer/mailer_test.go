package mailer

import (
	"context"
	"testing"
	"time"

	smtpmock "github.com/mocktools/go-smtp-mock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablecron/tablecron/internal/types"
)

func startMockSMTP(t *testing.T) *smtpmock.Server {
	t.Helper()
	server := smtpmock.New(smtpmock.ConfigurationAttr{})
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

func testConfig(server *smtpmock.Server) Config {
	return Config{
		Host: server.HostAddress,
		Port: server.Port,
		From: "reports@example.com",
	}
}

func TestDeliverSuccess_SendsCSVAttachment(t *testing.T) {
	server := startMockSMTP(t)
	m := New(testConfig(server), 0, 0)

	result := types.Table{
		Columns: []string{"name", "score"},
		Rows:    []map[string]any{{"name": "alice", "score": 3}},
	}

	err := m.DeliverSuccess(context.Background(), "daily-report", []string{"ops@example.com"}, result, time.Now())
	require.NoError(t, err)

	messages := server.Messages()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0].MsgRequest(), "Job Results: daily-report")
}

func TestDeliverFailure_SendsErrorSummary(t *testing.T) {
	server := startMockSMTP(t)
	m := New(testConfig(server), 0, 0)

	err := m.DeliverFailure(context.Background(), "daily-report", []string{"ops@example.com"}, "fetch timed out", time.Now())
	require.NoError(t, err)

	messages := server.Messages()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0].MsgRequest(), "Job Failed: daily-report")
	assert.Contains(t, messages[0].MsgRequest(), "fetch timed out")
}

func TestSerializeCSV_QuotesEmbeddedDelimiters(t *testing.T) {
	table := types.Table{
		Columns: []string{"name", "note"},
		Rows:    []map[string]any{{"name": "alice", "note": "has, a comma"}},
	}
	data, err := serializeCSV(table)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"has, a comma"`)
}

func TestDeliver_RefusesEmptyFrom(t *testing.T) {
	server := startMockSMTP(t)
	cfg := testConfig(server)
	cfg.From = ""
	m := New(cfg, 0, 0)

	err := m.DeliverSuccess(context.Background(), "job", []string{"a@example.com"}, types.Table{}, time.Now())
	assert.Error(t, err)
}
