// Package fetcher obtains a tabular value from an HTTP endpoint or a local
// file, as described in spec.md §4.2. The HTTP path is grounded on the
// teacher's parser/sheet.go (a plain net/http GET against an external
// tabular export), and CSV parsing follows the header-driven convention of
// parser/csv.go; retry/backoff is provided by internal/resilience, the
// generalized form of the teacher's email/resilience.go.
package fetcher

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/tablecron/tablecron/internal/resilience"
	"github.com/tablecron/tablecron/internal/types"
)

const (
	httpTimeout  = 30 * time.Second
	maxAttempts  = 3
	baseDelay    = 500 * time.Millisecond
	maxDelay     = 4 * time.Second
)

// Kind distinguishes why a FetchError occurred.
type Kind int

const (
	Transient Kind = iota
	Permanent
)

// FetchError carries a human-readable cause and whether retrying the fetch
// is expected to help.
type FetchError struct {
	Kind  Kind
	Cause error
}

func (e *FetchError) Error() string {
	if e.Kind == Transient {
		return fmt.Sprintf("fetch: transient: %v", e.Cause)
	}
	return fmt.Sprintf("fetch: permanent: %v", e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

func transientErr(cause error) error { return &FetchError{Kind: Transient, Cause: cause} }
func permanentErr(cause error) error { return &FetchError{Kind: Permanent, Cause: cause} }

// Fetcher obtains tabular data from the sources a Job can name.
type Fetcher struct {
	client *http.Client
	policy resilience.Policy
}

// New builds a Fetcher with the spec's default timeout and retry policy.
func New() *Fetcher {
	return &Fetcher{
		client: &http.Client{Timeout: httpTimeout},
		policy: resilience.Policy{
			MaxAttempts:   maxAttempts,
			BaseDelay:     baseDelay,
			MaxDelay:      maxDelay,
			BackoffFactor: 2.0,
		},
	}
}

func classify(err error) resilience.Classification {
	var fe *FetchError
	if errors.As(err, &fe) && fe.Kind == Permanent {
		return resilience.Permanent
	}
	return resilience.Transient
}

// Fetch produces a Table from source, retrying transient failures up to
// three attempts total with exponential backoff. Parse errors and HTTP 4xx
// responses are never retried.
func (f *Fetcher) Fetch(ctx context.Context, source types.DataSource) (types.Table, error) {
	var table types.Table
	err := f.policy.Do(ctx, classify, func() error {
		var err error
		switch source.Type {
		case types.SourceAPI:
			table, err = f.fetchAPI(ctx, source)
		case types.SourceFile:
			table, err = f.fetchFile(source)
		default:
			return permanentErr(fmt.Errorf("unknown source type %q", source.Type))
		}
		return err
	})
	if err != nil {
		return types.Table{}, err
	}
	return table, nil
}

func (f *Fetcher) fetchAPI(ctx context.Context, source types.DataSource) (types.Table, error) {
	reqCtx, cancel := context.WithTimeout(ctx, httpTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, source.Location, nil)
	if err != nil {
		return types.Table{}, permanentErr(fmt.Errorf("build request: %w", err))
	}
	for k, v := range source.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return types.Table{}, permanentErr(fmt.Errorf("cancelled: %w", ctx.Err()))
		}
		return types.Table{}, transientErr(fmt.Errorf("GET %s: %w", source.Location, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return types.Table{}, transientErr(fmt.Errorf("GET %s: status %d", source.Location, resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return types.Table{}, permanentErr(fmt.Errorf("GET %s: status %d", source.Location, resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Table{}, transientErr(fmt.Errorf("read body: %w", err))
	}

	table, err := parseJSONTable(body)
	if err != nil {
		return types.Table{}, permanentErr(err)
	}
	return table, nil
}

func (f *Fetcher) fetchFile(source types.DataSource) (types.Table, error) {
	data, err := os.ReadFile(source.Location)
	if err != nil {
		if os.IsNotExist(err) {
			return types.Table{}, permanentErr(fmt.Errorf("read %s: %w", source.Location, err))
		}
		return types.Table{}, transientErr(fmt.Errorf("read %s: %w", source.Location, err))
	}

	switch source.FileType {
	case types.FileCSV:
		table, err := parseCSVTable(data)
		if err != nil {
			return types.Table{}, permanentErr(err)
		}
		return table, nil
	case types.FileJSON:
		table, err := parseJSONTable(data)
		if err != nil {
			return types.Table{}, permanentErr(err)
		}
		return table, nil
	default:
		return types.Table{}, permanentErr(fmt.Errorf("unsupported file_type %q", source.FileType))
	}
}

// parseJSONTable implements spec.md's rule: a top-level array becomes one
// row per element (each element's keys become columns); a top-level object
// becomes a one-row table.
func parseJSONTable(data []byte) (types.Table, error) {
	var probe any
	if err := json.Unmarshal(data, &probe); err != nil {
		return types.Table{}, fmt.Errorf("parse JSON: %w", err)
	}

	switch v := probe.(type) {
	case []any:
		rows := make([]map[string]any, 0, len(v))
		for i, elem := range v {
			obj, ok := elem.(map[string]any)
			if !ok {
				return types.Table{}, fmt.Errorf("element %d is not an object", i)
			}
			rows = append(rows, obj)
		}
		table := types.Table{Rows: rows}
		table.Columns = table.ColumnUnion()
		return table, nil
	case map[string]any:
		table := types.Table{Rows: []map[string]any{v}}
		table.Columns = table.ColumnUnion()
		return table, nil
	default:
		return types.Table{}, fmt.Errorf("top-level JSON value must be an array or object")
	}
}

func parseCSVTable(data []byte) (types.Table, error) {
	r := csv.NewReader(strings.NewReader(string(data)))
	r.TrimLeadingSpace = true

	headers, err := r.Read()
	if err != nil {
		return types.Table{}, fmt.Errorf("read CSV header: %w", err)
	}
	for i, h := range headers {
		headers[i] = strings.TrimSpace(h)
	}

	var rows []map[string]any
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return types.Table{}, fmt.Errorf("read CSV row: %w", err)
		}
		row := make(map[string]any, len(headers))
		for i, h := range headers {
			if i < len(record) {
				row[h] = record[i]
			}
		}
		rows = append(rows, row)
	}

	return types.Table{Columns: headers, Rows: rows}, nil
}
