// Package types holds the domain model shared by every component of the
// scheduled-execution engine: the persisted Job, its tagged data source, and
// the tabular value exchanged between the Fetcher, Sandbox, and Mailer.
package types

import (
	"sort"
	"time"
)

// SourceKind distinguishes the two shapes a Job's input can take.
type SourceKind string

const (
	SourceAPI  SourceKind = "api"
	SourceFile SourceKind = "file"
)

// FileType names the format a file-backed source is parsed as.
type FileType string

const (
	FileCSV  FileType = "csv"
	FileJSON FileType = "json"
)

// DataSource is the tagged variant {api, url} | {file, path, file_type}
// described in spec.md §3.
type DataSource struct {
	Type     SourceKind        `json:"source_type"`
	Location string            `json:"location"`
	FileType FileType          `json:"file_type,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// Job is the persisted configuration of one scheduled task.
type Job struct {
	ID         string     `json:"id"`
	Name       string     `json:"job_name"`
	Schedule   string     `json:"schedule_time"`
	Source     DataSource `json:"data_source"`
	Transform  string     `json:"processing_script"`
	Recipients []string   `json:"consumer_emails"`
	CreatedAt  time.Time  `json:"created_at"`
	LastRun    *time.Time `json:"last_run,omitempty"`
}

// JobCreateDTO is the wire schema accepted by the Control API for both
// creation and update (spec.md §6).
type JobCreateDTO struct {
	Name       string     `json:"job_name"`
	Schedule   string     `json:"schedule_time"`
	Source     DataSource `json:"data_source"`
	Transform  string     `json:"processing_script"`
	Recipients []string   `json:"consumer_emails"`
}

// Table is a rectangular, typed, column-named dataset: the unit exchanged
// between Fetcher, Sandbox, and Mailer.
type Table struct {
	Columns []string
	Rows    []map[string]any
}

// ColumnUnion returns the table's declared Columns, in order, followed by
// every further column name that appears in the rows, each name once. The
// names a row adds are appended in sorted order, row by row, so the result
// is the same on every call for the same table.
func (t Table) ColumnUnion() []string {
	seen := make(map[string]struct{}, len(t.Columns))
	cols := make([]string, 0, len(t.Columns))
	add := func(c string) {
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}
		cols = append(cols, c)
	}
	for _, c := range t.Columns {
		add(c)
	}
	for _, row := range t.Rows {
		keys := make([]string, 0, len(row))
		for k := range row {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			add(k)
		}
	}
	return cols
}
