// Package sandbox evaluates a job's transform expression against one input
// Table, as described in spec.md §4.3. It embeds github.com/expr-lang/expr
// — the same expression engine the teacher already uses for recipient
// filtering in parser/expr.go — rather than a general-purpose scripting
// language, satisfying spec.md §9 Design Note option (a). A small catalog of
// named table operations (option (c)) is exposed as expr functions so a
// transform can express filter/select/sort/group/top-N pipelines while
// remaining a single expression with no access to I/O primitives: expr's
// environment only contains what this package registers, so the capability
// boundary in spec.md §4.3 holds by construction.
package sandbox

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/tablecron/tablecron/internal/types"
)

const DefaultDeadline = 300 * time.Second

// ErrorKind distinguishes why a Sandbox run failed.
type ErrorKind int

const (
	Timeout ErrorKind = iota
	Transform
	BadResult
)

// SandboxError is returned for every failure mode a transform run can hit.
// Cause carries the captured error text (standing in for a traceback, since
// expr evaluation errors are not a multi-frame stack).
type SandboxError struct {
	Kind  ErrorKind
	Cause error
}

func (e *SandboxError) Error() string {
	switch e.Kind {
	case Timeout:
		return "sandbox: timeout"
	case BadResult:
		return fmt.Sprintf("sandbox: bad result: %v", e.Cause)
	default:
		return fmt.Sprintf("sandbox: transform error: %v", e.Cause)
	}
}

func (e *SandboxError) Unwrap() error { return e.Cause }

// Sandbox compiles and evaluates transform expressions.
type Sandbox struct{}

// New constructs a Sandbox.
func New() *Sandbox { return &Sandbox{} }

// env is the expression environment: `data` plus the table-operation
// catalog. Every function operates on types.Table/rows only; none of them
// touch the filesystem, network, or process control.
type env struct {
	Data       types.Table `expr:"data"`
	FilterRows func(types.Table, func(map[string]any) bool) types.Table
	SelectCols func(types.Table, ...string) types.Table
	SortBy     func(types.Table, string, ...bool) types.Table
	GroupBy    func(types.Table, string) map[string]types.Table
	TopN       func(types.Table, int) types.Table
	MapCol     func(types.Table, string, func(any) any) types.Table
}

func newEnv(data types.Table) env {
	return env{
		Data:       data,
		FilterRows: filterRows,
		SelectCols: selectCols,
		SortBy:     sortBy,
		GroupBy:    groupBy,
		TopN:       topN,
		MapCol:     mapCol,
	}
}

func filterRows(t types.Table, keep func(map[string]any) bool) types.Table {
	out := types.Table{Columns: t.Columns}
	for _, row := range t.Rows {
		if keep(row) {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

func selectCols(t types.Table, cols ...string) types.Table {
	out := types.Table{Columns: cols}
	for _, row := range t.Rows {
		nr := make(map[string]any, len(cols))
		for _, c := range cols {
			nr[c] = row[c]
		}
		out.Rows = append(out.Rows, nr)
	}
	return out
}

func sortBy(t types.Table, col string, ascending ...bool) types.Table {
	asc := true
	if len(ascending) > 0 {
		asc = ascending[0]
	}
	out := types.Table{Columns: t.Columns, Rows: append([]map[string]any(nil), t.Rows...)}
	sort.SliceStable(out.Rows, func(i, j int) bool {
		less := compare(out.Rows[i][col], out.Rows[j][col])
		if asc {
			return less
		}
		return !less && out.Rows[i][col] != out.Rows[j][col]
	})
	return out
}

func compare(a, b any) bool {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			return av < bv
		}
	case int:
		if bv, ok := b.(int); ok {
			return av < bv
		}
	case string:
		if bv, ok := b.(string); ok {
			return av < bv
		}
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

func groupBy(t types.Table, col string) map[string]types.Table {
	groups := make(map[string]types.Table)
	for _, row := range t.Rows {
		key := fmt.Sprint(row[col])
		g := groups[key]
		g.Columns = t.Columns
		g.Rows = append(g.Rows, row)
		groups[key] = g
	}
	return groups
}

func topN(t types.Table, n int) types.Table {
	if n < 0 {
		n = 0
	}
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	return types.Table{Columns: t.Columns, Rows: append([]map[string]any(nil), t.Rows[:n]...)}
}

func mapCol(t types.Table, col string, fn func(any) any) types.Table {
	out := types.Table{Columns: t.Columns}
	for _, row := range t.Rows {
		nr := make(map[string]any, len(row))
		for k, v := range row {
			nr[k] = v
		}
		nr[col] = fn(row[col])
		out.Rows = append(out.Rows, nr)
	}
	return out
}

// Run compiles transformText, evaluates it with `data` bound to input, and
// returns the resulting Table. A hard wall-clock deadline aborts the
// evaluation with SandboxError{Kind: Timeout}; because expr programs cannot
// be preempted from outside, a timed-out evaluation's goroutine is
// abandoned rather than killed (spec.md §9) — the Executor slot is freed
// immediately regardless.
func (s *Sandbox) Run(transformText string, input types.Table, deadline time.Duration) (types.Table, error) {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	transformText = strings.TrimSpace(transformText)

	program, err := expr.Compile(transformText, expr.Env(env{}))
	if err != nil {
		return types.Table{}, &SandboxError{Kind: Transform, Cause: err}
	}

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := runProgram(program, newEnv(input))
		done <- outcome{result, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return types.Table{}, &SandboxError{Kind: Transform, Cause: o.err}
		}
		table, ok := o.result.(types.Table)
		if !ok {
			return types.Table{}, &SandboxError{Kind: BadResult, Cause: fmt.Errorf("transform produced %T, not a table", o.result)}
		}
		return table, nil
	case <-time.After(deadline):
		return types.Table{}, &SandboxError{Kind: Timeout}
	}
}

func runProgram(program *vm.Program, e env) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transform panicked: %v", r)
		}
	}()
	return expr.Run(program, e)
}
