package grid

import (
	"context"
	"strings"
	"time"
)

// Row is one rendered grid row whose cells are addressed by column index.
type Row interface {
	Cell(ctx context.Context, col int) (string, error)
}

// Fields is a row read into field name → trimmed cell text.
type Fields map[string]string

// ReadRow reads every declared column of row. A cell that errors or does not
// resolve within cellTimeout reads as "". ReadRow never fails.
func ReadRow(ctx context.Context, row Row, cols Columns, cellTimeout time.Duration) Fields {
	out := make(Fields, len(cols))
	for _, field := range cols.Fields() {
		out[field] = readCell(ctx, row, cols[field], cellTimeout)
	}
	return out
}

// ReadCell reads a single column with the same tolerance as ReadRow.
func ReadCell(ctx context.Context, row Row, col int, cellTimeout time.Duration) string {
	return readCell(ctx, row, col, cellTimeout)
}

func readCell(ctx context.Context, row Row, col int, timeout time.Duration) string {
	cctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	text, err := row.Cell(cctx, col)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

// IsHeader reports whether name is empty or the grid's header label.
func (g Grid) IsHeader(name string) bool {
	name = strings.TrimSpace(name)
	return name == "" || strings.EqualFold(name, g.Header)
}
