package database

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

func TestSlowQueryTracer(t *testing.T) {
	var buf bytes.Buffer
	tr := &slowQueryTracer{log: zerolog.New(&buf), threshold: time.Hour}

	ctx := tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})
	if buf.Len() != 0 {
		t.Fatalf("fast query logged: %s", buf.String())
	}

	tr.threshold = 0
	ctx = tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT pg_sleep(1)"})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})
	if !strings.Contains(buf.String(), "Slow query") || !strings.Contains(buf.String(), "pg_sleep") {
		t.Fatalf("slow query not logged: %s", buf.String())
	}
}

func TestSlowQueryTracerWithoutStart(t *testing.T) {
	var buf bytes.Buffer
	tr := &slowQueryTracer{log: zerolog.New(&buf)}
	tr.TraceQueryEnd(context.Background(), nil, pgx.TraceQueryEndData{})
	if buf.Len() != 0 {
		t.Fatalf("logged without a start: %s", buf.String())
	}
}

func TestTruncateSQL(t *testing.T) {
	if got := truncateSQL("SELECT 1", 200); got != "SELECT 1" {
		t.Errorf("short = %q", got)
	}
	if got := truncateSQL(strings.Repeat("x", 10), 4); got != "xxxx..." {
		t.Errorf("long = %q", got)
	}
}
