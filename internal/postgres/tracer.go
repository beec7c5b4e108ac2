package postgres

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

// QueryObserver receives per-query timings (wired by main for Prometheus).
type QueryObserver interface {
	ObserveQuery(ctx context.Context, operation, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, operation, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, operation, outcome string, dur time.Duration) {
	f(ctx, operation, outcome, dur)
}

type observerHolder struct{ QueryObserver }

var queryObserver atomic.Pointer[observerHolder]

// SetQueryObserver sets the global query observer. nil disables observation.
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		queryObserver.Store(nil)
		return
	}
	queryObserver.Store(&observerHolder{QueryObserver: o})
}

func getQueryObserver() QueryObserver {
	h := queryObserver.Load()
	if h == nil {
		return nil
	}
	return h.QueryObserver
}

type queryStartKey struct{}

type queryStart struct {
	sql    string
	at     time.Time
	caller string
}

// queryTracer wraps another pgx.QueryTracer (otelpgx) with a structured log
// line and an observer callback per query.
type queryTracer struct {
	inner  pgx.QueryTracer
	logger log.Logger
	// logQueries logs successful statements; failures are always logged.
	logQueries bool
}

func newQueryTracer(inner pgx.QueryTracer, logger log.Logger, logQueries bool) *queryTracer {
	if logger == nil {
		logger = log.Nop()
	}
	return &queryTracer{inner: inner, logger: logger, logQueries: logQueries}
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	qs := &queryStart{sql: data.SQL, at: time.Now(), caller: findCaller()}

	// otelpgx opens its span first so the caller lands on the DB span.
	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}
	if span := trace.SpanFromContext(ctx); span.IsRecording() && qs.caller != "" {
		span.SetAttributes(attribute.String("db.caller", qs.caller))
	}
	return context.WithValue(ctx, queryStartKey{}, qs)
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	qs, _ := ctx.Value(queryStartKey{}).(*queryStart)
	if qs == nil {
		return
	}
	dur := time.Since(qs.at)
	op := operationName(data.CommandTag, qs.sql)

	outcome := "ok"
	if data.Err != nil {
		outcome = "error"
	}
	if obs := getQueryObserver(); obs != nil {
		obs.ObserveQuery(ctx, op, outcome, dur)
	}

	if data.Err == nil && !t.logQueries {
		return
	}

	fields := []any{
		"db.operation.name", op,
		"db.duration", dur.Seconds(),
		"db.statement", compactSQL(qs.sql),
	}
	if qs.caller != "" {
		fields = append(fields, "db.caller", qs.caller)
	}
	if rows := data.CommandTag.RowsAffected(); data.Err == nil && rows >= 0 {
		fields = append(fields, "db.rows", rows)
	}

	if data.Err != nil {
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields, "db.error_code", pgErr.Code)
		}
		t.logger.Error(ctx, data.Err, "db query failed", fields...)
		return
	}
	t.logger.Info(ctx, "db query", fields...)
}

// operationName prefers the command tag and falls back to the statement's first keyword.
func operationName(tag pgconn.CommandTag, sql string) string {
	if parts := strings.Fields(tag.String()); len(parts) > 0 {
		return strings.ToUpper(parts[0])
	}
	if parts := strings.Fields(sql); len(parts) > 0 {
		return strings.ToUpper(parts[0])
	}
	return "UNKNOWN"
}

// compactSQL collapses whitespace so multi-line statements log on one line.
func compactSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}

// findCaller returns the first application frame issuing the query.
func findCaller() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	for {
		fr, more := frames.Next()
		fn := fr.Function
		if fn != "" && !isLibraryFrame(fn) {
			return shortenFuncName(fn)
		}
		if !more {
			return ""
		}
	}
}

func isLibraryFrame(fn string) bool {
	return strings.HasPrefix(fn, "runtime.") ||
		strings.Contains(fn, "github.com/jackc/pgx/v5") ||
		strings.Contains(fn, "github.com/exaring/otelpgx") ||
		strings.Contains(fn, "github.com/linnemanlabs/aegis/internal/postgres.")
}

// shortenFuncName trims the import path and package, keeping receiver and method.
func shortenFuncName(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 && i+1 < len(fn) {
		fn = fn[i+1:]
	}
	if dot := strings.Index(fn, "."); dot >= 0 && dot+1 < len(fn) {
		fn = fn[dot+1:]
	}
	return fn
}
