package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/ratchetdb/ratchet/api"
	"github.com/rs/zerolog"
)

// fakeRow scans canned values, or fails with err.
type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, v := range r.values {
		if i >= len(dest) {
			break
		}
		switch d := dest[i].(type) {
		case *bool:
			*d = v.(bool)
		case *string:
			*d = v.(string)
		case *int:
			*d = v.(int)
		case *int64:
			*d = v.(int64)
		default:
			return fmt.Errorf("fakeRow: unsupported dest type %T", dest[i])
		}
	}
	return nil
}

// fakeRows yields no rows; enough for the lock sampling query.
type fakeRows struct{}

func (fakeRows) Close()                                       {}
func (fakeRows) Err() error                                   { return nil }
func (fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (fakeRows) Next() bool                                   { return false }
func (fakeRows) Scan(dest ...any) error                       { return nil }
func (fakeRows) Values() ([]any, error)                       { return nil, nil }
func (fakeRows) RawValues() [][]byte                          { return nil }
func (fakeRows) Conn() *pgx.Conn                              { return nil }

// fakeTx satisfies pgx.Tx and records its outcome on the owning fakeDB.
type fakeTx struct {
	db         *fakeDB
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *fakeTx) Commit(ctx context.Context) error {
	if t.committed || t.rolledBack {
		return pgx.ErrTxClosed
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if t.committed || t.rolledBack {
		return pgx.ErrTxClosed
	}
	t.rolledBack = true
	return nil
}

func (t *fakeTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, fmt.Errorf("not supported")
}

func (t *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }

func (t *fakeTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, fmt.Errorf("not supported")
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.db.record(sql)
	return pgconn.CommandTag{}, t.db.execErr(sql)
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	t.db.record(sql)
	return fakeRows{}, nil
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	t.db.record(sql)
	return fakeRow{}
}

func (t *fakeTx) Conn() *pgx.Conn { return nil }

// fakeDB satisfies DB. Every statement executed through it or its
// transactions lands in executed, and statements matching failOn fail.
type fakeDB struct {
	mu       sync.Mutex
	executed []string
	failOn   map[string]error
	beginErr error
	txs      []*fakeTx
}

func newFakeDB() *fakeDB {
	return &fakeDB{failOn: make(map[string]error)}
}

func (db *fakeDB) record(sql string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.executed = append(db.executed, sql)
}

func (db *fakeDB) execErr(sql string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.failOn[sql]
}

func (db *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	if db.beginErr != nil {
		return nil, db.beginErr
	}
	tx := &fakeTx{db: db}
	db.mu.Lock()
	db.txs = append(db.txs, tx)
	db.mu.Unlock()
	return tx, nil
}

func (db *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.record(sql)
	return pgconn.CommandTag{}, db.execErr(sql)
}

func (db *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	db.record(sql)
	return fakeRows{}, nil
}

func (db *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	db.record(sql)
	return fakeRow{}
}

// memHistory keeps migration records in memory.
type memHistory struct {
	mu      sync.Mutex
	records map[string]api.MigrationRecord
	failOn  map[string]error
}

func newMemHistory() *memHistory {
	return &memHistory{
		records: make(map[string]api.MigrationRecord),
		failOn:  make(map[string]error),
	}
}

func (h *memHistory) EnsureSchema(ctx context.Context, q api.Querier) error { return nil }

func (h *memHistory) Applied(ctx context.Context, q api.Querier) ([]api.MigrationRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []api.MigrationRecord
	for _, rec := range h.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (h *memHistory) IsApplied(ctx context.Context, q api.Querier, version string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.records[version]
	return ok, nil
}

func (h *memHistory) Insert(ctx context.Context, q api.Querier, rec api.MigrationRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.failOn["insert:"+rec.Version]; err != nil {
		return err
	}
	h.records[rec.Version] = rec
	return nil
}

func (h *memHistory) Delete(ctx context.Context, q api.Querier, version string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.records, version)
	return nil
}

// memCheckpoints keeps batch checkpoints in memory.
type memCheckpoints struct {
	mu     sync.Mutex
	chunks map[string]int
	rows   map[string]int64
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{chunks: make(map[string]int), rows: make(map[string]int64)}
}

func (c *memCheckpoints) EnsureSchema(ctx context.Context, q api.Querier) error { return nil }

func (c *memCheckpoints) Load(ctx context.Context, q api.Querier, version string) (int, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chunks[version], c.rows[version], nil
}

func (c *memCheckpoints) Save(ctx context.Context, q api.Querier, version string, chunks int, rows int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks[version] = chunks
	c.rows[version] = rows
	return nil
}

func (c *memCheckpoints) Clear(ctx context.Context, q api.Querier, version string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.chunks, version)
	delete(c.rows, version)
	return nil
}

// fakeConn satisfies pinnedConn with scripted lock query answers.
type fakeConn struct {
	answers  []any // bool for a lock/unlock result, error for a query failure
	next     int
	released bool
}

func (c *fakeConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if c.next >= len(c.answers) {
		return fakeRow{err: fmt.Errorf("no scripted answer for query %d", c.next)}
	}
	answer := c.answers[c.next]
	c.next++
	if err, ok := answer.(error); ok {
		return fakeRow{err: err}
	}
	return fakeRow{values: []any{answer}}
}

func (c *fakeConn) Release() { c.released = true }

type fakeConnSource struct {
	conn *fakeConn
	err  error
}

func (s *fakeConnSource) Acquire(ctx context.Context) (pinnedConn, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.conn, nil
}

// fakeLocker satisfies Locker for orchestrator tests. Each handle it hands
// out answers the unlock query with true.
type fakeLocker struct {
	err      error
	acquired int
	conns    []*fakeConn
}

func (l *fakeLocker) Acquire(ctx context.Context, timeout time.Duration) (*LockHandle, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired++
	conn := &fakeConn{answers: []any{true}}
	l.conns = append(l.conns, conn)
	return &LockHandle{conn: conn, key: 1, log: zerolog.Nop()}, nil
}

// recordingHook notes each execution in a shared trace.
type recordingHook struct {
	name  string
	phase api.HookPhase
	trace *[]string
	fail  error
	rows  int64
}

func (h *recordingHook) Phase() api.HookPhase { return h.phase }

func (h *recordingHook) Execute(ctx context.Context, q api.Querier, hctx *api.HookContext) (api.HookResult, error) {
	*h.trace = append(*h.trace, h.name+":"+h.phase.String())
	if h.fail != nil {
		return api.HookResult{}, h.fail
	}
	return api.HookResult{RowsAffected: h.rows}, nil
}

// sliceSource serves a fixed migration set.
type sliceSource struct {
	migrations []api.Migration
	err        error
}

func (s *sliceSource) Load() ([]api.Migration, error) {
	return s.migrations, s.err
}
