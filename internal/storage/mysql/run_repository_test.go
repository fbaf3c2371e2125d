package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jainkunal/giza-agents/internal/auth"
)

// 两种实现都必须完整满足仓库接口，守护进程通过接口统一关闭。
var (
	_ RunRepository = (*MemoryRunRepository)(nil)
	_ RunRepository = (*SQLRunRepository)(nil)
)

func TestMemoryRunRepositoryCRUD(t *testing.T) {
	t.Parallel()

	repo, err := NewMemoryRunRepository(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create memory repo: %v", err)
	}

	ctx := context.Background()
	now := time.Now().Unix()
	record := &RunRecord{
		TaskID:    "task-1",
		ModelID:   42,
		VersionID: 3,
		RequestID: "req-abc",
		Output:    "2 1 3 100 false 200 false 300 false",
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := repo.Create(ctx, record); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if record.ID == 0 {
		t.Fatalf("expected record ID to be assigned")
	}

	stored, err := repo.GetByRequestID(ctx, "req-abc")
	if err != nil {
		t.Fatalf("get by request id failed: %v", err)
	}
	if stored.ModelID != 42 || stored.Verified {
		t.Fatalf("unexpected record: %+v", stored)
	}

	stored.ProofID = "proof-1"
	stored.Verified = true
	stored.TxHash = "0xdead"
	if err := repo.Update(ctx, *stored); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	list, err := repo.ListLatest(ctx, 10)
	if err != nil {
		t.Fatalf("list latest failed: %v", err)
	}
	if len(list) != 1 || !list[0].Verified || list[0].TxHash != "0xdead" {
		t.Fatalf("unexpected list result: %+v", list)
	}

	if _, err := repo.GetByRequestID(ctx, "req-missing"); err != ErrRunNotFound {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}

	if err := repo.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
}

func TestMemoryRunRepositoryReloadKeepsLatestVersion(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	repo, err := NewMemoryRunRepository(dir)
	if err != nil {
		t.Fatalf("failed to create memory repo: %v", err)
	}
	record := &RunRecord{RequestID: "req-1", Output: "out", CreatedAt: 1, UpdatedAt: 1}
	if err := repo.Create(ctx, record); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	record.Verified = true
	record.ProofID = "proof-9"
	if err := repo.Update(ctx, *record); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	reloaded, err := NewMemoryRunRepository(dir)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	stored, err := reloaded.GetByRequestID(ctx, "req-1")
	if err != nil {
		t.Fatalf("get after reload failed: %v", err)
	}
	if !stored.Verified || stored.ProofID != "proof-9" {
		t.Fatalf("reload lost the updated version: %+v", stored)
	}

	next := &RunRecord{RequestID: "req-2", CreatedAt: 2, UpdatedAt: 2}
	if err := reloaded.Create(ctx, next); err != nil {
		t.Fatalf("create after reload failed: %v", err)
	}
	if next.ID <= stored.ID {
		t.Fatalf("id sequence not restored: %d <= %d", next.ID, stored.ID)
	}
}

func TestSQLRunRepositoryCreate(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		execOp(insertRunSQL, mockResult{lastInsertID: 7, rowsAffected: 1}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	repo := &SQLRunRepository{db: db}
	record := &RunRecord{ModelID: 1, VersionID: 2, RequestID: "req", Output: "out"}
	if err := repo.Create(context.Background(), record); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if record.ID != 7 {
		t.Fatalf("expected id 7, got %d", record.ID)
	}
	if record.CreatedAt == 0 || record.UpdatedAt == 0 {
		t.Fatalf("timestamps should be backfilled: %+v", record)
	}
}

func TestSQLRunRepositoryGetAndUpdate(t *testing.T) {
	t.Parallel()

	columns := strings.Split(strings.ReplaceAll(selectRunColumns, " ", ""), ",")
	rows := mockRowsData{
		columns: columns,
		values: [][]driver.Value{{
			int64(7), "task-1", int64(42), int64(3), "req-abc", "proof-1", "CAIRO",
			int64(1), "out", "deposit", "0xvault", "1000000", "0xdead", int64(1), int64(2),
		}},
	}

	db, drv := newMockDB(t, []mockOperation{
		queryOp(`SELECT `+selectRunColumns+`
    FROM agent_runs WHERE request_id = ? ORDER BY id DESC LIMIT 1`, rows),
		execOp(updateRunSQL, mockResult{rowsAffected: 1}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	repo := &SQLRunRepository{db: db}
	record, err := repo.GetByRequestID(context.Background(), "req-abc")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if record.ID != 7 || !record.Verified || record.VaultAction != "deposit" {
		t.Fatalf("unexpected record: %+v", record)
	}

	record.TxHash = "0xbeef"
	if err := repo.Update(context.Background(), *record); err != nil {
		t.Fatalf("update failed: %v", err)
	}
}

func TestSQLRunRepositoryListLatest(t *testing.T) {
	t.Parallel()

	columns := strings.Split(strings.ReplaceAll(selectRunColumns, " ", ""), ",")
	rows := mockRowsData{
		columns: columns,
		values: [][]driver.Value{
			{int64(2), "", int64(1), int64(1), "req-2", "", "", int64(0), "o2", "", "", "", "", int64(20), int64(20)},
			{int64(1), "", int64(1), int64(1), "req-1", "", "", int64(0), "o1", "", "", "", "", int64(10), int64(10)},
		},
	}

	db, drv := newMockDB(t, []mockOperation{
		queryOp(`SELECT `+selectRunColumns+`
    FROM agent_runs ORDER BY created_at DESC, id DESC LIMIT ?`, rows),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	repo := &SQLRunRepository{db: db}
	list, err := repo.ListLatest(context.Background(), 2)
	if err != nil {
		t.Fatalf("list latest failed: %v", err)
	}
	if len(list) != 2 || list[0].RequestID != "req-2" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestRunMigrationsAppliesPendingFiles(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}}),
	}
	for _, name := range []string{"0001_create_runs.sql", "0002_create_api_keys.sql"} {
		ops = append(ops,
			beginOp(),
			execOp(readMigrationStatement(name), mockResult{}),
			execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mockResult{rowsAffected: 1}),
			commitOp(),
		)
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := runMigrations(context.Background(), db); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestSQLKeyStoreFindKey(t *testing.T) {
	t.Parallel()

	rows := mockRowsData{
		columns: []string{"name", "scopes", "disabled"},
		values:  [][]driver.Value{{"ops", "read,write", int64(0)}},
	}
	db, drv := newMockDB(t, []mockOperation{
		queryOp(`SELECT name, scopes, disabled FROM api_keys WHERE key_hash = ?`, rows),
		queryOp(`SELECT name, scopes, disabled FROM api_keys WHERE key_hash = ?`, mockRowsData{columns: []string{"name", "scopes", "disabled"}}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := &SQLKeyStore{db: db}
	principal, err := store.FindKey(context.Background(), "secret")
	if err != nil {
		t.Fatalf("find key failed: %v", err)
	}
	if principal.Name != "ops" || len(principal.Scopes) != 2 {
		t.Fatalf("unexpected principal: %+v", principal)
	}

	if _, err := store.FindKey(context.Background(), "missing"); err != auth.ErrInvalidKey {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func readMigrationStatement(name string) string {
	content, err := embeddedMigrations.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("failed to read migration: %v", err))
	}
	statements := splitSQLStatements(string(content))
	if len(statements) == 0 {
		panic("no statements in migration")
	}
	return statements[0]
}

type operationType int

const (
	opExec operationType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

type mockOperation struct {
	typ    operationType
	query  string
	result mockResult
	rows   mockRowsData
	err    error
}

type mockResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r mockResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r mockResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockRowsData struct {
	columns []string
	values  [][]driver.Value
}

type queueDriver struct {
	ops []mockOperation
	idx int32
}

var driverSeq atomic.Int32

func newMockDB(t *testing.T, ops []mockOperation) (*sql.DB, *queueDriver) {
	t.Helper()

	drv := &queueDriver{ops: ops}
	name := fmt.Sprintf("mock-mysql-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, drv
}

func execOp(query string, result mockResult) mockOperation {
	return mockOperation{typ: opExec, query: query, result: result}
}

func queryOp(query string, rows mockRowsData) mockOperation {
	return mockOperation{typ: opQuery, query: query, rows: rows}
}

func beginOp() mockOperation { return mockOperation{typ: opBegin} }

func commitOp() mockOperation { return mockOperation{typ: opCommit} }

func (d *queueDriver) assertConsumed(t *testing.T) {
	t.Helper()

	if int(atomic.LoadInt32(&d.idx)) != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", atomic.LoadInt32(&d.idx), len(d.ops))
	}
}

func (d *queueDriver) Open(name string) (driver.Conn, error) {
	return &mockConn{driver: d}, nil
}

type mockConn struct {
	driver *queueDriver
}

func (c *mockConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *mockConn) Close() error { return nil }

func (c *mockConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *mockConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	op, err := c.next(opBegin, "")
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockTx{driver: c.driver}, nil
}

func (c *mockConn) Exec(query string, args []driver.Value) (driver.Result, error) {
	return c.ExecContext(context.Background(), query, named(args))
}

func (c *mockConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.next(opExec, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return op.result, nil
}

func (c *mockConn) Query(query string, args []driver.Value) (driver.Rows, error) {
	return c.QueryContext(context.Background(), query, named(args))
}

func (c *mockConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.next(opQuery, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockRows{columns: op.rows.columns, values: op.rows.values}, nil
}

func (c *mockConn) Ping(ctx context.Context) error { return nil }

func (c *mockConn) next(expected operationType, query string) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&c.driver.idx))
	if idx >= len(c.driver.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &c.driver.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", expected, op.typ)
	}
	atomic.AddInt32(&c.driver.idx, 1)
	if op.query != "" {
		expectedSQL := normalizeSQL(op.query)
		actualSQL := normalizeSQL(query)
		if expectedSQL != actualSQL {
			return nil, fmt.Errorf("unexpected query. want %q got %q", expectedSQL, actualSQL)
		}
	}
	return op, nil
}

type mockTx struct {
	driver *queueDriver
}

func (t *mockTx) Commit() error {
	op, err := t.next(opCommit)
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) Rollback() error {
	op, err := t.next(opRollback)
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) next(expected operationType) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&t.driver.idx))
	if idx >= len(t.driver.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &t.driver.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", expected, op.typ)
	}
	atomic.AddInt32(&t.driver.idx, 1)
	return op, nil
}

type mockRows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *mockRows) Columns() []string { return r.columns }
func (r *mockRows) Close() error      { return nil }

func (r *mockRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func named(args []driver.Value) []driver.NamedValue {
	namedArgs := make([]driver.NamedValue, len(args))
	for i, arg := range args {
		namedArgs[i] = driver.NamedValue{Ordinal: i + 1, Value: arg}
	}
	return namedArgs
}

func normalizeSQL(query string) string {
	fields := strings.Fields(query)
	return strings.Join(fields, " ")
}