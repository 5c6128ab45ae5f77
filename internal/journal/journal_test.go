package journal

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
)

func TestFileJournalPersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	j, err := NewFileJournal(dir)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	ctx := context.Background()
	for i, action := range []string{"buy", "sell", "hold"} {
		entry := Entry{Agent: "trader", ActionType: action, Params: "{}", Success: i != 1, GasUsed: uint64(40000 + i), CreatedAt: int64(i)}
		if err := j.Record(ctx, entry); err != nil {
			t.Fatalf("record %s: %v", action, err)
		}
	}

	latest, err := j.ListLatest(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(latest) != 2 || latest[0].ActionType != "hold" || latest[0].ID != 3 {
		t.Fatalf("unexpected latest entries: %+v", latest)
	}

	reopened, err := NewFileJournal(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	all, _ := reopened.ListLatest(ctx, 0)
	if len(all) != 3 || all[2].ActionType != "buy" || all[1].Success {
		t.Fatalf("entries not restored in order: %+v", all)
	}
	if err := reopened.Record(ctx, Entry{ActionType: "buy"}); err != nil {
		t.Fatalf("record after reopen: %v", err)
	}
	if next, _ := reopened.ListLatest(ctx, 1); next[0].ID != 4 {
		t.Fatalf("ids should continue after reopen, got %d", next[0].ID)
	}
}

func TestFileJournalReopensWithLargeEntries(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()
	j, err := NewFileJournal(dir)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	params := `{"payload":"` + strings.Repeat("x", 70*1024) + `"}`
	if err := j.Record(ctx, Entry{Agent: "trader", ActionType: "rebalance", Params: params}); err != nil {
		t.Fatalf("record large entry: %v", err)
	}
	for i := 0; i < maxCached+10; i++ {
		if err := j.Record(ctx, Entry{Agent: "trader", ActionType: "hold"}); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	reopened, err := NewFileJournal(dir)
	if err != nil {
		t.Fatalf("reopen with large entry: %v", err)
	}
	all, _ := reopened.ListLatest(ctx, 0)
	if len(all) != maxCached {
		t.Fatalf("expected %d cached entries, got %d", maxCached, len(all))
	}
	if all[0].ID != int64(maxCached+11) || all[len(all)-1].ID != 12 {
		t.Fatalf("unexpected window: newest %d oldest %d", all[0].ID, all[len(all)-1].ID)
	}

	single := t.TempDir()
	small, err := NewFileJournal(single)
	if err != nil {
		t.Fatalf("open second journal: %v", err)
	}
	if err := small.Record(ctx, Entry{ActionType: "rebalance", Params: params}); err != nil {
		t.Fatalf("record: %v", err)
	}
	again, err := NewFileJournal(single)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got, _ := again.ListLatest(ctx, 1); len(got) != 1 || got[0].Params != params {
		t.Fatalf("large params not restored")
	}
}

func TestSQLJournalRecord(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		execOp(insertAction, mockResult{lastInsertID: 1, rowsAffected: 1}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	j := &SQLJournal{db: db}
	err := j.Record(context.Background(), Entry{Agent: "trader", ActionType: "buy", Params: `{"amount":1}`, Success: true, TxHash: "0xabc", GasUsed: 42000, CreatedAt: 1})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
}

func TestSQLJournalListLatest(t *testing.T) {
	t.Parallel()

	rows := mockRowsData{
		columns: []string{"id", "agent", "action_type", "params", "success", "tx_hash", "gas_used", "error", "created_at"},
		values: [][]driver.Value{
			{int64(2), "trader", "sell", "{}", int64(0), "", int64(0), "reverted", int64(20)},
			{int64(1), "trader", "buy", "{}", int64(1), "0xabc", int64(42000), nil, int64(10)},
		},
	}
	db, drv := newMockDB(t, []mockOperation{queryOp(selectLatest, rows)})
	defer drv.assertConsumed(t)
	defer db.Close()

	j := &SQLJournal{db: db}
	list, err := j.ListLatest(context.Background(), 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(list))
	}
	if list[0].Success || list[0].Error != "reverted" {
		t.Fatalf("unexpected failed entry %+v", list[0])
	}
	if !list[1].Success || list[1].GasUsed != 42000 || list[1].Error != "" {
		t.Fatalf("unexpected successful entry %+v", list[1])
	}
}

func TestSQLJournalInitSchema(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{execOp(createActionsTable, mockResult{})})
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := (&SQLJournal{db: db}).initSchema(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}
}

func TestNewSQLJournalRejectsBadDSN(t *testing.T) {
	if _, err := NewSQLJournal(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
	if _, err := NewSQLJournal(context.Background(), "not a dsn"); err == nil {
		t.Fatalf("expected error for malformed dsn")
	}
}

type operationType int

const (
	opExec operationType = iota
	opQuery
)

type mockOperation struct {
	typ    operationType
	query  string
	result mockResult
	rows   mockRowsData
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
	name := fmt.Sprintf("mock-journal-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	return db, drv
}

func execOp(query string, result mockResult) mockOperation {
	return mockOperation{typ: opExec, query: query, result: result}
}

func queryOp(query string, rows mockRowsData) mockOperation {
	return mockOperation{typ: opQuery, query: query, rows: rows}
}

func (d *queueDriver) assertConsumed(t *testing.T) {
	t.Helper()
	if int(atomic.LoadInt32(&d.idx)) != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", atomic.LoadInt32(&d.idx), len(d.ops))
	}
}

func (d *queueDriver) Open(string) (driver.Conn, error) {
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
	return nil, fmt.Errorf("transactions not supported")
}

func (c *mockConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	op, err := c.next(opExec, query)
	if err != nil {
		return nil, err
	}
	return op.result, nil
}

func (c *mockConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	op, err := c.next(opQuery, query)
	if err != nil {
		return nil, err
	}
	return &mockRows{columns: op.rows.columns, values: op.rows.values}, nil
}

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
	if normalizeSQL(op.query) != normalizeSQL(query) {
		return nil, fmt.Errorf("unexpected query. want %q got %q", normalizeSQL(op.query), normalizeSQL(query))
	}
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

func normalizeSQL(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
