// Package sqlgraph implements the graph store contract on SQLite. Nodes keep
// their property bag as a JSON column; structural filters and traversals
// compile to parameterized SQL over the nodes/edges tables. Uniqueness
// constraints become partial unique indexes over json_extract.
package sqlgraph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/canopy-notes/canopy/internal/graph"
)

// DB is a SQLite-backed graph store.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the database and applies the schema.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlgraph: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlgraph: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlgraph: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

var identRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// EnsureUnique installs a partial unique index on one property of one label.
// Label and prop are schema identifiers from code, validated before they are
// spliced into the DDL (SQLite cannot bind parameters in index definitions).
func (db *DB) EnsureUnique(ctx context.Context, label, prop string) error {
	if !identRe.MatchString(label) || !identRe.MatchString(prop) {
		return fmt.Errorf("sqlgraph: invalid constraint identifier %q.%q", label, prop)
	}
	ddl := fmt.Sprintf(
		`CREATE UNIQUE INDEX IF NOT EXISTS uniq_%s_%s ON nodes(json_extract(props, '$.%s')) WHERE label = '%s'`,
		strings.ToLower(label), strings.ToLower(prop), prop, label,
	)
	if _, err := db.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("sqlgraph: ensure unique %s.%s: %w", label, prop, err)
	}
	return nil
}

// Session opens a store session with the given access mode.
func (db *DB) Session(_ context.Context, mode graph.AccessMode) (graph.Session, error) {
	return &session{db: db, mode: mode}, nil
}

// querier abstracts *sql.DB and *sql.Tx for the shared read path.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type session struct {
	db     *DB
	mode   graph.AccessMode
	closed bool
}

func (s *session) Close() error {
	s.closed = true
	return nil
}

func (s *session) Begin(ctx context.Context) (graph.Tx, error) {
	if s.closed {
		return nil, fmt.Errorf("sqlgraph: session closed")
	}
	if s.mode != graph.ModeWrite {
		return nil, fmt.Errorf("sqlgraph: transaction requires a write session")
	}
	sqlTx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlgraph: begin tx: %w", err)
	}
	return &tx{q: sqlTx, sqlTx: sqlTx}, nil
}

func (s *session) NodeByID(ctx context.Context, id int64) (*graph.Node, error) {
	return nodeByID(ctx, s.db.conn, id)
}

func (s *session) FindNode(ctx context.Context, label, prop string, value any) (*graph.Node, error) {
	return findNode(ctx, s.db.conn, label, prop, value)
}

func (s *session) ListNodes(ctx context.Context, label string, opts graph.ListOptions) ([]*graph.Node, error) {
	return listNodes(ctx, s.db.conn, label, opts)
}

func (s *session) Traverse(ctx context.Context, start int64, steps []graph.Step, opts graph.ListOptions) ([]*graph.Node, error) {
	return traverse(ctx, s.db.conn, start, steps, opts)
}

func (s *session) CountNodes(ctx context.Context, label string, filter graph.NodeFilter) (int64, error) {
	return countNodes(ctx, s.db.conn, label, filter)
}

func (s *session) CountTraverse(ctx context.Context, start int64, steps []graph.Step) (int64, error) {
	return countTraverse(ctx, s.db.conn, start, steps)
}

func (s *session) Degree(ctx context.Context, id int64) (int64, error) {
	return degree(ctx, s.db.conn, id)
}

type tx struct {
	q     querier
	sqlTx *sql.Tx
	done  bool
}

func (t *tx) Commit(_ context.Context) error {
	if t.done {
		return fmt.Errorf("sqlgraph: transaction already finished")
	}
	t.done = true
	if err := t.sqlTx.Commit(); err != nil {
		return wrapWriteErr("commit", err)
	}
	return nil
}

func (t *tx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	return t.sqlTx.Rollback()
}

func (t *tx) CreateNode(ctx context.Context, label string, props map[string]any) (*graph.Node, error) {
	blob, err := json.Marshal(ensureProps(props))
	if err != nil {
		return nil, fmt.Errorf("sqlgraph: marshal props: %w", err)
	}
	res, err := t.q.ExecContext(ctx, `INSERT INTO nodes (label, props) VALUES (?, ?)`, label, string(blob))
	if err != nil {
		return nil, wrapWriteErr("create node", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("sqlgraph: last insert id: %w", err)
	}
	return nodeByID(ctx, t.q, id)
}

func (t *tx) MergeNode(ctx context.Context, label, prop string, value any, props map[string]any) (*graph.Node, error) {
	n, err := findNode(ctx, t.q, label, prop, value)
	if err == nil {
		return n, nil
	}
	if err != graph.ErrNoNode {
		return nil, err
	}
	return t.CreateNode(ctx, label, props)
}

func (t *tx) CreateRel(ctx context.Context, relType string, from, to int64) (*graph.Rel, error) {
	for _, id := range []int64{from, to} {
		if _, err := nodeByID(ctx, t.q, id); err != nil {
			return nil, fmt.Errorf("create rel %s: node %d: %w", relType, id, err)
		}
	}
	res, err := t.q.ExecContext(ctx, `INSERT INTO edges (type, src, dst) VALUES (?, ?, ?)`, relType, from, to)
	if err != nil {
		return nil, wrapWriteErr("create rel", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("sqlgraph: last insert id: %w", err)
	}
	return &graph.Rel{ID: id, Type: relType, From: from, To: to}, nil
}

func (t *tx) SetProps(ctx context.Context, id int64, props map[string]any) error {
	n, err := nodeByID(ctx, t.q, id)
	if err != nil {
		return err
	}
	for k, v := range props {
		n.Props[k] = v
	}
	blob, err := json.Marshal(n.Props)
	if err != nil {
		return fmt.Errorf("sqlgraph: marshal props: %w", err)
	}
	if _, err := t.q.ExecContext(ctx, `UPDATE nodes SET props = ? WHERE id = ?`, string(blob), id); err != nil {
		return wrapWriteErr("set props", err)
	}
	return nil
}

func (t *tx) NodeByID(ctx context.Context, id int64) (*graph.Node, error) {
	return nodeByID(ctx, t.q, id)
}

func (t *tx) FindNode(ctx context.Context, label, prop string, value any) (*graph.Node, error) {
	return findNode(ctx, t.q, label, prop, value)
}

func (t *tx) ListNodes(ctx context.Context, label string, opts graph.ListOptions) ([]*graph.Node, error) {
	return listNodes(ctx, t.q, label, opts)
}

func (t *tx) Traverse(ctx context.Context, start int64, steps []graph.Step, opts graph.ListOptions) ([]*graph.Node, error) {
	return traverse(ctx, t.q, start, steps, opts)
}

func (t *tx) CountNodes(ctx context.Context, label string, filter graph.NodeFilter) (int64, error) {
	return countNodes(ctx, t.q, label, filter)
}

func (t *tx) CountTraverse(ctx context.Context, start int64, steps []graph.Step) (int64, error) {
	return countTraverse(ctx, t.q, start, steps)
}

func (t *tx) Degree(ctx context.Context, id int64) (int64, error) {
	return degree(ctx, t.q, id)
}

// Shared query path.

func nodeByID(ctx context.Context, q querier, id int64) (*graph.Node, error) {
	row := q.QueryRowContext(ctx, `SELECT id, label, props FROM nodes WHERE id = ?`, id)
	return scanNode(row)
}

func findNode(ctx context.Context, q querier, label, prop string, value any) (*graph.Node, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, label, props FROM nodes WHERE label = ? AND json_extract(props, ?) = ? ORDER BY id LIMIT 1`,
		label, jsonPath(prop), value)
	return scanNode(row)
}

func listNodes(ctx context.Context, q querier, label string, opts graph.ListOptions) ([]*graph.Node, error) {
	where, args := filterSQL("n", opts.Filter)
	query := `SELECT n.id, n.label, n.props FROM nodes n WHERE n.label = ?`
	allArgs := append([]any{label}, args...)
	if where != "" {
		query += " AND " + where
	}
	query, allArgs = appendOrder(query, allArgs, "n", opts)
	return queryNodes(ctx, q, query, allArgs)
}

func countNodes(ctx context.Context, q querier, label string, filter graph.NodeFilter) (int64, error) {
	where, args := filterSQL("n", filter)
	query := `SELECT COUNT(*) FROM nodes n WHERE n.label = ?`
	allArgs := append([]any{label}, args...)
	if where != "" {
		query += " AND " + where
	}
	var count int64
	if err := q.QueryRowContext(ctx, query, allArgs...).Scan(&count); err != nil {
		return 0, fmt.Errorf("sqlgraph: count nodes: %w", err)
	}
	return count, nil
}

func traverse(ctx context.Context, q querier, start int64, steps []graph.Step, opts graph.ListOptions) ([]*graph.Node, error) {
	query, args := traverseSQL(start, steps, false)
	final := fmt.Sprintf("n%d", len(steps))
	where, fargs := filterSQL(final, opts.Filter)
	if where != "" {
		query += " AND " + where
		args = append(args, fargs...)
	}
	query, args = appendOrder(query, args, final, opts)
	return queryNodes(ctx, q, query, args)
}

func countTraverse(ctx context.Context, q querier, start int64, steps []graph.Step) (int64, error) {
	query, args := traverseSQL(start, steps, true)
	var count int64
	if err := q.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("sqlgraph: count traverse: %w", err)
	}
	return count, nil
}

// traverseSQL builds a join chain n0 -e1- n1 -e2- ... for the given steps.
func traverseSQL(start int64, steps []graph.Step, count bool) (string, []any) {
	final := fmt.Sprintf("n%d", len(steps))
	var b strings.Builder
	if count {
		fmt.Fprintf(&b, "SELECT COUNT(DISTINCT %s.id) FROM nodes n0", final)
	} else {
		fmt.Fprintf(&b, "SELECT DISTINCT %s.id, %s.label, %s.props FROM nodes n0", final, final, final)
	}
	var args []any
	for i, step := range steps {
		prev := fmt.Sprintf("n%d", i)
		edge := fmt.Sprintf("e%d", i+1)
		next := fmt.Sprintf("n%d", i+1)
		if step.Dir == graph.Out {
			fmt.Fprintf(&b, " JOIN edges %s ON %s.src = %s.id AND %s.type = ?", edge, edge, prev, edge)
			args = append(args, step.Rel)
			fmt.Fprintf(&b, " JOIN nodes %s ON %s.id = %s.dst", next, next, edge)
		} else {
			fmt.Fprintf(&b, " JOIN edges %s ON %s.dst = %s.id AND %s.type = ?", edge, edge, prev, edge)
			args = append(args, step.Rel)
			fmt.Fprintf(&b, " JOIN nodes %s ON %s.id = %s.src", next, next, edge)
		}
		if step.Label != "" {
			fmt.Fprintf(&b, " AND %s.label = ?", next)
			args = append(args, step.Label)
		}
	}
	b.WriteString(" WHERE n0.id = ?")
	args = append(args, start)
	return b.String(), args
}

func degree(ctx context.Context, q querier, id int64) (int64, error) {
	var d int64
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM edges WHERE src = ? OR dst = ?`, id, id).Scan(&d)
	if err != nil {
		return 0, fmt.Errorf("sqlgraph: degree: %w", err)
	}
	return d, nil
}

// filterSQL renders a NodeFilter as conjunctive conditions over alias. Every
// caller-influenced value is a bound parameter.
func filterSQL(alias string, f graph.NodeFilter) (string, []any) {
	var conds []string
	var args []any
	prop := func(key string) string {
		args = append(args, jsonPath(key))
		return fmt.Sprintf("json_extract(%s.props, ?)", alias)
	}
	for k, v := range sortedAny(f.Equals) {
		conds = append(conds, prop(k)+" = ?")
		args = append(args, v)
	}
	for k, v := range sortedInt(f.LessThan) {
		conds = append(conds, prop(k)+" < ?")
		args = append(args, v)
	}
	for k, v := range sortedInt(f.GreaterThan) {
		conds = append(conds, prop(k)+" > ?")
		args = append(args, v)
	}
	for k, v := range sortedStr(f.ContainsFold) {
		conds = append(conds, fmt.Sprintf("instr(lower(%s), lower(?)) > 0", prop(k)))
		args = append(args, v)
	}
	edgeCond := func(col string, relTypes []string, negate bool) {
		for _, rel := range relTypes {
			op := "EXISTS"
			if negate {
				op = "NOT EXISTS"
			}
			conds = append(conds, fmt.Sprintf("%s (SELECT 1 FROM edges e WHERE e.%s = %s.id AND e.type = ?)", op, col, alias))
			args = append(args, rel)
		}
	}
	edgeCond("dst", f.WithInbound, false)
	edgeCond("dst", f.WithoutInbound, true)
	edgeCond("src", f.WithOutbound, false)
	edgeCond("src", f.WithoutOutbound, true)
	return strings.Join(conds, " AND "), args
}

func appendOrder(query string, args []any, alias string, opts graph.ListOptions) (string, []any) {
	if opts.OrderBy != "" {
		dir := "ASC"
		if opts.Descending {
			dir = "DESC"
		}
		query += fmt.Sprintf(" ORDER BY json_extract(%s.props, ?) %s, %s.id ASC", alias, dir, alias)
		args = append(args, jsonPath(opts.OrderBy))
	} else {
		query += fmt.Sprintf(" ORDER BY %s.id ASC", alias)
	}
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	return query, args
}

func queryNodes(ctx context.Context, q querier, query string, args []any) ([]*graph.Node, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlgraph: query nodes: %w", err)
	}
	defer rows.Close()
	var out []*graph.Node
	for rows.Next() {
		var (
			id    int64
			label string
			blob  string
		)
		if err := rows.Scan(&id, &label, &blob); err != nil {
			return nil, fmt.Errorf("sqlgraph: scan node: %w", err)
		}
		n, err := decodeNode(id, label, blob)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanNode(row *sql.Row) (*graph.Node, error) {
	var (
		id    int64
		label string
		blob  string
	)
	if err := row.Scan(&id, &label, &blob); err != nil {
		if err == sql.ErrNoRows {
			return nil, graph.ErrNoNode
		}
		return nil, fmt.Errorf("sqlgraph: scan node: %w", err)
	}
	return decodeNode(id, label, blob)
}

func decodeNode(id int64, label, blob string) (*graph.Node, error) {
	props := make(map[string]any)
	if err := json.Unmarshal([]byte(blob), &props); err != nil {
		return nil, fmt.Errorf("sqlgraph: decode props of node %d: %w", id, err)
	}
	return &graph.Node{ID: id, Label: label, Props: props}, nil
}

func ensureProps(props map[string]any) map[string]any {
	if props == nil {
		return map[string]any{}
	}
	return props
}

func jsonPath(prop string) string {
	return "$." + prop
}

func wrapWriteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %s: %v", graph.ErrConstraint, op, err)
	}
	return fmt.Errorf("sqlgraph: %s: %w", op, err)
}

// sortedAny/sortedInt/sortedStr iterate filter maps in key order so generated
// SQL is stable across calls (map iteration order is randomized).
func sortedAny(m map[string]any) func(func(string, any) bool) {
	keys := sortedKeys(m)
	return func(yield func(string, any) bool) {
		for _, k := range keys {
			if !yield(k, m[k]) {
				return
			}
		}
	}
}

func sortedInt(m map[string]int64) func(func(string, int64) bool) {
	keys := sortedKeys(m)
	return func(yield func(string, int64) bool) {
		for _, k := range keys {
			if !yield(k, m[k]) {
				return
			}
		}
	}
}

func sortedStr(m map[string]string) func(func(string, string) bool) {
	keys := sortedKeys(m)
	return func(yield func(string, string) bool) {
		for _, k := range keys {
			if !yield(k, m[k]) {
				return
			}
		}
	}
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
