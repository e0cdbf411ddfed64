package sqlgraph

const schemaSQL = `
CREATE TABLE IF NOT EXISTS nodes (
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	label TEXT NOT NULL,
	props TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS edges (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL,
	src  INTEGER NOT NULL REFERENCES nodes(id),
	dst  INTEGER NOT NULL REFERENCES nodes(id)
);

CREATE INDEX IF NOT EXISTS idx_nodes_label ON nodes(label);
CREATE INDEX IF NOT EXISTS idx_edges_src ON edges(src, type);
CREATE INDEX IF NOT EXISTS idx_edges_dst ON edges(dst, type);
`
