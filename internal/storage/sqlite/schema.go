package sqlite

const schema = `
-- Cells table (denormalized projection of the event log)
CREATE TABLE IF NOT EXISTS cells (
    id TEXT PRIMARY KEY,
    project TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL CHECK(length(title) <= 500),
    description TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'open',
    priority INTEGER NOT NULL DEFAULT 2 CHECK(priority >= 0 AND priority <= 3),
    cell_type TEXT NOT NULL DEFAULT 'task',
    parent_id TEXT DEFAULT '',
    assignee TEXT DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    closed_at DATETIME,
    close_reason TEXT DEFAULT '',
    deleted_at DATETIME,
    deleted_by TEXT DEFAULT '',
    delete_reason TEXT DEFAULT '',
    -- closed_at invariant: closed cells must have it, nobody else may
    CHECK (
        (status = 'closed' AND closed_at IS NOT NULL) OR
        (status != 'closed' AND closed_at IS NULL)
    )
);

CREATE INDEX IF NOT EXISTS idx_cells_project ON cells(project);
CREATE INDEX IF NOT EXISTS idx_cells_status ON cells(status);
CREATE INDEX IF NOT EXISTS idx_cells_priority ON cells(priority);
CREATE INDEX IF NOT EXISTS idx_cells_assignee ON cells(assignee);
CREATE INDEX IF NOT EXISTS idx_cells_updated_at ON cells(updated_at);

-- Dependency edges
CREATE TABLE IF NOT EXISTS cell_deps (
    cell_id TEXT NOT NULL,
    depends_on_id TEXT NOT NULL,
    type TEXT NOT NULL DEFAULT 'blocks',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    created_by TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (cell_id, depends_on_id, type),
    FOREIGN KEY (cell_id) REFERENCES cells(id) ON DELETE CASCADE,
    FOREIGN KEY (depends_on_id) REFERENCES cells(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_cell_deps_cell ON cell_deps(cell_id);
CREATE INDEX IF NOT EXISTS idx_cell_deps_depends_on ON cell_deps(depends_on_id);
CREATE INDEX IF NOT EXISTS idx_cell_deps_depends_on_type ON cell_deps(depends_on_id, type);

-- Labels
CREATE TABLE IF NOT EXISTS labels (
    cell_id TEXT NOT NULL,
    label TEXT NOT NULL,
    PRIMARY KEY (cell_id, label),
    FOREIGN KEY (cell_id) REFERENCES cells(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_labels_label ON labels(label);

-- Comments (parent_id enables reply nesting)
CREATE TABLE IF NOT EXISTS comments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    cell_id TEXT NOT NULL,
    author TEXT NOT NULL,
    text TEXT NOT NULL,
    parent_id INTEGER,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (cell_id) REFERENCES cells(id) ON DELETE CASCADE,
    FOREIGN KEY (parent_id) REFERENCES comments(id) ON DELETE SET NULL
);

CREATE INDEX IF NOT EXISTS idx_comments_cell ON comments(cell_id);

-- Event log (source of truth; append-only, sequenced per project)
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    project TEXT NOT NULL DEFAULT '',
    seq INTEGER NOT NULL,
    cell_id TEXT NOT NULL DEFAULT '',
    event_type TEXT NOT NULL,
    actor TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL DEFAULT '{}',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (project, seq)
);

CREATE INDEX IF NOT EXISTS idx_events_cell ON events(cell_id);
CREATE INDEX IF NOT EXISTS idx_events_project_seq ON events(project, seq);

-- Blocked cells cache: (cell, blocker) pairs scoped to open blockers.
-- Pure optimization over cell_deps + cells; rebuilt inside the mutating
-- transaction and re-derivable at any time.
CREATE TABLE IF NOT EXISTS blocked_cells_cache (
    cell_id TEXT NOT NULL,
    blocker_id TEXT NOT NULL,
    PRIMARY KEY (cell_id, blocker_id)
);

CREATE INDEX IF NOT EXISTS idx_blocked_cache_cell ON blocked_cells_cache(cell_id);

-- Dirty cells (incremental JSONL export)
CREATE TABLE IF NOT EXISTS dirty_cells (
    cell_id TEXT PRIMARY KEY,
    marked_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_dirty_cells_marked_at ON dirty_cells(marked_at);

-- File reservations (live lease state with passive TTL expiry)
CREATE TABLE IF NOT EXISTS reservations (
    id TEXT PRIMARY KEY,
    agent TEXT NOT NULL,
    path TEXT NOT NULL,
    exclusive INTEGER NOT NULL DEFAULT 1,
    reason TEXT DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    expires_at DATETIME NOT NULL,
    released_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_reservations_agent ON reservations(agent);
CREATE INDEX IF NOT EXISTS idx_reservations_expires ON reservations(expires_at);

-- Config table (settings like the project key)
CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Metadata table (internal state like export file hashes)
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
