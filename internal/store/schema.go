package store

type migration struct {
	version int
	sql     string
}

// migrations are applied in order on startup. Entries must keep a
// monotonically increasing version; already-applied versions are skipped.
var migrations = []migration{
	{
		version: 1,
		sql: `
	CREATE TABLE project (
		id TEXT PRIMARY KEY,
		path TEXT UNIQUE NOT NULL,
		display_name TEXT,
		is_favorite INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT 0,
		last_opened_at INTEGER
	);

	CREATE TABLE session (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES project(id),
		title TEXT,
		status TEXT NOT NULL,
		agent_kind TEXT NOT NULL,
		model TEXT NOT NULL,
		permission_mode TEXT NOT NULL,
		branch_name TEXT NOT NULL,
		worktree_path TEXT,
		base_commit TEXT NOT NULL,
		pr_url TEXT,
		pr_state TEXT,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT 0,
		UNIQUE (project_id, branch_name)
	);

	CREATE INDEX idx_session_project ON session(project_id);
	CREATE INDEX idx_session_status ON session(status);

	CREATE TABLE session_usage (
		session_id TEXT REFERENCES session(id) ON DELETE SET NULL,
		model TEXT NOT NULL,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		invocation_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT 0,
		UNIQUE (session_id, model)
	);

	CREATE TABLE operation (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES session(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT 'pending',
		started_at INTEGER,
		finished_at INTEGER,
		error TEXT
	);

	CREATE INDEX idx_operation_session ON operation(session_id);
	CREATE INDEX idx_operation_state ON operation(state);

	-- Auto-stamp timestamps when callers leave them zero.
	CREATE TRIGGER project_created AFTER INSERT ON project
	WHEN NEW.created_at = 0
	BEGIN
		UPDATE project SET created_at = strftime('%s','now'), updated_at = strftime('%s','now')
		WHERE id = NEW.id;
	END;

	CREATE TRIGGER project_updated AFTER UPDATE ON project
	WHEN NEW.updated_at = OLD.updated_at OR NEW.updated_at = 0
	BEGIN
		UPDATE project SET updated_at = strftime('%s','now') WHERE id = NEW.id;
	END;

	CREATE TRIGGER session_created AFTER INSERT ON session
	WHEN NEW.created_at = 0
	BEGIN
		UPDATE session SET created_at = strftime('%s','now'), updated_at = strftime('%s','now')
		WHERE id = NEW.id;
	END;

	CREATE TRIGGER session_updated AFTER UPDATE ON session
	WHEN NEW.updated_at = OLD.updated_at OR NEW.updated_at = 0
	BEGIN
		UPDATE session SET updated_at = strftime('%s','now') WHERE id = NEW.id;
	END;

	CREATE TRIGGER session_usage_created AFTER INSERT ON session_usage
	WHEN NEW.created_at = 0
	BEGIN
		UPDATE session_usage SET created_at = strftime('%s','now')
		WHERE session_id = NEW.session_id AND model = NEW.model;
	END;
	`,
	},
}
