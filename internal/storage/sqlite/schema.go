package sqlite

const schema = `
-- Task queue
CREATE TABLE IF NOT EXISTS tasks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    task_type TEXT NOT NULL CHECK(task_type IN ('ACQUIRE', 'REPAIR', 'REFRESH')),
    target TEXT NOT NULL,
    state TEXT NOT NULL DEFAULT 'PENDING' CHECK(state IN ('PENDING', 'IN_PROGRESS', 'COMPLETED', 'FAILED')),
    priority INTEGER NOT NULL DEFAULT 5,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    started_at DATETIME,
    completed_at DATETIME,
    error_message TEXT,
    retry_count INTEGER NOT NULL DEFAULT 0,
    max_retries INTEGER NOT NULL DEFAULT 3
);

CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state);
CREATE INDEX IF NOT EXISTS idx_tasks_claim ON tasks(state, priority DESC, created_at ASC);
CREATE INDEX IF NOT EXISTS idx_tasks_target ON tasks(target);

-- Per-source health records
CREATE TABLE IF NOT EXISTS source_health (
    source_name TEXT PRIMARY KEY,
    state TEXT NOT NULL DEFAULT 'ACTIVE' CHECK(state IN ('ACTIVE', 'DEGRADED', 'QUARANTINED', 'DEAD')),
    last_success_at DATETIME,
    last_failure_at DATETIME,
    last_error TEXT,
    success_count INTEGER NOT NULL DEFAULT 0,
    failure_count INTEGER NOT NULL DEFAULT 0,
    consecutive_failures INTEGER NOT NULL DEFAULT 0,
    fix_attempts_today INTEGER NOT NULL DEFAULT 0,
    fix_attempts_reset_at DATETIME,
    quarantine_until DATETIME,
    last_content_hash TEXT
);

CREATE INDEX IF NOT EXISTS idx_source_health_state ON source_health(state);

-- Fix audit trail (append-only)
CREATE TABLE IF NOT EXISTS fix_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source_name TEXT NOT NULL,
    stage TEXT NOT NULL DEFAULT '',
    error_type TEXT NOT NULL DEFAULT '',
    error_message TEXT,
    root_cause TEXT,
    patch_summary TEXT,
    success INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_fix_history_source ON fix_history(source_name);
CREATE INDEX IF NOT EXISTS idx_fix_history_created ON fix_history(created_at);

-- Lesson knowledge base (append-only rows, success_count reinforced)
CREATE TABLE IF NOT EXISTS lessons (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    error_type TEXT NOT NULL DEFAULT '',
    domain_pattern TEXT NOT NULL DEFAULT '',
    symptom_description TEXT NOT NULL DEFAULT '',
    fix_strategy TEXT NOT NULL DEFAULT '',
    success_count INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_lessons_error_type ON lessons(error_type);
CREATE INDEX IF NOT EXISTS idx_lessons_success ON lessons(success_count);
`
