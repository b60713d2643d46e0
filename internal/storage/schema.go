package storage

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- The 'sources' table tracks where highlights were imported from: a local
-- directory of markdown exports or a git repository of the same.
CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    path TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL DEFAULT 'local', -- 'local' or 'git'
    last_scanned DATETIME,

    FOREIGN KEY(user_id) REFERENCES users(id)
);

-- Highlights are soft-deleted: deleted_at marks removal while review history
-- stays intact.
CREATE TABLE IF NOT EXISTS highlights (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    source_id INTEGER,
    book_title TEXT NOT NULL,
    author TEXT,
    content TEXT NOT NULL,
    note TEXT,
    hash TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    deleted_at DATETIME,

    UNIQUE(user_id, hash),
    FOREIGN KEY(user_id) REFERENCES users(id),
    FOREIGN KEY(source_id) REFERENCES sources(id)
);

CREATE TABLE IF NOT EXISTS highlight_tags (
    highlight_id TEXT NOT NULL,
    tag TEXT NOT NULL,

    PRIMARY KEY(highlight_id, tag),
    FOREIGN KEY(highlight_id) REFERENCES highlights(id)
);

CREATE TABLE IF NOT EXISTS decks (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL,
    kind TEXT NOT NULL,                 -- 'manual' or 'smart'
    filter_tags TEXT,                   -- comma-separated, smart decks only
    tag_match TEXT NOT NULL DEFAULT 'any',
    include_raw_highlights INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,

    FOREIGN KEY(user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS flashcards (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    highlight_id TEXT NOT NULL,
    deck_id TEXT,
    front TEXT NOT NULL,
    back TEXT NOT NULL,
    created_at DATETIME NOT NULL,

    FOREIGN KEY(user_id) REFERENCES users(id),
    FOREIGN KEY(highlight_id) REFERENCES highlights(id),
    FOREIGN KEY(deck_id) REFERENCES decks(id)
);

-- One scheduling state per flashcard. version guards the read-modify-write
-- cycle against concurrent double-submission of the same review.
CREATE TABLE IF NOT EXISTS scheduling_states (
    card_id TEXT PRIMARY KEY,
    stability REAL NOT NULL DEFAULT 0,
    difficulty REAL NOT NULL DEFAULT 0,
    due DATETIME NOT NULL,
    state INTEGER NOT NULL DEFAULT 0,   -- 0 New, 1 Learning, 2 Review, 3 Relearning
    step INTEGER NOT NULL DEFAULT 0,
    reps INTEGER NOT NULL DEFAULT 0,
    lapses INTEGER NOT NULL DEFAULT 0,
    last_reviewed_at DATETIME,
    version INTEGER NOT NULL DEFAULT 1,

    FOREIGN KEY(card_id) REFERENCES flashcards(id)
);

CREATE TABLE IF NOT EXISTS digest_settings (
    user_id TEXT PRIMARY KEY,
    enabled INTEGER NOT NULL DEFAULT 0,
    preferred_hour INTEGER NOT NULL DEFAULT 8,
    timezone TEXT NOT NULL DEFAULT 'UTC',
    frequency TEXT NOT NULL DEFAULT 'daily',
    last_sent_at DATETIME,

    FOREIGN KEY(user_id) REFERENCES users(id)
);

-- At-least-once job queue: jobs are claimed by the worker poll loop and
-- retried with backoff until done or dead.
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    payload TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending', -- pending, running, done, dead
    attempts INTEGER NOT NULL DEFAULT 0,
    run_at DATETIME NOT NULL,
    last_error TEXT,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_states_due ON scheduling_states(due);
CREATE INDEX IF NOT EXISTS idx_highlights_user ON highlights(user_id, deleted_at);
CREATE INDEX IF NOT EXISTS idx_jobs_poll ON jobs(status, run_at);
`
