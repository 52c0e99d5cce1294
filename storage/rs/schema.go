package rs

// schema is applied by OpenSQL and is also the source of truth
// documented for the postgres DDL a deployment applies to gormstore (gorm
// AutoMigrate handles the postgres side from the models in gorm_store.go;
// this text targets sqlite's slightly different type affinities).
const schema = `
CREATE TABLE IF NOT EXISTS pending_tx (
    id TEXT PRIMARY KEY,
    chain TEXT NOT NULL,
    tx_hash TEXT NOT NULL,
    height INTEGER NOT NULL,
    publisher TEXT NOT NULL,
    protocol TEXT NOT NULL,
    payload BLOB,
    retries INTEGER NOT NULL DEFAULT 0,
    next_attempt_at DATETIME NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    claimed_by TEXT,
    claimed_at DATETIME,
    UNIQUE(chain, tx_hash)
);

CREATE TABLE IF NOT EXISTS rejected_tx (
    id TEXT PRIMARY KEY,
    chain TEXT NOT NULL,
    tx_hash TEXT NOT NULL,
    reason TEXT NOT NULL,
    payload_snapshot BLOB,
    rejected_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_message (
    id TEXT PRIMARY KEY,
    item_hash TEXT NOT NULL,
    sender TEXT NOT NULL,
    address TEXT NOT NULL,
    chain TEXT NOT NULL,
    signature TEXT NOT NULL,
    type TEXT NOT NULL,
    channel TEXT NOT NULL,
    time REAL NOT NULL,
    item_type TEXT NOT NULL,
    item_content TEXT,
    origin TEXT NOT NULL,
    confirmation_chain TEXT,
    confirmation_height INTEGER,
    confirmation_tx_hash TEXT,
    retries INTEGER NOT NULL DEFAULT 0,
    next_attempt_at DATETIME NOT NULL,
    check_message INTEGER NOT NULL DEFAULT 1,
    claimed_by TEXT,
    claimed_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_pending_message_claim ON pending_message(next_attempt_at, type, claimed_by);
CREATE INDEX IF NOT EXISTS idx_pending_message_hash ON pending_message(item_hash);

CREATE TABLE IF NOT EXISTS rejected_message (
    id TEXT PRIMARY KEY,
    item_hash TEXT NOT NULL,
    reason TEXT NOT NULL,
    payload_snapshot BLOB,
    rejected_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS chain_cursor (
    chain TEXT PRIMARY KEY,
    last_height INTEGER NOT NULL DEFAULT 0,
    last_tx_hash TEXT,
    last_block_hash TEXT,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS message (
    item_hash TEXT PRIMARY KEY,
    sender TEXT NOT NULL,
    address TEXT NOT NULL,
    chain TEXT NOT NULL,
    type TEXT NOT NULL,
    channel TEXT NOT NULL,
    time REAL NOT NULL,
    item_type TEXT NOT NULL,
    content TEXT,
    size INTEGER NOT NULL DEFAULT 0,
    confirmations TEXT NOT NULL DEFAULT '[]',
    forgotten_by TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_message_sender ON message(sender);
CREATE INDEX IF NOT EXISTS idx_message_address ON message(address);

CREATE TABLE IF NOT EXISTS aggregate_element (
    address TEXT NOT NULL,
    key TEXT NOT NULL,
    item_hash TEXT NOT NULL,
    time REAL NOT NULL,
    content TEXT NOT NULL,
    PRIMARY KEY(address, key, item_hash)
);

CREATE TABLE IF NOT EXISTS aggregate_view (
    address TEXT NOT NULL,
    key TEXT NOT NULL,
    content TEXT NOT NULL,
    creation_time REAL NOT NULL,
    last_revision_time REAL NOT NULL,
    PRIMARY KEY(address, key)
);

CREATE TABLE IF NOT EXISTS post (
    item_hash TEXT PRIMARY KEY,
    ref TEXT,
    address TEXT NOT NULL,
    post_type TEXT NOT NULL,
    time REAL NOT NULL,
    content TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_post_ref ON post(ref);

CREATE TABLE IF NOT EXISTS stored_file (
    file_hash TEXT PRIMARY KEY,
    storage TEXT NOT NULL,
    size INTEGER NOT NULL DEFAULT 0,
    pin_count INTEGER NOT NULL DEFAULT 0,
    pin_delete_at DATETIME,
    last_access_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_stored_file_delete ON stored_file(pin_delete_at);

CREATE TABLE IF NOT EXISTS balance (
    address TEXT NOT NULL,
    chain TEXT NOT NULL,
    token TEXT NOT NULL,
    amount REAL NOT NULL DEFAULT 0,
    last_update DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY(address, chain, token)
);

CREATE TABLE IF NOT EXISTS usage_snapshot (
    address TEXT PRIMARY KEY,
    bytes_used INTEGER NOT NULL DEFAULT 0,
    last_computed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS program (
    item_hash TEXT PRIMARY KEY,
    sender TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
