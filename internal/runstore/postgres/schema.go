package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS bridge_cycles (
	run_id BYTEA PRIMARY KEY,
	accounts INTEGER NOT NULL,

	attempted INTEGER NOT NULL DEFAULT 0,
	succeeded INTEGER NOT NULL DEFAULT 0,
	skipped INTEGER NOT NULL DEFAULT 0,
	band TEXT NOT NULL DEFAULT '',

	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,

	CONSTRAINT run_id_len CHECK (octet_length(run_id) = 32),
	CONSTRAINT accounts_nonneg CHECK (accounts >= 0),
	CONSTRAINT attempted_nonneg CHECK (attempted >= 0),
	CONSTRAINT succeeded_nonneg CHECK (succeeded >= 0),
	CONSTRAINT skipped_nonneg CHECK (skipped >= 0)
);

CREATE TABLE IF NOT EXISTS bridge_tasks (
	id BIGSERIAL PRIMARY KEY,
	run_id BYTEA NOT NULL REFERENCES bridge_cycles (run_id),
	account BYTEA NOT NULL,
	task TEXT NOT NULL,

	status SMALLINT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	tx_hash BYTEA,

	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,

	CONSTRAINT task_run_id_len CHECK (octet_length(run_id) = 32),
	CONSTRAINT account_len CHECK (octet_length(account) = 20),
	CONSTRAINT status_range CHECK (status >= 1 AND status <= 3),
	CONSTRAINT tx_hash_len CHECK (tx_hash IS NULL OR octet_length(tx_hash) = 32)
);

CREATE INDEX IF NOT EXISTS bridge_tasks_run_idx ON bridge_tasks (run_id);
`
