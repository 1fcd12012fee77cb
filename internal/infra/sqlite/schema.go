package sqlite

// ─── Schema ─────────────────────────────────────────────────────────────────

const (
	frozenTriggerMessage = "order discount is frozen"
	ledgerTriggerMessage = "points ledger is append-only"
)

// Migrations returns the schema migration statements.
// Each string is a single SQL statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		// Accounts: facts from the account subsystem plus engine-owned tier fields
		`CREATE TABLE IF NOT EXISTS accounts (
			id                TEXT PRIMARY KEY,
			kind              TEXT NOT NULL CHECK(kind IN ('b2b', 'b2c')),
			active            INTEGER NOT NULL DEFAULT 1,
			assigned_tier_key TEXT,
			tier_source       TEXT NOT NULL DEFAULT '',
			discount_override TEXT,
			spend_limit       TEXT,
			created_at        TEXT NOT NULL,
			updated_at        TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_kind_active ON accounts(kind, active)`,

		// Tier definitions (admin managed, synced from the catalog)
		`CREATE TABLE IF NOT EXISTS tier_definitions (
			key_name         TEXT PRIMARY KEY,
			display_name     TEXT NOT NULL,
			discount_pct     TEXT NOT NULL,
			rule             TEXT NOT NULL CHECK(rule IN ('baseline', 'percentile', 'admin')),
			threshold_pct    TEXT NOT NULL DEFAULT '0',
			inherits_from    TEXT,
			admin_assignable INTEGER NOT NULL DEFAULT 0
		)`,

		// Reward catalog
		`CREATE TABLE IF NOT EXISTS rewards (
			id          TEXT PRIMARY KEY,
			title       TEXT NOT NULL,
			points_cost INTEGER NOT NULL CHECK(points_cost > 0),
			active      INTEGER NOT NULL DEFAULT 1
		)`,

		// Orders as seen by the engine. applied_* columns are written once.
		`CREATE TABLE IF NOT EXISTS orders (
			id                   TEXT PRIMARY KEY,
			account_id           TEXT NOT NULL,
			amount_ht            TEXT NOT NULL DEFAULT '0',
			currency             TEXT NOT NULL DEFAULT 'EUR',
			status               TEXT NOT NULL DEFAULT 'created',
			created_at           TEXT NOT NULL,
			completed_at         TEXT,
			applied_discount_pct TEXT,
			applied_tier_key     TEXT,
			applied_source       TEXT,
			frozen_at            TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_completed ON orders(status, completed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_account ON orders(account_id)`,
		`CREATE TRIGGER IF NOT EXISTS orders_freeze_immutable
			BEFORE UPDATE OF applied_discount_pct, applied_tier_key, applied_source, frozen_at ON orders
			WHEN OLD.applied_discount_pct IS NOT NULL
			BEGIN
				SELECT RAISE(ABORT, '` + frozenTriggerMessage + `');
			END`,

		// Spend snapshots: one header per run, one row per eligible account
		`CREATE TABLE IF NOT EXISTS spend_snapshots (
			version       INTEGER PRIMARY KEY AUTOINCREMENT,
			started_at    TEXT NOT NULL,
			computed_at   TEXT NOT NULL,
			window_start  TEXT NOT NULL,
			window_end    TEXT NOT NULL,
			account_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS spend_snapshot_entries (
			version        INTEGER NOT NULL REFERENCES spend_snapshots(version),
			account_id     TEXT NOT NULL,
			trailing_spend TEXT NOT NULL,
			PRIMARY KEY (version, account_id)
		)`,

		// Tier snapshots: output of each tier resolution run
		`CREATE TABLE IF NOT EXISTS tier_snapshots (
			version       INTEGER PRIMARY KEY AUTOINCREMENT,
			spend_version INTEGER NOT NULL REFERENCES spend_snapshots(version),
			started_at    TEXT NOT NULL,
			computed_at   TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tier_snapshot_entries (
			version        INTEGER NOT NULL REFERENCES tier_snapshots(version),
			account_id     TEXT NOT NULL,
			tier_key       TEXT NOT NULL,
			rank           INTEGER NOT NULL,
			rank_pct       TEXT NOT NULL,
			trailing_spend TEXT NOT NULL,
			PRIMARY KEY (version, account_id)
		)`,

		// Batch job leases (single writer across workers)
		`CREATE TABLE IF NOT EXISTS job_leases (
			name        TEXT PRIMARY KEY,
			holder      TEXT NOT NULL,
			acquired_at TEXT NOT NULL,
			expires_at  TEXT NOT NULL
		)`,

		// Points ledger: append-only, balance = SUM(delta)
		`CREATE TABLE IF NOT EXISTS points_ledger (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			id              TEXT NOT NULL UNIQUE,
			account_id      TEXT NOT NULL,
			delta           INTEGER NOT NULL,
			reason          TEXT NOT NULL CHECK(reason IN ('accrual', 'redemption', 'adjustment', 'referral_reward')),
			idempotency_key TEXT UNIQUE,
			order_id        TEXT,
			reward_id       TEXT,
			note            TEXT NOT NULL DEFAULT '',
			created_at      TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_account ON points_ledger(account_id, seq)`,
		`CREATE TRIGGER IF NOT EXISTS points_ledger_no_update
			BEFORE UPDATE ON points_ledger
			BEGIN
				SELECT RAISE(ABORT, '` + ledgerTriggerMessage + `');
			END`,
		`CREATE TRIGGER IF NOT EXISTS points_ledger_no_delete
			BEFORE DELETE ON points_ledger
			BEGIN
				SELECT RAISE(ABORT, '` + ledgerTriggerMessage + `');
			END`,

		// Referral codes: one per owner
		`CREATE TABLE IF NOT EXISTS referral_codes (
			code             TEXT PRIMARY KEY,
			owner_account_id TEXT NOT NULL UNIQUE,
			created_at       TEXT NOT NULL
		)`,

		// Referral redemptions: one per referred account, ever
		`CREATE TABLE IF NOT EXISTS referral_redemptions (
			id                  TEXT PRIMARY KEY,
			code                TEXT NOT NULL REFERENCES referral_codes(code),
			referrer_account_id TEXT NOT NULL,
			referred_account_id TEXT NOT NULL UNIQUE,
			status              TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'qualified', 'rejected')),
			qualifying_order_id TEXT,
			reject_reason       TEXT NOT NULL DEFAULT '',
			created_at          TEXT NOT NULL,
			updated_at          TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_redemptions_referrer ON referral_redemptions(referrer_account_id)`,
	}
}
