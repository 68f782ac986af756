package database

import (
	"context"
	"database/sql"
	"strings"
)

// Schema holds the tables the payments service owns. Applied verbatim by
// EnsureSchema; migration tooling is intentionally absent.
const Schema = `
CREATE TABLE IF NOT EXISTS invoices (
	id             UUID PRIMARY KEY,
	user_id        UUID NOT NULL,
	invoice_number TEXT NOT NULL UNIQUE,
	total_amount   NUMERIC(14,2) NOT NULL CHECK (total_amount >= 0),
	currency       TEXT NOT NULL DEFAULT 'KES',
	status         TEXT NOT NULL DEFAULT 'draft',
	issue_date     TIMESTAMPTZ NOT NULL,
	due_date       TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS payment_attempts (
	id              UUID PRIMARY KEY,
	gateway         TEXT NOT NULL,
	invoice_id      UUID NOT NULL REFERENCES invoices (id),
	payer_id        UUID NOT NULL,
	amount          NUMERIC(14,2) NOT NULL CHECK (amount > 0),
	currency        TEXT NOT NULL,
	correlation_ref TEXT NOT NULL,
	provider_ref    TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'pending',
	metadata        JSONB NOT NULL DEFAULT '{}',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (gateway, correlation_ref)
);

CREATE INDEX IF NOT EXISTS payment_attempts_invoice_idx
	ON payment_attempts (invoice_id, status);
`

// EnsureSchema creates the service's tables if they do not exist. Statements
// run one at a time; the pgx extended protocol rejects multi-statement Exec.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range strings.Split(Schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
