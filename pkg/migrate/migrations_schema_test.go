package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration file matches %s", pattern)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestLedgerMigrationsContainConstraints(t *testing.T) {
	cases := map[string][]string{
		"*_create_bills_table.sql": {
			"CREATE TABLE IF NOT EXISTS bills",
			"CHECK (status IN ('Pending', 'Paid', 'Cancelled'))",
			"DROP TABLE IF EXISTS bills",
		},
		"*_create_medicines_table.sql": {
			"CREATE TABLE IF NOT EXISTS medicines",
			"CONSTRAINT chk_medicines_stock_nonnegative CHECK (stock >= 0)",
			"CREATE INDEX IF NOT EXISTS idx_medicines_key_created ON medicines (medicine_key, created_at)",
			"DROP TABLE IF EXISTS medicines",
		},
		"*_create_payments_table.sql": {
			"REFERENCES bills(bill_id)",
			"CREATE UNIQUE INDEX IF NOT EXISTS ux_payments_bill_id ON payments (bill_id)",
			"CHECK (payment_method IN ('Cash', 'Card', 'Online'))",
			"DROP TABLE IF EXISTS payments",
		},
		"*_create_outbox_tables.sql": {
			"CREATE TABLE IF NOT EXISTS outbox_events",
			"CREATE TABLE IF NOT EXISTS outbox_dlq",
			"WHERE published_at IS NULL",
			"DROP TABLE IF EXISTS outbox_dlq",
		},
	}

	for pattern, checks := range cases {
		content := readMigration(t, pattern)
		for _, sub := range checks {
			if !strings.Contains(content, sub) {
				t.Errorf("%s: missing expected statement %q", pattern, sub)
			}
		}
	}
}
