package testutil

import (
	"database/sql"
	"testing"

	"github.com/google/uuid"
)

// AdminActorID stands in for the operator that performs plan changes in
// integration tests.
var AdminActorID = uuid.MustParse("00000000-0000-0000-0000-0000000000ad")

// CountRows counts rows of table matching where, e.g.
// CountRows(t, db, "status_history", "ledger_entry_id = $1", id).
func CountRows(t *testing.T, db *sql.DB, table, where string, args ...any) int {
	t.Helper()
	q := "SELECT COUNT(*) FROM " + table
	if where != "" {
		q += " WHERE " + where
	}
	var n int
	if err := db.QueryRow(q, args...).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

// BalanceTotals reads a territory's stored totals straight from the table.
func BalanceTotals(t *testing.T, db *sql.DB, territoryID uuid.UUID) (revenue, expenses, net int64) {
	t.Helper()
	err := db.QueryRow(
		`SELECT total_revenue_minor_units, total_expenses_minor_units, net_balance_minor_units
		 FROM territory_balances WHERE territory_id = $1`, territoryID,
	).Scan(&revenue, &expenses, &net)
	if err != nil {
		t.Fatalf("read balance %s: %v", territoryID, err)
	}
	return revenue, expenses, net
}

// CouponUsedCount reads the persisted use counter for a coupon code.
func CouponUsedCount(t *testing.T, db *sql.DB, code string) int {
	t.Helper()
	var n int
	if err := db.QueryRow(`SELECT used_count FROM coupons WHERE code = $1`, code).Scan(&n); err != nil {
		t.Fatalf("read coupon %s: %v", code, err)
	}
	return n
}
