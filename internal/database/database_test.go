package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchema_DeclaresEveryTable(t *testing.T) {
	s := Schema()
	for _, table := range []string{"users", "jobs", "purchases", "ledger_entries", "admin_keys"} {
		assert.Contains(t, s, "CREATE TABLE IF NOT EXISTS "+table+" ", table)
	}
}

func TestSchema_Idempotent(t *testing.T) {
	for _, stmt := range strings.Split(Schema(), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		assert.Contains(t, stmt, "IF NOT EXISTS", stmt)
	}
}

func TestSchema_PurchasesKeyedBySession(t *testing.T) {
	assert.Contains(t, Schema(), "session_id        TEXT PRIMARY KEY")
}
