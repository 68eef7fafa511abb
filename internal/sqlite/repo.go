// Package sqlite implements the durable stores on top of sqlx and
// modernc's sqlite driver.
package sqlite

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/mgarced/vigilante/internal/vigilante"
)

// DSN builds the connection string for a database file. The pragmas use
// modernc's _pragma syntax; the driver ignores mattn-style parameters
// like _journal_mode without an error. WAL plus a busy timeout is what
// lets the engine's concurrent writers coexist with the bot and the
// admin server on one pool.
func DSN(path string) string {
	return fmt.Sprintf("%s?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
}

// Ensure Repo implements both store contracts
var (
	_ vigilante.SubscriptionStore = (*Repo)(nil)
	_ vigilante.DeliveryLedger    = (*Repo)(nil)
)

type Repo struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) Repo {
	return Repo{db: db}
}
