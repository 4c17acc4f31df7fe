package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

// Usage: go run scripts/verify_schema.go [path]   (default $DB_PATH, then ./signal_trader.db)
func main() {
	dbPath := "signal_trader.db"
	if v := os.Getenv("DB_PATH"); v != "" {
		dbPath = v
	}
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}
	fmt.Printf("Verifying database at: %s\n", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	checks := []struct {
		table   string
		columns []string
	}{
		{"processed_messages", []string{"channel_id", "message_id", "processed_at"}},
		{"signals", []string{"channel_id", "message_id", "kind", "direction", "symbol", "rule"}},
		{"execution_outcomes", []string{"signal_id", "account", "success", "take_profit", "stop_loss", "closes", "latency_ms"}},
	}

	missing := 0
	for i, c := range checks {
		fmt.Printf("\n%d. Verifying %s table...\n", i+1, c.table)
		var ddl string
		err := db.QueryRow("SELECT sql FROM sqlite_master WHERE type='table' AND name=?", c.table).Scan(&ddl)
		if err == sql.ErrNoRows {
			fmt.Printf("❌ %s table MISSING\n", c.table)
			missing++
			continue
		}
		if err != nil {
			log.Fatalf("Query failed: %v", err)
		}
		fmt.Printf("✓ %s table exists\n", c.table)
		for _, col := range c.columns {
			if strings.Contains(ddl, col) {
				fmt.Printf("  ✓ %s\n", col)
			} else {
				fmt.Printf("  ❌ %s column MISSING\n", col)
				missing++
			}
		}

		var rows int
		if err := db.QueryRow("SELECT COUNT(*) FROM " + c.table).Scan(&rows); err == nil {
			fmt.Printf("  rows: %d\n", rows)
		}
	}

	if missing > 0 {
		fmt.Printf("\n%d problem(s) found\n", missing)
		os.Exit(1)
	}
	fmt.Println("\nschema OK")
}
