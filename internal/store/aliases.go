package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

var ErrAliasNotFound = errors.New("alias not found")

const aliasSchema = `
CREATE TABLE IF NOT EXISTS commands (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS aliases (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	command_id INTEGER NOT NULL REFERENCES commands(id) ON DELETE CASCADE,
	alias      TEXT NOT NULL UNIQUE
);

CREATE INDEX IF NOT EXISTS idx_aliases_command ON aliases(command_id);
`

// Aliases maps commands to any number of alternative names
type Aliases struct {
	db *sql.DB
}

// OpenAliases opens (creating if needed) the alias database at path
func OpenAliases(path string) (*Aliases, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("failed to open alias database: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(aliasSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create alias schema: %w", err)
	}
	return &Aliases{db: db}, nil
}

func (a *Aliases) Close() error {
	return a.db.Close()
}

// Lookup lists the aliases of command in alphabetical order
func (a *Aliases) Lookup(command string) ([]string, error) {
	rows, err := a.db.Query(`
		SELECT a.alias FROM aliases a
		JOIN commands c ON c.id = a.command_id
		WHERE c.name = ?
		ORDER BY a.alias`, command)
	if err != nil {
		return nil, fmt.Errorf("failed to look up aliases: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var alias string
		if err := rows.Scan(&alias); err != nil {
			return nil, fmt.Errorf("failed to look up aliases: %w", err)
		}
		out = append(out, alias)
	}
	return out, rows.Err()
}

// Contains reports whether query is a known command or alias
func (a *Aliases) Contains(query string) (bool, error) {
	var found bool
	err := a.db.QueryRow(`
		SELECT EXISTS (SELECT 1 FROM commands WHERE name = ?)
		    OR EXISTS (SELECT 1 FROM aliases WHERE alias = ?)`, query, query).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("failed to query aliases: %w", err)
	}
	return found, nil
}

// Resolve returns the command an alias points at
func (a *Aliases) Resolve(alias string) (string, error) {
	var command string
	err := a.db.QueryRow(`
		SELECT c.name FROM aliases a
		JOIN commands c ON c.id = a.command_id
		WHERE a.alias = ?`, alias).Scan(&command)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrAliasNotFound, alias)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve alias: %w", err)
	}
	return command, nil
}

// Add registers alias for command and reports whether anything was inserted
func (a *Aliases) Add(command, alias string) (bool, error) {
	tx, err := a.db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to add alias: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	c, err := tx.Exec(`INSERT OR IGNORE INTO commands (name) VALUES (?)`, command)
	if err != nil {
		return false, fmt.Errorf("failed to add command: %w", err)
	}
	al, err := tx.Exec(`
		INSERT OR IGNORE INTO aliases (command_id, alias)
		SELECT id, ? FROM commands WHERE name = ?`, alias, command)
	if err != nil {
		return false, fmt.Errorf("failed to add alias: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to add alias: %w", err)
	}

	return affected(c)+affected(al) > 0, nil
}

// Remove deletes a single alias
func (a *Aliases) Remove(alias string) (bool, error) {
	res, err := a.db.Exec(`DELETE FROM aliases WHERE alias = ?`, alias)
	if err != nil {
		return false, fmt.Errorf("failed to remove alias: %w", err)
	}
	return affected(res) > 0, nil
}

// Clear deletes every alias of command
func (a *Aliases) Clear(command string) (bool, error) {
	res, err := a.db.Exec(`
		DELETE FROM aliases
		WHERE command_id = (SELECT id FROM commands WHERE name = ?)`, command)
	if err != nil {
		return false, fmt.Errorf("failed to clear aliases: %w", err)
	}
	return affected(res) > 0, nil
}

func affected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
