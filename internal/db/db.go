package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open connects to the SQLite database and runs schema migrations.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return conn, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`PRAGMA journal_mode = WAL;`,
		`CREATE TABLE IF NOT EXISTS templates (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			url1 TEXT NOT NULL,
			url2 TEXT,
			url3 TEXT,
			style_profile TEXT,
			status TEXT NOT NULL DEFAULT 'pending'
				CHECK(status IN ('pending','learning','ready','error')),
			error_message TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS conversions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			template_id INTEGER NOT NULL,
			original_filename TEXT NOT NULL,
			pdf_path TEXT NOT NULL DEFAULT '',
			generated_html TEXT,
			status TEXT NOT NULL DEFAULT 'uploading'
				CHECK(status IN ('uploading','uploaded','converting','completed','approved','error')),
			converter_used TEXT,
			requested_converter TEXT,
			page_count INTEGER,
			error_message TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			approved_at DATETIME,
			FOREIGN KEY(template_id) REFERENCES templates(id) ON DELETE RESTRICT
		);`,
		`CREATE TABLE IF NOT EXISTS extracted_images (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversion_id INTEGER NOT NULL,
			filename TEXT NOT NULL,
			file_path TEXT NOT NULL,
			page_number INTEGER NOT NULL,
			order_in_page INTEGER NOT NULL DEFAULT 0,
			width INTEGER,
			height INTEGER,
			file_size INTEGER,
			mime_type TEXT,
			created_at DATETIME NOT NULL,
			FOREIGN KEY(conversion_id) REFERENCES conversions(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS user_settings (
			user_id INTEGER PRIMARY KEY,
			current_converter TEXT NOT NULL DEFAULT 'pymupdf',
			openai_api_key_enc TEXT,
			anthropic_api_key_enc TEXT,
			openai_model TEXT NOT NULL DEFAULT 'gpt-4o-mini',
			anthropic_model TEXT NOT NULL DEFAULT 'claude-3-haiku-20240307',
			updated_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_templates_user ON templates(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_templates_status ON templates(status);`,
		`CREATE INDEX IF NOT EXISTS idx_conversions_user ON conversions(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_conversions_template ON conversions(template_id);`,
		`CREATE INDEX IF NOT EXISTS idx_conversions_status ON conversions(status);`,
		`CREATE INDEX IF NOT EXISTS idx_conversions_created ON conversions(created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_images_conversion ON extracted_images(conversion_id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("execute %q: %w", stmt, err)
		}
	}
	return nil
}
