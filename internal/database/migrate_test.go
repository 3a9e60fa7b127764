// Package database provides connection setup for MariaDB and Redis.
// This file validates migration SQL files to catch schema mismatches early.
package database

import (
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"
)

// validUserStatuses must match the ENUM values on users.status and the
// status constants in the auth plugin. Update both together.
// Current ENUM: ENUM('active', 'locked', 'deleted')
// Defined in 000001.
var validUserStatuses = map[string]bool{
	"active":  true,
	"locked":  true,
	"deleted": true,
}

// validUserRoles must match the ENUM values on users.role.
// Current ENUM: ENUM('user', 'admin')
// Defined in 000001.
var validUserRoles = map[string]bool{
	"user":  true,
	"admin": true,
}

// migrationsDir returns the absolute path to db/migrations/ from the project root.
func migrationsDir(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot determine test file path")
	}
	// thisFile is internal/database/migrate_test.go, project root is two dirs up.
	projectRoot := filepath.Join(filepath.Dir(thisFile), "..", "..")
	dir := filepath.Join(projectRoot, "db", "migrations")
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("migrations directory not found at %s: %v", dir, err)
	}
	return dir
}

// enumPattern extracts the quoted values from an ENUM(...) definition.
var enumPattern = regexp.MustCompile(`ENUM\(([^)]+)\)`)

// enumValuesOnLine parses 'a', 'b', 'c' out of an ENUM definition line.
func enumValuesOnLine(line string) []string {
	m := enumPattern.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	var values []string
	for _, part := range strings.Split(m[1], ",") {
		values = append(values, strings.Trim(strings.TrimSpace(part), "'"))
	}
	return values
}

// TestMigrations_UserEnumValues scans all .up.sql migration files and
// checks that every ENUM value declared for users.status and users.role
// is one this codebase knows about. A value added in SQL but not in the
// Go constants would scan fine and then fail every comparison at
// runtime, so catch the drift here.
func TestMigrations_UserEnumValues(t *testing.T) {
	dir := migrationsDir(t)
	files, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		t.Fatalf("globbing migration files: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("no migration files found")
	}

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("reading %s: %v", f, err)
		}
		if !strings.Contains(string(data), "users") {
			continue
		}

		for _, line := range strings.Split(string(data), "\n") {
			trimmed := strings.TrimSpace(line)

			var valid map[string]bool
			var column string
			switch {
			case strings.HasPrefix(trimmed, "status"):
				valid, column = validUserStatuses, "status"
			case strings.HasPrefix(trimmed, "role"):
				valid, column = validUserRoles, "role"
			default:
				continue
			}

			for _, v := range enumValuesOnLine(trimmed) {
				if !valid[v] {
					t.Errorf("%s: users.%s ENUM value %q has no matching Go constant",
						filepath.Base(f), column, v)
				}
			}
		}
	}
}

// TestMigrations_SessionValidityColumns ensures the sessions table keeps
// the two columns the validity predicate is built on.
func TestMigrations_SessionValidityColumns(t *testing.T) {
	dir := migrationsDir(t)
	files, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		t.Fatalf("globbing migration files: %v", err)
	}

	var found bool
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("reading %s: %v", f, err)
		}
		content := string(data)
		if !strings.Contains(content, "CREATE TABLE sessions") {
			continue
		}
		found = true
		for _, col := range []string{"expires_at", "revoked_at", "token"} {
			if !strings.Contains(content, col) {
				t.Errorf("%s: sessions table missing %q column", filepath.Base(f), col)
			}
		}
	}
	if !found {
		t.Fatal("no migration creates the sessions table")
	}
}

// TestMigrations_UpDownPairs ensures every .up.sql has a matching .down.sql.
func TestMigrations_UpDownPairs(t *testing.T) {
	dir := migrationsDir(t)
	upFiles, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		t.Fatalf("globbing up files: %v", err)
	}

	for _, up := range upFiles {
		down := strings.Replace(up, ".up.sql", ".down.sql", 1)
		if _, err := os.Stat(down); err != nil {
			t.Errorf("missing down migration for %s", filepath.Base(up))
		}
	}
}
