package source

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	return dir
}

func TestSQLDirLoad(t *testing.T) {
	tests := []struct {
		name         string
		files        map[string]string
		wantVersions []string
		wantHooks    map[string][]string
		wantDown     map[string]bool
		wantErr      bool
	}{
		{
			name: "ordered pairs",
			files: map[string]string{
				"002_add_index.up.sql":      "CREATE INDEX idx_users_email ON users(email);",
				"002_add_index.down.sql":    "DROP INDEX idx_users_email;",
				"001_create_users.up.sql":   "CREATE TABLE users (id INT);",
				"001_create_users.down.sql": "DROP TABLE users;",
			},
			wantVersions: []string{"001", "002"},
			wantDown:     map[string]bool{"001": true, "002": true},
		},
		{
			name: "hook directive",
			files: map[string]string{
				"001_create_users.up.sql": "-- hooks: capture_counts, verify_counts\nCREATE TABLE users (id INT);",
			},
			wantVersions: []string{"001"},
			wantHooks:    map[string][]string{"001": {"capture_counts", "verify_counts"}},
			wantDown:     map[string]bool{"001": false},
		},
		{
			name: "missing down file is allowed",
			files: map[string]string{
				"001_create_users.up.sql": "CREATE TABLE users (id INT);",
			},
			wantVersions: []string{"001"},
			wantDown:     map[string]bool{"001": false},
		},
		{
			name: "down without up",
			files: map[string]string{
				"001_create_users.down.sql": "DROP TABLE users;",
			},
			wantErr: true,
		},
		{
			name: "mismatched names for one version",
			files: map[string]string{
				"001_create_users.up.sql":  "CREATE TABLE users (id INT);",
				"001_drop_users.down.sql":  "DROP TABLE users;",
				"002_add_index.up.sql":     "CREATE INDEX idx ON users(id);",
			},
			wantErr: true,
		},
		{
			name: "malformed file name",
			files: map[string]string{
				"create_users.sql": "CREATE TABLE users (id INT);",
			},
			wantErr: true,
		},
		{
			name: "empty up file",
			files: map[string]string{
				"001_create_users.up.sql": "   \n",
			},
			wantErr: true,
		},
		{
			name: "hook directive with empty name",
			files: map[string]string{
				"001_create_users.up.sql": "-- hooks: capture_counts,,verify_counts\nCREATE TABLE users (id INT);",
			},
			wantErr: true,
		},
		{
			name: "non-sql files ignored",
			files: map[string]string{
				"001_create_users.up.sql": "CREATE TABLE users (id INT);",
				"README.md":               "notes",
			},
			wantVersions: []string{"001"},
			wantDown:     map[string]bool{"001": false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeFiles(t, tt.files)
			got, err := NewSQLDir(dir).Load()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			var versions []string
			for _, m := range got {
				versions = append(versions, m.Version)
			}
			if !reflect.DeepEqual(versions, tt.wantVersions) {
				t.Errorf("Load() versions = %v, want %v", versions, tt.wantVersions)
			}
			for _, m := range got {
				if want, ok := tt.wantHooks[m.Version]; ok && !reflect.DeepEqual(m.Hooks, want) {
					t.Errorf("Load() hooks for %s = %v, want %v", m.Version, m.Hooks, want)
				}
				if wantDown, ok := tt.wantDown[m.Version]; ok && (m.Down != nil) != wantDown {
					t.Errorf("Load() down for %s = %v, want %v", m.Version, m.Down != nil, wantDown)
				}
				if m.Up == nil {
					t.Errorf("Load() migration %s has no up operation", m.Version)
				}
			}
		})
	}
}

func TestSplitHookDirective(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantHooks []string
		wantErr   bool
	}{
		{
			name:      "directive on first line",
			content:   "-- hooks: a, b\nCREATE TABLE t (id INT);",
			wantHooks: []string{"a", "b"},
		},
		{
			name:      "directive after comment",
			content:   "-- a migration\n-- hooks: a\nCREATE TABLE t (id INT);",
			wantHooks: []string{"a"},
		},
		{
			name:      "no directive",
			content:   "CREATE TABLE t (id INT);",
			wantHooks: nil,
		},
		{
			name:      "directive after SQL is plain comment",
			content:   "CREATE TABLE t (id INT);\n-- hooks: a",
			wantHooks: nil,
		},
		{
			name:    "empty directive",
			content: "-- hooks:\nCREATE TABLE t (id INT);",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hooks, _, err := splitHookDirective(tt.content)
			if (err != nil) != tt.wantErr {
				t.Fatalf("splitHookDirective() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !reflect.DeepEqual(hooks, tt.wantHooks) {
				t.Errorf("splitHookDirective() hooks = %v, want %v", hooks, tt.wantHooks)
			}
		})
	}
}
