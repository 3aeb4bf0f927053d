package source

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/ratchetdb/ratchet/api"
)

// SQL migration files live in one directory, one pair per migration:
//
//	001_create_users.up.sql
//	001_create_users.down.sql
//
// The numeric prefix is the version and the rest of the stem is the name.
// An up file may open with a hook directive before any SQL:
//
//	-- hooks: capture_row_counts, verify_row_counts
//
// The down file is optional; a migration without one cannot be reversed.
var fileNamePattern = regexp.MustCompile(`^(\d+)_(.+)\.(up|down)\.sql$`)

const hookDirective = "-- hooks:"

// SQLDir loads migrations from a directory of versioned SQL files.
type SQLDir struct {
	dir string
}

func NewSQLDir(dir string) *SQLDir {
	return &SQLDir{dir: dir}
}

type sqlFilePair struct {
	version string
	name    string
	up      string
	down    string
}

func (s *SQLDir) Load() ([]api.Migration, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory %s: %w", s.dir, err)
	}

	pairs := make(map[string]*sqlFilePair)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := fileNamePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			if strings.HasSuffix(entry.Name(), ".sql") {
				return nil, fmt.Errorf("migration file %s does not match NNN_name.{up,down}.sql", entry.Name())
			}
			continue
		}
		version, name, direction := match[1], match[2], match[3]

		pair, ok := pairs[version]
		if !ok {
			pair = &sqlFilePair{version: version, name: name}
			pairs[version] = pair
		}
		if pair.name != name {
			return nil, fmt.Errorf("version %s has mismatched names %q and %q", version, pair.name, name)
		}
		path := filepath.Join(s.dir, entry.Name())
		if direction == "up" {
			pair.up = path
		} else {
			pair.down = path
		}
	}

	var ordered []*sqlFilePair
	for _, pair := range pairs {
		if pair.up == "" {
			return nil, fmt.Errorf("version %s has a down file but no up file", pair.version)
		}
		ordered = append(ordered, pair)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].version < ordered[j].version
	})

	var migrations []api.Migration
	for _, pair := range ordered {
		m, err := s.build(pair)
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, m)
	}
	return migrations, nil
}

func (s *SQLDir) build(pair *sqlFilePair) (api.Migration, error) {
	upRaw, err := os.ReadFile(pair.up)
	if err != nil {
		return api.Migration{}, fmt.Errorf("failed to read %s: %w", pair.up, err)
	}
	hooks, upSQL, err := splitHookDirective(string(upRaw))
	if err != nil {
		return api.Migration{}, fmt.Errorf("invalid migration %s: %w", pair.up, err)
	}
	if strings.TrimSpace(upSQL) == "" {
		return api.Migration{}, fmt.Errorf("migration %s has no SQL content", pair.up)
	}

	m := api.Migration{
		Version: pair.version,
		Name:    pair.name,
		Hooks:   hooks,
		Up:      execSQL(upSQL),
	}

	if pair.down != "" {
		downRaw, err := os.ReadFile(pair.down)
		if err != nil {
			return api.Migration{}, fmt.Errorf("failed to read %s: %w", pair.down, err)
		}
		if strings.TrimSpace(string(downRaw)) != "" {
			m.Down = execSQL(string(downRaw))
		}
	}
	return m, nil
}

// splitHookDirective pulls a leading "-- hooks:" line off the file content.
// Only comment and blank lines may precede it; once SQL starts the directive
// is treated as an ordinary comment.
func splitHookDirective(content string) ([]string, string, error) {
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "--") {
			break
		}
		if !strings.HasPrefix(line, hookDirective) {
			continue
		}
		var hooks []string
		for _, part := range strings.Split(strings.TrimPrefix(line, hookDirective), ",") {
			name := strings.TrimSpace(part)
			if name == "" {
				return nil, "", fmt.Errorf("hook directive has an empty hook name: %s", line)
			}
			hooks = append(hooks, name)
		}
		if len(hooks) == 0 {
			return nil, "", fmt.Errorf("hook directive names no hooks: %s", line)
		}
		return hooks, content, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, "", fmt.Errorf("error reading SQL content: %w", err)
	}
	return nil, content, nil
}

// execSQL wraps raw SQL as a migration operation.
func execSQL(sql string) api.MigrationFunc {
	return func(ctx context.Context, q api.Querier) error {
		_, err := q.Exec(ctx, sql)
		return err
	}
}
