package manifest

import (
	"bufio"
	"strings"
)

// migrationMarkers maps the status markers printed by the migration tool
// to whether the migration is applied.
var migrationMarkers = map[string]bool{
	"(*)": true,
	"( )": false,
	"[X]": true,
	"[ ]": false,
}

// ParseMigrations parses a migration status listing:
//
//	accounts
//	 (*) 0001_initial
//	 ( ) 0002_add_email
//	orders
//	 (no migrations)
//
// A line starting with a status marker is a migration of the most recent
// sub-application line above it. Sub-application lines all share the
// indentation of the first one; a line without a marker indented deeper
// than that is a migration missing its marker. Blank lines are ignored.
func ParseMigrations(raw string) ([]Migration, error) {
	var (
		migs      []Migration
		app       string
		appIndent = -1
	)
	sc := bufio.NewScanner(strings.NewReader(raw))
	for n := 1; sc.Scan(); n++ {
		text := strings.TrimRight(sc.Text(), " \t\r")
		line := strings.TrimLeft(text, " \t")
		indent := len(text) - len(line)
		switch {
		case line == "":
			continue
		case line == "(no migrations)":
			continue
		case line[0] != '(' && line[0] != '[':
			if appIndent < 0 {
				appIndent = indent
			}
			if indent > appIndent {
				return nil, formatErrorf(n, "migration line %q has no status marker", line)
			}
			app = line
			continue
		}
		if len(line) < 3 {
			return nil, formatErrorf(n, "malformed migration line %q", line)
		}
		installed, ok := migrationMarkers[line[:3]]
		if !ok {
			return nil, formatErrorf(n, "unknown migration marker in %q", line)
		}
		// Anything after the name, such as a squash annotation, is dropped.
		fields := strings.Fields(line[3:])
		if len(fields) == 0 {
			return nil, formatErrorf(n, "malformed migration line %q", line)
		}
		name := fields[0]
		if app == "" {
			return nil, formatErrorf(n, "migration %q listed before any application", name)
		}
		migs = append(migs, Migration{App: app, Name: name, Installed: installed})
	}
	if err := sc.Err(); err != nil {
		return nil, &FormatError{Err: err}
	}
	return migs, nil
}
