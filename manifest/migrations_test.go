package manifest

import (
	"errors"
	"testing"

	qt "github.com/frankban/quicktest"
)

const southListing = `
 accounts
  (*) 0001_initial
  (*) 0002_add_email
  ( ) 0003_add_phone

 orders
  (*) 0001_initial

 reports
  (no migrations)
`

func TestParseMigrations(t *testing.T) {
	got, err := ParseMigrations(southListing)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, got, qt.DeepEquals, []Migration{
		{App: "accounts", Name: "0001_initial", Installed: true},
		{App: "accounts", Name: "0002_add_email", Installed: true},
		{App: "accounts", Name: "0003_add_phone", Installed: false},
		{App: "orders", Name: "0001_initial", Installed: true},
	})
}

func TestParseShowMigrations(t *testing.T) {
	got, err := ParseMigrations("auth\n [X] 0001_initial\n [ ] 0002_squashed_0004 (3 squashed migrations)\n")
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, got, qt.DeepEquals, []Migration{
		{App: "auth", Name: "0001_initial", Installed: true},
		{App: "auth", Name: "0002_squashed_0004", Installed: false},
	})
}

func TestParseMigrationsEmpty(t *testing.T) {
	got, err := ParseMigrations("")
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, got, qt.HasLen, 0)
}

var parseMigrationsErrorTests = []struct {
	testName string
	raw      string
	wantErr  string
}{{
	testName: "NoApplication",
	raw:      "  (*) 0001_initial\n",
	wantErr:  `manifest format error at line 1: migration "0001_initial" listed before any application`,
}, {
	testName: "UnknownMarker",
	raw:      "orders\n  (x) 0001_initial\n",
	wantErr:  `manifest format error at line 2: unknown migration marker in "\(x\) 0001_initial"`,
}, {
	testName: "MissingName",
	raw:      "orders\n\n  (*)\n",
	wantErr:  `manifest format error at line 3: malformed migration line "\(\*\)"`,
}, {
	testName: "MissingMarker",
	raw:      "accounts\n  (*) 0001_initial\n  0002_add_email\n  ( ) 0003_add_phone\n",
	wantErr:  `manifest format error at line 3: migration line "0002_add_email" has no status marker`,
}, {
	testName: "MissingMarkerIndentedApps",
	raw:      southListing + "   0004_orphan\n",
	wantErr:  `manifest format error at line 12: migration line "0004_orphan" has no status marker`,
}, {
	testName: "Truncated",
	raw:      "orders\n  (\n",
	wantErr:  `manifest format error at line 2: malformed migration line "\("`,
}}

func TestParseMigrationsErrors(t *testing.T) {
	for _, test := range parseMigrationsErrorTests {
		t.Run(test.testName, func(t *testing.T) {
			_, err := ParseMigrations(test.raw)
			qt.Assert(t, err, qt.ErrorMatches, test.wantErr)
			var fe *FormatError
			qt.Assert(t, errors.As(err, &fe), qt.IsTrue)
		})
	}
}
