package manifest

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManifest() *Manifest {
	return &Manifest{
		Release: Release{
			App:  "shop",
			Ref:  "release-20",
			SHA:  "3f2a9c1d0e",
			Date: time.Date(2024, 3, 9, 17, 4, 5, 0, time.UTC),
			Type: "deploy_tag",
			By:   "alice@laptop",
		},
		Sections: []Section{{
			App: "orders",
			Migrations: []Migration{
				{App: "orders", Name: "0001_initial", Installed: true},
				{App: "orders", Name: "0002_add_total", Installed: true},
				{App: "orders", Name: "0003_index", Installed: false},
			},
		}, {
			App: "accounts",
			Migrations: []Migration{
				{App: "accounts", Name: "0001_initial", Installed: true},
			},
		}},
	}
}

func TestRoundTrip(t *testing.T) {
	for _, m := range []*Manifest{
		testManifest(),
		{Release: Release{App: "empty", Date: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}},
	} {
		data, err := Encode(m)
		require.NoError(t, err)
		got, err := Decode(data)
		require.NoError(t, err)

		assert.Equal(t, m.Release.Date.Format(DisplayDateFormat), got.Release.DisplayDate)
		got.Release.DisplayDate = ""
		assert.Equal(t, m, got)
	}
}

func TestDisplayDate(t *testing.T) {
	data, err := Encode(testManifest())
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "Sat, Mar 09, 2024 17:04:05 UTC", got.Release.DisplayDate)
}

func TestEncodeLayout(t *testing.T) {
	data, err := Encode(testManifest())
	require.NoError(t, err)
	s := string(data)
	assert.Contains(t, s, "[release]")
	assert.Contains(t, s, "2024-03-09T17:04:05Z")
	assert.Less(t, strings.Index(s, "[migrations:orders]"), strings.Index(s, "[migrations:accounts]"))
	assert.Less(t, strings.Index(s, "0002_add_total"), strings.Index(s, "0003_index"))
}

var decodeErrorTests = []struct {
	testName string
	data     string
	wantErr  string
}{{
	testName: "NoReleaseSection",
	data:     "[migrations:orders]\n0001_initial = true\n",
	wantErr:  `manifest format error: no \[release\] section`,
}, {
	testName: "BadDate",
	data:     "[release]\napp = shop\ndate = yesterday\n",
	wantErr:  `manifest format error: invalid date "yesterday"`,
}, {
	testName: "NotBoolean",
	data:     "[release]\ndate = 2024-03-09T17:04:05Z\n[migrations:orders]\n0001_initial = yes\n",
	wantErr:  `manifest format error: migration "0001_initial" in "orders": "yes" is not true or false`,
}, {
	testName: "DuplicateMigration",
	data:     "[release]\ndate = 2024-03-09T17:04:05Z\n[migrations:orders]\n0001_initial = true\n0001_initial = false\n",
	wantErr:  `manifest format error: duplicate migration "0001_initial" in "orders"`,
}}

func TestDecodeErrors(t *testing.T) {
	for _, test := range decodeErrorTests {
		t.Run(test.testName, func(t *testing.T) {
			_, err := Decode([]byte(test.data))
			require.Error(t, err)
			assert.Regexp(t, "^"+test.wantErr+"$", err.Error())
			var fe *FormatError
			assert.True(t, errors.As(err, &fe))
		})
	}
}

func TestEncodeRejectsDuplicates(t *testing.T) {
	m := New(Release{App: "shop"}, []Migration{
		{App: "orders", Name: "0001_initial"},
		{App: "orders", Name: "0001_initial", Installed: true},
	})
	_, err := Encode(m)
	var fe *FormatError
	assert.True(t, errors.As(err, &fe))
}

func TestNewGroupsBySection(t *testing.T) {
	migs := []Migration{
		{App: "orders", Name: "0001_initial", Installed: true},
		{App: "accounts", Name: "0001_initial", Installed: true},
		{App: "orders", Name: "0002_add_total"},
	}
	m := New(Release{App: "shop"}, migs)
	require.Len(t, m.Sections, 2)
	assert.Equal(t, "orders", m.Sections[0].App)
	assert.Equal(t, []Migration{migs[0], migs[2]}, m.Sections[0].Migrations)
	assert.Equal(t, "accounts", m.Sections[1].App)

	s, ok := m.Section("accounts")
	assert.True(t, ok)
	assert.Len(t, s.Migrations, 1)
	_, ok = m.Section("billing")
	assert.False(t, ok)
}
