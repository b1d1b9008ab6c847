// Package manifest reads and writes the record stored with every release
// describing what was deployed and the migration state at deploy time.
package manifest

import (
	"bytes"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// FileName is the name of the manifest inside a release directory.
const FileName = "manifest.cfg"

const (
	releaseSection   = "release"
	migrationsPrefix = "migrations:"

	// DateFormat is the stored form of Release.Date.
	DateFormat = "2006-01-02T15:04:05Z"
	// DisplayDateFormat is the form used for Release.DisplayDate.
	DisplayDateFormat = "Mon, Jan 02, 2006 15:04:05 UTC"
)

// Release describes a deployed release.
type Release struct {
	App string
	Ref string
	SHA string
	// Date is the deploy time, in UTC with second resolution.
	Date time.Time
	// DisplayDate is Date rendered for humans. It is filled in by Decode
	// and is never written.
	DisplayDate string
	// Type is the checkout method used, for example deploy_tag.
	Type string
	// By identifies the operator as user@host.
	By string
}

// Migration is one migration of a sub-application.
type Migration struct {
	App       string
	Name      string
	Installed bool
}

// Section holds the migrations of one sub-application in listing order.
type Section struct {
	App        string
	Migrations []Migration
}

// Manifest is the decoded form of a manifest file.
type Manifest struct {
	Release  Release
	Sections []Section
}

// New groups migrations by sub-application, keeping the order in which
// sub-applications and migrations first appear.
func New(info Release, migrations []Migration) *Manifest {
	m := &Manifest{Release: info}
	index := make(map[string]int)
	for _, mig := range migrations {
		i, ok := index[mig.App]
		if !ok {
			i = len(m.Sections)
			index[mig.App] = i
			m.Sections = append(m.Sections, Section{App: mig.App})
		}
		m.Sections[i].Migrations = append(m.Sections[i].Migrations, mig)
	}
	return m
}

// Section returns the section for app.
func (m *Manifest) Section(app string) (Section, bool) {
	for _, s := range m.Sections {
		if s.App == app {
			return s, true
		}
	}
	return Section{}, false
}

// Encode renders m in INI form.
func Encode(m *Manifest) ([]byte, error) {
	f := ini.Empty()
	sec, err := f.NewSection(releaseSection)
	if err != nil {
		return nil, err
	}
	r := m.Release
	for _, kv := range [][2]string{
		{"app", r.App},
		{"ref", r.Ref},
		{"sha", r.SHA},
		{"date", r.Date.UTC().Format(DateFormat)},
		{"type", r.Type},
		{"by", r.By},
	} {
		if _, err := sec.NewKey(kv[0], kv[1]); err != nil {
			return nil, err
		}
	}
	for _, s := range m.Sections {
		sec, err := f.NewSection(migrationsPrefix + s.App)
		if err != nil {
			return nil, err
		}
		for _, mig := range s.Migrations {
			if sec.HasKey(mig.Name) {
				return nil, formatErrorf(0, "duplicate migration %q in %q", mig.Name, s.App)
			}
			v := "false"
			if mig.Installed {
				v = "true"
			}
			if _, err := sec.NewKey(mig.Name, v); err != nil {
				return nil, err
			}
		}
	}
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a manifest produced by Encode.
func Decode(data []byte) (*Manifest, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		AllowShadows:        true,
		IgnoreInlineComment: true,
	}, data)
	if err != nil {
		return nil, &FormatError{Err: err}
	}
	sec, err := f.GetSection(releaseSection)
	if err != nil {
		return nil, formatErrorf(0, "no [%s] section", releaseSection)
	}
	get := func(key string) string {
		return sec.Key(key).String()
	}
	m := &Manifest{
		Release: Release{
			App:  get("app"),
			Ref:  get("ref"),
			SHA:  get("sha"),
			Type: get("type"),
			By:   get("by"),
		},
	}
	date := get("date")
	if m.Release.Date, err = time.Parse(DateFormat, date); err != nil {
		return nil, formatErrorf(0, "invalid date %q", date)
	}
	m.Release.DisplayDate = m.Release.Date.Format(DisplayDateFormat)

	for _, sec := range f.Sections() {
		app := strings.TrimPrefix(sec.Name(), migrationsPrefix)
		if app == sec.Name() {
			continue
		}
		s := Section{App: app}
		for _, k := range sec.Keys() {
			if len(k.ValueWithShadows()) > 1 {
				return nil, formatErrorf(0, "duplicate migration %q in %q", k.Name(), app)
			}
			var installed bool
			switch k.Value() {
			case "true":
				installed = true
			case "false":
			default:
				return nil, formatErrorf(0, "migration %q in %q: %q is not true or false", k.Name(), app, k.Value())
			}
			s.Migrations = append(s.Migrations, Migration{App: app, Name: k.Name(), Installed: installed})
		}
		m.Sections = append(m.Sections, s)
	}
	return m, nil
}
