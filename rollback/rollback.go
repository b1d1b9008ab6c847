// Package rollback computes the schema migrations to reverse when moving
// from one release back to an older one.
package rollback

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/stuartcarnie/djdeploy/manifest"
)

// Unmigrated is the target version of a sub-application that did not
// exist in the release being rolled back to.
const Unmigrated = "0000"

// Step migrates App back to Version.
type Step struct {
	App     string
	Version string
}

func (s Step) String() string {
	return s.App + " " + s.Version
}

// VersionError is returned when migration names cannot be ordered.
type VersionError struct {
	App  string
	Name string
	Err  error
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("cannot order migration %q of %q: %v", e.Name, e.App, e.Err)
}

func (e *VersionError) Unwrap() error {
	return e.Err
}

// version is the numeric prefix of a migration name.
type version struct {
	text string
	n    uint64
}

// Plan returns the steps that take the schema recorded in current back to
// the one recorded in prior, in the section order of current.
// Sub-applications without newer migrations in current are omitted and
// those only present in prior are ignored.
func Plan(current, prior *manifest.Manifest) ([]Step, error) {
	var steps []Step
	for _, cur := range current.Sections {
		if len(cur.Migrations) == 0 {
			continue
		}
		migs := cur.Migrations
		var priorMigs []manifest.Migration
		if p, ok := prior.Section(cur.App); ok {
			priorMigs = p.Migrations
			// Widths must agree across both manifests.
			migs = append(append([]manifest.Migration(nil), migs...), priorMigs...)
		}
		if err := checkWidth(cur.App, migs); err != nil {
			return nil, err
		}
		curV, err := latest(cur.App, cur.Migrations)
		if err != nil {
			return nil, err
		}
		if len(priorMigs) == 0 {
			steps = append(steps, Step{App: cur.App, Version: Unmigrated})
			continue
		}
		priorV, err := latest(cur.App, priorMigs)
		if err != nil {
			return nil, err
		}
		if priorV.n < curV.n {
			steps = append(steps, Step{App: cur.App, Version: priorV.text})
		}
	}
	return steps, nil
}

func latest(app string, migs []manifest.Migration) (version, error) {
	var max version
	for i, m := range migs {
		v, err := parseVersion(app, m.Name)
		if err != nil {
			return version{}, err
		}
		if i == 0 || v.n > max.n {
			max = v
		}
	}
	return max, nil
}

func parseVersion(app, name string) (version, error) {
	prefix, _, _ := strings.Cut(name, "_")
	if prefix == "" {
		return version{}, &VersionError{App: app, Name: name, Err: fmt.Errorf("empty version prefix")}
	}
	for _, r := range prefix {
		if r < '0' || r > '9' {
			return version{}, &VersionError{App: app, Name: name, Err: fmt.Errorf("version prefix %q is not numeric", prefix)}
		}
	}
	n, err := strconv.ParseUint(prefix, 10, 64)
	if err != nil {
		return version{}, &VersionError{App: app, Name: name, Err: err}
	}
	return version{text: prefix, n: n}, nil
}

func checkWidth(app string, migs []manifest.Migration) error {
	width := -1
	for _, m := range migs {
		prefix, _, _ := strings.Cut(m.Name, "_")
		switch {
		case width == -1:
			width = len(prefix)
		case len(prefix) != width:
			return &VersionError{
				App:  app,
				Name: m.Name,
				Err:  fmt.Errorf("version prefix %q is not %d digits wide", prefix, width),
			}
		}
	}
	return nil
}
