package rollback

import (
	"errors"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/stuartcarnie/djdeploy/manifest"
)

// build returns a manifest whose sections hold the named migrations, in
// the given order.
func build(sections ...interface{}) *manifest.Manifest {
	var migs []manifest.Migration
	for i := 0; i < len(sections); i += 2 {
		app := sections[i].(string)
		for _, name := range sections[i+1].([]string) {
			migs = append(migs, manifest.Migration{App: app, Name: name, Installed: true})
		}
	}
	return manifest.New(manifest.Release{App: "shop"}, migs)
}

var planTests = []struct {
	testName string
	current  *manifest.Manifest
	prior    *manifest.Manifest
	want     []Step
	wantErr  string
}{{
	testName: "OlderSubApplication",
	current: build(
		"appA", []string{"0001_initial", "0002_more", "0003_most"},
		"appB", []string{"0001_initial"},
	),
	prior: build(
		"appA", []string{"0001_initial", "0002_more"},
		"appB", []string{"0001_initial"},
	),
	want: []Step{{App: "appA", Version: "0002"}},
}, {
	testName: "NewSubApplication",
	current: build(
		"appA", []string{"0001_initial"},
		"appC", []string{"0001_initial"},
	),
	prior: build(
		"appA", []string{"0001_initial"},
	),
	want: []Step{{App: "appC", Version: "0000"}},
}, {
	testName: "Identical",
	current:  build("appA", []string{"0001_initial"}),
	prior:    build("appA", []string{"0001_initial"}),
}, {
	testName: "RemovedSubApplicationIgnored",
	current:  build("appA", []string{"0001_initial"}),
	prior:    build("appA", []string{"0001_initial"}, "gone", []string{"0001_initial"}),
}, {
	testName: "PriorNewerIsIgnored",
	current:  build("appA", []string{"0001_initial"}),
	prior:    build("appA", []string{"0001_initial", "0002_more"}),
}, {
	testName: "OrderFollowsCurrent",
	current: build(
		"zeta", []string{"0001_a", "0002_b"},
		"alpha", []string{"0001_a", "0003_c"},
	),
	prior: build(
		"alpha", []string{"0001_a"},
		"zeta", []string{"0001_a"},
	),
	want: []Step{{App: "zeta", Version: "0001"}, {App: "alpha", Version: "0001"}},
}, {
	testName: "NumericNotLexical",
	current:  build("appA", []string{"0009_a", "0010_b"}),
	prior:    build("appA", []string{"0009_a"}),
	want:     []Step{{App: "appA", Version: "0009"}},
}, {
	testName: "NonNumericPrefix",
	current:  build("appA", []string{"0001_initial", "auto_20240101"}),
	prior:    build("appA", []string{"0001_initial"}),
	wantErr:  `cannot order migration "auto_20240101" of "appA": version prefix "auto" is not numeric`,
}, {
	testName: "MixedWidth",
	current:  build("appA", []string{"001_initial", "0002_more"}),
	prior:    build("appA", []string{"001_initial"}),
	wantErr:  `cannot order migration "0002_more" of "appA": version prefix "0002" is not 3 digits wide`,
}, {
	testName: "MixedWidthAcrossManifests",
	current:  build("appA", []string{"0001_initial", "0002_more"}),
	prior:    build("appA", []string{"01_initial"}),
	wantErr:  `cannot order migration "01_initial" of "appA": version prefix "01" is not 4 digits wide`,
}}

func TestPlan(t *testing.T) {
	for _, test := range planTests {
		t.Run(test.testName, func(t *testing.T) {
			got, err := Plan(test.current, test.prior)
			if test.wantErr != "" {
				qt.Assert(t, err, qt.ErrorMatches, test.wantErr)
				var ve *VersionError
				qt.Assert(t, errors.As(err, &ve), qt.IsTrue)
				return
			}
			qt.Assert(t, err, qt.IsNil)
			qt.Assert(t, got, qt.DeepEquals, test.want)
		})
	}
}
