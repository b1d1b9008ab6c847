package config

import "os"

// Directory is one entry of the directory layout created under the
// application root during provisioning.
type Directory struct {
	// Path is relative to the application root.
	Path string
	// Mode is applied with chmod when non-zero.
	Mode os.FileMode
	// Owner is applied with chown when non-empty. It is resolved against
	// the configuration, so it may contain placeholders.
	Owner string
}

// layout is the fixed directory layout. Owners are templates.
var layout = []Directory{
	{Path: "releases"},
	{Path: ".pip_cache"},
	{Path: "bin"},
	{Path: "shared/secrets", Mode: 0o700},
	{Path: "shared/init"},
	{Path: "shared/log", Mode: 0o770, Owner: "{user}:{web_group}"},
	{Path: "shared/run"},
	{Path: "shared/config"},
}

func resolveLayout(v Values) ([]Directory, error) {
	dirs := make([]Directory, len(layout))
	for i, d := range layout {
		if d.Owner != "" {
			owner, err := v.Expand(d.Owner)
			if err != nil {
				return nil, err
			}
			d.Owner = owner
		}
		dirs[i] = d
	}
	return dirs, nil
}
