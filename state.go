package djdeploy

//go:generate go run golang.org/x/tools/cmd/stringer@v0.1.8 -type State

// State is the lifecycle state of a host during a pipeline.
type State int

const (
	Unprovisioned State = iota
	Provisioned
	CodeFetched
	Linked
	DependenciesInstalled
	Migrated
	ManifestWritten
	Running
	// MigratedBack is reached by a rollback after the schema has been
	// returned to the target release's migrations.
	MigratedBack
)
