package release

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// LockDir is the directory, relative to the application root, whose
// existence marks the environment as locked. mkdir is atomic, so whoever
// creates it holds the lock.
const LockDir = ".deploy.lock"

// LockOwnerFile is written inside LockDir to describe the holder.
const LockOwnerFile = "owner"

// LockOwner identifies who holds a lock.
type LockOwner struct {
	// Token is unique to one acquisition of the lock.
	Token     string    `yaml:"token"`
	Operator  string    `yaml:"operator"`
	Operation string    `yaml:"operation"`
	Acquired  time.Time `yaml:"acquired"`
}

// NewLockOwner returns a LockOwner with a fresh token.
func NewLockOwner(operator, operation string, now time.Time) LockOwner {
	return LockOwner{
		Token:     uuid.NewString(),
		Operator:  operator,
		Operation: operation,
		Acquired:  now.UTC().Truncate(time.Second),
	}
}

// Encode renders o as the contents of LockOwnerFile.
func (o LockOwner) Encode() ([]byte, error) {
	return yaml.Marshal(o)
}

func (o LockOwner) String() string {
	return fmt.Sprintf("%s (%s since %s)", o.Operator, o.Operation, o.Acquired.Format(time.RFC3339))
}

// ParseLockOwner parses the contents of LockOwnerFile. A file that cannot
// be parsed yields the zero LockOwner; unknown fields are ignored.
func ParseLockOwner(data []byte) LockOwner {
	var o LockOwner
	if err := yaml.Unmarshal(data, &o); err != nil {
		return LockOwner{}
	}
	return o
}
