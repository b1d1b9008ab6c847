// Package remote runs shell commands on deployment hosts.
package remote

import (
	"strings"

	"github.com/alessio/shellescape"
)

// Command is a shell command line built from quoted arguments and
// explicit operators. The zero Command is empty.
//
// Values taken from configuration are always passed as arguments so that
// they cannot change the structure of the command.
type Command struct {
	tokens []string
	// compound is set once the command holds operators or redirections.
	compound bool
}

// Cmd returns a command running name with args. Every word is quoted.
func Cmd(name string, args ...string) Command {
	return Command{}.Arg(name).Arg(args...)
}

// Raw returns a command made of trusted shell text, used as is. It is
// meant for commands the operator wrote in the configuration file.
func Raw(text string) Command {
	return Command{tokens: []string{text}, compound: true}
}

// Arg returns c with args appended, each quoted.
func (c Command) Arg(args ...string) Command {
	out := c.clone(len(args))
	for _, a := range args {
		out.tokens = append(out.tokens, shellescape.Quote(a))
	}
	return out
}

// Glob returns c with an unquoted path pattern appended. The directory
// part is quoted; only the final element may contain wildcards.
func (c Command) Glob(dir, pattern string) Command {
	out := c.clone(1)
	out.tokens = append(out.tokens, shellescape.Quote(strings.TrimSuffix(dir, "/")+"/")+pattern)
	return out
}

// Pipe returns "c | next".
func (c Command) Pipe(next Command) Command {
	return c.join("|", next)
}

// And returns "c && next".
func (c Command) And(next Command) Command {
	return c.join("&&", next)
}

// Or returns "c || next".
func (c Command) Or(next Command) Command {
	return c.join("||", next)
}

// RedirectTo returns c with its standard output written to path.
func (c Command) RedirectTo(path string) Command {
	out := c.clone(2)
	out.tokens = append(out.tokens, ">", shellescape.Quote(path))
	out.compound = true
	return out
}

// AppendTo returns c with its standard output appended to path.
func (c Command) AppendTo(path string) Command {
	out := c.clone(2)
	out.tokens = append(out.tokens, ">>", shellescape.Quote(path))
	out.compound = true
	return out
}

// IsZero reports whether c is empty.
func (c Command) IsZero() bool {
	return len(c.tokens) == 0
}

func (c Command) String() string {
	return strings.Join(c.tokens, " ")
}

func (c Command) join(op string, next Command) Command {
	switch {
	case next.IsZero():
		return c
	case c.IsZero():
		return next
	}
	out := c.clone(len(next.tokens) + 1)
	out.tokens = append(out.tokens, op)
	out.tokens = append(out.tokens, next.tokens...)
	out.compound = true
	return out
}

func (c Command) clone(extra int) Command {
	tokens := make([]string, len(c.tokens), len(c.tokens)+extra)
	copy(tokens, c.tokens)
	return Command{tokens: tokens, compound: c.compound}
}

// Test returns a "test" command, for example Test("-d", path).
func Test(args ...string) Command {
	return Cmd("test", args...)
}

// AppendLine returns a command appending line to the file at path unless
// the file already contains it.
func AppendLine(path, line string) Command {
	return Cmd("grep", "-qxF", line, path).
		Or(Cmd("printf", "%s\\n", line).AppendTo(path))
}
