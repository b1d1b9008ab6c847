package remote

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestStderrCaptureKeepsTail(t *testing.T) {
	c := qt.New(t)
	b := newRingBuffer(8)
	n, err := b.Write([]byte("hello world\n"))
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 12)

	b.Write([]byte("more\n"))
	c.Assert(string(b.Bytes()), qt.Equals, "more\n")
}

func TestStderrCaptureDropsPartialLine(t *testing.T) {
	c := qt.New(t)
	b := newRingBuffer(10)
	b.Write([]byte("pip: error\npip: error\n"))
	c.Assert(string(b.Bytes()), qt.Equals, "")

	b = newRingBuffer(64)
	b.Write([]byte("partial"))
	b.Write([]byte(" line\nnext"))
	c.Assert(string(b.Bytes()), qt.Equals, "partial line\nnext")
}

func TestLastNLines(t *testing.T) {
	tests := []struct {
		name  string
		input string
		n     int
		want  string
	}{
		{"empty", "", 3, ""},
		{"none wanted", "a\nb\n", 0, ""},
		{"single", "fatal\n", 1, "fatal\n"},
		{"tail", "Collecting x\nDownloading\nerror: no such file\nexit\n", 2, "error: no such file\nexit\n"},
		{"unterminated", "hello\nworld", 1, "world"},
		{"short", "hello\nworld\n", 5, "hello\nworld\n"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			qt.Assert(t, string(lastNLines([]byte(test.input), test.n)), qt.Equals, test.want)
		})
	}
}

func TestTranscriptRecord(t *testing.T) {
	var out bytes.Buffer
	tr := &transcript{w: &out}
	tr.record("web1", "git fetch -q origin", 128, []byte("ok\n"), []byte("fatal: no remote"))
	qt.Assert(t, out.String(), qt.Equals, `[web1] $ git fetch -q origin
[web1] ok
[web1] fatal: no remote
[web1] exit status 128
`)

	var nilTranscript *transcript
	nilTranscript.record("web1", "true", 0, nil, nil)
}

func TestCompleteFailureTail(t *testing.T) {
	c := qt.New(t)
	stderr := newRingBuffer(captureSize)
	var lines []string
	for i := 0; i < ErrorTailLines+5; i++ {
		lines = append(lines, "line")
	}
	lines = append(lines, "last")
	stderr.Write([]byte(strings.Join(lines, "\n") + "\n"))

	_, err := complete(nil, "web1", Cmd("false"), "false", RunConfig{}, 1, nil, stderr)
	var ce *CommandError
	c.Assert(errors.As(err, &ce), qt.IsTrue)
	got := strings.Split(ce.Output, "\n")
	c.Assert(got, qt.HasLen, ErrorTailLines)
	c.Assert(got[len(got)-1], qt.Equals, "last")
}

func TestCompleteFallsBackToStdout(t *testing.T) {
	_, err := complete(nil, "web1", Cmd("manage.py", "check"), "manage.py check", RunConfig{}, 2,
		[]byte("System check identified 1 issue\n"), newRingBuffer(16))
	qt.Assert(t, err, qt.ErrorMatches, `(?s).*System check identified 1 issue`)
}

func TestCompleteWarnOnly(t *testing.T) {
	res, err := complete(nil, "web1", Cmd("false"), "false", RunConfig{WarnOnly: true}, 1, nil, newRingBuffer(16))
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, res.ExitStatus, qt.Equals, 1)
}
