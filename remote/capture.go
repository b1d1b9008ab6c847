package remote

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// captureSize bounds the stderr kept per command.
const captureSize = 16 << 10

// ringBuffer keeps the last size bytes written to it.
type ringBuffer struct {
	mu   sync.Mutex
	data []byte
	size int
	w    int
	full bool
}

func newRingBuffer(size int) *ringBuffer {
	return &ringBuffer{
		data: make([]byte, size),
		size: size,
	}
}

func (l *ringBuffer) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	// Only the bytes that would survive wrapping need copying.
	tn := len(b)
	if tn > l.size {
		b = b[tn-l.size:]
	}
	n := copy(l.data[l.w:], b)
	if n < len(b) {
		copy(l.data, b[n:])
	}
	if l.w+len(b) >= l.size {
		l.full = true
	}
	l.w = (l.w + len(b)) % l.size
	return tn, nil
}

// Bytes returns the buffered data. Once the buffer has wrapped, the
// partial line at the start is dropped.
func (l *ringBuffer) Bytes() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.full {
		return append([]byte(nil), l.data[:l.w]...)
	}
	out := make([]byte, l.size)
	copy(out, l.data[l.w:])
	copy(out[l.size-l.w:], l.data[:l.w])
	if idx := bytes.IndexByte(out, '\n'); idx > -1 {
		return out[idx+1:]
	}
	return out
}

// lastNLines walks backwards through a buffer to identify the location of the
// newline preceding the Nth line of the content.
func lastNLines(b []byte, n int) []byte {
	if len(b) == 0 || n <= 0 {
		return nil
	}
	// The last line counts even without a trailing newline.
	i := len(b)
	if b[len(b)-1] == '\n' {
		i--
	}
	for nfound := 0; nfound < n; {
		nl := bytes.LastIndexByte(b[:i], '\n')
		if nl == -1 {
			return b
		}
		nfound++
		i = nl
	}
	return b[i+1:]
}

// transcript serializes whole command records onto a shared writer so
// that concurrent hosts do not interleave.
type transcript struct {
	mu sync.Mutex
	w  io.Writer
}

func (t *transcript) record(host, script string, status int, stdout, stderr []byte) {
	if t == nil || t.w == nil {
		return
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "[%s] $ %s\n", host, script)
	for _, out := range [][]byte{stdout, stderr} {
		for _, line := range strings.SplitAfter(string(out), "\n") {
			if line == "" {
				continue
			}
			fmt.Fprintf(&b, "[%s] %s", host, line)
			if !strings.HasSuffix(line, "\n") {
				b.WriteByte('\n')
			}
		}
	}
	if status != 0 {
		fmt.Fprintf(&b, "[%s] exit status %d\n", host, status)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.w.Write(b.Bytes())
}

// complete turns the outcome of a command into a Result, applying the
// WarnOnly policy.
func complete(t *transcript, host string, cmd Command, script string, o RunConfig, status int, stdout []byte, stderr *ringBuffer) (Result, error) {
	errOut := stderr.Bytes()
	if !o.Quiet {
		t.record(host, script, status, stdout, errOut)
	}
	res := Result{Host: host, ExitStatus: status, Stdout: string(stdout)}
	if status == 0 {
		return res, nil
	}
	tail := errOut
	if len(bytes.TrimSpace(tail)) == 0 {
		tail = stdout
	}
	if o.WarnOnly {
		if !o.Quiet {
			zap.L().Warn("Command failed, continuing",
				zap.String("host", host),
				zap.Stringer("command", cmd),
				zap.Int("status", status))
		}
		return res, nil
	}
	return res, &CommandError{
		Host:       host,
		Command:    cmd.String(),
		ExitStatus: status,
		Output:     strings.TrimRight(string(lastNLines(tail, ErrorTailLines)), "\n"),
	}
}
