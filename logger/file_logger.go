package logger

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

var errClosed = errors.New("transcript file is closed")

// fileLogger appends to a transcript file. When the file reaches maxSize
// it becomes name.1, name.1 becomes name.2 and so on, up to backups.
type fileLogger struct {
	mu      sync.Mutex
	fs      afero.Fs
	path    string
	maxSize int64
	backups int
	size    int64
	f       afero.File
}

// NewFileLogger returns a Logger appending to the file at path, creating
// its directory when needed.
func NewFileLogger(path string, maxSize int64, backups int) (Logger, error) {
	return newFileLogger(afero.NewOsFs(), path, maxSize, backups)
}

func newFileLogger(fs afero.Fs, path string, maxSize int64, backups int) (*fileLogger, error) {
	l := &fileLogger{fs: fs, path: path, maxSize: maxSize, backups: backups}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := l.open(os.O_APPEND); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *fileLogger) open(mode int) error {
	f, err := l.fs.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|mode, 0o644)
	if err != nil {
		return err
	}
	l.size = 0
	if mode == os.O_APPEND {
		if fi, err := f.Stat(); err == nil {
			l.size = fi.Size()
		}
	}
	l.f = f
	return nil
}

func (l *fileLogger) backup(n int) string {
	if n == 0 {
		return l.path
	}
	return l.path + "." + strconv.Itoa(n)
}

func (l *fileLogger) rotate() {
	l.close()
	for i := l.backups - 1; i >= 0; i-- {
		from, to := l.backup(i), l.backup(i+1)
		if ok, _ := afero.Exists(l.fs, from); !ok {
			continue
		}
		if err := l.fs.Rename(from, to); err != nil {
			zap.L().Error("Cannot rotate transcript", zap.Error(err), zap.String("from", from), zap.String("to", to))
		}
	}
	if err := l.open(os.O_TRUNC); err != nil {
		zap.L().Error("Cannot open fresh transcript file", zap.Error(err), zap.String("path", l.path))
	}
}

func (l *fileLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return 0, errClosed
	}
	n, err := l.f.Write(p)
	l.size += int64(n)
	if l.size >= l.maxSize {
		l.rotate()
	}
	return n, err
}

func (l *fileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.close()
}

func (l *fileLogger) close() error {
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
