package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alessio/shellescape"
	"github.com/creasty/defaults"
	"github.com/rogpeppe/retry"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHOptions configures the SSH executor. Zero fields take the values in
// their default tags.
type SSHOptions struct {
	User       string
	Port       int    `default:"22"`
	KeyFile    string `default:"~/.ssh/id_rsa"`
	KnownHosts string `default:"~/.ssh/known_hosts"`
	// NoAgent skips the agent named by $SSH_AUTH_SOCK.
	NoAgent bool
	// InsecureIgnoreHostKey disables host key checking.
	InsecureIgnoreHostKey bool
	DialTimeout           time.Duration `default:"10s"`
	// DialAttempts bounds connection attempts per host. Commands
	// themselves are never retried.
	DialAttempts int `default:"4"`
}

// SSH runs commands over SSH, keeping one connection per user and host.
type SSH struct {
	opts       SSHOptions
	auth       []ssh.AuthMethod
	hostKey    ssh.HostKeyCallback
	transcript *transcript

	mu    sync.Mutex
	conns map[string]*ssh.Client
}

// NewSSH returns an SSH executor writing a transcript of every command
// to w, which may be nil.
func NewSSH(opts SSHOptions, w io.Writer) (*SSH, error) {
	if err := defaults.Set(&opts); err != nil {
		return nil, err
	}
	s := &SSH{
		opts:       opts,
		transcript: &transcript{w: w},
		conns:      make(map[string]*ssh.Client),
	}
	if !opts.NoAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			if conn, err := net.Dial("unix", sock); err == nil {
				s.auth = append(s.auth, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			} else {
				zap.L().Debug("SSH agent unavailable", zap.Error(err))
			}
		}
	}
	if key, err := os.ReadFile(expandHome(opts.KeyFile)); err == nil {
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("cannot parse key %s: %w", opts.KeyFile, err)
		}
		s.auth = append(s.auth, ssh.PublicKeys(signer))
	}
	if len(s.auth) == 0 {
		return nil, errors.New("no SSH credentials: start an agent or set a key file")
	}
	if opts.InsecureIgnoreHostKey {
		s.hostKey = ssh.InsecureIgnoreHostKey()
	} else {
		cb, err := knownhosts.New(expandHome(opts.KnownHosts))
		if err != nil {
			return nil, fmt.Errorf("cannot read known hosts: %w", err)
		}
		s.hostKey = cb
	}
	return s, nil
}

func expandHome(p string) string {
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return p
}

func (s *SSH) client(ctx context.Context, host, user string) (*ssh.Client, error) {
	if user == "" {
		user = s.opts.User
	}
	key := user + "@" + host
	s.mu.Lock()
	c, ok := s.conns[key]
	s.mu.Unlock()
	if ok {
		return c, nil
	}

	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            s.auth,
		HostKeyCallback: s.hostKey,
		Timeout:         s.opts.DialTimeout,
	}
	addr := net.JoinHostPort(host, strconv.Itoa(s.opts.Port))
	strategy := retry.Strategy{
		Delay:    500 * time.Millisecond,
		MaxDelay: 5 * time.Second,
		Factor:   2,
		MaxCount: s.opts.DialAttempts,
	}
	var err error
	for i := strategy.Start(); i.Next(ctx.Done()); {
		c, err = ssh.Dial("tcp", addr, cfg)
		if err == nil {
			break
		}
		zap.L().Debug("SSH dial failed", zap.String("host", host), zap.Error(err))
	}
	if c == nil {
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("cannot connect to %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.conns[key]; ok {
		c.Close()
		return prev, nil
	}
	s.conns[key] = c
	return c, nil
}

func (s *SSH) Run(ctx context.Context, host string, cmd Command, opts ...RunOption) (Result, error) {
	o := NewRunConfig(opts...)
	script := o.Script(cmd)
	status, stdout, stderr, err := s.exec(ctx, host, o.LoginAs, script, nil)
	if err != nil {
		return Result{Host: host, ExitStatus: -1}, err
	}
	return complete(s.transcript, host, cmd, script, o, status, stdout, stderr)
}

func (s *SSH) Upload(ctx context.Context, host string, r io.Reader, dst string, mode os.FileMode) error {
	tmp := path.Join(path.Dir(dst), "."+path.Base(dst)+".upload")
	cmd := Cmd("cat").RedirectTo(tmp).
		And(Cmd("chmod", strconv.FormatUint(uint64(mode.Perm()), 8), tmp)).
		And(Cmd("mv", "-f", tmp, dst))
	status, stdout, stderr, err := s.exec(ctx, host, "", cmd.String(), r)
	if err != nil {
		return err
	}
	_, err = complete(s.transcript, host, Cmd("upload", dst), "upload "+shellescape.Quote(dst), RunConfig{}, status, stdout, stderr)
	return err
}

func (s *SSH) exec(ctx context.Context, host, user, script string, stdin io.Reader) (int, []byte, *ringBuffer, error) {
	c, err := s.client(ctx, host, user)
	if err != nil {
		return 0, nil, nil, err
	}
	sess, err := c.NewSession()
	if err != nil {
		return 0, nil, nil, err
	}
	defer sess.Close()

	var stdout bytes.Buffer
	stderr := newRingBuffer(captureSize)
	sess.Stdout = &stdout
	sess.Stderr = stderr
	sess.Stdin = stdin

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			sess.Signal(ssh.SIGTERM)
			sess.Close()
		case <-done:
		}
	}()

	err = sess.Run(script)
	if ctx.Err() != nil {
		return 0, nil, nil, ctx.Err()
	}
	var exitErr *ssh.ExitError
	switch {
	case err == nil:
		return 0, stdout.Bytes(), stderr, nil
	case errors.As(err, &exitErr):
		return exitErr.ExitStatus(), stdout.Bytes(), stderr, nil
	}
	return 0, nil, nil, err
}

// Close closes all connections.
func (s *SSH) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	for key, c := range s.conns {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
		delete(s.conns, key)
	}
	return err
}
