// Package connection defines the minimal send/expect Connection contract
// described in spec §6 ("external collaborator"), and supplies one concrete
// implementation — a subprocess-backed connection generalized from the
// teacher's runLocalCommandExec (exec.go): a long-lived interactive child
// process with a per-Expect timeout and process-group teardown on Unix.
// There is no idle-output timeout on a connection; that watchdog lives in
// internal/pipeline's RunCommandIdle.
//
// The engine itself only depends on the Connection interface; ShellConnection
// is plumbing for the example strategies under internal/actions, not part of
// the specified core.
package connection

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Connection is the external contract spec §6 requires: a mutable prompt
// pattern/list, a timeout, a connected flag, and blocking send/expect
// primitives. The engine treats it as an opaque handle threaded from action
// to action.
type Connection interface {
	PromptStr() []string
	SetPromptStr(patterns []string)
	Timeout() time.Duration
	SetTimeout(d time.Duration)
	Connected() bool
	Wait() error
	Sendline(s string, delay time.Duration) error
	Sendcontrol(c byte) error
	Expect(ctx context.Context, patterns []string, timeout time.Duration) (int, error)
	// TestConnection yields a scoped raw handle (here, the underlying
	// io.ReadWriter) for strategies that need direct access, e.g. to pipe a
	// file over the link. The handle must not outlive the call that
	// requested it.
	TestConnection() (io.ReadWriter, error)
	Close() error
}

// ShellConnection drives an interactive child process (a serial console
// emulator, ssh session, or similar) line-oriented subprocess as a
// Connection. Output is scanned for prompt patterns; CharacterDelay paces
// each line send the way lava_dispatcher's character_delay (action.py,
// SPEC_FULL §12.3) paces output to flaky serial links.
type ShellConnection struct {
	mu             sync.Mutex
	cmd            *exec.Cmd
	stdin          io.WriteCloser
	out            *bufio.Reader
	outBuf         strings.Builder
	prompts        []string
	timeout        time.Duration
	connected      bool
	CharacterDelay time.Duration
}

// Dial starts shellCmd (run under /bin/sh -lc) and returns a connected
// ShellConnection. The child is placed in its own process group so Close can
// kill the whole group, not just the immediate child.
func Dial(ctx context.Context, shellCmd string) (*ShellConnection, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-lc", shellCmd)
	SetProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("connection: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("connection: stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("connection: start: %w", err)
	}

	return &ShellConnection{
		cmd:       cmd,
		stdin:     stdin,
		out:       bufio.NewReader(stdout),
		timeout:   30 * time.Second,
		connected: true,
	}, nil
}

func (s *ShellConnection) PromptStr() []string { s.mu.Lock(); defer s.mu.Unlock(); return s.prompts }

func (s *ShellConnection) SetPromptStr(patterns []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = patterns
}

func (s *ShellConnection) Timeout() time.Duration { s.mu.Lock(); defer s.mu.Unlock(); return s.timeout }

func (s *ShellConnection) SetTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = d
}

func (s *ShellConnection) Connected() bool { s.mu.Lock(); defer s.mu.Unlock(); return s.connected }

// Wait blocks until the child process exits.
func (s *ShellConnection) Wait() error {
	err := s.cmd.Wait()
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return err
}

// Sendline writes line followed by a newline. Each byte is paced by delay,
// or by CharacterDelay when delay is zero or negative; when neither is set
// the line is written in one call.
func (s *ShellConnection) Sendline(line string, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return fmt.Errorf("connection: send on closed connection")
	}
	if delay <= 0 {
		delay = s.CharacterDelay
	}
	payload := line + "\n"
	if delay <= 0 {
		_, err := io.WriteString(s.stdin, payload)
		return err
	}
	for _, b := range []byte(payload) {
		if _, err := s.stdin.Write([]byte{b}); err != nil {
			return err
		}
		time.Sleep(delay)
	}
	return nil
}

// Sendcontrol writes a control character, e.g. 0x03 for Ctrl-C.
func (s *ShellConnection) Sendcontrol(c byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return fmt.Errorf("connection: sendcontrol on closed connection")
	}
	_, err := s.stdin.Write([]byte{c})
	return err
}

// Expect reads from the connection until one of patterns matches the
// accumulated output, ctx is done, or timeout elapses. It returns the index
// of the matching pattern.
func (s *ShellConnection) Expect(ctx context.Context, patterns []string, timeout time.Duration) (int, error) {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return -1, fmt.Errorf("connection: invalid expect pattern %q: %w", p, err)
		}
		compiled[i] = re
	}

	deadline := time.Now().Add(timeout)
	type readResult struct {
		b   byte
		err error
	}
	ch := make(chan readResult, 1)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return -1, fmt.Errorf("connection: expect timed out after %s", timeout)
		}
		go func() {
			b, err := s.out.ReadByte()
			ch <- readResult{b, err}
		}()
		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-time.After(remaining):
			return -1, fmt.Errorf("connection: expect timed out after %s", timeout)
		case r := <-ch:
			if r.err != nil {
				return -1, fmt.Errorf("connection: expect read: %w", r.err)
			}
			s.mu.Lock()
			s.outBuf.WriteByte(r.b)
			buffered := s.outBuf.String()
			s.mu.Unlock()
			for i, re := range compiled {
				if re.MatchString(buffered) {
					return i, nil
				}
			}
		}
	}
}

// TestConnection returns the underlying stdin/stdout pair wrapped as an
// io.ReadWriter for direct use by a strategy.
func (s *ShellConnection) TestConnection() (io.ReadWriter, error) {
	return &rawHandle{w: s.stdin, r: s.out}, nil
}

type rawHandle struct {
	w io.Writer
	r io.Reader
}

func (h *rawHandle) Write(p []byte) (int, error) { return h.w.Write(p) }
func (h *rawHandle) Read(p []byte) (int, error)  { return h.r.Read(p) }

// Close terminates the child's process group and releases resources.
func (s *ShellConnection) Close() error {
	s.mu.Lock()
	wasConnected := s.connected
	s.connected = false
	s.mu.Unlock()
	if !wasConnected || s.cmd.Process == nil {
		return nil
	}
	KillProcessGroup(s.cmd)
	return nil
}
