package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// =============================================================================
// SSH Execution
// =============================================================================

// SSHConfig configures the SSH runner.
type SSHConfig struct {
	Host string
	Port int    // Default: 22
	User string // Default: root

	ConnectTimeout time.Duration // Default: 10 seconds
}

// SSHRunner executes step commands on a remote host over SSH, so the same
// plan can bootstrap a machine the operator does not have a shell on.
// The connection is established lazily and reused across steps.
type SSHRunner struct {
	config SSHConfig
	signer ssh.Signer

	mu     sync.Mutex // Protects client
	client *ssh.Client
}

// NewSSHRunner creates an SSH runner from a PEM-encoded private key.
func NewSSHRunner(config SSHConfig, privateKey []byte) (*SSHRunner, error) {
	signer, err := ssh.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("parse SSH private key: %w", err)
	}

	if config.Port == 0 {
		config.Port = 22
	}
	if config.User == "" {
		config.User = "root"
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 10 * time.Second
	}

	return &SSHRunner{
		config: config,
		signer: signer,
	}, nil
}

// connect establishes the SSH connection if not already connected.
func (r *SSHRunner) connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		// Check if connection is still alive
		_, _, err := r.client.SendRequest("keepalive@rampup", true, nil)
		if err == nil {
			return nil
		}
		r.client.Close()
		r.client = nil
	}

	config := &ssh.ClientConfig{
		User:            r.config.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(r.signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: verify against a known_hosts file
		Timeout:         r.config.ConnectTimeout,
	}

	addr := net.JoinHostPort(r.config.Host, strconv.Itoa(r.config.Port))
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return fmt.Errorf("SSH dial %s: %w", addr, err)
	}

	r.client = client
	return nil
}

// Close closes the SSH connection.
func (r *SSHRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		err := r.client.Close()
		r.client = nil
		return err
	}
	return nil
}

// Run executes the command on the remote host in a fresh session, capturing
// stdout and stderr. The context deadline bounds the whole invocation; on
// expiry the session is torn down and the step reports a timeout.
func (r *SSHRunner) Run(ctx context.Context, spec CommandSpec) (*Result, error) {
	if err := r.connect(); err != nil {
		return &Result{ExitCode: exitCodeNotFound}, errors.Join(ErrNotStarted, err)
	}

	r.mu.Lock()
	client := r.client
	r.mu.Unlock()

	session, err := client.NewSession()
	if err != nil {
		return &Result{ExitCode: exitCodeNotFound}, errors.Join(ErrNotStarted, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- session.Run(buildRemoteCommand(spec))
	}()

	select {
	case <-ctx.Done():
		session.Close()
		<-done
		result := &Result{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			ExitCode: -1,
			Duration: time.Since(start),
		}
		if ctx.Err() == context.DeadlineExceeded {
			return result, ErrTimeout
		}
		return result, ctx.Err()

	case err = <-done:
	}

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		return result, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitStatus()
		return result, err
	}

	result.ExitCode = 1
	return result, err
}

// buildRemoteCommand renders a CommandSpec as a single shell command line.
// Env entries are passed via env(1) rather than session.Setenv because most
// sshd configs only whitelist LC_* for Setenv.
func buildRemoteCommand(spec CommandSpec) string {
	var sb strings.Builder

	if spec.Dir != "" {
		sb.WriteString("cd ")
		sb.WriteString(shellQuote(spec.Dir))
		sb.WriteString(" && ")
	}

	if len(spec.Env) > 0 {
		sb.WriteString("env")
		for _, kv := range spec.Env {
			sb.WriteString(" ")
			sb.WriteString(shellQuote(kv))
		}
		sb.WriteString(" ")
	}

	sb.WriteString(shellQuote(spec.Name))
	for _, arg := range spec.Args {
		sb.WriteString(" ")
		sb.WriteString(shellQuote(arg))
	}

	return sb.String()
}

// shellQuote single-quotes a string for POSIX shells.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'`$\\&|;<>()*?[]#~%") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
