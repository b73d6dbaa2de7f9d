package ssh

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
)

// ClientConfig holds the settings for one outbound SSH connection
type ClientConfig struct {
	Host            string
	Port            int
	Username        string
	KeyPath         string
	Password        string
	Timeout         time.Duration
	KnownHostsPath  string
	TrustOnFirstUse bool
}

// Address returns host:port, defaulting the port to 22
func (c ClientConfig) Address() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// AuthMethods builds the auth chain: key first when configured, then password
func (c ClientConfig) AuthMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if c.KeyPath != "" {
		signer, err := LoadSigner(c.KeyPath, c.Password)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if c.Password != "" {
		methods = append(methods, ssh.Password(c.Password))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no authentication method configured for %s", c.Host)
	}
	return methods, nil
}

// Dial opens an SSH connection, honouring ctx for the TCP connect and handshake
func Dial(ctx context.Context, cfg ClientConfig) (*ssh.Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	auth, err := cfg.AuthMethods()
	if err != nil {
		return nil, err
	}

	verifier, err := NewHostKeyVerifier(cfg.KnownHostsPath, cfg.TrustOnFirstUse)
	if err != nil {
		return nil, fmt.Errorf("failed to configure host key verification: %w", err)
	}

	sshConfig := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            auth,
		HostKeyCallback: verifier.Callback(),
		Timeout:         cfg.Timeout,
	}

	addr := cfg.Address()
	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	// The handshake has no context of its own; bound it with a deadline.
	deadline := time.Now().Add(cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}
	conn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}
