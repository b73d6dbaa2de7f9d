package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/yourusername/bedrock-server-manager/internal/logging"
)

// ErrHostKeyChanged is returned when a known host presents a different key
var ErrHostKeyChanged = errors.New("ssh host key changed")

// ErrUnknownHost is returned for an unrecorded host when trust-on-first-use
// is disabled
var ErrUnknownHost = errors.New("unknown ssh host key")

// HostKeyVerifier checks server keys against a known_hosts file and, with
// trust-on-first-use, records keys for hosts it has never seen.
type HostKeyVerifier struct {
	path            string
	trustOnFirstUse bool

	mu sync.Mutex
}

// NewHostKeyVerifier prepares a verifier, creating the known_hosts file if needed
func NewHostKeyVerifier(path string, trustOnFirstUse bool) (*HostKeyVerifier, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("known_hosts path is required")
	}
	if err := ensureKnownHostsFile(path); err != nil {
		return nil, err
	}
	return &HostKeyVerifier{path: path, trustOnFirstUse: trustOnFirstUse}, nil
}

// Callback returns an ssh.HostKeyCallback backed by the verifier
func (v *HostKeyVerifier) Callback() ssh.HostKeyCallback {
	return v.verify
}

func (v *HostKeyVerifier) verify(hostname string, remote net.Addr, key ssh.PublicKey) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	// Re-read on every check so keys accepted by an earlier dial are honoured.
	known, err := knownhosts.New(v.path)
	if err != nil {
		return fmt.Errorf("failed to read known_hosts: %w", err)
	}

	err = known(hostname, remote, key)
	if err == nil {
		return nil
	}

	var keyErr *knownhosts.KeyError
	if !errors.As(err, &keyErr) {
		return err
	}

	fingerprint := ssh.FingerprintSHA256(key)
	if len(keyErr.Want) > 0 {
		logging.L().Warn("ssh_host_key_changed", "host", hostname, "fingerprint", fingerprint)
		return fmt.Errorf("%w for %s", ErrHostKeyChanged, hostname)
	}

	if !v.trustOnFirstUse {
		return fmt.Errorf("%w for %s (%s)", ErrUnknownHost, hostname, fingerprint)
	}

	if err := appendKnownHost(v.path, hostname, remote, key); err != nil {
		return err
	}
	logging.L().Info("ssh_host_key_accepted", "host", hostname, "fingerprint", fingerprint)
	return nil
}

func ensureKnownHostsFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create known_hosts directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create known_hosts file: %w", err)
	}
	return file.Close()
}

func appendKnownHost(path, hostname string, remote net.Addr, key ssh.PublicKey) error {
	line := knownhosts.Line(knownHostsAddresses(hostname, remote), key) + "\n"

	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open known_hosts file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(line); err != nil {
		return fmt.Errorf("failed to write known_hosts entry: %w", err)
	}
	return nil
}

// knownHostsAddresses lists the dialled name and, when different, the remote
// IP, both normalised by knownhosts.Normalize.
func knownHostsAddresses(hostname string, remote net.Addr) []string {
	var addresses []string
	if hostname != "" {
		addresses = append(addresses, knownhosts.Normalize(hostname))
	}
	if remote != nil {
		ip := knownhosts.Normalize(remote.String())
		if len(addresses) == 0 || ip != addresses[0] {
			addresses = append(addresses, ip)
		}
	}
	return addresses
}
