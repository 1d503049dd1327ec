package sftp

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/Ning0612/sftparchive/internal/config"
	"github.com/Ning0612/sftparchive/internal/domain"
	"github.com/Ning0612/sftparchive/internal/logger"
)

// clientConfig builds the SSH client configuration for a source.
// The returned closer releases the ssh-agent connection, if one was opened.
func clientConfig(src domain.Source) (*ssh.ClientConfig, func(), error) {
	closer := func() {}

	var methods []ssh.AuthMethod

	if src.KeyPath != "" {
		signer, err := loadSigner(config.ExpandPath(src.KeyPath), src.KeyPassphrase)
		if err != nil {
			return nil, closer, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if src.Password != "" {
		password := src.Password
		methods = append(methods,
			ssh.Password(password),
			// Some servers only offer keyboard-interactive for passwords
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		conn, err := net.Dial("unix", sock)
		if err == nil {
			agentClient := agent.NewClient(conn)
			methods = append(methods, ssh.PublicKeysCallback(agentClient.Signers))
			closer = func() { conn.Close() }
		} else {
			logger.Get().Debug("ssh agent unavailable", "socket", sock, "error", err)
		}
	}

	if len(methods) == 0 {
		return nil, closer, fmt.Errorf("%w: no password, private key or ssh agent available for %s",
			domain.ErrAuthFailed, src.User)
	}

	hostKeyCallback, err := hostKeyCallback(src)
	if err != nil {
		closer()
		return nil, func() {}, err
	}

	return &ssh.ClientConfig{
		User:            src.User,
		Auth:            methods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         time.Duration(src.Timeout) * time.Second,
	}, closer, nil
}

// loadSigner parses a private key file, decrypting it with passphrase when needed
func loadSigner(path, passphrase string) (ssh.Signer, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key %s: %w", path, err)
	}

	return parseSigner(pemBytes, passphrase)
}

func parseSigner(pemBytes []byte, passphrase string) (ssh.Signer, error) {
	if passphrase != "" {
		signer, err := ssh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("%w: failed to decrypt private key: %v", domain.ErrAuthFailed, err)
		}
		return signer, nil
	}

	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("%w: private key is encrypted, set key_passphrase", domain.ErrAuthFailed)
		}
		return nil, fmt.Errorf("%w: failed to parse private key: %v", domain.ErrAuthFailed, err)
	}
	return signer, nil
}

// hostKeyCallback picks host key verification for a source:
// an explicit known_hosts file, else ~/.ssh/known_hosts when present,
// else any key is accepted with a warning.
func hostKeyCallback(src domain.Source) (ssh.HostKeyCallback, error) {
	if src.InsecureIgnoreHostKey {
		logger.Get().Warn("host key verification disabled", "host", src.Host)
		return ssh.InsecureIgnoreHostKey(), nil
	}

	if src.KnownHosts != "" {
		cb, err := knownhosts.New(config.ExpandPath(src.KnownHosts))
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts %s: %w", src.KnownHosts, err)
		}
		return cb, nil
	}

	if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, ".ssh", "known_hosts")
		if _, err := os.Stat(path); err == nil {
			cb, err := knownhosts.New(path)
			if err != nil {
				return nil, fmt.Errorf("failed to load known_hosts %s: %w", path, err)
			}
			return cb, nil
		}
	}

	logger.Get().Warn("no known_hosts file found, accepting any host key", "host", src.Host)
	return ssh.InsecureIgnoreHostKey(), nil
}
