// Package sftp implements the remote session over SSH File Transfer Protocol.
package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/Ning0612/sftparchive/internal/adapter"
	"github.com/Ning0612/sftparchive/internal/domain"
	"github.com/Ning0612/sftparchive/internal/logger"
)

// Adapter is a connected SFTP session.
// Every List, Stat and Read call is bounded by the configured timeout through
// deadlines on the underlying TCP connection.
type Adapter struct {
	client  *sftp.Client
	ssh     *ssh.Client
	conn    net.Conn
	timeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

var _ adapter.Adapter = (*Adapter)(nil)

// Dial connects and authenticates to the source's SFTP server
func Dial(ctx context.Context, src domain.Source) (*Adapter, error) {
	cfg, closeAgent, err := clientConfig(src)
	if err != nil {
		return nil, err
	}
	defer closeAgent()

	port := src.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(src.Host, strconv.Itoa(port))
	timeout := time.Duration(src.Timeout) * time.Second

	logger.Get().Info("connecting to sftp server", "host", src.Host, "port", port, "user", src.User)

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, mapDialError(err)
	}

	if timeout > 0 {
		conn.SetDeadline(time.Now().Add(timeout))
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, mapDialError(err)
	}
	conn.SetDeadline(time.Time{})

	sshClient := ssh.NewClient(sshConn, chans, reqs)
	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("%w: failed to start sftp subsystem: %w", domain.ErrNetworkError, err)
	}

	logger.Get().Info("sftp connected", "host", src.Host)

	return &Adapter{
		client:  client,
		ssh:     sshClient,
		conn:    conn,
		timeout: timeout,
	}, nil
}

// NewFromClient wraps an already established SFTP client.
// Timeouts are not enforced because there is no connection to put deadlines on.
func NewFromClient(client *sftp.Client) *Adapter {
	return &Adapter{client: client}
}

// List returns the entries directly under a remote directory
func (a *Adapter) List(ctx context.Context, path string) ([]domain.FileInfo, error) {
	release := a.bound(ctx)
	defer release()

	infos, err := a.client.ReadDir(path)
	if err != nil {
		return nil, a.mapError(ctx, err)
	}

	result := make([]domain.FileInfo, 0, len(infos))
	for _, info := range infos {
		result = append(result, fileInfoFromSFTP(adapter.JoinPath(path, info.Name()), info))
	}

	return result, nil
}

// Read opens a remote file for streaming
func (a *Adapter) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	release := a.bound(ctx)

	info, err := a.client.Stat(path)
	if err != nil {
		release()
		return nil, a.mapError(ctx, err)
	}
	if info.IsDir() {
		release()
		return nil, domain.ErrNotFile
	}

	f, err := a.client.Open(path)
	if err != nil {
		release()
		return nil, a.mapError(ctx, err)
	}

	return &boundedReader{file: f, adapter: a, ctx: ctx, release: release}, nil
}

// Stat returns metadata for a single remote path
func (a *Adapter) Stat(ctx context.Context, path string) (domain.FileInfo, error) {
	release := a.bound(ctx)
	defer release()

	info, err := a.client.Lstat(path)
	if err != nil {
		return domain.FileInfo{}, a.mapError(ctx, err)
	}

	return fileInfoFromSFTP(path, info), nil
}

// Close ends the SFTP session and the SSH connection beneath it
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		if err := a.client.Close(); err != nil && !errors.Is(err, io.EOF) {
			a.closeErr = err
		}
		if a.ssh != nil {
			if err := a.ssh.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				a.closeErr = err
			}
		}
	})
	return a.closeErr
}

// bound arms the call deadline and interrupts the connection when ctx is
// cancelled. The returned function disarms both.
func (a *Adapter) bound(ctx context.Context) func() {
	if a.conn == nil {
		return func() {}
	}

	a.extend()
	stop := context.AfterFunc(ctx, func() {
		a.conn.SetDeadline(time.Unix(1, 0))
	})

	return func() {
		stop()
		a.conn.SetDeadline(time.Time{})
	}
}

// extend pushes the deadline one timeout into the future
func (a *Adapter) extend() {
	if a.conn != nil && a.timeout > 0 {
		a.conn.SetDeadline(time.Now().Add(a.timeout))
	}
}

// boundedReader refreshes the call deadline on every read so that a stalled
// transfer times out while a slow but progressing one does not.
type boundedReader struct {
	file    *sftp.File
	adapter *Adapter
	ctx     context.Context
	release func()
	once    sync.Once
}

func (r *boundedReader) Read(p []byte) (int, error) {
	r.adapter.extend()
	n, err := r.file.Read(p)
	if err != nil && err != io.EOF {
		return n, r.adapter.mapError(r.ctx, err)
	}
	return n, err
}

func (r *boundedReader) Close() error {
	err := r.file.Close()
	r.once.Do(r.release)
	return err
}

// fileInfoFromSFTP converts an sftp attribute set to domain.FileInfo
func fileInfoFromSFTP(path string, info os.FileInfo) domain.FileInfo {
	fileType := domain.FileTypeRegular
	if info.IsDir() {
		fileType = domain.FileTypeDirectory
	} else if info.Mode()&os.ModeSymlink != 0 {
		fileType = domain.FileTypeSymlink
	}

	return domain.FileInfo{
		Name:    info.Name(),
		Path:    path,
		Type:    fileType,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
}

// mapError converts sftp and network errors to domain errors
func (a *Adapter) mapError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}

	if errors.Is(err, fs.ErrNotExist) {
		return domain.ErrNotFound
	}
	if errors.Is(err, fs.ErrPermission) {
		return domain.ErrPermissionDenied
	}

	var status *sftp.StatusError
	if errors.As(err, &status) {
		switch status.FxCode() {
		case sftp.ErrSSHFxNoSuchFile:
			return domain.ErrNotFound
		case sftp.ErrSSHFxPermissionDenied:
			return domain.ErrPermissionDenied
		case sftp.ErrSSHFxConnectionLost, sftp.ErrSSHFxNoConnection:
			return fmt.Errorf("%w: %w", domain.ErrNetworkError, err)
		}
		return err
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", domain.ErrNetworkError, err)
	}

	return err
}

// mapDialError converts connection and handshake failures to domain errors
func mapDialError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	if strings.Contains(err.Error(), "unable to authenticate") {
		return fmt.Errorf("%w: %w", domain.ErrAuthFailed, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrNetworkError, err)
}
