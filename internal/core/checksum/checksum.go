// Package checksum computes the digests recorded for finished archives.
package checksum

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// bufferSize is the chunk streamed through the hash between context checks
const bufferSize = 32 * 1024

// Reader returns the hex SHA-256 of everything read from r.
// The context is checked between chunks.
func Reader(ctx context.Context, r io.Reader) (string, error) {
	h := sha256.New()
	buffer := make([]byte, bufferSize)

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		n, err := r.Read(buffer)
		if n > 0 {
			h.Write(buffer[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read error: %w", err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// File returns the hex SHA-256 of the file at path
func File(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sum, err := Reader(ctx, f)
	if err != nil {
		return "", fmt.Errorf("failed to checksum %s: %w", path, err)
	}
	return sum, nil
}
