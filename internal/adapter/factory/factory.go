package factory

import (
	"context"
	"fmt"

	"github.com/Ning0612/sftparchive/internal/adapter"
	"github.com/Ning0612/sftparchive/internal/adapter/gdrive"
	"github.com/Ning0612/sftparchive/internal/adapter/local"
	"github.com/Ning0612/sftparchive/internal/adapter/sftp"
	"github.com/Ning0612/sftparchive/internal/domain"
)

// Default opens adapters for every supported source type
type Default struct{}

var _ adapter.Factory = Default{}

// Open connects to the source selected by src.Type
func (Default) Open(ctx context.Context, src domain.Source) (adapter.Adapter, error) {
	switch src.Type {
	case domain.SourceSFTP, "":
		a, err := sftp.Dial(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s:%d: %w", src.Host, src.Port, err)
		}
		return a, nil
	case domain.SourceLocal:
		a, err := local.New(src.Root)
		if err != nil {
			return nil, fmt.Errorf("failed to create local adapter for %s: %w", src.Root, err)
		}
		return a, nil
	case domain.SourceGDrive:
		if src.ClientID == "" || src.ClientSecret == "" {
			return nil, fmt.Errorf("%w: gdrive source requires client_id and client_secret", domain.ErrConfigInvalid)
		}
		a, err := gdrive.New(ctx, src.ClientID, src.ClientSecret, src.TokenPath, src.Root)
		if err != nil {
			return nil, fmt.Errorf("failed to create gdrive adapter for %s: %w", src.Root, err)
		}
		return a, nil
	default:
		return nil, fmt.Errorf("%w: unknown source type: %s", domain.ErrConfigInvalid, src.Type)
	}
}
