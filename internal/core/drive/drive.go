// Package drive adapts Google Drive as a document source. Files come
// in two shapes: regular binaries downloaded as-is, and provider-native
// documents that only exist through a server-side export.
package drive

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/docbot-labs/docbot/internal/core"
)

// MaxFetchSize caps how much of a drive file is read (20MB).
const MaxFetchSize = 20 * 1024 * 1024

type Client struct {
	svc *drive.Service
}

// NewClient builds a drive client from a user OAuth access token.
func NewClient(ctx context.Context, accessToken string) (*Client, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("drive access token is empty")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	svc, err := drive.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &Client{svc: svc}, nil
}

func (c *Client) GetMetadata(ctx context.Context, fileID string) (*core.DriveFile, error) {
	f, err := c.svc.Files.Get(fileID).
		Fields("id", "name", "mimeType", "size").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("drive metadata for %s: %w", fileID, err)
	}
	return &core.DriveFile{
		ID:       f.Id,
		Name:     f.Name,
		MimeType: f.MimeType,
		Size:     f.Size,
	}, nil
}

// Download fetches the raw bytes of a regular (non-native) drive file.
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, error) {
	resp, err := c.svc.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("drive download %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxFetchSize))
	if err != nil {
		return nil, fmt.Errorf("read drive file %s: %w", fileID, err)
	}
	return data, nil
}

// Export converts a provider-native document (Docs, Sheets, Slides) to
// the requested MIME type server-side and returns the exported bytes.
func (c *Client) Export(ctx context.Context, fileID, mimeType string) ([]byte, error) {
	resp, err := c.svc.Files.Export(fileID, mimeType).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("drive export %s as %s: %w", fileID, mimeType, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxFetchSize))
	if err != nil {
		return nil, fmt.Errorf("read drive export %s: %w", fileID, err)
	}
	return data, nil
}

var _ core.DriveClient = (*Client)(nil)
