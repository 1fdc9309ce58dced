package fetcher

import (
	"context"
	"io"
)

// Fetcher is the download surface shared by the Census transport and the
// boundary downloader. Implementations classify failures with the
// resilience wrappers and leave retrying to the caller.
type Fetcher interface {
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile streams url into path and returns the bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}
