package port

import (
	"context"
	"io"
)

// StackStorage fetches image stacks from object storage and accepts
// run diagnostics for later inspection.
type StackStorage interface {
	// DownloadStack fetches the metadata and raw sample objects of a
	// stack into destDir and returns their local paths.
	DownloadStack(ctx context.Context, stackKey string, destDir string) (metaPath string, rawPath string, err error)
	// UploadRunLog stores the captured run log of a failed job.
	UploadRunLog(ctx context.Context, objectKey string, reader io.Reader, size int64) error
}
