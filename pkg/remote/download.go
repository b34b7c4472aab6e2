package remote

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"docsync/pkg/domain"
)

const (
	defaultBatchSize     = 3
	defaultDownloadPause = time.Second
)

// Downloader fetches many files in fixed-size batches. Files inside a
// batch download concurrently; batches run strictly one after another
// with a pause in between to stay polite towards the remote API.
type Downloader struct {
	Source    Source
	BatchSize int
	Pause     time.Duration
}

// DownloadAll downloads every file and returns one result per input, in
// input order. A failed file only marks its own result; siblings and
// later batches still run. If ctx is cancelled, files that have not
// started carry the context error.
func (d *Downloader) DownloadAll(ctx context.Context, accessToken string, files []domain.RemoteFile) []domain.DownloadResult {
	results := make([]domain.DownloadResult, len(files))
	if len(files) == 0 {
		return results
	}
	batchSize := d.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	pause := d.Pause
	if pause <= 0 {
		pause = defaultDownloadPause
	}

	for start := 0; start < len(files); start += batchSize {
		if start > 0 {
			select {
			case <-ctx.Done():
				d.failRemaining(results, files, start, ctx.Err())
				return results
			case <-time.After(pause):
			}
		}
		end := min(start+batchSize, len(files))
		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				data, err := d.Source.Download(gctx, accessToken, files[i].ID)
				results[i] = domain.DownloadResult{File: files[i], Data: data, Err: err}
				return nil
			})
		}
		_ = g.Wait()
	}
	return results
}

func (d *Downloader) failRemaining(results []domain.DownloadResult, files []domain.RemoteFile, from int, err error) {
	for i := from; i < len(files); i++ {
		results[i] = domain.DownloadResult{File: files[i], Err: err}
	}
}
