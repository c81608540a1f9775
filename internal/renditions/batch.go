package renditions

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/aspr-photos/intake/internal/apierrors"
)

// Batch item statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

const cancelledMessage = "Upload cancelled"

// BatchItem is the outcome of one file in a batch.
type BatchItem struct {
	PhotoID  string `json:"photoId,omitempty"`
	FileName string `json:"fileName"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// BatchResult summarises a batch. Success is true only when nothing failed.
type BatchResult struct {
	Success  bool        `json:"success"`
	Uploaded int         `json:"uploaded"`
	Failed   int         `json:"failed"`
	Total    int         `json:"total"`
	Results  []BatchItem `json:"results"`
}

// IngestBatch ingests inputs with bounded concurrency. A failing file never
// affects the others. Files not yet started when ctx is cancelled are
// reported as failed without being processed. Results keep input order.
func (p *Pipeline) IngestBatch(ctx context.Context, inputs []Input) BatchResult {
	items := make([]BatchItem, len(inputs))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, in := range inputs {
		items[i].FileName = in.File.FileName
		if ctx.Err() != nil {
			items[i].Status, items[i].Error = StatusError, cancelledMessage
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				items[i].Status, items[i].Error = StatusError, cancelledMessage
				return nil
			}
			res, err := p.Ingest(ctx, in)
			if err != nil {
				if !apierrors.IsKind(err, apierrors.KindValidation) {
					slog.Error("batch ingest failed", "file_name", in.File.FileName, "error", err)
				}
				items[i].Status, items[i].Error = StatusError, apierrors.PublicMessage(err)
				return nil
			}
			items[i].Status, items[i].PhotoID = StatusSuccess, res.Photo.ID
			return nil
		})
	}
	_ = g.Wait()

	result := BatchResult{Total: len(items), Results: items}
	for _, it := range items {
		if it.Status == StatusSuccess {
			result.Uploaded++
		} else {
			result.Failed++
		}
	}
	result.Success = result.Failed == 0
	return result
}
