package services

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/facturaIA/dte-extraction-service/internal/db"
)

// DefaultBatchWorkers bounds concurrent reprocessing when no limit is set.
const DefaultBatchWorkers = 4

// BatchItem is the outcome for one document of a batch.
type BatchItem struct {
	DocumentID  uuid.UUID `json:"document_id"`
	Estado      string    `json:"estado"`
	ReadyForSII bool      `json:"ready_for_sii"`
	Error       string    `json:"error,omitempty"`
}

// BatchReport summarizes a batch run.
type BatchReport struct {
	Total      int         `json:"total"`
	Procesados int         `json:"procesados"`
	Errores    int         `json:"errores"`
	Items      []BatchItem `json:"items"`
}

// BatchReprocessor re-runs pending and failed documents concurrently.
type BatchReprocessor struct {
	proc    *Processor
	workers int
}

// NewBatchReprocessor creates a reprocessor running at most workers
// documents at a time.
func NewBatchReprocessor(proc *Processor, workers int) *BatchReprocessor {
	if workers <= 0 {
		workers = DefaultBatchWorkers
	}
	return &BatchReprocessor{proc: proc, workers: workers}
}

// Run reprocesses up to limit pending or failed documents of alias. A
// failing document does not stop the others; Run only returns an error when
// the list cannot be loaded or ctx is cancelled.
func (b *BatchReprocessor) Run(ctx context.Context, alias string, limit int) (*BatchReport, error) {
	store := b.proc.Store()
	if store == nil {
		return nil, ErrNoStore
	}
	docs, err := store.ListPendingDocuments(ctx, alias, limit)
	if err != nil {
		return nil, err
	}

	report := &BatchReport{Total: len(docs), Items: make([]BatchItem, len(docs))}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i, doc := range docs {
		i, doc := i, doc
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			item := b.reprocess(gctx, alias, doc)

			mu.Lock()
			report.Items[i] = item
			if item.Estado == db.EstadoProcesado {
				report.Procesados++
			} else {
				report.Errores++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	b.proc.log.Info().
		Str("empresa", alias).
		Int("total", report.Total).
		Int("procesados", report.Procesados).
		Int("errores", report.Errores).
		Msg("batch reprocess finished")
	return report, nil
}

func (b *BatchReprocessor) reprocess(ctx context.Context, alias string, doc db.Document) BatchItem {
	item := BatchItem{DocumentID: doc.ID, Estado: db.EstadoError}
	out, err := b.proc.Reprocess(ctx, alias, doc.ID)
	if out != nil {
		item.Estado = out.Estado
		item.ReadyForSII = out.Readiness.ReadyForSII
	}
	if err != nil {
		item.Estado = db.EstadoError
		item.Error = err.Error()
		if errors.Is(err, context.Canceled) {
			item.Error = "cancelled"
		}
	}
	return item
}
