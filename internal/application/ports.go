package application

import (
	"context"

	"github.com/wms-platform/purchasing-service/internal/domain"
)

// BlobUploader stores a document and returns where it can be fetched.
type BlobUploader interface {
	UploadBufferToBlob(ctx context.Context, key string, data []byte, contentType string) (*domain.Document, error)
}

// BlobDeleter is implemented by uploaders that can delete what they stored.
// Bills uploaded for an order write that then fails are deleted through it.
type BlobDeleter interface {
	DeleteBlob(ctx context.Context, key string) error
}

// DocumentRemover deletes a legacy on-disk document.
type DocumentRemover interface {
	Remove(ctx context.Context, path string) error
}

// WorkflowMetrics receives purchasing workflow measurements.
type WorkflowMetrics interface {
	RecordOrderCreated()
	RecordTransition(from, to string)
	RecordStockReceived(units float64)
	RecordLineItemsExpired(count int)
	RecordDocumentUpload(success bool)
}

type noopMetrics struct{}

func (noopMetrics) RecordOrderCreated()           {}
func (noopMetrics) RecordTransition(_, _ string)  {}
func (noopMetrics) RecordStockReceived(_ float64) {}
func (noopMetrics) RecordLineItemsExpired(_ int)  {}
func (noopMetrics) RecordDocumentUpload(_ bool)   {}
