package application

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wms-platform/purchasing-service/internal/domain"
	apperrors "github.com/wms-platform/purchasing-service/pkg/errors"
	"github.com/wms-platform/purchasing-service/pkg/logging"
)

const defaultContentType = "application/octet-stream"

// documentStore uploads bills and cleans up the legacy files they replace.
type documentStore struct {
	uploader BlobUploader
	remover  DocumentRemover
	metrics  WorkflowMetrics
	logger   *logging.Logger
}

// billKey builds the blob key for an uploaded bill, e.g.
// bills/2025/03/6f1c...e2.pdf.
func billKey(filename string, at time.Time) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return fmt.Sprintf("bills/%s/%s%s", at.UTC().Format("2006/01"), uuid.NewString(), ext)
}

func (d *documentStore) upload(ctx context.Context, file *FileUpload, at time.Time) (*domain.Document, error) {
	if file == nil || len(file.Data) == 0 {
		return nil, nil
	}
	if d.uploader == nil {
		return nil, apperrors.ErrServiceUnavailable("Document storage")
	}

	contentType := file.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}

	doc, err := d.uploader.UploadBufferToBlob(ctx, billKey(file.Filename, at), file.Data, contentType)
	d.metrics.RecordDocumentUpload(err == nil)
	if err != nil {
		d.logger.WithContext(ctx).WithError(err).Error("Failed to upload bill", "filename", file.Filename)
		if apperrors.IsAppError(err) {
			return nil, err
		}
		return nil, apperrors.ErrServiceUnavailable("Document storage").Wrap(err)
	}
	return doc, nil
}

// removeReplaced deletes previous when it was a legacy on-disk file that has
// been replaced. Failures are logged and never returned.
func (d *documentStore) removeReplaced(ctx context.Context, previous, current *domain.Document) {
	if !previous.IsLegacy() || d.remover == nil {
		return
	}
	if current != nil && current.URL == previous.URL {
		return
	}
	if err := d.remover.Remove(ctx, previous.URL); err != nil {
		d.logger.WithContext(ctx).WithError(err).Warn("Failed to delete replaced legacy document", "path", previous.URL)
		return
	}
	d.logger.WithContext(ctx).Debug("Deleted replaced legacy document", "path", previous.URL)
}

// discard deletes a bill uploaded for an order write that did not happen.
// Failures are logged and never returned.
func (d *documentStore) discard(ctx context.Context, doc *domain.Document) {
	if doc == nil || doc.Key == "" {
		return
	}
	deleter, ok := d.uploader.(BlobDeleter)
	if !ok {
		return
	}
	if err := deleter.DeleteBlob(context.WithoutCancel(ctx), doc.Key); err != nil {
		d.logger.WithContext(ctx).WithError(err).Warn("Failed to delete orphaned bill", "key", doc.Key)
		return
	}
	d.logger.WithContext(ctx).Debug("Deleted orphaned bill", "key", doc.Key)
}
