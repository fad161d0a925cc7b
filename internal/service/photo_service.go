package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/notimo/notimo-api/internal/domain"
	"github.com/notimo/notimo-api/internal/infra/observability"
	"github.com/notimo/notimo-api/internal/infra/resilience"
	"github.com/notimo/notimo-api/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var photoTracer = otel.Tracer("service/photo")

// sniffLen is how many leading bytes http.DetectContentType considers.
const sniffLen = 512

// imageExtensions lists the accepted image types, keyed by sniffed content
// type. Stored objects always carry the extension of their sniffed type.
var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// PhotoUpload is one receipt image submitted by a client. The declared
// filename and content type are not trusted; the type is sniffed from Body.
type PhotoUpload struct {
	Filename string
	Caption  string
	Body     io.Reader
}

// PhotoService attaches receipt images to transactions.
type PhotoService struct {
	store    port.TransactionStore
	blobs    port.BlobStore
	bulkhead *resilience.Bulkhead
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewPhotoService creates a photo service; bulkhead bounds concurrent uploads.
func NewPhotoService(store port.TransactionStore, blobs port.BlobStore, bulkhead *resilience.Bulkhead, metrics *observability.Metrics, logger *zap.Logger) *PhotoService {
	return &PhotoService{store: store, blobs: blobs, bulkhead: bulkhead, metrics: metrics, logger: logger}
}

// ============================================================
// Upload — POST /v1/transactions/{id}/photos
// ============================================================

func (s *PhotoService) Upload(ctx context.Context, userID, transactionID string, up *PhotoUpload) (*domain.PhotoView, error) {
	ctx, span := photoTracer.Start(ctx, "PhotoService.Upload")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", transactionID))

	contentType, body, err := sniffImage(up.Body)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("content_type", contentType))

	// The blob is written only for a transaction the caller owns.
	t, err := s.store.GetTransaction(ctx, userID, transactionID)
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	if t == nil {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: transactionID}
	}

	if err := s.bulkhead.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.bulkhead.Release()

	name := fmt.Sprintf("transactions/%s/%s%s", transactionID, uuid.NewString(), imageExtensions[contentType])
	ref, err := s.blobs.Put(ctx, name, contentType, body)
	if err != nil {
		s.metrics.IncrBlobError("put")
		return nil, err
	}

	p := &domain.Photo{
		TransactionID: transactionID,
		BlobRef:       ref,
		Caption:       strings.TrimSpace(up.Caption),
	}
	if err := s.store.AddPhoto(ctx, userID, p); err != nil {
		if derr := s.blobs.Delete(ctx, ref); derr != nil {
			s.metrics.IncrBlobError("delete")
			s.logger.Warn("orphan photo blob", zap.String("blob_ref", ref), zap.Error(derr))
		}
		return nil, err
	}

	s.metrics.IncrPhotoUploaded()
	s.logger.Info("photo attached",
		zap.String("user_id", userID),
		zap.String("transaction_id", transactionID),
		zap.String("photo_id", p.ID),
		zap.String("filename", up.Filename),
	)
	return &domain.PhotoView{
		ID:        p.ID,
		ImageURL:  s.blobs.URL(ref),
		Caption:   p.Caption,
		CreatedAt: p.CreatedAt,
	}, nil
}

// sniffImage detects the content type of r from its leading bytes and
// rejects anything but an accepted image type. The returned reader yields
// the whole content again.
func sniffImage(r io.Reader) (string, io.Reader, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", nil, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]

	contentType := http.DetectContentType(head)
	if _, ok := imageExtensions[contentType]; !ok {
		return "", nil, &domain.ErrValidation{Field: "image", Message: "Image JPEG, PNG, GIF ou WebP attendue."}
	}
	return contentType, io.MultiReader(bytes.NewReader(head), r), nil
}

// ============================================================
// Delete — DELETE /v1/transactions/{id}/photos/{photoID}
// ============================================================

func (s *PhotoService) Delete(ctx context.Context, userID, transactionID, photoID string) error {
	ctx, span := photoTracer.Start(ctx, "PhotoService.Delete")
	defer span.End()

	ref, err := s.store.DeletePhoto(ctx, userID, transactionID, photoID)
	if err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, ref); err != nil {
		s.metrics.IncrBlobError("delete")
		s.logger.Warn("photo blob not removed", zap.String("blob_ref", ref), zap.Error(err))
	}
	s.logger.Info("photo deleted", zap.String("transaction_id", transactionID), zap.String("photo_id", photoID))
	return nil
}
