package handler

import (
	"errors"
	"net/http"

	"github.com/notimo/notimo-api/internal/domain"
	"github.com/notimo/notimo-api/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Photos
// ============================================================

const multipartMemory = 1 << 20

func uploadPhotoHandler(svc *service.PhotoService, maxBytes int64, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/transactions/{id}/photos")
		defer span.End()

		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "Fichier trop volumineux.", Field: "image"})
				return
			}
			handleServiceError(w, &domain.ErrValidation{Field: "image", Message: "Formulaire multipart attendu."}, logger)
			return
		}

		file, header, err := r.FormFile("image")
		if err != nil {
			handleServiceError(w, &domain.ErrValidation{Field: "image", Message: "Ce champ est obligatoire."}, logger)
			return
		}
		defer file.Close()

		photo, err := svc.Upload(ctx, UserIDFromContext(ctx), chi.URLParam(r, "id"), &service.PhotoUpload{
			Filename: header.Filename,
			Caption:  r.FormValue("legende"),
			Body:     file,
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusCreated, photo)
	}
}

func deletePhotoHandler(svc *service.PhotoService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/transactions/{id}/photos/{photoID}")
		defer span.End()

		err := svc.Delete(ctx, UserIDFromContext(ctx), chi.URLParam(r, "id"), chi.URLParam(r, "photoID"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
