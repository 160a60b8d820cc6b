package ingest

import (
	"errors"
	"net/http"

	"github.com/stormwaterwatch/sww-backend/internal/httputil"
	"github.com/stormwaterwatch/sww-backend/internal/utils"
)

const maxUploadBytes = 32 << 20

// UploadSamples ingests a multipart CSV upload (field "file")
func UploadSamples(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid multipart upload")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()

	sourceURL := r.FormValue("source_url")
	if sourceURL == "" {
		sourceURL = r.FormValue("sourceUrl")
	}
	userID, _ := utils.GetUserIDFromContext(r.Context())

	res, err := service.Ingest(r.Context(), file, Options{
		SourceURL:  sourceURL,
		FileName:   header.Filename,
		UploadedBy: userID,
	})
	if errors.Is(err, ErrNoValidRows) {
		httputil.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"success":  false,
			"error":    "No valid rows in file",
			"warnings": res.Warnings,
		})
		return
	}
	if err != nil {
		service.logger.Error("ingest failed", "file", header.Filename, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Ingestion failed: "+err.Error())
		return
	}

	httputil.WriteJSON(w, http.StatusOK, res)
}
