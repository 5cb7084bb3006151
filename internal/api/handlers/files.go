package handlers

import (
	"log/slog"
	"net/http"

	"github.com/hugh/go-backoffice/internal/api/respond"
	"github.com/hugh/go-backoffice/internal/files"
)

type FileHandler struct {
	files  *files.Service
	logger *slog.Logger
}

func NewFileHandler(fileService *files.Service, logger *slog.Logger) *FileHandler {
	return &FileHandler{files: fileService, logger: logger}
}

// Get returns file metadata with a URL that is valid for at least a minute.
func (h *FileHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	file, err := h.files.Get(r.Context(), id)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, file)
}
