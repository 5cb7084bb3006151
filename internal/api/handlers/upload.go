package handlers

import (
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/hugh/go-backoffice/internal/apperr"
	"github.com/hugh/go-backoffice/internal/files"
)

// multipartOverhead is the slack allowed above the file limit for the
// multipart envelope.
const multipartOverhead = 64 << 10

// readUpload parses the "file" part of a multipart request. The caller
// must close the returned file.
func readUpload(w http.ResponseWriter, r *http.Request, maxBytes int64) (files.UploadInput, multipart.File, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return files.UploadInput{}, nil, apperr.ErrFileTooLarge
		}
		return files.UploadInput{}, nil, apperr.InvalidField("file", "Expected a multipart upload")
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return files.UploadInput{}, nil, apperr.InvalidField("file", "File is required")
	}

	return files.UploadInput{
		Reader:   file,
		Name:     header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Size:     header.Size,
	}, file, nil
}
