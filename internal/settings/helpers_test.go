package settings_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/hugh/go-backoffice/internal/database/models"
	"github.com/hugh/go-backoffice/internal/files"
	"github.com/hugh/go-backoffice/internal/testutil"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

func uploadPNG(t *testing.T, s *testutil.Stack) *models.File {
	t.Helper()
	file, err := s.Files.Upload(context.Background(), files.UploadInput{
		Reader:   bytes.NewReader(pngHeader),
		Name:     "logo.png",
		MimeType: "image/png",
		Size:     int64(len(pngHeader)),
		Prefix:   "settings",
	})
	require.NoError(t, err)
	return file
}
