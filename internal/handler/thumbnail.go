package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/account-service/internal/apperror"
	"github.com/iliyamo/account-service/internal/observability"
	"github.com/iliyamo/account-service/internal/queue"
	"github.com/iliyamo/account-service/internal/storage"
)

// JobPublisher hands avatar jobs to the worker.
type JobPublisher interface {
	Publish(ctx context.Context, job queue.AvatarJob) error
}

// AvatarFlusher drops cached avatar responses.
type AvatarFlusher interface {
	Flush(ctx context.Context, userID string) (int64, error)
}

// ThumbnailHandler serves /api/thumbnail/avatar/*.
type ThumbnailHandler struct {
	Store     storage.ObjectStore
	Publisher JobPublisher
	Cache     AvatarFlusher
	UploadDir string
	// BaseURL + Prefix + file id is the public avatar URL.
	BaseURL string
	Prefix  string
	Timeout time.Duration
	Log     logrus.FieldLogger
	Metrics *observability.Metrics
}

// avatarFileID names the single avatar slot of a user.
func avatarFileID(userID string) string { return userID + "_a" }

// Upload stores the image locally and queues it for object storage.
func (h *ThumbnailHandler) Upload(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return apperror.New(apperror.MissingUploadFile)
	}
	src, err := fh.Open()
	if err != nil {
		return apperror.Wrap(apperror.FileUploadFail, err)
	}
	defer src.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return apperror.Wrap(apperror.FileUploadFail, err)
	}
	mime := http.DetectContentType(head[:n])
	if !strings.HasPrefix(mime, "image/") {
		return apperror.Newf(apperror.NotAnImage, "%s", mime)
	}

	fileID := avatarFileID(cl.UserID)
	path := filepath.Join(h.UploadDir, fileID)
	if err := writeUpload(path, head[:n], src); err != nil {
		return apperror.Wrap(apperror.FileUploadFail, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()

	url := h.BaseURL + h.Prefix + fileID
	job := queue.AvatarJob{
		UserID:             cl.UserID,
		FileID:             fileID,
		Path:               path,
		Mime:               mime,
		ContentDisposition: fh.Header.Get("Content-Disposition"),
		AvatarURL:          url,
		RequestedAt:        time.Now().UTC(),
	}
	if err := h.Publisher.Publish(ctx, job); err != nil {
		_ = os.Remove(path)
		h.Metrics.AvatarJob("publish_failed")
		return apperror.Wrap(apperror.FileUploadFail, err)
	}
	h.Metrics.AvatarJob("queued")

	if _, err := h.Cache.Flush(ctx, cl.UserID); err != nil {
		h.Log.WithError(err).WithField("user_id", cl.UserID).Warn("avatar cache not flushed")
	}
	return OK(c, echo.Map{"avatar": url})
}

func writeUpload(path string, head []byte, rest io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(head); err != nil {
		_ = f.Close()
		return err
	}
	if _, err := io.Copy(f, rest); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Download streams ?file_id= from object storage.
func (h *ThumbnailHandler) Download(c echo.Context) error {
	fileID := strings.TrimSpace(c.QueryParam("file_id"))
	if fileID == "" || strings.ContainsAny(fileID, "/\\") {
		return apperror.Newf(apperror.ValidationError, "file_id is invalid")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()

	obj, err := h.Store.GetObject(ctx, queue.ObjectKey(fileID))
	if errors.Is(err, storage.ErrObjectNotFound) {
		return apperror.New(apperror.AvatarNotFound)
	}
	if err != nil {
		return apperror.Wrap(apperror.UnknownError, err)
	}
	defer obj.Body.Close()

	ct := obj.ContentType
	if ct == "" {
		ct = echo.MIMEOctetStream
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "public, max-age=86400")
	return c.Stream(http.StatusOK, ct, obj.Body)
}

// Flush drops the caller's cached avatar responses.
func (h *ThumbnailHandler) Flush(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	n, err := h.Cache.Flush(c.Request().Context(), cl.UserID)
	if err != nil {
		return apperror.Wrap(apperror.RedisError, err)
	}
	return OK(c, echo.Map{"flushed": n})
}
