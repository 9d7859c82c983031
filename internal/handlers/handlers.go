package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/hijaiyah-api/internal/auth"
	"github.com/example/hijaiyah-api/internal/imageprocessor"
	"github.com/example/hijaiyah-api/internal/repository"
	"github.com/example/hijaiyah-api/internal/storage"
	"github.com/example/hijaiyah-api/internal/usecase"
)

// MaxUploadSize is the default limit for the uploaded image in bytes.
const MaxUploadSize = 10 << 20

// multipartOverhead leaves room for boundaries and part headers on top of
// the image itself.
const multipartOverhead = 64 << 10

// PredictionService is the use case surface the routes depend on.
type PredictionService interface {
	Predict(ctx context.Context, id *auth.Identity, asset usecase.ImageAsset) (*usecase.Prediction, error)
	History(ctx context.Context, uid string) ([]*repository.HistoryRecord, error)
}

// RegisterRoutes wires the HTTP handlers to the Gin router. Every /v1 route
// sits behind authMiddleware.
func RegisterRoutes(router *gin.Engine, svc PredictionService, authMiddleware gin.HandlerFunc, maxUploadSize int64) {
	if maxUploadSize <= 0 {
		maxUploadSize = MaxUploadSize
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1", authMiddleware)

	v1.POST("/predict", func(c *gin.Context) {
		id, ok := auth.IdentityFrom(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrMissingCredential.Error()})
			return
		}

		asset, status, err := readUpload(c, maxUploadSize)
		if err != nil {
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		prediction, err := svc.Predict(c.Request.Context(), id, asset)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, prediction)
	})

	v1.GET("/history", func(c *gin.Context) {
		uid, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": usecase.ErrMissingSubject.Error()})
			return
		}

		records, err := svc.History(c.Request.Context(), uid)
		if err != nil {
			if errors.Is(err, usecase.ErrMissingSubject) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if records == nil {
			records = []*repository.HistoryRecord{}
		}
		c.JSON(http.StatusOK, gin.H{"history": records})
	})
}

// readUpload buffers the "image" part once. The returned status is only
// meaningful when err is non-nil.
func readUpload(c *gin.Context, maxUploadSize int64) (usecase.ImageAsset, int, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize+multipartOverhead)

	file, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			return usecase.ImageAsset{}, http.StatusRequestEntityTooLarge, tooLargeError(maxUploadSize)
		}
		// A part sent with an empty filename is parsed as a plain value.
		if form := c.Request.MultipartForm; form != nil {
			if _, ok := form.Value["image"]; ok {
				return usecase.ImageAsset{}, http.StatusBadRequest, errors.New("No selected file")
			}
		}
		return usecase.ImageAsset{}, http.StatusBadRequest, errors.New("No file part")
	}
	if file.Filename == "" {
		return usecase.ImageAsset{}, http.StatusBadRequest, errors.New("No selected file")
	}
	if file.Size > maxUploadSize {
		return usecase.ImageAsset{}, http.StatusRequestEntityTooLarge, tooLargeError(maxUploadSize)
	}

	src, err := file.Open()
	if err != nil {
		return usecase.ImageAsset{}, http.StatusBadRequest, errors.New("unable to open image")
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return usecase.ImageAsset{}, http.StatusInternalServerError, errors.New("failed to read image")
	}
	if len(data) == 0 {
		return usecase.ImageAsset{}, http.StatusBadRequest, errors.New("No selected file")
	}

	contentType := strings.TrimSpace(file.Header.Get("Content-Type"))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return usecase.ImageAsset{}, http.StatusUnsupportedMediaType, errors.New("unsupported content type " + contentType)
	}

	return usecase.ImageAsset{Filename: file.Filename, ContentType: contentType, Data: data}, 0, nil
}

func tooLargeError(limit int64) error {
	return errors.New("image exceeds " + strconv.FormatInt(limit, 10) + " bytes")
}

// writeError maps a use case failure to its status code and error envelope.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, usecase.ErrMissingUpload), errors.Is(err, imageprocessor.ErrInvalidImage):
		status = http.StatusBadRequest
	case errors.Is(err, usecase.ErrMissingSubject):
		status = http.StatusUnauthorized
	case errors.Is(err, usecase.ErrPredictionBelowThreshold):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, storage.ErrUploadFailed), errors.Is(err, repository.ErrPersistenceFailed):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
