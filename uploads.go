package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"bitbucket.org/vetmanager/caja_backend/config"
	"bitbucket.org/vetmanager/caja_backend/models"
	"bitbucket.org/vetmanager/caja_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type countSlipSignRequest struct {
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

type countSlipCompleteRequest struct {
	ObjectKey string `json:"object_key"`
	DrawerId  int    `json:"drawer_id"`
	FileName  string `json:"file_name"`
}

type countSlipSignResponse struct {
	UploadURL string            `json:"upload_url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	ObjectKey string            `json:"object_key"`
	ExpiresAt string            `json:"expires_at"`
}

const maxUploadSizeBytes int64 = 5 * 1024 * 1024

var countSlipMimeTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
}

// signCountSlipUploadHandler hands out a short-lived signed PUT URL so count-slip
// photos go straight to the bucket instead of through the API. Staged objects live
// under <clinic>/staging/ until /uploads/complete links them to a drawer.
func signCountSlipUploadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		clinicId, ok := utils.GetClinicIdFromContext(c.Request.Context())
		if !ok || clinicId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req countSlipSignRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if req.FileName == "" || req.MimeType == "" || req.Size <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file_name, mime_type and size are required"})
			return
		}
		if req.Size > maxUploadSizeBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file size exceeds 5MB limit"})
			return
		}
		ext, supported := countSlipMimeTypes[req.MimeType]
		if !supported {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported image type"})
			return
		}
		if e := strings.ToLower(filepath.Ext(req.FileName)); e != "" {
			ext = e
		}

		if utils.GetStorageProvider() != utils.StorageProviderGCS {
			c.JSON(http.StatusBadRequest, gin.H{"error": "storage provider not supported"})
			return
		}

		objectKey := path.Join(clinicId, "staging", uuid.New().String()+ext)
		signed, err := utils.SignUpload(c.Request.Context(), objectKey, req.MimeType, 15*time.Minute)
		if err != nil {
			logUploadError(logger, err, c)
			message := "failed to sign upload"
			if !strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
				message = fmt.Sprintf("failed to sign upload: %v", err)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": message})
			return
		}

		logger.WithFields(logrus.Fields{
			"clinic_id":  clinicId,
			"mime_type":  req.MimeType,
			"size":       req.Size,
			"object_key": objectKey,
		}).Info("[upload.sign]")

		c.JSON(http.StatusOK, gin.H{
			"data": countSlipSignResponse{
				UploadURL: signed.UploadURL,
				Method:    signed.Method,
				Headers:   signed.Headers,
				ObjectKey: signed.ObjectKey,
				ExpiresAt: signed.ExpiresAt.UTC().Format(time.RFC3339),
			},
		})
	}
}

// completeCountSlipUploadHandler links a staged object to a drawer. The staged
// bytes run through the same downscale path as direct multipart uploads, so
// everything stored under cash_attachments/ obeys the same size invariant.
func completeCountSlipUploadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		clinicId, ok := utils.GetClinicIdFromContext(c.Request.Context())
		if !ok || clinicId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req countSlipCompleteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if req.ObjectKey == "" || req.DrawerId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "object_key and drawer_id are required"})
			return
		}
		if !strings.HasPrefix(req.ObjectKey, clinicId+"/") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid object key"})
			return
		}

		data, err := readStagedObject(c.Request.Context(), req.ObjectKey)
		if err != nil {
			logUploadError(logger, err, c)
			c.JSON(http.StatusBadRequest, gin.H{"error": "staged object not readable"})
			return
		}

		fileName := req.FileName
		if fileName == "" {
			fileName = path.Base(req.ObjectKey)
		}
		attachment, err := models.CreateCashAttachment(c.Request.Context(), req.DrawerId, fileName, data)
		if err != nil {
			respondError(c, err)
			return
		}

		// The canonical copy now lives under cash_attachments/.
		if err := utils.DeleteObject(c.Request.Context(), req.ObjectKey); err != nil {
			logUploadError(logger, err, c)
		}

		logger.WithFields(logrus.Fields{
			"clinic_id":  clinicId,
			"drawer_id":  req.DrawerId,
			"object_key": req.ObjectKey,
			"status":     "completed",
		}).Info("[upload.complete]")

		c.JSON(http.StatusCreated, gin.H{"data": attachment})
	}
}

// objectDownloadHandler streams a stored object through the API. Used when the
// bucket is private and signed reads are disabled; keys are tenant-scoped.
func objectDownloadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		objectKey := strings.TrimSpace(c.Query("key"))
		if objectKey == "" || strings.Contains(objectKey, "..") || strings.HasPrefix(objectKey, "/") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid key"})
			return
		}

		clinicId, _ := utils.GetClinicIdFromContext(c.Request.Context())
		isAdmin, _ := utils.GetIsAdminFromContext(c.Request.Context())
		if !isAdmin && !strings.HasPrefix(objectKey, clinicId+"/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "object not found"})
			return
		}

		if utils.GetStorageProvider() != utils.StorageProviderGCS {
			c.JSON(http.StatusBadRequest, gin.H{"error": "storage provider not supported"})
			return
		}

		client, err := utils.GetGCSClient(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "storage client error"})
			return
		}
		defer client.Close()

		bucket := strings.TrimSpace(os.Getenv("GCS_BUCKET"))
		if bucket == "" {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "GCS_BUCKET is required"})
			return
		}
		obj := client.Bucket(bucket).Object(objectKey)
		attrs, err := obj.Attrs(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "object not found"})
			return
		}
		reader, err := obj.NewReader(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "object not found"})
			return
		}
		defer reader.Close()

		if attrs != nil && attrs.ContentType != "" {
			c.Writer.Header().Set("Content-Type", attrs.ContentType)
		}
		if attrs != nil && attrs.Size > 0 {
			c.Writer.Header().Set("Content-Length", fmt.Sprintf("%d", attrs.Size))
		}
		c.Status(http.StatusOK)
		_, _ = io.Copy(c.Writer, reader)
	}
}

func readStagedObject(ctx context.Context, objectKey string) ([]byte, error) {
	client, err := utils.GetGCSClient(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	bucket := strings.TrimSpace(os.Getenv("GCS_BUCKET"))
	if bucket == "" {
		return nil, errors.New("GCS_BUCKET is required")
	}

	reader, err := client.Bucket(bucket).Object(objectKey).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	data, err := io.ReadAll(io.LimitReader(reader, maxUploadSizeBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxUploadSizeBytes {
		return nil, errors.New("file size exceeds 5MB limit")
	}
	return data, nil
}

func logUploadError(logger *logrus.Logger, err error, c *gin.Context) {
	cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
	logger.WithFields(logrus.Fields{
		"error":          err.Error(),
		"provider":       utils.GetStorageProvider(),
		"correlation_id": cid,
	}).Error("[upload.error]")
}
