package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/MedLarabi/compucar-sub005/internal/audit"
	"github.com/MedLarabi/compucar-sub005/internal/files"
	"github.com/MedLarabi/compucar-sub005/internal/presign"
	"github.com/MedLarabi/compucar-sub005/internal/validation"
)

// FileService is the part of the files engine the HTTP layer uses.
type FileService interface {
	Submit(ctx context.Context, actor files.Actor, in files.SubmitInput) (*files.Submission, error)
	List(ctx context.Context, actor files.Actor) ([]files.TuningFile, error)
	Get(ctx context.Context, fileID string, actor files.Actor) (*files.TuningFile, error)
	DownloadURL(ctx context.Context, fileID string, actor files.Actor, version string) (*presign.Access, error)
	AuditTrail(ctx context.Context, fileID string, actor files.Actor) ([]audit.Entry, error)
	Transition(ctx context.Context, fileID, requested string, actor files.Actor, estimate *int) (*files.Outcome, error)
	PrepareModifiedUpload(ctx context.Context, fileID string, actor files.Actor, filename, contentType string, contentLength int64) (*files.ModifiedUpload, error)
	AttachModified(ctx context.Context, fileID string, actor files.Actor, key, filename string) (*files.Outcome, error)
}

// HandlerConfig groups dependencies for the HTTP routes.
type HandlerConfig struct {
	Files           FileService
	Webhooks        WebhookAcceptor
	MaxWebhookBytes int64
	Log             zerolog.Logger
}

// RegisterFileRoutes registers the customer and admin file routes.
func RegisterFileRoutes(r gin.IRouter, cfg HandlerConfig) {
	h := &fileHandler{
		files: cfg.Files,
		v:     validation.New(),
		log:   cfg.Log.With().Str("component", "files_http").Logger(),
	}

	r.POST("/files", h.submit)
	r.GET("/files", h.list)
	r.GET("/files/:id", h.get)
	r.GET("/files/:id/download", h.download)
	r.GET("/files/:id/audit", h.auditTrail)

	admin := r.Group("/admin/files/:id")
	admin.PATCH("/status", h.updateStatus)
	admin.POST("/modified/upload-url", h.modifiedUploadURL)
	admin.POST("/modified", h.attachModified)
}

type fileHandler struct {
	files FileService
	v     *validatorv10.Validate
	log   zerolog.Logger
}

func (h *fileHandler) submit(c *gin.Context) {
	var req validation.SubmitFileRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}
	sub, err := h.files.Submit(c.Request.Context(), actorFrom(c), files.SubmitInput{
		Filename:      req.Filename,
		ContentType:   req.ContentType,
		ContentLength: req.ContentLength,
		Modifications: req.Modifications,
		Comment:       req.Comment,
		Price:         req.Price,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Header("Location", fmt.Sprintf("/files/%s", sub.File.FileID))
	c.JSON(http.StatusCreated, gin.H{
		"file":          sub.File,
		"upload":        sub.Upload,
		"notifications": sub.Deliveries,
	})
}

func (h *fileHandler) list(c *gin.Context) {
	out, err := h.files.List(c.Request.Context(), actorFrom(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	if out == nil {
		out = []files.TuningFile{}
	}
	c.JSON(http.StatusOK, gin.H{"files": out})
}

func (h *fileHandler) get(c *gin.Context) {
	f, err := h.files.Get(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

func (h *fileHandler) download(c *gin.Context) {
	access, err := h.files.DownloadURL(c.Request.Context(), c.Param("id"), actorFrom(c), c.Query("version"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, access)
}

func (h *fileHandler) auditTrail(c *gin.Context) {
	trail, err := h.files.AuditTrail(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	if trail == nil {
		trail = []audit.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": trail})
}

func (h *fileHandler) updateStatus(c *gin.Context) {
	var req validation.StatusUpdateRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}
	out, err := h.files.Transition(c.Request.Context(), c.Param("id"), req.Status, actorFrom(c), req.EstimatedProcessingTime)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":                      out.File.FileID,
		"status":                  out.File.Status,
		"estimatedProcessingTime": out.File.EstimatedProcessingTime,
		"notifications":           out.Deliveries,
	})
}

func (h *fileHandler) modifiedUploadURL(c *gin.Context) {
	var req validation.ModifiedUploadRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}
	up, err := h.files.PrepareModifiedUpload(c.Request.Context(), c.Param("id"), actorFrom(c), req.Filename, req.ContentType, req.ContentLength)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, up)
}

func (h *fileHandler) attachModified(c *gin.Context) {
	var req validation.AttachModifiedRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}
	out, err := h.files.AttachModified(c.Request.Context(), c.Param("id"), actorFrom(c), req.Key, req.Filename)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"file":          out.File,
		"notifications": out.Deliveries,
	})
}
