package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"s3sync/internal/media"
	"s3sync/internal/pending"
)

type Config struct {
	// MediaRoot is served read-only under /media.
	MediaRoot string
	Fs        afero.Fs
	// JWTSecret enables bearer auth on the API when set.
	JWTSecret string
	Logger    *logrus.Logger
}

// Handler wires HTTP routes to the media storage and its pending queue.
type Handler struct {
	media  *media.Storage
	queue  *pending.Queue
	cfg    Config
	logger *logrus.Logger
}

func NewHandler(store *media.Storage, queue *pending.Queue, cfg Config) *Handler {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Handler{
		media:  store,
		queue:  queue,
		cfg:    cfg,
		logger: cfg.Logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	if h.cfg.MediaRoot != "" {
		router.StaticFS("/media", afero.NewHttpFs(h.cfg.Fs).Dir(h.cfg.MediaRoot))
	}

	router.GET("/api/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
	})

	api := router.Group("/api")
	if h.cfg.JWTSecret != "" {
		api.Use(authMiddleware([]byte(h.cfg.JWTSecret)))
	}
	{
		api.PUT("/media/*name", h.saveMedia)
		api.DELETE("/media/*name", h.deleteMedia)
		api.GET("/media-url/*name", h.mediaURL)
		api.GET("/pending", h.listPending)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func authMiddleware(secret []byte) gin.HandlerFunc {
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		if _, err := jwt.Parse(strings.TrimSpace(raw), keyFunc, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

type MediaResponse struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type PendingResponse struct {
	Uploads []PendingUpload `json:"uploads"`
	Deletes []string        `json:"deletes"`
}

type PendingUpload struct {
	Key string `json:"key"`
	Rev int64  `json:"rev"`
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, media.ErrInvalidName) {
		status = http.StatusBadRequest
	} else {
		h.logger.WithError(err).WithField("path", c.Request.URL.Path).Error("Request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *Handler) saveMedia(c *gin.Context) {
	name, err := h.media.Save(c.Request.Context(), c.Param("name"), c.Request.Body)
	if err != nil {
		h.fail(c, err)
		return
	}

	url, err := h.media.URL(c.Request.Context(), name)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, MediaResponse{Name: name, URL: url})
}

func (h *Handler) deleteMedia(c *gin.Context) {
	name, err := media.Clean(c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.media.Delete(c.Request.Context(), name); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": name})
}

func (h *Handler) mediaURL(c *gin.Context) {
	name, err := media.Clean(c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	exists, err := h.media.Exists(name)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "media not found"})
		return
	}
	url, err := h.media.URL(c.Request.Context(), name)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, MediaResponse{Name: name, URL: url})
}

func (h *Handler) listPending(c *gin.Context) {
	uploads, deletes, err := h.queue.Snapshot(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := PendingResponse{
		Uploads: make([]PendingUpload, len(uploads)),
		Deletes: deletes,
	}
	if resp.Deletes == nil {
		resp.Deletes = []string{}
	}
	for i, entry := range uploads {
		resp.Uploads[i] = PendingUpload{Key: entry.Key, Rev: entry.Rev}
	}
	c.JSON(http.StatusOK, resp)
}
