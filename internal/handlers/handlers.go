package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/optic/internal/intake"
	"github.com/example/optic/internal/logging"
	"github.com/example/optic/internal/preview"
	"github.com/example/optic/internal/render"
	"github.com/example/optic/internal/session"
	"github.com/example/optic/internal/workflow"
)

// MaxUploadSize is the default per-file limit.
const MaxUploadSize = 10 << 20

// multipartOverhead leaves room for boundaries and form fields on top of the file limit.
const multipartOverhead = 1 << 20

// DefaultWaitTimeout caps how long ?wait=true holds an analyze request open.
const DefaultWaitTimeout = 30 * time.Second

// API translates HTTP gestures into workflow events. It holds no workflow
// logic of its own.
type API struct {
	sessions    *session.Manager
	tokens      *session.Tokens
	intake      *intake.Intake
	previews    *preview.Store
	logger      *zap.Logger
	waitTimeout time.Duration
}

// NewAPI constructs the HTTP adapter.
func NewAPI(sessions *session.Manager, tokens *session.Tokens, in *intake.Intake, previews *preview.Store, logger *zap.Logger) *API {
	return &API{
		sessions:    sessions,
		tokens:      tokens,
		intake:      in,
		previews:    previews,
		logger:      logger.Named("handlers"),
		waitTimeout: DefaultWaitTimeout,
	}
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, api *API, sessionMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/api/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, api.sessions.Summary())
	})

	router.GET("/previews/:ref", api.handlePreview)
	router.POST("/api/session", api.handleCreateSession)

	group := router.Group("/api/session", sessionMiddleware)
	group.GET("", api.handleView)
	group.POST("/file", api.handleFile)
	group.POST("/analyze", api.handleAnalyze)
	group.POST("/reset", api.handleReset)
}

func (a *API) handleCreateSession(c *gin.Context) {
	s := a.sessions.Create()
	token, err := a.tokens.Issue(s.ID)
	if err != nil {
		wrapped := logging.NewOperationError("handlers.create_session", s.ID, err)
		a.logger.Error("failed to issue session token", zap.Error(wrapped))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(session.CookieName, token, int(session.DefaultTokenTTL/time.Second), "/", "", false, true)
	c.JSON(http.StatusCreated, gin.H{
		"session_id": s.ID,
		"token":      token,
		"view":       render.Render(s.Controller.State()),
	})
}

func (a *API) handleView(c *gin.Context) {
	s, ok := a.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, render.Render(s.Controller.State()))
}

func (a *API) handleFile(c *gin.Context) {
	s, ok := a.lookup(c)
	if !ok {
		return
	}
	opLogger := logging.WithOperation(a.logger, "handlers.file", s.ID)

	limit := a.intake.MaxBytes()
	if limit <= 0 {
		limit = MaxUploadSize
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)

	form, err := c.MultipartForm()
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			a.reject(c, s, http.StatusRequestEntityTooLarge, intake.ErrFileTooLarge)
			return
		}
		a.reject(c, s, http.StatusBadRequest, intake.ErrNoFile)
		return
	}

	candidates, err := readCandidates(form.File["file"], limit)
	if err != nil {
		opLogger.Warn("failed to read upload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read file"})
		return
	}

	file, err := a.intake.Accept(intake.ParseSource(c.PostForm("source")), candidates...)
	switch {
	case errors.Is(err, intake.ErrInvalidFileType):
		a.reject(c, s, http.StatusUnsupportedMediaType, err)
		return
	case errors.Is(err, intake.ErrFileTooLarge):
		a.reject(c, s, http.StatusRequestEntityTooLarge, err)
		return
	case err != nil:
		a.reject(c, s, http.StatusBadRequest, err)
		return
	}

	state, err := s.Controller.Accept(file)
	if err != nil {
		opLogger.Error("failed to accept file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to accept file"})
		return
	}
	c.JSON(http.StatusOK, render.Render(state))
}

func (a *API) handleAnalyze(c *gin.Context) {
	s, ok := a.lookup(c)
	if !ok {
		return
	}

	state, done, err := s.Controller.Analyze()
	if errors.Is(err, workflow.ErrAnalyzeNotAllowed) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "view": render.Render(state)})
		return
	}
	if err != nil {
		logging.WithOperation(a.logger, "handlers.analyze", s.ID).Error("failed to start analysis", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start analysis"})
		return
	}

	if wait, _ := strconv.ParseBool(c.Query("wait")); wait {
		timer := time.NewTimer(a.waitTimeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
		case <-c.Request.Context().Done():
		}
		state = s.Controller.State()
	}

	status := http.StatusAccepted
	if state.Phase == workflow.PhaseResolved {
		status = http.StatusOK
	}
	c.JSON(status, render.Render(state))
}

func (a *API) handleReset(c *gin.Context) {
	s, ok := a.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, render.Render(s.Controller.Reset()))
}

func (a *API) handlePreview(c *gin.Context) {
	data, mimeType, ok := a.previews.Resolve(c.Param("ref"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "preview not found"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, mimeType, data)
}

func (a *API) lookup(c *gin.Context) (*session.Session, bool) {
	id, ok := session.GetSessionID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session required"})
		return nil, false
	}
	s, err := a.sessions.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	return s, true
}

// reject answers a refused intake. The workflow is untouched, so the view
// still describes whatever was selected before.
func (a *API) reject(c *gin.Context, s *session.Session, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error(), "view": render.Render(s.Controller.State())})
}

// readCandidates reads the first file and passes the rest along unread; intake
// discards them anyway.
func readCandidates(files []*multipart.FileHeader, limit int64) ([]intake.Candidate, error) {
	candidates := make([]intake.Candidate, 0, len(files))
	for i, fh := range files {
		candidate := intake.Candidate{Name: fh.Filename, DeclaredType: fh.Header.Get("Content-Type")}
		if i == 0 {
			data, err := readFile(fh, limit)
			if err != nil {
				return nil, err
			}
			candidate.Data = data
		}
		candidates = append(candidates, candidate)
	}
	return candidates, nil
}

func readFile(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(io.LimitReader(src, limit+1))
}
