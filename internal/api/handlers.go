package api

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"docinsight/internal/extractor"
	"docinsight/internal/logger"
	"docinsight/internal/models"
	"docinsight/internal/ratelimit"
	"docinsight/internal/uploads"
)

//go:embed web/templates/*.html web/static/*
var assets embed.FS

const (
	defaultMaxUploadBytes = 20 << 20
	multipartOverhead     = 1 << 20
	sniffLength           = 3072
	usageListLimit        = 50
	healthPingTimeout     = 2 * time.Second
)

// Extractor turns a stored upload into plain text.
type Extractor interface {
	ExtractFile(ctx context.Context, path string, format models.Format) (string, error)
}

// Analyzer produces the four-part analysis of extracted text.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (*models.AnalysisResult, error)
	ProviderName() string
}

// UsageRecorder persists request metadata. Optional.
type UsageRecorder interface {
	Record(ctx context.Context, rec *models.UsageRecord) error
	Recent(ctx context.Context, limit int) ([]models.UsageRecord, error)
}

// Pinger reports whether a backing service answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options carries the optional collaborators of a Handler. Redis, when set,
// is pinged by the health endpoint.
type Options struct {
	Usage          UsageRecorder
	Limiter        ratelimit.Limiter
	Redis          Pinger
	MaxUploadBytes int64
	Logger         *logger.Logger
}

// Handler wires HTTP routes to extraction and analysis.
type Handler struct {
	extractor      Extractor
	analyzer       Analyzer
	store          *uploads.Store
	usage          UsageRecorder
	limiter        ratelimit.Limiter
	redis          Pinger
	maxUploadBytes int64
	log            *logger.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(ex Extractor, analyzer Analyzer, store *uploads.Store, opts Options) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Handler{
		extractor:      ex,
		analyzer:       analyzer,
		store:          store,
		usage:          opts.Usage,
		limiter:        opts.Limiter,
		redis:          opts.Redis,
		maxUploadBytes: opts.MaxUploadBytes,
		log:            opts.Logger.WithComponent("api"),
	}
}

// RegisterRoutes attaches all HTTP routes and page assets to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	tmpl := template.Must(template.New("").ParseFS(assets, "web/templates/*.html"))
	router.SetHTMLTemplate(tmpl)
	static, _ := fs.Sub(assets, "web/static")
	router.StaticFS("/static", http.FS(static))

	router.GET("/", h.index)
	router.POST("/analyze", h.rateLimit(h.renderPageError), h.analyzePage)
	router.GET("/healthz", h.health)

	api := router.Group("/api")
	api.POST("/analyze", h.rateLimit(h.renderJSONError), h.analyzeAPI)
	api.GET("/usage", h.listUsage)
}

type pageData struct {
	Error       string
	Report      *models.Report
	Provider    string
	MaxUploadMB int64
}

func (h *Handler) page() pageData {
	return pageData{Provider: h.analyzer.ProviderName(), MaxUploadMB: h.maxUploadBytes >> 20}
}

func (h *Handler) index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", h.page())
}

func (h *Handler) analyzePage(c *gin.Context) {
	report, err := h.process(c)
	if err != nil {
		h.renderPageError(c, err)
		return
	}
	data := h.page()
	data.Report = report
	c.HTML(http.StatusOK, "index.html", data)
}

func (h *Handler) analyzeAPI(c *gin.Context) {
	report, err := h.process(c)
	if err != nil {
		h.renderJSONError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) health(c *gin.Context) {
	body := gin.H{"status": "ok", "provider": h.analyzer.ProviderName()}
	if h.redis == nil {
		c.JSON(http.StatusOK, body)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthPingTimeout)
	defer cancel()
	if err := h.redis.Ping(ctx); err != nil {
		h.requestLog(c).Warn().Err(err).Msg("redis ping failed")
		body["status"] = "degraded"
		body["redis"] = "unreachable"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	body["redis"] = "ok"
	c.JSON(http.StatusOK, body)
}

func (h *Handler) listUsage(c *gin.Context) {
	if h.usage == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "usage log is disabled", "code": "not_found"})
		return
	}
	limit := usageListLimit
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit", "code": "invalid_request"})
			return
		}
		limit = min(parsed, usageListLimit)
	}
	records, err := h.usage.Recent(c.Request.Context(), limit)
	if err != nil {
		h.requestLog(c).Error().Err(err).Msg("list usage")
		h.renderJSONError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (h *Handler) renderPageError(c *gin.Context, err error) {
	apiErr := classify(err)
	data := h.page()
	data.Error = apiErr.Message
	c.HTML(apiErr.Status, "index.html", data)
}

func (h *Handler) renderJSONError(c *gin.Context, err error) {
	apiErr := classify(err)
	c.JSON(apiErr.Status, apiErr)
}

// process runs upload, extraction and analysis for one request. The stored
// upload is removed before it returns, on every path.
func (h *Handler) process(c *gin.Context) (report *models.Report, err error) {
	started := time.Now()
	log := h.requestLog(c)
	doc := &models.Document{ReceivedAt: started.UTC()}
	textLength := 0

	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = classify(err).Code
			log.Warn().Err(err).Str("file", doc.FileName).Str("outcome", outcome).Msg("analysis failed")
		}
		h.recordUsage(c, doc, textLength, outcome, time.Since(started))
	}()

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)
	header, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, errFileTooLarge
		}
		return nil, errMissingFile
	}
	doc.FileName = filepath.Base(header.Filename)
	doc.Size = header.Size
	if header.Size > h.maxUploadBytes {
		return nil, errFileTooLarge
	}

	format, err := extractor.ParseFormat(doc.FileName)
	if err != nil {
		return nil, err
	}
	doc.Format = format

	path, err := h.storeUpload(header, doc)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rmErr := h.store.Remove(path); rmErr != nil {
			log.Warn().Err(rmErr).Str("path", path).Msg("remove upload failed")
		}
	}()

	ctx := c.Request.Context()
	text, err := h.extractor.ExtractFile(ctx, path, format)
	if err != nil {
		return nil, err
	}
	textLength = utf8.RuneCountInString(text)

	result, err := h.analyzer.Analyze(ctx, text)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("file", doc.FileName).
		Str("format", string(format)).
		Int("text_length", textLength).
		Dur("elapsed", time.Since(started)).
		Msg("analysis completed")

	return &models.Report{
		FileName:       doc.FileName,
		TextLength:     textLength,
		TextPreview:    models.Preview(text),
		Provider:       h.analyzer.ProviderName(),
		AnalysisResult: *result,
	}, nil
}

// storeUpload sniffs the upload and writes it to the temp store.
func (h *Handler) storeUpload(header *multipart.FileHeader, doc *models.Document) (string, error) {
	f, err := header.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	head := make([]byte, sniffLength)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", err
	}
	head = head[:n]

	mt := mimetype.Detect(head)
	doc.MimeType = mt.String()
	if !matchesFormat(mt, doc.Format) {
		return "", extractor.ErrCorruptDocument
	}

	path, err := h.store.Save(io.MultiReader(bytes.NewReader(head), f), doc.Format)
	if err != nil {
		return "", err
	}
	doc.StoredPath = path
	return path, nil
}

// matchesFormat reports whether the sniffed type is, or derives from, the
// container the format requires.
func matchesFormat(mt *mimetype.MIME, format models.Format) bool {
	want := "application/pdf"
	if format == models.FormatDOCX {
		want = "application/zip"
	}
	for m := mt; m != nil; m = m.Parent() {
		if m.Is(want) {
			return true
		}
	}
	return false
}

func (h *Handler) recordUsage(c *gin.Context, doc *models.Document, textLength int, outcome string, elapsed time.Duration) {
	if h.usage == nil {
		return
	}
	rec := &models.UsageRecord{
		RequestID:  RequestIDFromContext(c),
		FileName:   doc.FileName,
		Format:     doc.Format,
		TextLength: textLength,
		Provider:   h.analyzer.ProviderName(),
		Outcome:    outcome,
		DurationMS: elapsed.Milliseconds(),
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 5*time.Second)
	defer cancel()
	if err := h.usage.Record(ctx, rec); err != nil {
		h.requestLog(c).Error().Err(err).Msg("record usage")
	}
}
