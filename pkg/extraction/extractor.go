package extraction

import (
	"context"
	"fmt"
	"mime"
	"strings"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/credential-eval-api/pkg/errors"
)

// Method names the strategy that produced the text.
type Method string

const (
	MethodPDFText   Method = "pdf-text"
	MethodPDFOCR    Method = "pdf-ocr"
	MethodImageOCR  Method = "image-ocr"
	MethodPlainText Method = "plain-text"
)

// Config tunes the OCR fallback.
type Config struct {
	Pdftoppm  string
	Tesseract string
	Language  string
	DPI       int
	Timeout   time.Duration
	TempDir   string
}

// Result is the outcome of a successful extraction.
type Result struct {
	Text     string
	Method   Method
	Duration time.Duration
}

// Extractor turns document bytes into raw text.
type Extractor struct {
	cfg      Config
	runner   Runner
	observer CommandObserver
	parsePDF func([]byte) (string, error)
	logger   *zap.Logger
}

// Option customises an Extractor.
type Option func(*Extractor)

// WithRunner swaps the external command runner.
func WithRunner(r Runner) Option {
	return func(e *Extractor) {
		if r != nil {
			e.runner = r
		}
	}
}

// WithCommandObserver reports the duration and outcome of every OCR command.
func WithCommandObserver(fn CommandObserver) Option {
	return func(e *Extractor) {
		e.observer = fn
	}
}

// WithPDFParser swaps the primary PDF text parser.
func WithPDFParser(fn func([]byte) (string, error)) Option {
	return func(e *Extractor) {
		if fn != nil {
			e.parsePDF = fn
		}
	}
}

// NewExtractor builds an extractor with defaults for missing settings.
func NewExtractor(cfg Config, logger *zap.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	e := &Extractor{
		cfg:      cfg,
		runner:   execRunner{logger: logger},
		parsePDF: parsePDFText,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.runner = observedRunner{next: e.runner, observe: e.observer, logger: logger}
	return e
}

// Supported reports whether mediaType has an extraction strategy.
func Supported(mediaType string) bool {
	switch canonical(mediaType) {
	case "application/pdf", "image/jpeg", "image/png", "text/plain":
		return true
	default:
		return false
	}
}

// Extract dispatches on the declared media type. PDFs fall back to OCR of the
// first page when the text layer is unreadable or blank; when both fail the
// returned error carries both causes.
func (e *Extractor) Extract(ctx context.Context, data []byte, mediaType string) (Result, error) {
	start := time.Now()
	mt := canonical(mediaType)

	var (
		res Result
		err error
	)
	switch mt {
	case "application/pdf":
		res, err = e.extractPDF(ctx, data)
	case "image/jpeg":
		res, err = e.extractImage(ctx, data, ".jpg")
	case "image/png":
		res, err = e.extractImage(ctx, data, ".png")
	case "text/plain":
		res, err = e.extractPlain(data)
	default:
		return Result{}, appErrors.Clone(appErrors.ErrUnsupportedMediaType, fmt.Sprintf("unsupported media type %q", mediaType))
	}
	if err != nil {
		e.logger.Sugar().Warnw("text extraction failed", "media_type", mt, "error", err)
		return Result{}, err
	}

	res.Duration = time.Since(start)
	e.logger.Sugar().Debugw("text extracted", "media_type", mt, "method", res.Method, "chars", len(res.Text), "duration_ms", res.Duration.Milliseconds())
	return res, nil
}

func (e *Extractor) extractPDF(ctx context.Context, data []byte) (Result, error) {
	text, primaryErr := e.parsePDF(data)
	if primaryErr == nil {
		text = normalize(text)
		if text != "" {
			return Result{Text: text, Method: MethodPDFText}, nil
		}
		primaryErr = ErrNoText
	}
	e.logger.Sugar().Infow("pdf text layer unusable, falling back to ocr", "error", primaryErr)

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	text, fallbackErr := e.ocrPDF(ctx, data)
	if fallbackErr != nil {
		return Result{}, appErrors.NewExtractionFailure(primaryErr, fallbackErr)
	}
	return Result{Text: text, Method: MethodPDFOCR}, nil
}

func (e *Extractor) extractImage(ctx context.Context, data []byte, ext string) (Result, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	text, err := e.ocrImage(ctx, data, ext)
	if err != nil {
		return Result{}, appErrors.NewExtractionFailure(err, nil)
	}
	return Result{Text: text, Method: MethodImageOCR}, nil
}

func (e *Extractor) extractPlain(data []byte) (Result, error) {
	text, err := decodeText(data)
	if err != nil {
		return Result{}, appErrors.NewExtractionFailure(fmt.Errorf("decode text: %w", err), nil)
	}
	text = normalize(text)
	if text == "" {
		return Result{}, appErrors.NewExtractionFailure(ErrNoText, nil)
	}
	return Result{Text: text, Method: MethodPlainText}, nil
}

func (e *Extractor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.Timeout)
}

func canonical(mediaType string) string {
	mt := strings.TrimSpace(mediaType)
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	}
	mt = strings.ToLower(mt)
	if mt == "image/jpg" || mt == "image/pjpeg" {
		return "image/jpeg"
	}
	return mt
}
