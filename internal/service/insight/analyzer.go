// Package insight asks an LLM provider for the four-part document analysis
// and splits its reply into fields.
package insight

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"docinsight/internal/logger"
	"docinsight/internal/models"
	"docinsight/internal/service/ai"
)

var (
	ErrEmptyText           = errors.New("document has no extractable text")
	ErrProviderUnavailable = errors.New("ai provider unavailable")
	ErrUnparsableResponse  = errors.New("ai response could not be parsed")
)

const (
	DefaultMaxInputChars = 12000
	DefaultLanguage      = "Korean"
)

// Options tunes an Analyzer. Zero values fall back to defaults.
type Options struct {
	Timeout       time.Duration
	Language      string
	MaxInputChars int
	Logger        *logger.Logger
}

// Analyzer runs the single-call analysis against one provider.
type Analyzer struct {
	provider      ai.Provider
	timeout       time.Duration
	language      string
	maxInputChars int
	log           *logger.Logger
}

// New constructs an Analyzer.
func New(provider ai.Provider, opts Options) *Analyzer {
	if opts.Language == "" {
		opts.Language = DefaultLanguage
	}
	if opts.MaxInputChars <= 0 {
		opts.MaxInputChars = DefaultMaxInputChars
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Analyzer{
		provider:      provider,
		timeout:       opts.Timeout,
		language:      opts.Language,
		maxInputChars: opts.MaxInputChars,
		log:           opts.Logger.WithComponent("insight"),
	}
}

// ProviderName reports which provider answers the analysis.
func (a *Analyzer) ProviderName() string {
	return a.provider.Name()
}

// Analyze sends text to the provider and parses the reply.
//
// When the reply lacks the section labels, the returned result holds the raw
// reply in Summary with the lists empty, alongside ErrUnparsableResponse.
func (a *Analyzer) Analyze(ctx context.Context, text string) (*models.AnalysisResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	started := time.Now()
	reply, err := a.provider.Complete(ctx, systemPrompt(a.language), userPrompt(truncate(text, a.maxInputChars)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	a.log.Debug().
		Str("provider", a.provider.Name()).
		Dur("elapsed", time.Since(started)).
		Int("reply_chars", len(reply)).
		Msg("provider replied")

	result, ok := parseReply(reply)
	if !ok {
		return &models.AnalysisResult{
			KeySentences:         []string{},
			Summary:              strings.TrimSpace(reply),
			Keywords:             []string{},
			EconomicImplications: []string{},
		}, ErrUnparsableResponse
	}
	return result, nil
}

// truncate keeps at most limit runes of text and marks the cut.
func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "\n\n... (truncated)"
}
