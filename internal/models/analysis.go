package models

const (
	MaxKeySentences         = 10
	MaxKeywords             = 10
	MaxEconomicImplications = 5
)

// AnalysisResult holds the four fields parsed from one provider reply.
type AnalysisResult struct {
	KeySentences         []string `json:"key_sentences"`
	Summary              string   `json:"summary"`
	Keywords             []string `json:"keywords"`
	EconomicImplications []string `json:"economic_implications"`
}

// Report is what the handlers render for a completed analysis.
type Report struct {
	FileName    string `json:"filename"`
	TextLength  int    `json:"text_length"`
	TextPreview string `json:"text_preview"`
	Provider    string `json:"provider"`
	AnalysisResult
}
