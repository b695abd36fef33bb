package models

// BackendKind is the closed set of recognition backends.
type BackendKind string

const (
	BackendLocal BackendKind = "local"
	BackendCloud BackendKind = "cloud"
)

// Valid reports whether k names a known backend.
func (k BackendKind) Valid() bool {
	return k == BackendLocal || k == BackendCloud
}

// Source identifies the concrete engine behind a result.
type Source string

const (
	SourceNativeText Source = "native-text"
	SourceTesseract  Source = "tesseract"
	SourceTextract   Source = "textract"
	SourceOpenAI     Source = "openai"
	SourceGemini     Source = "gemini"
)

// Tier is one rung of the cost/quality ladder.
type Tier string

const (
	TierFree     Tier = "free"
	TierEconomic Tier = "economic"
	TierPremium  Tier = "premium"
)

// RecognitionResult is produced once per backend invocation and never mutated.
type RecognitionResult struct {
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
	Backend    BackendKind `json:"backend"`
	Source     Source      `json:"source"`
	ElapsedMs  int64       `json:"elapsedMs"`
	CostUnits  float64     `json:"costUnits"`
	Pages      int         `json:"pages,omitempty"`
}

// ClampConfidence bounds a confidence value to [0,100].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
