package config

import (
	"sync"
	"time"
)

var (
	recognitionOnce   sync.Once
	recognitionConfig *RecognitionConfig
)

// RecognitionConfig drives backend construction and the default strategy.
type RecognitionConfig struct {
	// Provider is local, cloud or auto.
	Provider string
	// Fallback is local, cloud or empty for none.
	Fallback string

	MaxCost      float64
	MinQuality   float64
	AllowPremium bool

	CloudCostPerPage   float64
	PremiumCostPerPage float64

	// PremiumProvider is openai, gemini or empty.
	PremiumProvider string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	GeminiAPIKey    string
	GeminiModel     string
	PremiumTimeout  time.Duration

	TesseractLanguages []string
	MaxPages           int
	MaxImageWidth      int

	// VendorsFile overrides the embedded known-vendor table.
	VendorsFile string
}

func GetRecognitionConfig() *RecognitionConfig {
	recognitionOnce.Do(func() {
		loadEnv()
		recognitionConfig = &RecognitionConfig{
			Provider:           getString("RECOGNITION_PROVIDER", "auto"),
			Fallback:           getString("RECOGNITION_FALLBACK", "local"),
			MaxCost:            getFloat("RECOGNITION_MAX_COST", 10),
			MinQuality:         getFloat("RECOGNITION_MIN_QUALITY", 70),
			AllowPremium:       getBool("RECOGNITION_ALLOW_PREMIUM", false),
			CloudCostPerPage:   getFloat("RECOGNITION_CLOUD_COST_PER_PAGE", 1.5),
			PremiumCostPerPage: getFloat("RECOGNITION_PREMIUM_COST_PER_PAGE", 4),
			PremiumProvider:    getString("PREMIUM_PROVIDER", ""),
			OpenAIAPIKey:       getString("OPENAI_API_KEY", ""),
			OpenAIBaseURL:      getString("OPENAI_BASE_URL", ""),
			OpenAIModel:        getString("OPENAI_MODEL", "gpt-4o-mini"),
			GeminiAPIKey:       getString("GEMINI_API_KEY", ""),
			GeminiModel:        getString("GEMINI_MODEL", "gemini-1.5-flash"),
			PremiumTimeout:     getDuration("PREMIUM_TIMEOUT", 2*time.Minute),
			TesseractLanguages: getList("TESSERACT_LANGUAGES", []string{"eng"}),
			MaxPages:           getInt("RECOGNITION_MAX_PAGES", 10),
			MaxImageWidth:      getInt("RECOGNITION_MAX_IMAGE_WIDTH", 2000),
			VendorsFile:        getString("VENDORS_FILE", ""),
		}
	})
	return recognitionConfig
}
