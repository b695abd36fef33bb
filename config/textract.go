package config

import (
	"sync"
	"time"
)

var (
	textractOnce   sync.Once
	textractConfig *TextractConfig
)

type TextractConfig struct {
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	MinConfidence float64
	Timeout       time.Duration
}

// HasCredentials reports whether a cloud backend can be built at all.
func (c *TextractConfig) HasCredentials() bool {
	return c.AccessKey != "" && c.SecretKey != ""
}

func GetTextractConfig() *TextractConfig {
	textractOnce.Do(func() {
		loadEnv()
		textractConfig = &TextractConfig{
			Region:        getString("AWS_REGION", "us-east-1"),
			Endpoint:      getString("AWS_TEXTRACT_ENDPOINT", ""),
			AccessKey:     getString("AWS_ACCESS_KEY", ""),
			SecretKey:     getString("AWS_SECRET_KEY", ""),
			MinConfidence: getFloat("TEXTRACT_MIN_CONFIDENCE", 50),
			Timeout:       getDuration("TEXTRACT_TIMEOUT", 60*time.Second),
		}
	})
	return textractConfig
}
