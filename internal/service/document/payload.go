package document

import (
	"github.com/feichai0017/document-recognizer/internal/models"
	"github.com/feichai0017/document-recognizer/internal/service/recognition"
)

// TaskOptions are the per-request overrides of the configured recognition
// defaults. Nil fields keep the default.
type TaskOptions struct {
	Provider     models.BackendKind `json:"provider,omitempty"`
	MaxCost      *float64           `json:"maxCost,omitempty"`
	MinQuality   *float64           `json:"minQuality,omitempty"`
	AllowPremium *bool              `json:"allowPremium,omitempty"`
	Validate     *bool              `json:"validate,omitempty"`
	Preprocess   *bool              `json:"preprocess,omitempty"`
}

func (o TaskOptions) apply(def recognition.Options) recognition.Options {
	out := def
	if o.Provider != "" {
		out.ForceProvider = o.Provider
	}
	if o.MaxCost != nil {
		out.MaxCost = *o.MaxCost
	}
	if o.MinQuality != nil {
		out.MinQuality = *o.MinQuality
	}
	if o.AllowPremium != nil {
		out.AllowPremium = *o.AllowPremium
	}
	if o.Validate != nil {
		out.Validate = *o.Validate
	}
	return out
}

// StoredFile points at an upload in object storage.
type StoredFile struct {
	Key  string `json:"key"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// RecognizePayload is the body of a document:recognize task.
type RecognizePayload struct {
	File    StoredFile  `json:"file"`
	Options TaskOptions `json:"options"`
}

// BatchPayload is the body of a batch:recognize task.
type BatchPayload struct {
	Files   []StoredFile `json:"files"`
	Options TaskOptions  `json:"options"`
}

// UsageReport is the live usage snapshot with the persisted history behind it.
type UsageReport struct {
	Current models.UsageSnapshot   `json:"current"`
	History []models.UsageSnapshot `json:"history"`
}
