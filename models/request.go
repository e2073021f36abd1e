package models

// ProcessRequest is the payload for POST /api/v1/process.
type ProcessRequest struct {
	// URLs is the list of pages to process. Required.
	URLs []string `json:"urls" binding:"required,min=1,max=50,dive,url"`

	// IncludeScreenshots embeds base64 PNG screenshots in the response.
	IncludeScreenshots bool `json:"include_screenshots,omitempty"`
}

// BatchRequest is the payload for POST /api/v1/batch.
type BatchRequest struct {
	URLs []string `json:"urls" binding:"required,min=1,max=200,dive,url"`

	IncludeScreenshots bool `json:"include_screenshots,omitempty"`

	// WebhookURL receives a batch.completed event when the job finishes.
	WebhookURL string `json:"webhook_url,omitempty" binding:"omitempty,url"`

	// WebhookSecret signs the webhook body with HMAC-SHA256.
	WebhookSecret string `json:"webhook_secret,omitempty"`
}
