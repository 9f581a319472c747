package domain

import "time"

// UploadResult describes an artifact persisted to object storage.
type UploadResult struct {
	URL        string
	Key        string
	Bucket     string
	UploadedAt time.Time
}

// Metadata describes the delivered image.
type Metadata struct {
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	SizeBytes     int       `json:"size_bytes"`
	ContentType   string    `json:"content_type"`
	Scale         float64   `json:"scale"`
	GeneratedAt   time.Time `json:"generated_at"`
	StorageKey    string    `json:"storage_key,omitempty"`
	StorageBucket string    `json:"storage_bucket,omitempty"`
}

// Result is the caller-facing outcome of a successful generate call.
// URL and Base64 are nil when the delivery mode does not carry them.
type Result struct {
	Success  bool     `json:"success"`
	URL      *string  `json:"url"`
	Base64   *string  `json:"base64"`
	Metadata Metadata `json:"metadata"`
}

// Health reports component readiness without performing a render.
// StorageConfigured separates "no bucket set up" from "bucket unreachable".
type Health struct {
	Renderer          bool `json:"renderer"`
	Storage           bool `json:"storage"`
	StorageConfigured bool `json:"storage_configured"`
}
