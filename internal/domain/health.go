package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// AppMetrics is returned by GET /v1/metrics/app.
type AppMetrics struct {
	TransactionsCreated float64 `json:"transactionsCreated"`
	TransactionsDeleted float64 `json:"transactionsDeleted"`
	StatisticsComputed  float64 `json:"statisticsComputed"`
	PhotosUploaded      float64 `json:"photosUploaded"`
	BlobErrors          float64 `json:"blobErrors"`
	LoginFailures       float64 `json:"loginFailures"`
}
