// Package types defines the normalized request/response model shared by the
// enrichment core: operations, the error taxonomy, canonical output records
// and the durable job model. Every component boundary speaks these types;
// provider-specific wire shapes never cross out of a provider package.
package types

import (
	"encoding/json"
	"time"
)

// Operation is a normalized provider action.
type Operation string

const (
	OpFindEmail             Operation = "find-email"
	OpEnrichPerson          Operation = "enrich-person"
	OpEnrichCompany         Operation = "enrich-company"
	OpSearchPeople          Operation = "search-people"
	OpSearchCompanies       Operation = "search-companies"
	OpFindLookalike         Operation = "find-lookalike"
	OpCheckEnrichmentStatus Operation = "check-enrichment-status"
)

// Operations lists every recognized operation.
var Operations = []Operation{
	OpFindEmail,
	OpEnrichPerson,
	OpEnrichCompany,
	OpSearchPeople,
	OpSearchCompanies,
	OpFindLookalike,
	OpCheckEnrichmentStatus,
}

// Valid reports whether op is a recognized operation.
func (op Operation) Valid() bool {
	for _, o := range Operations {
		if o == op {
			return true
		}
	}
	return false
}

// Category groups providers by the kind of data they sell.
type Category string

const (
	CategoryMajorDatabase       Category = "major-database"
	CategoryEmailFinder         Category = "email-finder"
	CategoryCompanyIntelligence Category = "company-intelligence"
	CategoryAIResearch          Category = "ai-research"
	CategorySocialEnrichment    Category = "social-enrichment"
	CategoryVerification        Category = "verification"
	CategoryCompanyData         Category = "company-data"
)

// ProviderDescriptor is the static configuration for one provider,
// loaded from the providers table at startup.
type ProviderDescriptor struct {
	ID                  string            `json:"id"`
	DisplayName         string            `json:"display_name"`
	Category            Category          `json:"category"`
	BaseURL             string            `json:"base_url"`
	RateLimitRPS        float64           `json:"rate_limit_rps"`
	BurstSize           int               `json:"burst_size"`
	MaxConcurrent       int               `json:"max_concurrent"`
	DailyQuota          int               `json:"daily_quota"`
	SupportedOperations []Operation       `json:"supported_operations"`
	// CachePerTenant marks providers whose responses depend on the calling
	// key; their cache entries are scoped by tenant.
	CachePerTenant bool              `json:"cache_per_tenant,omitempty"`
	Config         map[string]string `json:"config,omitempty"`
}

// Supports reports whether the descriptor lists op.
func (d ProviderDescriptor) Supports(op Operation) bool {
	for _, o := range d.SupportedOperations {
		if o == op {
			return true
		}
	}
	return false
}

// RequestOptions carries caller overrides for a single dispatch.
type RequestOptions struct {
	// TimeoutMS bounds the whole dispatch including rate-limiter waits,
	// retries and async polling. Zero means the 30 s default.
	TimeoutMS int `json:"timeout_ms,omitempty"`
	// Retries is the maximum number of dispatch attempts. Zero means the
	// default of 3.
	Retries    int    `json:"retries,omitempty"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

// Timeout returns the effective request timeout.
func (o RequestOptions) Timeout() time.Duration {
	if o.TimeoutMS <= 0 {
		return DefaultRequestTimeout
	}
	return time.Duration(o.TimeoutMS) * time.Millisecond
}

// DefaultRequestTimeout bounds a single dispatch end to end.
const DefaultRequestTimeout = 30 * time.Second

// Request is a normalized provider request.
type Request struct {
	Operation Operation              `json:"operation"`
	Params    map[string]interface{} `json:"params"`
	Options   RequestOptions         `json:"options,omitempty"`
}

// Metadata accompanies every response, success or failure.
type Metadata struct {
	Provider       string    `json:"provider"`
	Operation      Operation `json:"operation"`
	CreditsUsed    int       `json:"credits_used"`
	ResponseTimeMS int64     `json:"response_time_ms"`
	RequestID      string    `json:"request_id"`
}

// Response is a normalized provider response. Exactly one of Data and Error
// is populated; Metadata always is.
type Response struct {
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    *Error          `json:"error,omitempty"`
	Metadata Metadata        `json:"metadata"`

	// Async carries the pending-enrichment handle for providers whose
	// initial call returns an enrichment id instead of a payload. It is
	// consumed by the dispatcher's poller and never serialized outward.
	Async *AsyncEnrichment `json:"-"`
}

// AsyncEnrichment is the handle an asynchronous provider hands back to be
// polled until a terminal state.
type AsyncEnrichment struct {
	EnrichmentID string          `json:"enrichment_id"`
	Status       EnrichmentState `json:"status"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// EnrichmentState is an async provider's job state.
type EnrichmentState string

const (
	EnrichmentPending    EnrichmentState = "PENDING"
	EnrichmentInProgress EnrichmentState = "IN_PROGRESS"
	EnrichmentCompleted  EnrichmentState = "COMPLETED"
	EnrichmentFailed     EnrichmentState = "FAILED"
)

// Terminal reports whether the state will no longer change.
func (s EnrichmentState) Terminal() bool {
	return s == EnrichmentCompleted || s == EnrichmentFailed
}

// Person is the canonical normalized person record.
type Person struct {
	FirstName     string                 `json:"first_name,omitempty"`
	LastName      string                 `json:"last_name,omitempty"`
	FullName      string                 `json:"full_name,omitempty"`
	Email         string                 `json:"email,omitempty"`
	Phone         string                 `json:"phone,omitempty"`
	Title         string                 `json:"title,omitempty"`
	Company       string                 `json:"company,omitempty"`
	CompanyDomain string                 `json:"company_domain,omitempty"`
	LinkedInURL   string                 `json:"linkedin_url,omitempty"`
	Location      string                 `json:"location,omitempty"`
	Additional    map[string]interface{} `json:"additional,omitempty"`
}

// Company is the canonical normalized company record.
type Company struct {
	Name         string                 `json:"name"`
	Domain       string                 `json:"domain"`
	Description  string                 `json:"description,omitempty"`
	Industry     string                 `json:"industry,omitempty"`
	Size         string                 `json:"size,omitempty"`
	Location     string                 `json:"location,omitempty"`
	LinkedInURL  string                 `json:"linkedin_url,omitempty"`
	Technologies []string               `json:"technologies,omitempty"`
	Additional   map[string]interface{} `json:"additional,omitempty"`
}

// EmailResult is the canonical find-email payload.
type EmailResult struct {
	Email      string                 `json:"email"`
	Confidence float64                `json:"confidence,omitempty"`
	Verified   bool                   `json:"verified,omitempty"`
	Additional map[string]interface{} `json:"additional,omitempty"`
}

// JobStatus is the lifecycle state of a bulk job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job is the durable record of one bulk enrichment request.
type Job struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id"`
	ProviderID    string          `json:"provider_id"`
	Operation     Operation       `json:"operation"`
	Status        JobStatus       `json:"status"`
	Total         int             `json:"total"`
	Processed     int             `json:"processed"`
	Successful    int             `json:"successful"`
	Failed        int             `json:"failed"`
	InputSnapshot json.RawMessage `json:"input_snapshot,omitempty"`
	Output        json.RawMessage `json:"output,omitempty"`
	Options       RequestOptions  `json:"options,omitempty"`
	ErrorDetails  string          `json:"error_details,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// JobLog is one append-only diagnostic entry for a job.
type JobLog struct {
	JobID   string    `json:"job_id"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
	TS      time.Time `json:"ts"`
}

// Progress is the per-job progress event emitted to subscribers.
type Progress struct {
	JobID      string    `json:"job_id"`
	TenantID   string    `json:"tenant_id"`
	Status     JobStatus `json:"status"`
	Total      int       `json:"total"`
	Processed  int       `json:"processed"`
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	Pct        float64   `json:"pct"`
}

// Usage is one api_usage analytics row.
type Usage struct {
	TenantID       string    `json:"tenant_id"`
	ProviderID     string    `json:"provider_id"`
	Endpoint       string    `json:"endpoint"`
	StatusCode     int       `json:"status_code"`
	ResponseTimeMS int64     `json:"response_time_ms"`
	CreditsUsed    int       `json:"credits_used"`
	TS             time.Time `json:"ts"`
}
