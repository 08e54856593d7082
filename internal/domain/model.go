package domain

import "time"

// Core domain models. Wire formats of the registry live in internal/registry;
// keep these decoupled from them.

// Dataset names one logical cache table. TTL policy is chosen per dataset by
// the calling service.
type Dataset string

const (
	DatasetIdentity   Dataset = "identity"
	DatasetDocuments  Dataset = "documents"
	DatasetFinancials Dataset = "financials"
)

// CompanyIdentity is the registry snapshot for one organisation. OrgNumber is
// the immutable natural key; the rest may change between snapshots.
type CompanyIdentity struct {
	OrgNumber           OrgNumber  `json:"orgNumber"`
	Name                string     `json:"name"`
	LegalFormCode       string     `json:"legalFormCode,omitempty"`
	LegalForm           string     `json:"legalForm,omitempty"`
	RegisteredOn        *time.Time `json:"registeredOn,omitempty"`
	DeregisteredOn      *time.Time `json:"deregisteredOn,omitempty"`
	Address             Address    `json:"address"`
	Status              string     `json:"status"`
	BusinessDescription string     `json:"businessDescription,omitempty"`
}

// Company status values derived from the registry snapshot.
const (
	StatusActive       = "active"
	StatusInactive     = "inactive"
	StatusDeregistered = "deregistered"
	StatusLiquidation  = "in_liquidation"
)

type Address struct {
	Street     string `json:"street,omitempty"`
	CareOf     string `json:"careOf,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	City       string `json:"city,omitempty"`
	Country    string `json:"country,omitempty"`
}

// DocumentDescriptor describes one filed document. Immutable once fetched.
type DocumentDescriptor struct {
	DocumentID   string     `json:"documentId"`
	Format       string     `json:"format"`
	PeriodEnd    *time.Time `json:"periodEnd,omitempty"`
	RegisteredAt *time.Time `json:"registeredAt,omitempty"`
}

// CachedEntry wraps a cached payload. A nil ExpiresAt never expires.
// HitCount is informational only.
type CachedEntry[T any] struct {
	Dataset    Dataset    `json:"dataset"`
	Key        string     `json:"key"`
	Payload    T          `json:"payload"`
	FetchedAt  time.Time  `json:"fetchedAt"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	HitCount   int64      `json:"hitCount"`
	FetchCount int64      `json:"fetchCount"`
}

// Fresh reports whether the entry may be served at now. A read at or past
// ExpiresAt is a miss.
func (e CachedEntry[T]) Fresh(now time.Time) bool {
	return e.ExpiresAt == nil || now.Before(*e.ExpiresAt)
}

// AccessToken is a bearer credential for the registry API.
type AccessToken struct {
	Value     string    `json:"-"`
	Scope     string    `json:"scope,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Usable reports whether more than margin remains before expiry.
func (t AccessToken) Usable(now time.Time, margin time.Duration) bool {
	return t.Value != "" && t.ExpiresAt.Sub(now) > margin
}

// BreakerState is the circuit breaker state machine position.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitState is a point-in-time copy of one breaker's counters.
type CircuitState struct {
	Name          string       `json:"name"`
	State         BreakerState `json:"-"`
	StateName     string       `json:"state"`
	FailureCount  int          `json:"failureCount"`
	SuccessCount  int          `json:"successCount"`
	OpenedAt      *time.Time   `json:"openedAt,omitempty"`
	LastFailureAt *time.Time   `json:"lastFailureAt,omitempty"`
}

// RateBudget is a point-in-time view of a limiter. Tokens is continuous.
type RateBudget struct {
	Name             string    `json:"name"`
	Tokens           float64   `json:"tokens"`
	At               time.Time `json:"at"`
	RecentAdmissions int       `json:"recentAdmissions"`
}

// RequestLogEntry is appended for every orchestration-level operation. It is
// analytics only and never read back into control flow.
type RequestLogEntry struct {
	Endpoint      string    `json:"endpoint"`
	Method        string    `json:"method"`
	SubjectKey    string    `json:"subjectKey"`
	StatusCode    int       `json:"statusCode"`
	DurationMs    int64     `json:"durationMs"`
	CacheHit      bool      `json:"cacheHit"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// ReplicaCompany is one row of the locally replicated bulk registry dataset
// used for name search.
type ReplicaCompany struct {
	OrgNumber           string     `json:"orgNumber"`
	NameProtectionSeq   string     `json:"nameProtectionSeq,omitempty"`
	RegistrationCountry string     `json:"registrationCountry,omitempty"`
	Name                string     `json:"name"`
	LegalForm           string     `json:"legalForm,omitempty"`
	DeregisteredOn      *time.Time `json:"deregisteredOn,omitempty"`
	DeregistrationCause string     `json:"deregistrationCause,omitempty"`
	OngoingProceedings  string     `json:"ongoingProceedings,omitempty"`
	RegisteredOn        *time.Time `json:"registeredOn,omitempty"`
	BusinessDescription string     `json:"businessDescription,omitempty"`
	PostalAddress       string     `json:"postalAddress,omitempty"`
}

// Prefetch job states.
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// PrefetchJob warms the financial-statement cache for one company and year.
type PrefetchJob struct {
	ID         string     `json:"id"`
	OrgNumber  OrgNumber  `json:"orgNumber"`
	Year       int        `json:"year"`
	Status     string     `json:"status"`
	Attempts   int        `json:"attempts"`
	LastError  string     `json:"lastError,omitempty"`
	QueuedAt   time.Time  `json:"queuedAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}
