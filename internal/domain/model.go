package domain

import "time"

// Core domain models. Adapters map these to their own row/wire shapes; keep
// these free of storage concerns.

type Verdict string

const (
	VerdictSafe    Verdict = "safe"
	VerdictUnsafe  Verdict = "unsafe"
	VerdictUnknown Verdict = "unknown"
)

// Valid reports whether v may be cast as a vote.
func (v Verdict) Valid() bool { return v == VerdictSafe || v == VerdictUnsafe }

// Identifier is the canonical form of a scanned payload.
type Identifier struct {
	Raw       string `json:"raw"`
	Canonical string `json:"canonical"`
	Hash      string `json:"hash"`   // aggregation key everywhere else
	Web       bool   `json:"web"`    // false = opaque payload, never sent to the reputation provider
	Domain    string `json:"domain"` // registrable domain (eTLD+1), web identifiers only
}

type ReputationState string

const (
	ReputationComplete    ReputationState = "complete"
	ReputationPending     ReputationState = "pending"
	ReputationUnavailable ReputationState = "unavailable"
)

// Failure classifies why a reputation lookup did not complete.
type Failure string

const (
	FailureNone              Failure = ""
	FailureForbidden         Failure = "forbidden"
	FailureRateLimited       Failure = "rate_limited"
	FailureNotFound          Failure = "not_found"
	FailureNetwork           Failure = "network_failure"
	FailureMissingCredential Failure = "missing_credential"
	FailureCircuitOpen       Failure = "circuit_open"
)

type ReputationVerdict struct {
	MaliciousCount int             `json:"maliciousCount"` // malicious + suspicious
	TotalEngines   int             `json:"totalEngines"`
	IsSecure       bool            `json:"isSecure"` // meaningful only when State == complete
	SourceID       string          `json:"sourceId,omitempty"`
	ReportLink     string          `json:"reportLink,omitempty"`
	State          ReputationState `json:"state"`
	Failure        Failure         `json:"failure,omitempty"`
}

// DetectionRatio is maliciousCount/totalEngines, or 0 without engines.
func (r ReputationVerdict) DetectionRatio() float64 {
	if r.TotalEngines <= 0 {
		return 0
	}
	return float64(r.MaliciousCount) / float64(r.TotalEngines)
}

type Vote struct {
	VoterID        string    `json:"voterId"`
	IdentifierHash string    `json:"identifierHash"`
	Verdict        Verdict   `json:"verdict"`
	Timestamp      time.Time `json:"timestamp"`
}

// MinMeaningfulVotes is the vote count below which community data must not
// move a verdict.
const MinMeaningfulVotes = 3

type CommunityRating struct {
	IdentifierHash     string    `json:"identifierHash"`
	SafeCount          int       `json:"safeCount"`
	UnsafeCount        int       `json:"unsafeCount"`
	TotalCount         int       `json:"totalCount"`
	Confidence         float64   `json:"confidence"`                   // SafeCount/TotalCount, 0 when there are no votes
	WeightedConfidence float64   `json:"weightedConfidence,omitempty"` // recency weighted, 0 when not computed
	Version            int64     `json:"version"`                      // bumped on every aggregate change
	LastUpdated        time.Time `json:"lastUpdated"`
}

// HasData reports whether any vote backs the rating. A rating without votes
// is absent, not neutral.
func (c CommunityRating) HasData() bool { return c.TotalCount > 0 }

// Meaningful reports whether the rating has enough votes to influence a verdict.
func (c CommunityRating) Meaningful() bool { return c.TotalCount >= MinMeaningfulVotes }

// Recount keeps TotalCount and Confidence consistent with the raw counts.
func (c *CommunityRating) Recount() {
	c.TotalCount = c.SafeCount + c.UnsafeCount
	if c.TotalCount > 0 {
		c.Confidence = float64(c.SafeCount) / float64(c.TotalCount)
	} else {
		c.Confidence = 0
	}
}

// SafetyAssessment is produced by the combiner and never mutated afterwards.
type SafetyAssessment struct {
	Reputation *ReputationVerdict `json:"reputation,omitempty"`
	Community  *CommunityRating   `json:"community,omitempty"`
	NonWeb     bool               `json:"nonWeb,omitempty"`
	Verdict    Verdict            `json:"verdict"`
	Confidence float64            `json:"confidence"`
	Warning    string             `json:"warning,omitempty"`
}

type ScanHistoryEntry struct {
	ID           string           `json:"id"`
	Identifier   Identifier       `json:"identifier"`
	Timestamp    time.Time        `json:"timestamp"`
	DurationMs   int64            `json:"durationMs"`
	Assessment   SafetyAssessment `json:"assessment"`
	SafetyStatus Verdict          `json:"safetyStatus"` // computed verdict, or the user's vote when overridden
	UserVote     *Verdict         `json:"userVote,omitempty"`
	UserOverride bool             `json:"userOverride"`
	Demo         bool             `json:"demo,omitempty"` // seeded row, not a real scan
}
