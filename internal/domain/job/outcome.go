package job

// Outcome is the closed classification of a raw remote result. The executor
// owns the mapping from raw browser output to this enum; every other
// component switches on the enum, never on page content.
type Outcome string

const (
	// OutcomeSuccess means the remote action completed
	OutcomeSuccess Outcome = "SUCCESS"
	// OutcomeSoftFailure is a retryable transient failure (timeout, 5xx)
	OutcomeSoftFailure Outcome = "SOFT_FAILURE"
	// OutcomeRateLimit means the platform throttled the account
	OutcomeRateLimit Outcome = "RATE_LIMIT_SIGNAL"
	// OutcomeAbuse means the platform challenged the account (CAPTCHA, block page)
	OutcomeAbuse Outcome = "ABUSE_SIGNAL"
	// OutcomeBan means the platform suspended the account
	OutcomeBan Outcome = "BAN_SIGNAL"
	// OutcomePermanentFailure means the job itself is invalid; the account is fine
	OutcomePermanentFailure Outcome = "PERMANENT_JOB_FAILURE"
)

// IsValid returns true if the outcome is a known classification
func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeSuccess, OutcomeSoftFailure, OutcomeRateLimit,
		OutcomeAbuse, OutcomeBan, OutcomePermanentFailure:
		return true
	default:
		return false
	}
}

// String returns the string representation of Outcome
func (o Outcome) String() string {
	return string(o)
}

// Retryable returns true if the job may be attempted again, possibly on a
// different account. Permanent job failures are never retried.
func (o Outcome) Retryable() bool {
	switch o {
	case OutcomeSoftFailure, OutcomeRateLimit, OutcomeAbuse, OutcomeBan:
		return true
	default:
		return false
	}
}

// AffectsHealth returns true if the outcome must be reported to the health
// registry. A permanent job failure says nothing about the account.
func (o Outcome) AffectsHealth() bool {
	return o != OutcomePermanentFailure && o.IsValid()
}

// AccountScoped returns true if the outcome indicts the executing account
// rather than the job content
func (o Outcome) AccountScoped() bool {
	switch o {
	case OutcomeRateLimit, OutcomeAbuse, OutcomeBan:
		return true
	default:
		return false
	}
}
