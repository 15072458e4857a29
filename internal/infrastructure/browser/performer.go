// Package browser drives the marketplace UI through a headless browser. It
// performs exactly one action per call and reports what the page showed.
// Classifying outcomes and retrying belong to the executor, not here.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relister/backend/internal/domain/job"
	"github.com/relister/backend/internal/domain/listing"
)

var (
	// ErrInvalidSpec is returned when the action spec is incomplete
	ErrInvalidSpec = errors.New("browser: invalid action spec")
	// ErrInvalidSession is returned when the session blob cannot be parsed
	ErrInvalidSession = errors.New("browser: session blob is not valid cookie JSON")
)

// Session is the authenticated browser identity for one account. Cookies is
// the decrypted vault blob; it never leaves this package.
type Session struct {
	AccountID uuid.UUID
	Ref       string
	Cookies   []byte
}

// SessionCookie is one cookie inside a vault session blob
type SessionCookie struct {
	Name     string     `json:"name"`
	Value    string     `json:"value"`
	Domain   string     `json:"domain"`
	Path     string     `json:"path"`
	Secure   bool       `json:"secure"`
	HTTPOnly bool       `json:"http_only"`
	Expires  *time.Time `json:"expires,omitempty"`
}

// ParseSessionCookies decodes a vault session blob
func ParseSessionCookies(blob []byte) ([]SessionCookie, error) {
	var cookies []SessionCookie
	if err := json.Unmarshal(blob, &cookies); err != nil {
		return nil, ErrInvalidSession
	}
	if len(cookies) == 0 {
		return nil, ErrInvalidSession
	}
	return cookies, nil
}

// ActionSpec describes one remote action. RemoteID is required for actions
// against an already-published listing; Content is required for publish and
// push.
type ActionSpec struct {
	Kind     job.Kind
	RemoteID string
	Content  *listing.Content
	// Payload carries kind-specific data: "target_user" for follow,
	// "recipient" and "text" for message.
	Payload map[string]string
}

// Validate checks the spec is complete for its kind
func (s *ActionSpec) Validate() error {
	if !s.Kind.IsValid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSpec, s.Kind)
	}
	switch s.Kind {
	case job.KindPublish:
		if s.Content == nil {
			return fmt.Errorf("%w: publish requires content", ErrInvalidSpec)
		}
	case job.KindSyncPush:
		if s.RemoteID == "" || s.Content == nil {
			return fmt.Errorf("%w: push requires remote id and content", ErrInvalidSpec)
		}
	case job.KindBump, job.KindSyncPull:
		if s.RemoteID == "" {
			return fmt.Errorf("%w: %s requires remote id", ErrInvalidSpec, s.Kind)
		}
	case job.KindFollow:
		if s.Payload["target_user"] == "" {
			return fmt.Errorf("%w: follow requires target_user", ErrInvalidSpec)
		}
	case job.KindMessage:
		if s.Payload["recipient"] == "" || s.Payload["text"] == "" {
			return fmt.Errorf("%w: message requires recipient and text", ErrInvalidSpec)
		}
	}
	return nil
}

// Markers are the anti-abuse signals observed on the page after an action
type Markers struct {
	Captcha         bool
	BlockPage       bool
	RateLimitBanner bool
	LoginRequired   bool
	AccountDisabled bool
	NotFound        bool
}

// Clean returns true when no adverse marker was observed
func (m Markers) Clean() bool {
	return !m.Captcha && !m.BlockPage && !m.RateLimitBanner &&
		!m.LoginRequired && !m.AccountDisabled && !m.NotFound
}

// RawResult is what the page showed after the action ran. The executor turns
// this into an outcome.
type RawResult struct {
	// Completed is true when the action's success marker was observed
	Completed bool

	// RemoteID and RemoteVersion are filled for publish and push
	RemoteID      string
	RemoteVersion int64

	// Snapshot is filled for sync pulls
	Snapshot *listing.RemoteSnapshot

	Markers  Markers
	Duration time.Duration
}

// Performer executes one marketplace action in an authenticated browser
// session
type Performer interface {
	// Perform runs the action and reports the raw page observations.
	// An error means the action could not be attempted at all (browser
	// crash, navigation failure); adverse pages come back as markers.
	Perform(ctx context.Context, session Session, spec ActionSpec) (*RawResult, error)

	// Close releases browser resources
	Close() error
}
