package listing

import "errors"

// ErrInvalidPolicy is returned for unknown conflict policies
var ErrInvalidPolicy = errors.New("listing: invalid conflict policy")

// ConflictPolicy decides which side wins when both local and remote changed
// since the last common sync point. The default must come from explicit
// configuration, never be inferred.
type ConflictPolicy string

const (
	// PolicyNewestWins compares edit timestamps
	PolicyNewestWins ConflictPolicy = "newest-wins"
	// PolicyLocalWins always pushes the local edit
	PolicyLocalWins ConflictPolicy = "local-wins"
	// PolicyRemoteWins always adopts the remote state
	PolicyRemoteWins ConflictPolicy = "remote-wins"
	// PolicyManual records the conflict and leaves both sides stale until
	// an operator decides
	PolicyManual ConflictPolicy = "manual"
)

// IsValid returns true if the policy is a known policy
func (p ConflictPolicy) IsValid() bool {
	switch p {
	case PolicyNewestWins, PolicyLocalWins, PolicyRemoteWins, PolicyManual:
		return true
	default:
		return false
	}
}

// String returns the string representation of ConflictPolicy
func (p ConflictPolicy) String() string {
	return string(p)
}
