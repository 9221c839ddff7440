package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency. Infrastructure
// layers wrap these with %w so callers can still errors.Is against them.

var (
	// Framing / transport
	ErrFrameTooLarge   = errors.New("frame exceeds maximum length")
	ErrMalformedFrame  = errors.New("malformed frame length prefix")
	ErrBadJSON         = errors.New("frame payload is not valid JSON")
	ErrConnectFailed   = errors.New("outbound connect failed")
	ErrLinkBroken      = errors.New("connection broken")
	ErrSendQueueFull   = errors.New("outbound send queue overflow")

	// Seed membership
	ErrNoQuorum        = errors.New("quorum not reached before deadline")
	ErrAlreadyPending  = errors.New("conflicting proposal already pending")
	ErrAlreadyMember   = errors.New("peer already a member")
	ErrNotAMember      = errors.New("peer is not a member")
	ErrNoSeedsReachable = errors.New("no configured seed is reachable")

	// Peer registration
	ErrRegistrationNacked = errors.New("registration rejected by seed")
	ErrRegistrationTimeout = errors.New("registration timed out")

	// Suspicion / failure detection
	ErrInsufficientRespondents = errors.New("fewer than minimum respondents for suspicion quorum")
	ErrSuspicionRefuted        = errors.New("peer quorum reports victim alive")
	ErrAlreadyPurged           = errors.New("identity already purged, not re-admissible")

	// Configuration
	ErrEmptySeedList = errors.New("seed config file contains no records")
)
