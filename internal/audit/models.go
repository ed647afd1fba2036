package audit

import (
	"time"

	"olocus/pkg/domain"
)

// Actions recorded by the protocol engine. Events carry what happened and to
// which subject, never raw coordinates or shared secrets.
const (
	ActionChainCreated        = "chain.created"
	ActionBlockAppended       = "block.appended"
	ActionVisitDetected       = "visit.detected"
	ActionAnchorCreated       = "anchor.created"
	ActionAnchorConfirmed     = "anchor.confirmed"
	ActionCredentialIssued    = "credential.issued"
	ActionAttestationAccepted = "attestation.accepted"
	ActionFriendshipFormed    = "friendship.established"
	ActionBatchFlushed        = "batch.flushed"
	ActionClaimPublished      = "claim.published"
	ActionDoubleClaimRejected = "claim.double_claim_rejected"
)

// Event is emitted from domain logic to capture key protocol actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Actor     domain.DID     `json:"actor"`
	ChainID   domain.ChainID `json:"chain_id,omitempty"`
	Action    string         `json:"action"`
	Subject   string         `json:"subject,omitempty"`
	Code      int            `json:"code,omitempty"`
	Detail    string         `json:"detail,omitempty"`
}
