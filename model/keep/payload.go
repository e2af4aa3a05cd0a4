package keep

// PayloadKind enumerates the closed set of event payload variants. The
// numeric values double as wire codes in the network codec and must not be
// reordered.
type PayloadKind uint8

const (
	// clock
	KindEpochTick PayloadKind = iota + 1

	// session lifecycle
	KindInitiateSession
	KindFinalizeSession
	KindAbortSession
	KindCancelSession
	KindTimeoutSession

	// commitment / reveal
	KindRecordCommitment
	KindRevealValue

	// resharing phase traffic
	KindDistributeSubShare
	KindAcknowledgeSubShare

	// recovery phase traffic
	KindGuardianApproval
	KindSubmitRecoveryShare

	// distributed locking
	KindRequestOperationLock
	KindGrantOperationLock
	KindReleaseOperationLock

	// compaction
	KindProposeCompaction
	KindAcknowledgeCompaction
	KindCommitCompaction

	// quarantine redemption
	KindReinstateRequest
	KindReinstateResult
)

func (k PayloadKind) String() string {
	switch k {
	case KindEpochTick:
		return "EpochTick"
	case KindInitiateSession:
		return "InitiateSession"
	case KindFinalizeSession:
		return "FinalizeSession"
	case KindAbortSession:
		return "AbortSession"
	case KindCancelSession:
		return "CancelSession"
	case KindTimeoutSession:
		return "TimeoutSession"
	case KindRecordCommitment:
		return "RecordCommitment"
	case KindRevealValue:
		return "RevealValue"
	case KindDistributeSubShare:
		return "DistributeSubShare"
	case KindAcknowledgeSubShare:
		return "AcknowledgeSubShare"
	case KindGuardianApproval:
		return "GuardianApproval"
	case KindSubmitRecoveryShare:
		return "SubmitRecoveryShare"
	case KindRequestOperationLock:
		return "RequestOperationLock"
	case KindGrantOperationLock:
		return "GrantOperationLock"
	case KindReleaseOperationLock:
		return "ReleaseOperationLock"
	case KindProposeCompaction:
		return "ProposeCompaction"
	case KindAcknowledgeCompaction:
		return "AcknowledgeCompaction"
	case KindCommitCompaction:
		return "CommitCompaction"
	case KindReinstateRequest:
		return "ReinstateRequest"
	case KindReinstateResult:
		return "ReinstateResult"
	default:
		return "Unknown"
	}
}

// Payload is implemented by every event payload variant.
type Payload interface {
	Kind() PayloadKind
}

// SessionPayload is implemented by payloads addressed to a specific
// session.
type SessionPayload interface {
	Payload
	Session() SessionID
}

// MinTickGapEpochs is the minimum number of epochs between two accepted
// ticks from the same device. The limit applies per device globally, not
// per session or scope.
const MinTickGapEpochs uint64 = 5

// EpochTick advances the logical clock during idle periods so that
// epoch-based timeouts remain detectable without protocol traffic. The
// evidence hash binds the tick to the state it ticked from.
type EpochTick struct {
	NewEpoch      uint64
	PreviousEpoch uint64
	EvidenceHash  Identifier
}

func (EpochTick) Kind() PayloadKind { return KindEpochTick }

// InitiateSession opens a new multi-party protocol session. The first valid
// initiation for a session ID wins; later duplicates are rejected.
type InitiateSession struct {
	SessionID    SessionID
	Protocol     ProtocolKind
	Participants IdentifierList
	Threshold    uint32
	StartEpoch   uint64
	TTLInEpochs  uint64
}

func (InitiateSession) Kind() PayloadKind    { return KindInitiateSession }
func (p InitiateSession) Session() SessionID { return p.SessionID }

// FinalizeSession completes a session. For DKD sessions it carries the
// merkle root over all participant commitments, which becomes a permanent
// CommitmentRoot in account state.
type FinalizeSession struct {
	SessionID      SessionID
	CommitmentRoot Identifier
	GroupPublicKey []byte
}

func (FinalizeSession) Kind() PayloadKind    { return KindFinalizeSession }
func (p FinalizeSession) Session() SessionID { return p.SessionID }

// AbortReason describes why a session was aborted.
type AbortReason uint8

const (
	AbortReasonUnknown AbortReason = iota
	AbortReasonByzantine
	AbortReasonDeliveryFailure
	AbortReasonVerificationFailed
	AbortReasonOperatorRequest
)

func (r AbortReason) String() string {
	switch r {
	case AbortReasonByzantine:
		return "byzantine"
	case AbortReasonDeliveryFailure:
		return "delivery_failure"
	case AbortReasonVerificationFailed:
		return "verification_failed"
	case AbortReasonOperatorRequest:
		return "operator_request"
	default:
		return "unknown"
	}
}

// AbortSession aborts a session. Valid only with a threshold signature from
// the session's current (pre-change) participant set.
type AbortSession struct {
	SessionID   SessionID
	Reason      AbortReason
	Blamed      DeviceID
	QuorumProof []byte
}

func (AbortSession) Kind() PayloadKind    { return KindAbortSession }
func (p AbortSession) Session() SessionID { return p.SessionID }

// QuorumMessage returns the canonical bytes the pre-change participant set
// threshold-signs to authorize the abort.
func (p AbortSession) QuorumMessage() []byte {
	msg := MakeID(struct {
		SessionID SessionID
		Reason    AbortReason
		Blamed    DeviceID
	}{p.SessionID, p.Reason, p.Blamed})
	return msg[:]
}

// CancelSession is a user-initiated cancellation by the session initiator.
type CancelSession struct {
	SessionID SessionID
}

func (CancelSession) Kind() PayloadKind    { return KindCancelSession }
func (p CancelSession) Session() SessionID { return p.SessionID }

// TimeoutSession transitions an expired session to TimedOut. Any device may
// propose this once current_epoch > start_epoch + ttl_in_epochs.
type TimeoutSession struct {
	SessionID       SessionID
	ObservedAtEpoch uint64
}

func (TimeoutSession) Kind() PayloadKind    { return KindTimeoutSession }
func (p TimeoutSession) Session() SessionID { return p.SessionID }

// RecordCommitment records a participant's hiding commitment for the
// session's commit/reveal phase. One commitment per participant per
// session.
type RecordCommitment struct {
	SessionID   SessionID
	Participant DeviceID
	Commitment  Identifier
}

func (RecordCommitment) Kind() PayloadKind    { return KindRecordCommitment }
func (p RecordCommitment) Session() SessionID { return p.SessionID }

// RevealValue reveals the value a participant previously committed to. The
// value must hash to the earlier commitment; a mismatch quarantines the
// participant and aborts the session.
type RevealValue struct {
	SessionID   SessionID
	Participant DeviceID
	Value       []byte
}

func (RevealValue) Kind() PayloadKind    { return KindRevealValue }
func (p RevealValue) Session() SessionID { return p.SessionID }

// DistributeSubShare carries an encrypted sub-share from an old-set
// participant to a new-set participant during resharing. The ciphertext is
// opaque to the substrate.
type DistributeSubShare struct {
	SessionID  SessionID
	From       DeviceID
	To         DeviceID
	Ciphertext []byte
}

func (DistributeSubShare) Kind() PayloadKind    { return KindDistributeSubShare }
func (p DistributeSubShare) Session() SessionID { return p.SessionID }

// AcknowledgeSubShare confirms receipt and local verification of a
// sub-share.
type AcknowledgeSubShare struct {
	SessionID SessionID
	From      DeviceID
	To        DeviceID
	AckSig    []byte
}

func (AcknowledgeSubShare) Kind() PayloadKind    { return KindAcknowledgeSubShare }
func (p AcknowledgeSubShare) Session() SessionID { return p.SessionID }

// GuardianApproval records a guardian's approval or refusal of a recovery
// session.
type GuardianApproval struct {
	SessionID SessionID
	Guardian  DeviceID
	Approved  bool
	Approval  []byte
}

func (GuardianApproval) Kind() PayloadKind    { return KindGuardianApproval }
func (p GuardianApproval) Session() SessionID { return p.SessionID }

// SubmitRecoveryShare carries a guardian's encrypted recovery share plus
// the encoded merkle proof tying the share to a persisted commitment root.
type SubmitRecoveryShare struct {
	SessionID      SessionID
	Guardian       DeviceID
	EncryptedShare []byte
	ProofEncoded   []byte
	RootSession    SessionID
}

func (SubmitRecoveryShare) Kind() PayloadKind    { return KindSubmitRecoveryShare }
func (p SubmitRecoveryShare) Session() SessionID { return p.SessionID }

// ReinstateRequest asks for reinstatement of a quarantined device after its
// cooldown elapsed. It opens a no-op threshold-signing session whose
// completion proves correct behavior.
type ReinstateRequest struct {
	SessionID SessionID
	Device    DeviceID
}

func (ReinstateRequest) Kind() PayloadKind    { return KindReinstateRequest }
func (p ReinstateRequest) Session() SessionID { return p.SessionID }

// ReinstateResult records the outcome of a reinstatement attempt, verified
// by threshold agreement. A failed attempt re-enters cooldown with an
// exponentially increased duration.
type ReinstateResult struct {
	SessionID   SessionID
	Device      DeviceID
	Success     bool
	QuorumProof []byte
}

func (ReinstateResult) Kind() PayloadKind    { return KindReinstateResult }
func (p ReinstateResult) Session() SessionID { return p.SessionID }

// QuorumMessage returns the canonical bytes threshold-signed to attest the
// reinstatement outcome.
func (p ReinstateResult) QuorumMessage() []byte {
	msg := MakeID(struct {
		SessionID SessionID
		Device    DeviceID
		Success   bool
	}{p.SessionID, p.Device, p.Success})
	return msg[:]
}
