package state

import (
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"github.com/quorumkeep/quorumkeep/model/keep"
	"github.com/quorumkeep/quorumkeep/module"
	"github.com/quorumkeep/quorumkeep/storage/merkle"
)

// DefaultSnapshotCacheSize bounds the number of materialized snapshots kept
// keyed by log head.
const DefaultSnapshotCacheSize = 32

// Materializer is the only component that interprets raw events. Fold is a
// pure function of the event set: replicas folding the same events, in any
// causally-consistent interleaving, arrive at the same AccountState.
//
// Events that violate an invariant are skipped, not failed on: every honest
// replica skips the same events for the same reason, so skipping preserves
// convergence while a hard error would not.
type Materializer struct {
	log        zerolog.Logger
	hasher     module.Hasher
	verifier   module.ThresholdVerifier
	minTickGap uint64
	cache      *lru.Cache
}

// NewMaterializer creates a materializer using the given hasher for
// commitment checks and verifier for threshold signatures embedded in
// events.
func NewMaterializer(log zerolog.Logger, hasher module.Hasher, verifier module.ThresholdVerifier) *Materializer {
	cache, _ := lru.New(DefaultSnapshotCacheSize)
	return &Materializer{
		log:        log.With().Str("component", "materializer").Logger(),
		hasher:     hasher,
		verifier:   verifier,
		minTickGap: keep.MinTickGapEpochs,
		cache:      cache,
	}
}

// WithMinTickGap overrides the tick rate limit (epochs between ticks per
// device).
func (m *Materializer) WithMinTickGap(gap uint64) *Materializer {
	m.minTickGap = gap
	return m
}

// Fold materializes the account state from the given events. The input
// order does not matter; events are brought into canonical order first.
// The returned snapshot is the caller's own copy: mutating it never
// reaches the cached state behind it.
func (m *Materializer) Fold(events []*keep.Event) *AccountState {
	ordered := make(keep.EventList, len(events))
	copy(ordered, events)
	sort.Slice(ordered, ordered.ByCanonicalOrder)

	// the cache key covers the full event set, not just the head: two
	// replicas can share a head while still missing different events
	key := foldKey(ordered)
	if cached, ok := m.cache.Get(key); ok {
		return cached.(*AccountState).Copy()
	}

	st := NewAccountState()
	for _, event := range ordered {
		err := m.Apply(st, event)
		if err != nil {
			m.log.Debug().
				Hex("event_id", logID(event.ID())).
				Str("kind", event.Payload.Kind().String()).
				Err(err).
				Msg("skipping invalid event")
		}
	}

	m.cache.Add(key, st)
	return st.Copy()
}

func foldKey(ordered keep.EventList) keep.Identifier {
	ids := make(keep.IdentifierList, 0, len(ordered))
	for _, event := range ordered {
		ids = append(ids, event.ID())
	}
	return keep.ConcatHash(ids...)
}

// Apply folds a single event into the state. Events arriving out of
// canonical order must not be applied incrementally; re-fold instead.
// Returned errors mean the event was skipped; the state is unchanged except
// for bookkeeping that every replica shares.
func (m *Materializer) Apply(st *AccountState, event *keep.Event) error {

	// invariant: epoch_at_write strictly increasing per author
	if last, ok := st.LastWriteEpoch[event.Author]; ok && event.EpochAtWrite <= last {
		return fmt.Errorf("epoch %d not above author's last write %d", event.EpochAtWrite, last)
	}

	err := m.applyPayload(st, event)
	if err != nil {
		return err
	}

	st.LastWriteEpoch[event.Author] = event.EpochAtWrite
	if event.EpochAtWrite > st.LogicalEpoch {
		st.LogicalEpoch = event.EpochAtWrite
	}
	st.HeadEventID = event.ID()
	return nil
}

func (m *Materializer) applyPayload(st *AccountState, event *keep.Event) error {
	switch p := event.Payload.(type) {
	case keep.EpochTick:
		return m.applyTick(st, event, p)
	case keep.InitiateSession:
		return m.applyInitiate(st, event, p)
	case keep.RecordCommitment:
		return m.applyCommitment(st, event, p)
	case keep.RevealValue:
		return m.applyReveal(st, event, p)
	case keep.DistributeSubShare:
		return m.applySubShare(st, event, p)
	case keep.AcknowledgeSubShare:
		return m.applySubShareAck(st, event, p)
	case keep.GuardianApproval:
		return m.applyApproval(st, event, p)
	case keep.SubmitRecoveryShare:
		return m.applyRecoveryShare(st, event, p)
	case keep.FinalizeSession:
		return m.applyFinalize(st, event, p)
	case keep.AbortSession:
		return m.applyAbort(st, event, p)
	case keep.CancelSession:
		return m.applyCancel(st, event, p)
	case keep.TimeoutSession:
		return m.applyTimeout(st, event, p)
	case keep.RequestOperationLock:
		return m.applyLockRequest(st, event, p)
	case keep.GrantOperationLock:
		return m.applyLockGrant(st, event, p)
	case keep.ReleaseOperationLock:
		return m.applyLockRelease(st, event, p)
	case keep.ProposeCompaction:
		return m.applyCompactionPropose(st, event, p)
	case keep.AcknowledgeCompaction:
		return m.applyCompactionAck(st, event, p)
	case keep.CommitCompaction:
		return m.applyCompactionCommit(st, event, p)
	case keep.ReinstateRequest:
		return m.applyReinstateRequest(st, event, p)
	case keep.ReinstateResult:
		return m.applyReinstateResult(st, event, p)
	default:
		return fmt.Errorf("unknown payload kind %T", event.Payload)
	}
}

func (m *Materializer) applyTick(st *AccountState, event *keep.Event, p keep.EpochTick) error {
	if p.NewEpoch != event.EpochAtWrite {
		return fmt.Errorf("tick epoch %d does not match write epoch %d", p.NewEpoch, event.EpochAtWrite)
	}
	if p.NewEpoch <= st.LogicalEpoch {
		return fmt.Errorf("stale tick to epoch %d at logical epoch %d", p.NewEpoch, st.LogicalEpoch)
	}
	if last, ok := st.LastTickEpoch[event.Author]; ok && p.NewEpoch-last < m.minTickGap {
		return fmt.Errorf("tick rate exceeded, gap %d below minimum %d", p.NewEpoch-last, m.minTickGap)
	}
	if p.EvidenceHash != st.Hash() {
		return fmt.Errorf("tick evidence hash does not match folded state")
	}
	st.LastTickEpoch[event.Author] = p.NewEpoch
	return nil
}

func (m *Materializer) applyInitiate(st *AccountState, event *keep.Event, p keep.InitiateSession) error {
	// first valid initiation wins; the stored InitiatedBy event ID is the
	// proof carried by rejections of later duplicates
	if existing, ok := st.Sessions[p.SessionID]; ok {
		return fmt.Errorf("duplicate initiation, session won by event %s", existing.InitiatedBy)
	}
	if len(p.Participants) == 0 {
		return fmt.Errorf("session without participants")
	}
	if p.Threshold == 0 || p.Threshold > uint32(len(p.Participants)) {
		return fmt.Errorf("threshold %d out of range for %d participants", p.Threshold, len(p.Participants))
	}
	// quarantined devices are excluded from new sessions, except the
	// reinstatement session that proves their recovery
	if p.Protocol != keep.ProtocolReinstatement {
		for _, participant := range p.Participants {
			if st.QuarantineActive(participant, event.EpochAtWrite) {
				return fmt.Errorf("participant %s is quarantined", participant)
			}
		}
	}

	participants := make(keep.IdentifierList, len(p.Participants))
	copy(participants, p.Participants)
	sort.Sort(participants)

	st.Sessions[p.SessionID] = &keep.ProtocolSession{
		SessionID:    p.SessionID,
		Protocol:     p.Protocol,
		Initiator:    event.Author,
		Participants: participants,
		Threshold:    p.Threshold,
		StartEpoch:   p.StartEpoch,
		TTLInEpochs:  p.TTLInEpochs,
		Status:       keep.SessionInitializing,
		InitiatedBy:  event.ID(),
		Phase:        keep.NewPhaseData(),
	}
	return nil
}

// liveSession looks up a session and rejects contributions to unknown or
// terminal sessions (invariant: terminal states never transition).
func liveSession(st *AccountState, sessionID keep.SessionID) (*keep.ProtocolSession, error) {
	session, ok := st.Sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("unknown session %s", sessionID)
	}
	if session.Status.Terminal() {
		return nil, fmt.Errorf("session %s already terminal (%s)", sessionID, session.Status)
	}
	return session, nil
}

func (m *Materializer) applyCommitment(st *AccountState, event *keep.Event, p keep.RecordCommitment) error {
	session, err := liveSession(st, p.SessionID)
	if err != nil {
		return err
	}
	if p.Participant != event.Author {
		return fmt.Errorf("commitment author %s does not match participant %s", event.Author, p.Participant)
	}
	if !session.HasParticipant(p.Participant) {
		return fmt.Errorf("device %s is not a session participant", p.Participant)
	}
	if _, ok := session.Phase.Commitments[p.Participant]; ok {
		return fmt.Errorf("duplicate commitment from %s", p.Participant)
	}
	session.Phase.Commitments[p.Participant] = p.Commitment
	session.Status = keep.SessionActive
	return nil
}

func (m *Materializer) applyReveal(st *AccountState, event *keep.Event, p keep.RevealValue) error {
	session, err := liveSession(st, p.SessionID)
	if err != nil {
		return err
	}
	if p.Participant != event.Author {
		return fmt.Errorf("reveal author %s does not match participant %s", event.Author, p.Participant)
	}
	commitment, ok := session.Phase.Commitments[p.Participant]
	if !ok {
		return fmt.Errorf("reveal without prior commitment from %s", p.Participant)
	}
	if _, ok := session.Phase.Reveals[p.Participant]; ok {
		return fmt.Errorf("duplicate reveal from %s", p.Participant)
	}

	// commitment mismatch is byzantine: quarantine the author and abort
	// the session. The event stays in the journal as an auditable record.
	if m.hasher.Hash(p.Value) != commitment {
		m.quarantine(st, p.Participant, event.EpochAtWrite)
		session.Status = keep.SessionAborted
		session.Reason = keep.AbortReasonByzantine
		m.log.Warn().
			Hex("participant", logID(p.Participant)).
			Hex("session", logID(p.SessionID)).
			Msg("commitment mismatch, participant quarantined")
		return nil
	}

	session.Phase.Reveals[p.Participant] = p.Value
	session.Status = keep.SessionActive

	// commit/reveal derivation sessions complete once a threshold of
	// matching reveals is in; the merkle root over all commitments becomes
	// a permanent CommitmentRoot
	if session.Protocol == keep.ProtocolDkd && session.RevealQuorum() {
		session.Status = keep.SessionCompleted
		root, err := commitmentTreeRoot(session)
		if err != nil {
			return fmt.Errorf("could not derive commitment root: %w", err)
		}
		st.CommitmentRoots[session.SessionID] = keep.CommitmentRoot{
			SessionID:        session.SessionID,
			MerkleRoot:       root,
			ParticipantCount: uint32(len(session.Phase.Commitments)),
			FinalizedAtEpoch: event.EpochAtWrite,
		}
	}
	return nil
}

// commitmentTreeRoot builds the merkle tree over a session's commitments in
// canonical participant order and returns its root.
func commitmentTreeRoot(session *keep.ProtocolSession) (keep.Identifier, error) {
	leaves, err := merkle.NewTree(CommitmentLeaves(session))
	if err != nil {
		return keep.ZeroID, err
	}
	var root keep.Identifier
	copy(root[:], leaves.Root())
	return root, nil
}

// CommitmentLeaves returns the canonical leaf values (participant ID
// followed by commitment) for a session's commitment tree. Exposed so
// participants can derive their own inclusion proofs.
func CommitmentLeaves(session *keep.ProtocolSession) [][]byte {
	participants := make(keep.IdentifierList, 0, len(session.Phase.Commitments))
	for participant := range session.Phase.Commitments {
		participants = append(participants, participant)
	}
	sort.Sort(participants)

	leaves := make([][]byte, 0, len(participants))
	for _, participant := range participants {
		commitment := session.Phase.Commitments[participant]
		leaf := make([]byte, 0, 2*keep.IdentifierLen)
		leaf = append(leaf, participant[:]...)
		leaf = append(leaf, commitment[:]...)
		leaves = append(leaves, leaf)
	}
	return leaves
}

func (m *Materializer) quarantine(st *AccountState, device keep.DeviceID, epoch uint64) {
	record, ok := st.Quarantine[device]
	if !ok {
		record = &keep.QuarantineRecord{Participant: device}
		st.Quarantine[device] = record
	}
	record.OffenseCount++
	record.BlamedAtEpoch = epoch
	record.CooldownUntilEpoch = epoch + keep.CooldownFor(record.OffenseCount)
}

func (m *Materializer) applySubShare(st *AccountState, event *keep.Event, p keep.DistributeSubShare) error {
	session, err := liveSession(st, p.SessionID)
	if err != nil {
		return err
	}
	if session.Protocol != keep.ProtocolResharing {
		return fmt.Errorf("sub-share in %s session", session.Protocol)
	}
	if p.From != event.Author {
		return fmt.Errorf("sub-share author mismatch")
	}
	receivers := session.Phase.SubShares[p.From]
	if !receivers.Contains(p.To) {
		session.Phase.SubShares[p.From] = append(receivers, p.To)
	}
	session.Status = keep.SessionActive
	return nil
}

func (m *Materializer) applySubShareAck(st *AccountState, event *keep.Event, p keep.AcknowledgeSubShare) error {
	session, err := liveSession(st, p.SessionID)
	if err != nil {
		return err
	}
	if session.Protocol != keep.ProtocolResharing {
		return fmt.Errorf("sub-share ack in %s session", session.Protocol)
	}
	if p.To != event.Author {
		return fmt.Errorf("sub-share ack author mismatch")
	}
	acked := session.Phase.SubShareAcks[p.From]
	if !acked.Contains(p.To) {
		session.Phase.SubShareAcks[p.From] = append(acked, p.To)
	}
	return nil
}

func (m *Materializer) applyApproval(st *AccountState, event *keep.Event, p keep.GuardianApproval) error {
	session, err := liveSession(st, p.SessionID)
	if err != nil {
		return err
	}
	if session.Protocol != keep.ProtocolRecovery {
		return fmt.Errorf("guardian approval in %s session", session.Protocol)
	}
	if p.Guardian != event.Author {
		return fmt.Errorf("approval author mismatch")
	}
	if !session.HasParticipant(p.Guardian) {
		return fmt.Errorf("device %s is not a recovery guardian", p.Guardian)
	}
	if _, ok := session.Phase.Approvals[p.Guardian]; ok {
		return fmt.Errorf("duplicate approval from %s", p.Guardian)
	}
	session.Phase.Approvals[p.Guardian] = p.Approved
	session.Status = keep.SessionActive
	return nil
}

func (m *Materializer) applyRecoveryShare(st *AccountState, event *keep.Event, p keep.SubmitRecoveryShare) error {
	session, err := liveSession(st, p.SessionID)
	if err != nil {
		return err
	}
	if session.Protocol != keep.ProtocolRecovery {
		return fmt.Errorf("recovery share in %s session", session.Protocol)
	}
	if p.Guardian != event.Author {
		return fmt.Errorf("recovery share author mismatch")
	}
	if approved, ok := session.Phase.Approvals[p.Guardian]; !ok || !approved {
		return fmt.Errorf("recovery share without prior approval from %s", p.Guardian)
	}
	session.Phase.RecoveryShares[p.Guardian] = struct{}{}
	return nil
}

func (m *Materializer) applyFinalize(st *AccountState, event *keep.Event, p keep.FinalizeSession) error {
	session, err := liveSession(st, p.SessionID)
	if err != nil {
		return err
	}
	session.Status = keep.SessionCompleted
	if !p.CommitmentRoot.IsZero() {
		st.CommitmentRoots[session.SessionID] = keep.CommitmentRoot{
			SessionID:        session.SessionID,
			MerkleRoot:       p.CommitmentRoot,
			ParticipantCount: uint32(len(session.Participants)),
			FinalizedAtEpoch: event.EpochAtWrite,
		}
	}
	return nil
}

func (m *Materializer) applyAbort(st *AccountState, _ *keep.Event, p keep.AbortSession) error {
	session, err := liveSession(st, p.SessionID)
	if err != nil {
		return err
	}
	// the abort must carry a threshold signature from the session's
	// current (pre-change) participant set
	if !m.verifier.VerifyThreshold(p.QuorumMessage(), p.QuorumProof) {
		return fmt.Errorf("abort quorum proof invalid")
	}
	session.Status = keep.SessionAborted
	session.Reason = p.Reason
	return nil
}

func (m *Materializer) applyCancel(st *AccountState, event *keep.Event, p keep.CancelSession) error {
	session, err := liveSession(st, p.SessionID)
	if err != nil {
		return err
	}
	if event.Author != session.Initiator {
		return fmt.Errorf("cancel by %s, but session initiated by %s", event.Author, session.Initiator)
	}
	session.Status = keep.SessionCancelled
	return nil
}

func (m *Materializer) applyTimeout(st *AccountState, event *keep.Event, p keep.TimeoutSession) error {
	session, err := liveSession(st, p.SessionID)
	if err != nil {
		return err
	}
	if !session.Expired(event.EpochAtWrite) {
		return fmt.Errorf("session not expired at epoch %d (deadline %d)",
			event.EpochAtWrite, session.StartEpoch+session.TTLInEpochs)
	}
	session.Status = keep.SessionTimedOut
	return nil
}

func (m *Materializer) applyLockRequest(st *AccountState, event *keep.Event, p keep.RequestOperationLock) error {
	if p.Device != event.Author {
		return fmt.Errorf("lock request author mismatch")
	}
	if _, held := st.LiveLock(p.Scope, event.EpochAtWrite); held {
		return fmt.Errorf("scope %s is locked", p.Scope)
	}
	// the ticket is recomputable by every replica; a forged ticket is
	// detected here
	if p.Ticket != keep.ComputeTicket(p.Device, p.AnchorHash) {
		return fmt.Errorf("lottery ticket does not match device and anchor")
	}

	record := &keep.LockRequestRecord{
		Scope:          p.Scope,
		Device:         p.Device,
		SessionID:      p.SessionID,
		Ticket:         p.Ticket,
		AnchorHash:     p.AnchorHash,
		RequestedEpoch: event.EpochAtWrite,
		TTLInEpochs:    p.TTLInEpochs,
	}

	// a fresh request from the same device supersedes its older one
	requests := st.LockRequests[p.Scope]
	for i, existing := range requests {
		if existing.Device == p.Device {
			requests[i] = record
			return nil
		}
	}
	st.LockRequests[p.Scope] = append(requests, record)
	return nil
}

func (m *Materializer) applyLockGrant(st *AccountState, event *keep.Event, p keep.GrantOperationLock) error {
	// a grant whose TTL already lapsed must be ignored
	if event.EpochAtWrite > p.GrantedAtEpoch+p.TTLInEpochs {
		return fmt.Errorf("grant expired before observation")
	}
	if _, held := st.LiveLock(p.Scope, event.EpochAtWrite); held {
		return fmt.Errorf("scope %s is already locked", p.Scope)
	}
	// safety rests on the threshold signature, not on merge order
	if !m.verifier.VerifyThreshold(p.GrantMessage(), p.ThresholdSig) {
		return fmt.Errorf("grant threshold signature invalid")
	}
	// the named winner must be the deterministic lottery winner among the
	// materialized requests for the same anchor
	winner, ok := keep.LotteryWinner(st.LockRequests[p.Scope], p.AnchorHash)
	if !ok {
		return fmt.Errorf("no competing requests anchored to %s", p.AnchorHash)
	}
	if winner != p.Winner {
		return fmt.Errorf("grant names %s but lottery winner is %s", p.Winner, winner)
	}

	st.Locks[p.Scope] = &keep.OperationLock{
		Scope:           p.Scope,
		Holder:          p.Winner,
		SessionID:       p.SessionID,
		AcquiredAtEpoch: p.GrantedAtEpoch,
		TTLInEpochs:     p.TTLInEpochs,
	}
	// losing candidates abandon their requests
	delete(st.LockRequests, p.Scope)
	return nil
}

func (m *Materializer) applyLockRelease(st *AccountState, event *keep.Event, p keep.ReleaseOperationLock) error {
	if p.Device != event.Author {
		return fmt.Errorf("lock release author mismatch")
	}
	lock, ok := st.Locks[p.Scope]
	if !ok {
		return fmt.Errorf("no lock held for scope %s", p.Scope)
	}
	if lock.Holder != p.Device {
		return fmt.Errorf("release by %s, but lock held by %s", p.Device, lock.Holder)
	}
	delete(st.Locks, p.Scope)
	return nil
}

func (m *Materializer) applyCompactionPropose(st *AccountState, event *keep.Event, p keep.ProposeCompaction) error {
	if p.Proposer != event.Author {
		return fmt.Errorf("compaction proposer mismatch")
	}
	if _, ok := st.Compactions[p.CompactionID]; ok {
		return fmt.Errorf("duplicate compaction proposal %s", p.CompactionID)
	}
	// sessions in any non-terminal status are excluded from compaction
	for _, sessionID := range p.PruneSessions {
		session, ok := st.Sessions[sessionID]
		if !ok {
			return fmt.Errorf("proposal lists unknown session %s", sessionID)
		}
		if !session.Status.Terminal() {
			return fmt.Errorf("proposal lists non-terminal session %s (%s)", sessionID, session.Status)
		}
	}
	// every listed root must already be persisted
	for _, rootSession := range p.PreserveRoots {
		if _, ok := st.CommitmentRoots[rootSession]; !ok {
			return fmt.Errorf("proposal preserves unknown commitment root %s", rootSession)
		}
	}

	st.Compactions[p.CompactionID] = &keep.CompactionRound{
		CompactionID:  p.CompactionID,
		Proposer:      p.Proposer,
		BeforeEpoch:   p.BeforeEpoch,
		PruneSessions: p.PruneSessions,
		PreserveRoots: p.PreserveRoots,
		ProposedEpoch: event.EpochAtWrite,
		Status:        keep.CompactionProposed,
		Acks:          make(map[keep.DeviceID]bool),
	}
	return nil
}

func (m *Materializer) applyCompactionAck(st *AccountState, event *keep.Event, p keep.AcknowledgeCompaction) error {
	if p.Device != event.Author {
		return fmt.Errorf("compaction ack author mismatch")
	}
	round, ok := st.Compactions[p.CompactionID]
	if !ok {
		return fmt.Errorf("ack for unknown compaction %s", p.CompactionID)
	}
	if round.Status != keep.CompactionProposed {
		return fmt.Errorf("ack for compaction in status %d", round.Status)
	}
	// a denial (missing proofs) is recorded as a negative ack; the
	// proposer retries after proof redistribution
	round.Acks[p.Device] = len(p.MissingProofs) == 0
	return nil
}

func (m *Materializer) applyCompactionCommit(st *AccountState, _ *keep.Event, p keep.CommitCompaction) error {
	round, ok := st.Compactions[p.CompactionID]
	if !ok {
		return fmt.Errorf("commit for unknown compaction %s", p.CompactionID)
	}
	if round.Status != keep.CompactionProposed {
		return fmt.Errorf("compaction %s already committed", p.CompactionID)
	}
	if p.BeforeEpoch != round.BeforeEpoch {
		return fmt.Errorf("commit epoch %d does not match proposal %d", p.BeforeEpoch, round.BeforeEpoch)
	}
	if !m.verifier.VerifyThreshold(p.CommitMessage(), p.ThresholdSig) {
		return fmt.Errorf("compaction commit threshold signature invalid")
	}
	round.Status = keep.CompactionCommitted
	if p.BeforeEpoch > st.CompactedBeforeEpoch {
		st.CompactedBeforeEpoch = p.BeforeEpoch
	}
	return nil
}

func (m *Materializer) applyReinstateRequest(st *AccountState, event *keep.Event, p keep.ReinstateRequest) error {
	if p.Device != event.Author {
		return fmt.Errorf("reinstatement request author mismatch")
	}
	record, ok := st.Quarantine[p.Device]
	if !ok {
		return fmt.Errorf("device %s is not quarantined", p.Device)
	}
	if record.Active(event.EpochAtWrite) {
		return fmt.Errorf("cooldown runs until epoch %d", record.CooldownUntilEpoch)
	}
	// the request itself only opens the door; the proof of correct
	// behavior is the reinstatement session driven afterwards
	return nil
}

func (m *Materializer) applyReinstateResult(st *AccountState, event *keep.Event, p keep.ReinstateResult) error {
	session, err := liveSession(st, p.SessionID)
	if err != nil {
		return err
	}
	if session.Protocol != keep.ProtocolReinstatement {
		return fmt.Errorf("reinstatement result in %s session", session.Protocol)
	}
	if !m.verifier.VerifyThreshold(p.QuorumMessage(), p.QuorumProof) {
		return fmt.Errorf("reinstatement quorum proof invalid")
	}

	record, ok := st.Quarantine[p.Device]
	if !ok {
		return fmt.Errorf("device %s is not quarantined", p.Device)
	}

	if p.Success {
		session.Status = keep.SessionCompleted
		delete(st.Quarantine, p.Device)
		return nil
	}

	// failed attempt re-enters cooldown, exponentially longer per offense
	session.Status = keep.SessionAborted
	session.Reason = keep.AbortReasonVerificationFailed
	record.OffenseCount++
	record.BlamedAtEpoch = event.EpochAtWrite
	record.CooldownUntilEpoch = event.EpochAtWrite + keep.CooldownFor(record.OffenseCount)
	return nil
}

func logID(id keep.Identifier) []byte {
	return id[:]
}
