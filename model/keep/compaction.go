package keep

// CommitmentRoot is the permanent record of a finalized commit/reveal
// round: the merkle root over all participant commitments. Roots are
// account state forever and are never affected by compaction, so that
// individually-held merkle proofs stay verifiable after history is pruned.
type CommitmentRoot struct {
	SessionID        SessionID
	MerkleRoot       Identifier
	ParticipantCount uint32
	FinalizedAtEpoch uint64
}

// ProposeCompaction opens a compaction round: prune all events with
// epoch_at_write < BeforeEpoch, preserving the listed commitment roots.
// Only terminal sessions may be listed.
type ProposeCompaction struct {
	CompactionID  Identifier
	Proposer      DeviceID
	BeforeEpoch   uint64
	PruneSessions IdentifierList
	PreserveRoots IdentifierList
}

func (ProposeCompaction) Kind() PayloadKind { return KindProposeCompaction }

// AcknowledgeCompaction is a device's signed confirmation that every listed
// session is terminal and that it holds the merkle proofs it personally
// needs. A device missing proofs acknowledges negatively by listing them;
// that is a retriable condition, not an error.
type AcknowledgeCompaction struct {
	CompactionID  Identifier
	Device        DeviceID
	AckSig        []byte
	MissingProofs IdentifierList
}

func (AcknowledgeCompaction) Kind() PayloadKind { return KindAcknowledgeCompaction }

// CommitCompaction authorizes the prune with a threshold signature
// assembled from a quorum of acknowledgments.
type CommitCompaction struct {
	CompactionID  Identifier
	BeforeEpoch   uint64
	PreserveRoots IdentifierList
	ThresholdSig  []byte
}

func (CommitCompaction) Kind() PayloadKind { return KindCommitCompaction }

// CommitMessage returns the canonical bytes co-signed by acknowledging
// devices.
func (p CommitCompaction) CommitMessage() []byte {
	msg := MakeID(struct {
		CompactionID  Identifier
		BeforeEpoch   uint64
		PreserveRoots IdentifierList
	}{p.CompactionID, p.BeforeEpoch, p.PreserveRoots})
	return msg[:]
}

// AckMessage returns the canonical bytes a device signs when acknowledging
// a proposal.
func AckMessage(compactionID Identifier, beforeEpoch uint64) []byte {
	msg := MakeID(struct {
		CompactionID Identifier
		BeforeEpoch  uint64
	}{compactionID, beforeEpoch})
	return msg[:]
}

// CompactionStatus tracks a compaction round through its three phases.
type CompactionStatus uint8

const (
	CompactionProposed CompactionStatus = iota + 1
	CompactionCommitted
)

// CompactionRound is the materialized view of an in-flight or committed
// compaction.
type CompactionRound struct {
	CompactionID  Identifier
	Proposer      DeviceID
	BeforeEpoch   uint64
	PruneSessions IdentifierList
	PreserveRoots IdentifierList
	ProposedEpoch uint64
	Status        CompactionStatus
	// Acks maps acknowledging device to whether it held all its proofs.
	Acks map[DeviceID]bool
}

// Copy returns a deep copy of the round.
func (r *CompactionRound) Copy() *CompactionRound {
	out := *r
	out.PruneSessions = append(IdentifierList(nil), r.PruneSessions...)
	out.PreserveRoots = append(IdentifierList(nil), r.PreserveRoots...)
	out.Acks = make(map[DeviceID]bool, len(r.Acks))
	for device, positive := range r.Acks {
		out.Acks[device] = positive
	}
	return &out
}

// AckQuorum returns whether at least threshold positive acknowledgments
// were collected.
func (r *CompactionRound) AckQuorum(threshold uint32) bool {
	var positive uint32
	for _, ok := range r.Acks {
		if ok {
			positive++
		}
	}
	return positive >= threshold
}
