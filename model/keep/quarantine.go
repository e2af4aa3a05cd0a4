package keep

const (
	// BaseCooldownEpochs is the quarantine duration after a first offense.
	BaseCooldownEpochs uint64 = 100

	// MaxCooldownShift caps the exponential cooldown growth so repeated
	// offenders are not excluded forever.
	MaxCooldownShift = 8
)

// QuarantineRecord excludes a misbehaving participant from new sessions
// until its cooldown elapses. Records are created deterministically by the
// materializer when a reveal fails to match its commitment, so every honest
// replica blames the same device at the same epoch.
type QuarantineRecord struct {
	Participant        DeviceID
	BlamedAtEpoch      uint64
	CooldownUntilEpoch uint64
	OffenseCount       uint32
}

// Active returns whether the quarantine still excludes the participant at
// the given epoch.
func (q *QuarantineRecord) Active(currentEpoch uint64) bool {
	return currentEpoch < q.CooldownUntilEpoch
}

// CooldownFor returns the cooldown duration for the given offense count,
// doubling per repeat offense up to a cap.
func CooldownFor(offenseCount uint32) uint64 {
	shift := offenseCount - 1
	if shift > MaxCooldownShift {
		shift = MaxCooldownShift
	}
	return BaseCooldownEpochs << shift
}
