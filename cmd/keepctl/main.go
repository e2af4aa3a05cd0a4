// keepctl is the operator tool of the coordination substrate. It drives the
// engine against a local badger-backed journal: inspecting materialized
// state, ticking the logical clock and proposing compaction rounds.
package main

import (
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/quorumkeep/quorumkeep/byzantine"
	"github.com/quorumkeep/quorumkeep/clock"
	"github.com/quorumkeep/quorumkeep/compaction"
	"github.com/quorumkeep/quorumkeep/engine/coordinator"
	"github.com/quorumkeep/quorumkeep/journal"
	"github.com/quorumkeep/quorumkeep/lock"
	"github.com/quorumkeep/quorumkeep/model/keep"
	"github.com/quorumkeep/quorumkeep/module/signature"
	cborcodec "github.com/quorumkeep/quorumkeep/network/codec/cbor"
	"github.com/quorumkeep/quorumkeep/session"
	"github.com/quorumkeep/quorumkeep/state"
	bstorage "github.com/quorumkeep/quorumkeep/storage/badger"
)

var (
	flagDataDir   string
	flagDevice    string
	flagGroupSeed string
	flagThreshold uint32
	flagVerbose   bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "keepctl",
		Short:         "operate a local replica of the coordination substrate",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&flagDataDir, "datadir", "keepdata", "directory of the badger journal")
	flags.StringVar(&flagDevice, "device", "operator", "local device name, hashed into the device ID")
	flags.StringVar(&flagGroupSeed, "group-seed", "", "development scheme group seed")
	flags.Uint32Var(&flagThreshold, "threshold", 2, "threshold of the device group")
	flags.BoolVar(&flagVerbose, "verbose", false, "enable debug logging")
	pflag.CommandLine.AddFlagSet(flags)

	cmd.AddCommand(
		stateCmd(),
		sessionsCmd(),
		locksCmd(),
		tickCmd(),
		compactCmd(),
	)
	return cmd
}

// replica bundles the open database with the engine driving it.
type replica struct {
	db     *badger.DB
	engine *coordinator.Engine
}

func (r *replica) close() {
	r.engine.Stop()
	_ = r.db.Close()
}

func openReplica() (*replica, error) {
	level := zerolog.InfoLevel
	if flagVerbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger().Level(level)

	db, err := badger.Open(badger.DefaultOptions(flagDataDir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("could not open journal database: %w", err)
	}

	events, err := bstorage.NewEvents(db, cborcodec.NewCodec())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not open event store: %w", err)
	}

	jrnl := journal.NewLog(log)
	persisted, err := events.All()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not load events: %w", err)
	}
	if _, err := jrnl.Merge(persisted); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not replay events: %w", err)
	}

	scheme := signature.NewDevScheme(flagGroupSeed, flagThreshold)
	device := keep.HashToID([]byte(flagDevice))

	engine := coordinator.New(
		log,
		scheme.Local(device),
		clock.New(log),
		jrnl,
		state.NewMaterializer(log, signature.Hasher{}, scheme),
		session.NewRegistry(log, scheme),
		byzantine.NewValidator(log, signature.Hasher{}),
		lock.NewManager(log, scheme, scheme),
		compaction.NewCoordinator(log, bstorage.NewMerkleProofs(db), scheme, scheme),
		events,
		bstorage.NewCommitmentRoots(db),
	)
	return &replica{db: db, engine: engine}, nil
}

// withReplica opens the replica, runs the body and tears down.
func withReplica(f func(*replica) error) error {
	r, err := openReplica()
	if err != nil {
		return err
	}
	defer r.close()
	return f(r)
}

func stateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "print the materialized account state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withReplica(func(r *replica) error {
				st := r.engine.State()
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "logical epoch:    %d\n", st.LogicalEpoch)
				fmt.Fprintf(out, "head event:       %s\n", st.HeadEventID)
				fmt.Fprintf(out, "state hash:       %s\n", st.Hash())
				fmt.Fprintf(out, "sessions:         %d (%d active)\n", len(st.Sessions), len(st.ActiveSessions()))
				fmt.Fprintf(out, "commitment roots: %d\n", len(st.CommitmentRoots))
				fmt.Fprintf(out, "quarantined:      %d\n", len(st.Quarantine))
				fmt.Fprintf(out, "compacted before: %d\n", st.CompactedBeforeEpoch)
				return nil
			})
		},
	}
}

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "list protocol sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withReplica(func(r *replica) error {
				st := r.engine.State()
				out := cmd.OutOrStdout()
				for _, session := range append(st.ActiveSessions(), st.TerminalSessions()...) {
					fmt.Fprintf(out, "%s  %-14s %-12s start=%d ttl=%d participants=%d threshold=%d\n",
						session.SessionID,
						session.Protocol,
						session.Status,
						session.StartEpoch,
						session.TTLInEpochs,
						len(session.Participants),
						session.Threshold,
					)
				}
				return nil
			})
		},
	}
}

func locksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "locks",
		Short: "list operation locks and pending lottery requests",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withReplica(func(r *replica) error {
				st := r.engine.State()
				out := cmd.OutOrStdout()
				for scope, held := range st.Locks {
					status := "live"
					if held.Expired(st.LogicalEpoch) {
						status = "expired"
					}
					fmt.Fprintf(out, "%-16s holder=%s acquired=%d ttl=%d (%s)\n",
						scope, held.Holder, held.AcquiredAtEpoch, held.TTLInEpochs, status)
				}
				for scope, requests := range st.LockRequests {
					for _, req := range requests {
						fmt.Fprintf(out, "%-16s pending device=%s ticket=%s anchored=%s\n",
							scope, req.Device, req.Ticket, req.AnchorHash)
					}
				}
				return nil
			})
		},
	}
}

func tickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "advance the logical clock with an idle tick",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withReplica(func(r *replica) error {
				st, err := r.engine.EmitTick()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ticked to epoch %d\n", st.LogicalEpoch)
				return nil
			})
		},
	}
}

func compactCmd() *cobra.Command {
	var beforeEpoch uint64

	propose := &cobra.Command{
		Use:   "propose",
		Short: "propose pruning all terminal-session history below an epoch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withReplica(func(r *replica) error {
				st := r.engine.State()
				var terminal keep.IdentifierList
				for _, session := range st.TerminalSessions() {
					terminal = append(terminal, session.SessionID)
				}
				compactionID, _, err := r.engine.ProposeCompaction(beforeEpoch, terminal)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "proposed compaction %s below epoch %d (%d sessions)\n",
					compactionID, beforeEpoch, len(terminal))
				return nil
			})
		},
	}
	propose.Flags().Uint64Var(&beforeEpoch, "before", 0, "prune events written before this epoch")
	_ = propose.MarkFlagRequired("before")

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "coordinate journal compaction",
	}
	cmd.AddCommand(propose)
	return cmd
}
