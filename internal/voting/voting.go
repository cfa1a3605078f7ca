// Package voting sequences face extraction, duplicate screening and ledger
// submission for one-vote-per-face ballots.
package voting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/face-ballot/internal/database"
	"github.com/kozaktomas/face-ballot/internal/faceid"
	"github.com/kozaktomas/face-ballot/internal/facematch"
	"github.com/kozaktomas/face-ballot/internal/ledger"
)

// proposalFetchConcurrency bounds parallel proposal reads.
const proposalFetchConcurrency = 8

// Ledger is the contract surface the orchestrator uses.
// *ledger.Client and ledger/mock implement it.
type Ledger interface {
	ProposalCount(ctx context.Context) (uint64, error)
	Proposal(ctx context.Context, id uint64) (ledger.Proposal, error)
	Voter(ctx context.Context, faceHash string) (ledger.Voter, error)
	Admin(ctx context.Context) (common.Address, error)
	Signer() common.Address
	Vote(ctx context.Context, faceHash string, proposalID uint64) (*ledger.TxResult, error)
	AddProposal(ctx context.Context, description string) (*ledger.TxResult, error)
}

// Proposal is a proposal as returned to clients.
type Proposal struct {
	ID          uint64 `json:"id"`
	Description string `json:"description"`
	VoteCount   uint64 `json:"voteCount"`
}

// VoteResult is returned for a confirmed vote.
type VoteResult struct {
	Success        bool   `json:"success"`
	TransactionID  string `json:"transactionId"`
	FaceIdentifier string `json:"faceIdentifier"`
	CostUsed       string `json:"costUsed"`
	BlockNumber    uint64 `json:"blockNumber"`
}

// ProposalResult is returned for a confirmed proposal.
type ProposalResult struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId"`
	CostUsed      string `json:"costUsed"`
	Message       string `json:"message"`
}

// VoterRecord is the ledger's voter record plus what this process knows locally.
type VoterRecord struct {
	FaceHash      string     `json:"faceHash"`
	HasVoted      bool       `json:"hasVoted"`
	VoteTimestamp *time.Time `json:"voteTimestamp,omitempty"`
	KnownLocally  bool       `json:"knownLocally"`
}

// Options configures an Orchestrator.
type Options struct {
	// MatchThreshold is the guard's euclidean distance threshold. Zero means facematch.DefaultThreshold.
	MatchThreshold float64
	// Receipts stores confirmed votes. Optional.
	Receipts database.ReceiptWriter
}

// Orchestrator runs votes and proposal submissions. It is safe for concurrent use.
type Orchestrator struct {
	embedder  faceid.Embedder
	ledger    Ledger
	registry  *facematch.Registry
	receipts  database.ReceiptWriter
	threshold float64
}

// New creates an orchestrator. A nil registry gets an empty one.
func New(embedder faceid.Embedder, l Ledger, registry *facematch.Registry, opts Options) *Orchestrator {
	if registry == nil {
		registry = facematch.NewRegistry()
	}
	threshold := opts.MatchThreshold
	if threshold <= 0 {
		threshold = facematch.DefaultThreshold
	}
	return &Orchestrator{
		embedder:  embedder,
		ledger:    l,
		registry:  registry,
		receipts:  opts.Receipts,
		threshold: threshold,
	}
}

// Threshold returns the guard threshold in use.
func (o *Orchestrator) Threshold() float64 {
	return o.threshold
}

// Registry returns the duplicate-face registry.
func (o *Orchestrator) Registry() *facematch.Registry {
	return o.registry
}

// Signer returns the ledger signing address.
func (o *Orchestrator) Signer() common.Address {
	return o.ledger.Signer()
}

// Init loads the face model. Safe to call repeatedly; a failure can be retried.
func (o *Orchestrator) Init(ctx context.Context) error {
	if err := o.embedder.Init(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrModelInitFailed, err)
	}
	return nil
}

// Close releases the ledger connection and the face model, when they hold any.
func (o *Orchestrator) Close() {
	if c, ok := o.ledger.(interface{ Close() }); ok {
		c.Close()
	}
	if c, ok := o.embedder.(interface{ Close() }); ok {
		c.Close()
	}
}

// VerifyAdmin fails with ErrAdminMismatch unless the signer is the contract admin.
func VerifyAdmin(ctx context.Context, l Ledger) error {
	admin, err := l.Admin(ctx)
	if err != nil {
		return fmt.Errorf("%w: reading contract admin: %w", ErrLedgerUnavailable, err)
	}
	if admin != l.Signer() {
		return fmt.Errorf("%w: contract admin is %s, but current signer is %s", ErrAdminMismatch, admin.Hex(), l.Signer().Hex())
	}
	return nil
}

// Describe extracts the descriptor of an image and derives its identifier
// without touching the ledger.
func (o *Orchestrator) Describe(ctx context.Context, image []byte) (faceid.Descriptor, faceid.Identifier, error) {
	d, err := o.extract(ctx, image)
	if err != nil {
		return nil, "", err
	}
	return d, faceid.Identify(d), nil
}

func (o *Orchestrator) extract(ctx context.Context, image []byte) (faceid.Descriptor, error) {
	start := time.Now()
	d, err := o.embedder.Extract(ctx, image)
	extractDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
	case errors.Is(err, faceid.ErrNoFace):
		return nil, fmt.Errorf("%w: %w", ErrNoFaceDetected, err)
	case errors.Is(err, faceid.ErrInvalidImage):
		return nil, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	case errors.Is(err, faceid.ErrModelInit):
		return nil, fmt.Errorf("%w: %w", ErrModelInitFailed, err)
	default:
		return nil, fmt.Errorf("face processing failed: %w", err)
	}

	if err := d.Validate(0); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoFaceDetected, err)
	}
	return d, nil
}

// ProcessVote casts a vote for proposalID with the face found in image.
//
// Nothing is written to the ledger unless the proposal exists, no similar
// face in the registry has voted or is voting, and the ledger holds no vote
// for the face's identifier. The registry entry is reserved before the
// ledger write and dropped again if the write fails.
func (o *Orchestrator) ProcessVote(ctx context.Context, image []byte, proposalID int64) (result *VoteResult, err error) {
	attempt := uuid.NewString()
	log := slog.With("attempt", attempt, "proposal", proposalID)
	defer func() {
		votesTotal.WithLabelValues(resultLabel(err)).Inc()
		if err != nil {
			log.Warn("vote rejected", "code", Code(err), "error", err)
		}
	}()

	d, err := o.extract(ctx, image)
	if err != nil {
		return nil, err
	}

	count, err := o.ledger.ProposalCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: reading proposal count: %w", ErrLedgerUnavailable, err)
	}
	if proposalID < 0 || uint64(proposalID) >= count {
		return nil, fmt.Errorf("%w: proposal %d does not exist (%d proposals)", ErrInvalidProposal, proposalID, count)
	}

	if err := o.screen(ctx, log, d); err != nil {
		return nil, err
	}

	id := faceid.Identify(d)
	log = log.With("face", id.Short())

	voter, err := o.ledger.Voter(ctx, string(id))
	if err != nil {
		return nil, fmt.Errorf("%w: reading voter record: %w", ErrLedgerUnavailable, err)
	}
	if voter.HasVoted {
		o.registry.Restore([]facematch.Entry{{ID: id, Descriptor: d}})
		return nil, ErrAlreadyVoted
	}

	reservation, err := o.reserve(ctx, log, id, d)
	if err != nil {
		return nil, err
	}

	log.Info("submitting vote")
	// An abandoned request must not abort a transaction that may already be
	// on its way; the ledger client bounds the wait instead.
	tx, err := o.ledger.Vote(context.WithoutCancel(ctx), string(id), uint64(proposalID))
	if err != nil {
		reservation.Cancel()
		return nil, o.voteError(id, d, err)
	}
	reservation.Commit()
	log.Info("vote confirmed", "tx", tx.Hash.Hex(), "gas_used", tx.GasUsed, "block", tx.BlockNumber)

	o.saveReceipt(ctx, log, database.StoredReceipt{
		AttemptID:   attempt,
		FaceHash:    string(id),
		Descriptor:  d,
		ProposalID:  uint64(proposalID),
		TxHash:      tx.Hash.Hex(),
		GasUsed:     tx.GasUsed,
		BlockNumber: tx.BlockNumber,
	})

	return &VoteResult{
		Success:        true,
		TransactionID:  tx.Hash.Hex(),
		FaceIdentifier: string(id),
		CostUsed:       strconv.FormatUint(tx.GasUsed, 10),
		BlockNumber:    tx.BlockNumber,
	}, nil
}

// screen consults the registry. A similar face that is still being voted is
// rejected outright; a confirmed one is checked against the ledger and
// forgotten if the ledger has no vote for it.
func (o *Orchestrator) screen(ctx context.Context, log *slog.Logger, d faceid.Descriptor) error {
	m, ok := o.registry.Match(d, o.threshold)
	if !ok {
		return nil
	}
	guardHits.WithLabelValues(m.State.String()).Inc()
	log.Info("similar face found", "match", m.ID.Short(), "distance", m.Distance, "state", m.State)

	if m.State == facematch.StatePending {
		return ErrVoteInProgress
	}

	voter, err := o.ledger.Voter(ctx, string(m.ID))
	if err != nil {
		return fmt.Errorf("%w: reading voter record: %w", ErrLedgerUnavailable, err)
	}
	if voter.HasVoted {
		return ErrAlreadyVoted
	}

	log.Warn("registry entry has no vote on the ledger, forgetting it", "match", m.ID.Short())
	o.registry.Forget(m.ID)
	if o.receipts != nil {
		if _, err := o.receipts.DeleteByFaceHashes(ctx, []string{string(m.ID)}); err != nil {
			log.Warn("failed to delete stale receipt", "error", err)
		}
	}
	return nil
}

// reserveAttempts bounds how often a face is sent back through screen when a
// similar face keeps getting confirmed between screening and reservation.
const reserveAttempts = 3

// reserve registers the face as pending. A similar face confirmed since the
// last screening sends the vote back through the ledger check.
func (o *Orchestrator) reserve(ctx context.Context, log *slog.Logger, id faceid.Identifier, d faceid.Descriptor) (*facematch.Reservation, error) {
	for range reserveAttempts {
		reservation, err := o.registry.Reserve(id, d, o.threshold)
		switch {
		case err == nil:
			return reservation, nil
		case errors.Is(err, facematch.ErrInFlight):
			return nil, ErrVoteInProgress
		case !errors.Is(err, facematch.ErrConfirmedMatch):
			return nil, err
		}
		log.Info("similar face confirmed during screening, checking again", "error", err)
		if err := o.screen(ctx, log, d); err != nil {
			return nil, err
		}
	}
	return nil, ErrVoteInProgress
}

func (o *Orchestrator) voteError(id faceid.Identifier, d faceid.Descriptor, err error) error {
	switch ledger.Classify(err) {
	case ledger.ErrAlreadyVoted:
		o.registry.Restore([]facematch.Entry{{ID: id, Descriptor: d}})
		return fmt.Errorf("%w: %w", ErrAlreadyVoted, err)
	case ledger.ErrInvalidProposal:
		return fmt.Errorf("%w: %w", ErrInvalidProposal, err)
	case ledger.ErrOnlyAdmin:
		return fmt.Errorf("%w: %w", ErrAdminOnly, err)
	}
	return fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
}

func (o *Orchestrator) saveReceipt(ctx context.Context, log *slog.Logger, receipt database.StoredReceipt) {
	if o.receipts == nil {
		return
	}
	if err := o.receipts.SaveReceipt(context.WithoutCancel(ctx), receipt); err != nil {
		log.Warn("failed to store vote receipt", "error", err)
	}
}

// AddProposal appends a proposal. Only the contract admin may do so; a
// non-admin signer is rejected before anything is sent.
func (o *Orchestrator) AddProposal(ctx context.Context, description string) (result *ProposalResult, err error) {
	defer func() {
		proposalsTotal.WithLabelValues(resultLabel(err)).Inc()
	}()

	description, err = NormalizeDescription(description)
	if err != nil {
		return nil, err
	}

	admin, err := o.ledger.Admin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: reading contract admin: %w", ErrLedgerUnavailable, err)
	}
	if admin != o.ledger.Signer() {
		return nil, fmt.Errorf("%w: contract admin is %s, but current signer is %s", ErrAdminOnly, admin.Hex(), o.ledger.Signer().Hex())
	}

	slog.Info("adding proposal", "description", description)
	tx, err := o.ledger.AddProposal(context.WithoutCancel(ctx), description)
	if err != nil {
		if errors.Is(ledger.Classify(err), ledger.ErrOnlyAdmin) {
			return nil, fmt.Errorf("%w: %w", ErrAdminOnly, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
	}
	slog.Info("proposal confirmed", "tx", tx.Hash.Hex(), "gas_used", tx.GasUsed)

	return &ProposalResult{
		Success:       true,
		TransactionID: tx.Hash.Hex(),
		CostUsed:      strconv.FormatUint(tx.GasUsed, 10),
		Message:       "Proposal added successfully",
	}, nil
}

// Proposals returns all proposals in id order.
func (o *Orchestrator) Proposals(ctx context.Context) ([]Proposal, error) {
	count, err := o.ledger.ProposalCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: reading proposal count: %w", ErrLedgerUnavailable, err)
	}

	proposals := make([]Proposal, count)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(proposalFetchConcurrency)
	for i := range count {
		g.Go(func() error {
			p, err := o.ledger.Proposal(gctx, i)
			if err != nil {
				return fmt.Errorf("reading proposal %d: %w", i, err)
			}
			proposals[i] = Proposal{ID: i, Description: p.Description, VoteCount: p.VoteCount}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}
	return proposals, nil
}

// Voter returns the ledger's record for faceHash.
func (o *Orchestrator) Voter(ctx context.Context, faceHash string) (*VoterRecord, error) {
	v, err := o.ledger.Voter(ctx, faceHash)
	if err != nil {
		return nil, fmt.Errorf("%w: reading voter record: %w", ErrLedgerUnavailable, err)
	}
	_, known := o.registry.Get(faceid.Identifier(faceHash))
	rec := &VoterRecord{FaceHash: faceHash, HasVoted: v.HasVoted, KnownLocally: known}
	if !v.VoteTimestamp.IsZero() {
		ts := v.VoteTimestamp
		rec.VoteTimestamp = &ts
	}
	return rec, nil
}
