package voting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/face-ballot/internal/database"
	dbmock "github.com/kozaktomas/face-ballot/internal/database/mock"
	"github.com/kozaktomas/face-ballot/internal/faceid"
	"github.com/kozaktomas/face-ballot/internal/facematch"
	"github.com/kozaktomas/face-ballot/internal/ledger"
	"github.com/kozaktomas/face-ballot/internal/ledger/mock"
)

var (
	adminAddr    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	strangerAddr = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

// fakeEmbedder returns the descriptor registered for an image payload.
type fakeEmbedder struct {
	mu      sync.Mutex
	faces   map[string]faceid.Descriptor
	initErr error
	inits   int
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{faces: make(map[string]faceid.Descriptor)}
}

func (f *fakeEmbedder) add(image string, d faceid.Descriptor) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faces[image] = d
	return []byte(image)
}

func (f *fakeEmbedder) Init(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	return f.initErr
}

func (f *fakeEmbedder) Extract(ctx context.Context, image []byte) (faceid.Descriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initErr != nil {
		return nil, fmt.Errorf("%w: models missing", faceid.ErrModelInit)
	}
	if len(image) == 0 {
		return nil, faceid.ErrInvalidImage
	}
	d, ok := f.faces[string(image)]
	if !ok {
		return nil, faceid.ErrNoFace
	}
	return d, nil
}

func face(seed float32) faceid.Descriptor {
	d := make(faceid.Descriptor, faceid.DescriptorSize)
	for i := range d {
		d[i] = seed + float32(i)*0.01
	}
	return d
}

// nearby shifts one component so the euclidean distance to d is delta.
func nearby(d faceid.Descriptor, delta float32) faceid.Descriptor {
	out := append(faceid.Descriptor(nil), d...)
	out[0] += delta
	return out
}

type fixture struct {
	embedder *fakeEmbedder
	ledger   *mock.MockLedger
	receipts *dbmock.MockReceiptStore
	orch     *Orchestrator
}

func newFixture(t *testing.T, proposals ...string) *fixture {
	t.Helper()
	if len(proposals) == 0 {
		proposals = []string{"A", "B"}
	}
	f := &fixture{
		embedder: newFakeEmbedder(),
		ledger:   mock.NewMockLedger(adminAddr),
		receipts: dbmock.NewMockReceiptStore(),
	}
	f.ledger.Seed(proposals...)
	f.orch = New(f.embedder, f.ledger, nil, Options{Receipts: f.receipts})
	return f
}

func TestProcessVote_CountsVote(t *testing.T) {
	f := newFixture(t, "A", "B")
	img := f.embedder.add("alice", face(0.1))

	res, err := f.orch.ProcessVote(context.Background(), img, 1)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, string(faceid.Identify(face(0.1))), res.FaceIdentifier)
	assert.NotEmpty(t, res.TransactionID)
	assert.Equal(t, fmt.Sprint(mock.VoteGas), res.CostUsed)

	proposals := f.ledger.Proposals()
	assert.Equal(t, uint64(0), proposals[0].VoteCount)
	assert.Equal(t, uint64(1), proposals[1].VoteCount)

	entry, ok := f.orch.Registry().Get(faceid.Identifier(res.FaceIdentifier))
	require.True(t, ok)
	assert.Equal(t, facematch.StateConfirmed, entry.State)

	receipt, err := f.receipts.GetByFaceHash(context.Background(), res.FaceIdentifier)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, uint64(1), receipt.ProposalID)
	assert.Equal(t, res.TransactionID, receipt.TxHash)
	assert.NotEmpty(t, receipt.AttemptID)
}

func TestProcessVote_NoFaceMakesNoLedgerCalls(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.ProcessVote(context.Background(), []byte("landscape"), 0)

	assert.ErrorIs(t, err, ErrNoFaceDetected)
	assert.Equal(t, "no_face_detected", Code(err))
	assert.Equal(t, 0, f.ledger.Calls())
}

func TestProcessVote_InvalidImage(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.ProcessVote(context.Background(), nil, 0)

	assert.ErrorIs(t, err, ErrInvalidImage)
	assert.Equal(t, 0, f.ledger.Calls())
}

func TestProcessVote_ModelInitFailure(t *testing.T) {
	f := newFixture(t)
	f.embedder.initErr = errors.New("missing models")

	_, err := f.orch.ProcessVote(context.Background(), []byte("alice"), 0)

	assert.ErrorIs(t, err, ErrModelInitFailed)
	assert.Equal(t, 0, f.ledger.Calls())
}

func TestProcessVote_ProposalOutOfRange(t *testing.T) {
	for _, id := range []int64{-1, 2, 100} {
		t.Run(fmt.Sprint(id), func(t *testing.T) {
			f := newFixture(t, "A", "B")
			img := f.embedder.add("alice", face(0.1))

			_, err := f.orch.ProcessVote(context.Background(), img, id)

			assert.ErrorIs(t, err, ErrInvalidProposal)
			assert.Equal(t, 0, f.ledger.Writes())
			assert.Equal(t, 0, f.orch.Registry().Len())
		})
	}
}

func TestProcessVote_IdenticalFaceVotesOnce(t *testing.T) {
	f := newFixture(t)
	img := f.embedder.add("alice", face(0.1))
	ctx := context.Background()

	_, err := f.orch.ProcessVote(ctx, img, 0)
	require.NoError(t, err)

	_, err = f.orch.ProcessVote(ctx, img, 1)
	assert.ErrorIs(t, err, ErrAlreadyVoted)
	assert.Equal(t, 1, f.ledger.Writes())

	proposals := f.ledger.Proposals()
	assert.Equal(t, uint64(1), proposals[0].VoteCount+proposals[1].VoteCount)
}

func TestProcessVote_IdenticalFaceConcurrent(t *testing.T) {
	f := newFixture(t)
	img := f.embedder.add("alice", face(0.1))
	ctx := context.Background()

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	f.ledger.BeforeWrite = func(string) {
		entered <- struct{}{}
		<-release
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.ProcessVote(ctx, img, 0)
		done <- err
	}()
	<-entered

	// first vote is waiting on the ledger
	_, err := f.orch.ProcessVote(ctx, img, 1)
	assert.ErrorIs(t, err, ErrVoteInProgress)

	close(release)
	require.NoError(t, <-done)

	_, err = f.orch.ProcessVote(ctx, img, 1)
	assert.ErrorIs(t, err, ErrAlreadyVoted)
	assert.Equal(t, 1, f.ledger.Writes())
}

func TestProcessVote_SimilarFaceAlreadyVoted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.embedder.add("alice-1", face(0.1))
	second := f.embedder.add("alice-2", nearby(face(0.1), 0.3))

	_, err := f.orch.ProcessVote(ctx, first, 0)
	require.NoError(t, err)

	_, err = f.orch.ProcessVote(ctx, second, 1)
	assert.ErrorIs(t, err, ErrAlreadyVoted)
	assert.Equal(t, 1, f.ledger.Writes())
}

// confirmDuringVoterRead registers d as confirmed the moment the ledger is
// asked about trigger, as if a concurrent vote for d had just finished.
func confirmDuringVoterRead(f *fixture, trigger faceid.Identifier, d faceid.Descriptor, onLedger bool) {
	var once sync.Once
	f.ledger.BeforeVoterRead = func(faceHash string) {
		if faceHash != string(trigger) {
			return
		}
		once.Do(func() {
			id := faceid.Identify(d)
			f.orch.Registry().Restore([]facematch.Entry{{ID: id, Descriptor: d}})
			if onLedger {
				f.ledger.MarkVoted(string(id), 0)
			}
		})
	}
}

func TestProcessVote_SimilarFaceConfirmedAfterScreening(t *testing.T) {
	f := newFixture(t)
	other := face(0.1)
	d := nearby(other, 0.3)
	confirmDuringVoterRead(f, faceid.Identify(d), other, true)

	_, err := f.orch.ProcessVote(context.Background(), f.embedder.add("alice-2", d), 1)

	assert.ErrorIs(t, err, ErrAlreadyVoted)
	assert.Equal(t, 0, f.ledger.Writes())
	_, ok := f.orch.Registry().Get(faceid.Identify(d))
	assert.False(t, ok, "rejected face leaves no registry entry")
}

func TestProcessVote_LateConfirmedEntryWithoutLedgerVote(t *testing.T) {
	f := newFixture(t)
	other := face(0.1)
	d := nearby(other, 0.3)
	confirmDuringVoterRead(f, faceid.Identify(d), other, false)

	res, err := f.orch.ProcessVote(context.Background(), f.embedder.add("alice-2", d), 1)
	require.NoError(t, err)

	assert.Equal(t, string(faceid.Identify(d)), res.FaceIdentifier)
	_, ok := f.orch.Registry().Get(faceid.Identify(other))
	assert.False(t, ok, "entry without a ledger vote is forgotten")
	assert.Equal(t, 1, f.ledger.Writes())
}

func TestProcessVote_DistantFaceVotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.ProcessVote(ctx, f.embedder.add("alice", face(0.1)), 0)
	require.NoError(t, err)
	_, err = f.orch.ProcessVote(ctx, f.embedder.add("bob", nearby(face(0.1), 0.9)), 0)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), f.ledger.Proposals()[0].VoteCount)
}

func TestProcessVote_LedgerRecordWithoutRegistryEntry(t *testing.T) {
	f := newFixture(t)
	d := face(0.2)
	f.ledger.MarkVoted(string(faceid.Identify(d)), 0)

	_, err := f.orch.ProcessVote(context.Background(), f.embedder.add("carol", d), 1)

	assert.ErrorIs(t, err, ErrAlreadyVoted)
	assert.Equal(t, 0, f.ledger.Writes())

	entry, ok := f.orch.Registry().Get(faceid.Identify(d))
	require.True(t, ok, "ledger-confirmed face is remembered")
	assert.Equal(t, facematch.StateConfirmed, entry.State)
}

func TestProcessVote_FailedSubmissionLeavesNoEntry(t *testing.T) {
	f := newFixture(t)
	f.ledger.VoteError = &ledger.TxError{Method: "vote", Err: ledger.ErrNotSubmitted, Cause: errors.New("connection reset")}
	img := f.embedder.add("alice", face(0.1))

	_, err := f.orch.ProcessVote(context.Background(), img, 0)
	assert.ErrorIs(t, err, ErrSubmissionFailed)
	assert.Equal(t, 0, f.orch.Registry().Len())

	// the same face can retry once the ledger recovers
	f.ledger.VoteError = nil
	_, err = f.orch.ProcessVote(context.Background(), img, 0)
	assert.NoError(t, err)
}

func TestProcessVote_LedgerRejections(t *testing.T) {
	tests := []struct {
		reason string
		want   error
	}{
		{mock.ReasonAlreadyVoted, ErrAlreadyVoted},
		{mock.ReasonInvalidProposal, ErrInvalidProposal},
		{mock.ReasonOnlyAdmin, ErrAdminOnly},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			f := newFixture(t)
			f.ledger.VoteError = &ledger.TxError{Method: "vote", Err: ledger.ErrReverted, Reason: tt.reason}

			_, err := f.orch.ProcessVote(context.Background(), f.embedder.add("alice", face(0.1)), 0)

			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestProcessVote_StaleRegistryEntryIsForgotten(t *testing.T) {
	f := newFixture(t)
	d := face(0.1)
	id := faceid.Identify(d)
	// known locally but the ledger was reset
	f.orch.Registry().Restore([]facematch.Entry{{ID: id, Descriptor: d}})
	require.NoError(t, f.receipts.SaveReceipt(context.Background(), dbmockReceipt(id, d)))

	res, err := f.orch.ProcessVote(context.Background(), f.embedder.add("alice", nearby(d, 0.2)), 0)
	require.NoError(t, err)

	_, ok := f.orch.Registry().Get(id)
	assert.False(t, ok)
	_, ok = f.orch.Registry().Get(faceid.Identifier(res.FaceIdentifier))
	assert.True(t, ok)

	stale, err := f.receipts.GetByFaceHash(context.Background(), string(id))
	require.NoError(t, err)
	assert.Nil(t, stale, "stale receipt is deleted")
}

func dbmockReceipt(id faceid.Identifier, d faceid.Descriptor) database.StoredReceipt {
	return database.StoredReceipt{FaceHash: string(id), Descriptor: d, TxHash: "0x01"}
}

func TestProcessVote_ReceiptFailureDoesNotFailVote(t *testing.T) {
	f := newFixture(t)
	f.receipts.SaveError = errors.New("db down")

	res, err := f.orch.ProcessVote(context.Background(), f.embedder.add("alice", face(0.1)), 0)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestProcessVote_ThresholdOption(t *testing.T) {
	f := newFixture(t)
	f.orch = New(f.embedder, f.ledger, nil, Options{MatchThreshold: 0.2})
	ctx := context.Background()

	_, err := f.orch.ProcessVote(ctx, f.embedder.add("alice", face(0.1)), 0)
	require.NoError(t, err)
	_, err = f.orch.ProcessVote(ctx, f.embedder.add("alice-2", nearby(face(0.1), 0.3)), 0)
	assert.NoError(t, err, "0.3 apart is a different face at threshold 0.2")
	assert.Equal(t, 0.2, f.orch.Threshold())
}

func TestAddProposal(t *testing.T) {
	f := newFixture(t, "A")

	res, err := f.orch.AddProposal(context.Background(), "  Build   a\tpark ")
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.NotEmpty(t, res.TransactionID)
	assert.Equal(t, "Proposal added successfully", res.Message)

	proposals := f.ledger.Proposals()
	require.Len(t, proposals, 2)
	assert.Equal(t, "Build a park", proposals[1].Description)
}

func TestAddProposal_NonAdminDoesNotMutate(t *testing.T) {
	f := newFixture(t, "A")
	f.ledger.SetSigner(strangerAddr)

	_, err := f.orch.AddProposal(context.Background(), "Build a park")

	assert.ErrorIs(t, err, ErrAdminOnly)
	assert.Equal(t, 0, f.ledger.Writes())
	assert.Len(t, f.ledger.Proposals(), 1)
}

func TestAddProposal_InvalidDescription(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.AddProposal(context.Background(), " \n\t ")

	assert.ErrorIs(t, err, ErrInvalidDescription)
	assert.Equal(t, 0, f.ledger.Calls())
}

func TestAddProposal_LedgerFailure(t *testing.T) {
	f := newFixture(t)
	f.ledger.BeforeWrite = func(string) { f.ledger.SetSigner(strangerAddr) }

	_, err := f.orch.AddProposal(context.Background(), "Build a park")
	assert.ErrorIs(t, err, ErrAdminOnly, "ledger-side authorization rejection")
}

func TestProposals_Ordered(t *testing.T) {
	descriptions := make([]string, 25)
	for i := range descriptions {
		descriptions[i] = fmt.Sprintf("proposal %d", i)
	}
	f := newFixture(t, descriptions...)
	f.ledger.MarkVoted("x", 3)

	proposals, err := f.orch.Proposals(context.Background())
	require.NoError(t, err)

	require.Len(t, proposals, 25)
	for i, p := range proposals {
		assert.Equal(t, uint64(i), p.ID)
		assert.Equal(t, descriptions[i], p.Description)
	}
	assert.Equal(t, uint64(1), proposals[3].VoteCount)
}

func TestProposals_LedgerError(t *testing.T) {
	f := newFixture(t)
	f.ledger.ReadError = errors.New("rpc down")

	_, err := f.orch.Proposals(context.Background())
	assert.ErrorIs(t, err, ErrLedgerUnavailable)
}

func TestVoter(t *testing.T) {
	f := newFixture(t)
	res, err := f.orch.ProcessVote(context.Background(), f.embedder.add("alice", face(0.1)), 0)
	require.NoError(t, err)

	rec, err := f.orch.Voter(context.Background(), res.FaceIdentifier)
	require.NoError(t, err)
	assert.True(t, rec.HasVoted)
	assert.True(t, rec.KnownLocally)
	assert.NotNil(t, rec.VoteTimestamp)

	rec, err = f.orch.Voter(context.Background(), "unknown")
	require.NoError(t, err)
	assert.False(t, rec.HasVoted)
	assert.Nil(t, rec.VoteTimestamp)
}

func TestVerifyAdmin(t *testing.T) {
	l := mock.NewMockLedger(adminAddr)
	assert.NoError(t, VerifyAdmin(context.Background(), l))

	l.SetSigner(strangerAddr)
	err := VerifyAdmin(context.Background(), l)
	assert.ErrorIs(t, err, ErrAdminMismatch)
	assert.Contains(t, err.Error(), strangerAddr.Hex())

	l.AdminError = errors.New("rpc down")
	assert.ErrorIs(t, VerifyAdmin(context.Background(), l), ErrLedgerUnavailable)
}

func TestIdentifierDeterminism(t *testing.T) {
	d := face(0.37)
	first := faceid.Identify(d)
	for range 10 {
		assert.Equal(t, first, faceid.Identify(append(faceid.Descriptor(nil), d...)))
	}
}

func TestDescribe_NeedsNoLedger(t *testing.T) {
	emb := newFakeEmbedder()
	o := New(emb, nil, nil, Options{})
	img := emb.add("dave", face(0.5))

	d, id, err := o.Describe(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, face(0.5), d)
	assert.Equal(t, faceid.Identify(face(0.5)), id)

	_, _, err = o.Describe(context.Background(), []byte("empty wall"))
	assert.ErrorIs(t, err, ErrNoFaceDetected)
	assert.Equal(t, 0, o.Registry().Len())
}
