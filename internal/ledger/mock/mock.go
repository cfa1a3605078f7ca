// Package mock provides an in-memory FaceVoting contract for testing.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/kozaktomas/face-ballot/internal/ledger"
)

// Revert reasons emitted by the contract.
const (
	ReasonOnlyAdmin       = "Only admin can add proposals"
	ReasonAlreadyVoted    = "Already voted"
	ReasonInvalidProposal = "Invalid proposal"
)

// Gas charged per write.
const (
	VoteGas        = 85_000
	AddProposalGas = 70_000
)

// MockLedger mimics the contract: admin-only proposals, one vote per face hash.
type MockLedger struct {
	mu        sync.Mutex
	admin     common.Address
	signer    common.Address
	proposals []ledger.Proposal
	voters    map[string]ledger.Voter
	block     uint64
	reads     int
	writes    int

	// Now stamps voter records.
	Now func() time.Time

	// BeforeWrite runs before every write is applied, outside the lock.
	BeforeWrite func(method string)

	// BeforeVoterRead runs before every voter lookup, outside the lock.
	BeforeVoterRead func(faceHash string)

	// Error injection
	ReadError  error
	VoteError  error
	AdminError error
}

// NewMockLedger creates a ledger whose admin is also the signer.
func NewMockLedger(admin common.Address) *MockLedger {
	return &MockLedger{
		admin:  admin,
		signer: admin,
		voters: make(map[string]ledger.Voter),
		Now:    time.Now,
	}
}

// SetSigner changes the address writes are attributed to.
func (m *MockLedger) SetSigner(addr common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signer = addr
}

// Seed appends proposals without counting writes.
func (m *MockLedger) Seed(descriptions ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range descriptions {
		m.proposals = append(m.proposals, ledger.Proposal{ID: uint64(len(m.proposals)), Description: d})
	}
}

// MarkVoted stores a voter record directly, as if voted by another process.
func (m *MockLedger) MarkVoted(faceHash string, proposalID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.voters[faceHash] = ledger.Voter{HasVoted: true, FaceHash: faceHash, VoteTimestamp: m.Now().UTC()}
	if proposalID < uint64(len(m.proposals)) {
		m.proposals[proposalID].VoteCount++
	}
}

// Reads returns the number of read calls served.
func (m *MockLedger) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// Writes returns the number of write calls attempted.
func (m *MockLedger) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Calls returns reads plus writes.
func (m *MockLedger) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads + m.writes
}

// Signer returns the signing address.
func (m *MockLedger) Signer() common.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signer
}

// Admin returns the contract admin.
func (m *MockLedger) Admin(ctx context.Context) (common.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.AdminError != nil {
		return common.Address{}, m.AdminError
	}
	return m.admin, nil
}

// ProposalCount returns the number of proposals.
func (m *MockLedger) ProposalCount(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.ReadError != nil {
		return 0, m.ReadError
	}
	return uint64(len(m.proposals)), nil
}

// Proposal returns proposal id. Out-of-range ids revert like the contract's array access.
func (m *MockLedger) Proposal(ctx context.Context, id uint64) (ledger.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.ReadError != nil {
		return ledger.Proposal{}, m.ReadError
	}
	if id >= uint64(len(m.proposals)) {
		return ledger.Proposal{}, fmt.Errorf("proposals: execution reverted")
	}
	return m.proposals[id], nil
}

// Voter returns the record for faceHash; unknown hashes yield the zero record.
func (m *MockLedger) Voter(ctx context.Context, faceHash string) (ledger.Voter, error) {
	if m.BeforeVoterRead != nil {
		m.BeforeVoterRead(faceHash)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.ReadError != nil {
		return ledger.Voter{}, m.ReadError
	}
	return m.voters[faceHash], nil
}

// Vote applies the contract's vote rules.
func (m *MockLedger) Vote(ctx context.Context, faceHash string, proposalID uint64) (*ledger.TxResult, error) {
	if m.BeforeWrite != nil {
		m.BeforeWrite("vote")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++

	if m.VoteError != nil {
		return nil, m.VoteError
	}
	if m.voters[faceHash].HasVoted {
		return nil, revert("vote", ReasonAlreadyVoted)
	}
	if proposalID >= uint64(len(m.proposals)) {
		return nil, revert("vote", ReasonInvalidProposal)
	}

	m.voters[faceHash] = ledger.Voter{HasVoted: true, FaceHash: faceHash, VoteTimestamp: m.Now().UTC()}
	m.proposals[proposalID].VoteCount++
	return m.mineLocked("vote", faceHash, VoteGas), nil
}

// AddProposal appends a proposal when the signer is the admin.
func (m *MockLedger) AddProposal(ctx context.Context, description string) (*ledger.TxResult, error) {
	if m.BeforeWrite != nil {
		m.BeforeWrite("addProposal")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++

	if m.signer != m.admin {
		return nil, revert("addProposal", ReasonOnlyAdmin)
	}
	m.proposals = append(m.proposals, ledger.Proposal{ID: uint64(len(m.proposals)), Description: description})
	return m.mineLocked("addProposal", description, AddProposalGas), nil
}

// Proposals returns a snapshot of all proposals.
func (m *MockLedger) Proposals() []ledger.Proposal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ledger.Proposal, len(m.proposals))
	copy(out, m.proposals)
	return out
}

func (m *MockLedger) mineLocked(method, arg string, gas uint64) *ledger.TxResult {
	m.block++
	return &ledger.TxResult{
		Hash:        crypto.Keccak256Hash([]byte(method), []byte(arg), []byte(fmt.Sprint(m.block))),
		GasUsed:     gas,
		BlockNumber: m.block,
	}
}

// revert builds the error a node returns when gas estimation hits a require().
func revert(method, reason string) error {
	return &ledger.TxError{
		Method: method,
		Err:    ledger.ErrNotSubmitted,
		Reason: reason,
		Cause:  fmt.Errorf("execution reverted: %s", reason),
	}
}
