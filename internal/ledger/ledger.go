// Package ledger talks to the FaceVoting smart contract over JSON-RPC.
package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/kozaktomas/face-ballot/internal/config"
)

// DefaultGasMarginPct is added on top of every gas estimate.
const DefaultGasMarginPct = 20

// Backend is the RPC surface the client needs. *ethclient.Client implements it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

// Proposal is a contract proposal.
type Proposal struct {
	ID          uint64
	Description string
	VoteCount   uint64
}

// Voter is the contract's per-identifier voter record.
type Voter struct {
	HasVoted      bool
	FaceHash      string
	VoteTimestamp time.Time // zero when the identifier never voted
}

// TxResult describes a confirmed transaction.
type TxResult struct {
	Hash        common.Hash
	GasUsed     uint64
	BlockNumber uint64
}

// Options tunes the write path.
type Options struct {
	GasMarginPct   int
	ConfirmTimeout time.Duration // 0 waits indefinitely
}

// Client is a contract binding with a signing key.
type Client struct {
	backend  Backend
	contract *bind.BoundContract
	abi      abi.ABI
	address  common.Address
	auth     *bind.TransactOpts
	opts     Options
	closer   func()
}

// Dial connects to cfg.RPCURL and binds the contract at cfg.ContractAddress.
func Dial(ctx context.Context, cfg *config.LedgerConfig) (*Client, error) {
	key, err := openKey(cfg)
	if err != nil {
		return nil, err
	}

	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid CONTRACT_ADDRESS %q", cfg.ContractAddress)
	}

	rpcClient, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.RPCURL, err)
	}

	client, err := New(ctx, rpcClient, common.HexToAddress(cfg.ContractAddress), key, Options{
		GasMarginPct:   cfg.GasMarginPct,
		ConfirmTimeout: cfg.ConfirmTimeout,
	})
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	client.closer = rpcClient.Close
	return client, nil
}

// openKey parses the sealed hex key. The plaintext never leaves a locked buffer
// except as the parsed ecdsa key.
func openKey(cfg *config.LedgerConfig) (*ecdsa.PrivateKey, error) {
	buf, err := cfg.OpenPrivateKey()
	if err != nil {
		return nil, err
	}
	defer buf.Destroy()

	hexKey := strings.TrimPrefix(strings.TrimSpace(buf.String()), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, errors.New("PRIVATE_KEY is not a valid secp256k1 hex key")
	}
	return key, nil
}

// New binds the contract at address on an existing backend.
func New(ctx context.Context, backend Backend, address common.Address, key *ecdsa.PrivateKey, opts Options) (*Client, error) {
	parsed, err := ParseABI()
	if err != nil {
		return nil, fmt.Errorf("failed to parse contract ABI: %w", err)
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}

	if opts.GasMarginPct <= 0 {
		opts.GasMarginPct = DefaultGasMarginPct
	}

	return &Client{
		backend:  backend,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
		abi:      parsed,
		address:  address,
		auth:     auth,
		opts:     opts,
	}, nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// Address returns the contract address.
func (c *Client) Address() common.Address {
	return c.address
}

// Signer returns the address transactions are signed with.
func (c *Client) Signer() common.Address {
	return c.auth.From
}

func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	var out []any
	if err := c.contract.Call(&bind.CallOpts{Context: ctx, From: c.auth.From}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return out, nil
}

// ProposalCount returns the number of proposals.
func (c *Client) ProposalCount(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, methodProposalCount)
	if err != nil {
		return 0, err
	}
	return toUint64(out[0]), nil
}

// Proposal returns proposal id.
func (c *Client) Proposal(ctx context.Context, id uint64) (Proposal, error) {
	out, err := c.call(ctx, methodProposals, new(big.Int).SetUint64(id))
	if err != nil {
		return Proposal{}, err
	}
	return Proposal{
		ID:          id,
		Description: *abi.ConvertType(out[0], new(string)).(*string),
		VoteCount:   toUint64(out[1]),
	}, nil
}

// Voter returns the voter record stored under faceHash.
func (c *Client) Voter(ctx context.Context, faceHash string) (Voter, error) {
	out, err := c.call(ctx, methodVoters, faceHash)
	if err != nil {
		return Voter{}, err
	}
	v := Voter{
		HasVoted: *abi.ConvertType(out[0], new(bool)).(*bool),
		FaceHash: *abi.ConvertType(out[1], new(string)).(*string),
	}
	if ts := toUint64(out[2]); ts > 0 {
		v.VoteTimestamp = time.Unix(int64(ts), 0).UTC()
	}
	return v, nil
}

// Admin returns the contract's admin address.
func (c *Client) Admin(ctx context.Context) (common.Address, error) {
	out, err := c.call(ctx, methodAdmin)
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

// Vote records a vote for proposalID under faceHash and waits for the receipt.
func (c *Client) Vote(ctx context.Context, faceHash string, proposalID uint64) (*TxResult, error) {
	return c.transact(ctx, methodVote, faceHash, new(big.Int).SetUint64(proposalID))
}

// AddProposal appends a proposal and waits for the receipt.
func (c *Client) AddProposal(ctx context.Context, description string) (*TxResult, error) {
	return c.transact(ctx, methodAddProposal, description)
}

// transact estimates gas, adds the margin, sends and waits for the receipt.
func (c *Client) transact(ctx context.Context, method string, args ...any) (*TxResult, error) {
	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, &TxError{Method: method, Err: ErrNotSubmitted, Cause: err}
	}

	msg := ethereum.CallMsg{From: c.auth.From, To: &c.address, Data: input}
	estimate, err := c.backend.EstimateGas(ctx, msg)
	if err != nil {
		return nil, &TxError{Method: method, Err: ErrNotSubmitted, Reason: RevertReason(err), Cause: err}
	}
	gasLimit := GasWithMargin(estimate, c.opts.GasMarginPct)

	opts := *c.auth
	opts.Context = ctx
	opts.GasLimit = gasLimit

	start := time.Now()
	tx, err := c.contract.Transact(&opts, method, args...)
	if err != nil {
		return nil, &TxError{Method: method, Err: ErrNotSubmitted, Reason: RevertReason(err), Cause: err}
	}
	slog.Info("transaction sent", "method", method, "tx", tx.Hash().Hex(), "gas_estimate", estimate, "gas_limit", gasLimit)

	receipt, err := c.waitMined(ctx, tx)
	if err != nil {
		return nil, &TxError{Method: method, Hash: tx.Hash(), Err: ErrNotConfirmed, Cause: err}
	}
	txDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())

	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, &TxError{
			Method: method,
			Hash:   tx.Hash(),
			Err:    ErrReverted,
			Reason: c.replayReason(ctx, msg, receipt.BlockNumber),
		}
	}

	result := &TxResult{Hash: tx.Hash(), GasUsed: receipt.GasUsed}
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}
	slog.Info("transaction confirmed", "method", method, "tx", result.Hash.Hex(), "gas_used", result.GasUsed, "block", result.BlockNumber)
	return result, nil
}

func (c *Client) waitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if c.opts.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.ConfirmTimeout)
		defer cancel()
	}
	return bind.WaitMined(ctx, c.backend, tx)
}

// replayReason re-executes a reverted call at its block to recover the reason.
func (c *Client) replayReason(ctx context.Context, msg ethereum.CallMsg, block *big.Int) string {
	_, err := c.backend.CallContract(ctx, msg, block)
	return RevertReason(err)
}

// GasWithMargin returns estimate increased by marginPct percent.
func GasWithMargin(estimate uint64, marginPct int) uint64 {
	if marginPct <= 0 {
		return estimate
	}
	return estimate * uint64(100+marginPct) / 100
}

func toUint64(v any) uint64 {
	n := abi.ConvertType(v, new(big.Int)).(*big.Int)
	if !n.IsUint64() {
		return ^uint64(0)
	}
	return n.Uint64()
}
