package ledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// VotingABI is the interface of the deployed FaceVoting contract.
const VotingABI = `[
  {"type":"function","name":"voters","stateMutability":"view",
   "inputs":[{"name":"","type":"string"}],
   "outputs":[{"name":"hasVoted","type":"bool"},{"name":"faceHash","type":"string"},{"name":"voteTimestamp","type":"uint256"}]},
  {"type":"function","name":"proposals","stateMutability":"view",
   "inputs":[{"name":"","type":"uint256"}],
   "outputs":[{"name":"description","type":"string"},{"name":"voteCount","type":"uint256"}]},
  {"type":"function","name":"proposalCount","stateMutability":"view",
   "inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"admin","stateMutability":"view",
   "inputs":[],
   "outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"vote","stateMutability":"nonpayable",
   "inputs":[{"name":"_faceHash","type":"string"},{"name":"_proposalId","type":"uint256"}],
   "outputs":[]},
  {"type":"function","name":"addProposal","stateMutability":"nonpayable",
   "inputs":[{"name":"_description","type":"string"}],
   "outputs":[]}
]`

// Contract method names.
const (
	methodVoters        = "voters"
	methodProposals     = "proposals"
	methodProposalCount = "proposalCount"
	methodAdmin         = "admin"
	methodVote          = "vote"
	methodAddProposal   = "addProposal"
)

// ParseABI parses VotingABI.
func ParseABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(VotingABI))
}
