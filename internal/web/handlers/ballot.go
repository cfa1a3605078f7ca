package handlers

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-ballot/internal/config"
	"github.com/kozaktomas/face-ballot/internal/voting"
)

// defaultMaxImageBytes applies when the config leaves the limit unset.
const defaultMaxImageBytes = 10 << 20

// BallotHandler handles the voting endpoints
type BallotHandler struct {
	config  *config.Config
	session *voting.Session
}

// NewBallotHandler creates a new ballot handler
func NewBallotHandler(cfg *config.Config, session *voting.Session) *BallotHandler {
	return &BallotHandler{
		config:  cfg,
		session: session,
	}
}

// VoteRequest is the body of POST /api/vote.
type VoteRequest struct {
	Image      string `json:"image" validate:"required"`
	ProposalID *int64 `json:"proposalId" validate:"required"`
}

// AddProposalRequest is the body of POST /api/proposals.
type AddProposalRequest struct {
	Description string `json:"description" validate:"required"`
}

// Initialize builds the voting session: connects the ledger, checks the
// signer is the contract admin and loads the face models.
func (h *BallotHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	o, err := h.session.Get(r.Context())
	if err != nil {
		slog.Error("initialization failed", "error", err)
		respondVotingError(w, http.StatusInternalServerError, err)
		return
	}
	if err := o.Init(r.Context()); err != nil {
		slog.Error("face model initialization failed", "error", err)
		respondVotingError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ListProposals returns every proposal in ledger order.
func (h *BallotHandler) ListProposals(w http.ResponseWriter, r *http.Request) {
	o, err := h.session.Get(r.Context())
	if err != nil {
		respondVotingError(w, http.StatusInternalServerError, err)
		return
	}
	proposals, err := o.Proposals(r.Context())
	if err != nil {
		slog.Error("listing proposals failed", "error", err)
		respondVotingError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, proposals)
}

// AddProposal submits a new proposal as the contract admin.
func (h *BallotHandler) AddProposal(w http.ResponseWriter, r *http.Request) {
	var req AddProposalRequest
	if err := decodeJSON(w, r, maxJSONBody, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	o, err := h.session.Get(r.Context())
	if err != nil {
		respondVotingError(w, http.StatusInternalServerError, err)
		return
	}
	result, err := o.AddProposal(r.Context(), req.Description)
	if err != nil {
		respondVotingError(w, http.StatusBadRequest, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Vote casts a vote for the face in the uploaded image.
func (h *BallotHandler) Vote(w http.ResponseWriter, r *http.Request) {
	maxImage := h.maxImageBytes()
	// base64 inflates by 4/3; leave room for a data URL prefix and the JSON envelope.
	limit := int64(maxImage)/3*4 + 64<<10

	var req VoteRequest
	if err := decodeJSON(w, r, limit, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	image, err := decodeImage(req.Image, maxImage)
	if err != nil {
		respondVotingError(w, http.StatusBadRequest, err)
		return
	}

	o, err := h.session.Get(r.Context())
	if err != nil {
		respondVotingError(w, http.StatusInternalServerError, err)
		return
	}
	result, err := o.ProcessVote(r.Context(), image, *req.ProposalID)
	if err != nil {
		respondVotingError(w, http.StatusBadRequest, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// GetVoter returns the ledger's record for a face identifier.
func (h *BallotHandler) GetVoter(w http.ResponseWriter, r *http.Request) {
	faceHash := strings.ToLower(chi.URLParam(r, "faceHash"))
	if err := validate.Var(faceHash, "required,len=64,hexadecimal"); err != nil {
		respondError(w, http.StatusBadRequest, "faceHash must be 64 hex characters")
		return
	}

	o, err := h.session.Get(r.Context())
	if err != nil {
		respondVotingError(w, http.StatusInternalServerError, err)
		return
	}
	record, err := o.Voter(r.Context(), faceHash)
	if err != nil {
		slog.Error("reading voter failed", "face", faceHash[:10], "error", err)
		respondVotingError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, record)
}

func (h *BallotHandler) maxImageBytes() int {
	if h.config != nil && h.config.Face.MaxImageBytes > 0 {
		return h.config.Face.MaxImageBytes
	}
	return defaultMaxImageBytes
}

// decodeImage decodes a base64 image, optionally wrapped in a data URL.
func decodeImage(s string, maxBytes int) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		_, payload, ok := strings.Cut(s, ",")
		if !ok {
			return nil, fmt.Errorf("%w: malformed data URL", voting.ErrInvalidImage)
		}
		s = payload
	}
	s = strings.TrimSpace(s)

	image, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// Some clients strip the padding.
		var rawErr error
		if image, rawErr = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); rawErr != nil {
			return nil, fmt.Errorf("%w: image is not valid base64", voting.ErrInvalidImage)
		}
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: image is empty", voting.ErrInvalidImage)
	}
	if len(image) > maxBytes {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", voting.ErrInvalidImage, maxBytes)
	}
	return image, nil
}
