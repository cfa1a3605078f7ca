package voting

import "errors"

// Failures surfaced to callers. Every error returned by the orchestrator wraps
// exactly one of these; Code gives the matching machine-readable name.
var (
	ErrNoFaceDetected     = errors.New("no face detected in the image, make sure your face is clearly visible and well lit")
	ErrInvalidImage       = errors.New("the image could not be decoded")
	ErrAlreadyVoted       = errors.New("this face has already voted, only one vote per face is allowed")
	ErrVoteInProgress     = errors.New("a vote for this face is already being processed")
	ErrAdminMismatch      = errors.New("signer is not the contract admin")
	ErrAdminOnly          = errors.New("only the contract admin can add proposals")
	ErrInvalidProposal    = errors.New("invalid proposal")
	ErrInvalidDescription = errors.New("invalid proposal description")
	ErrSubmissionFailed   = errors.New("ledger submission failed")
	ErrLedgerUnavailable  = errors.New("ledger unavailable")
	ErrModelInitFailed    = errors.New("face recognition model initialization failed")
	ErrNotInitialized     = errors.New("voting system not initialized")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrNoFaceDetected, "no_face_detected"},
	{ErrInvalidImage, "invalid_image"},
	{ErrAlreadyVoted, "already_voted"},
	{ErrVoteInProgress, "vote_in_progress"},
	{ErrAdminMismatch, "admin_mismatch"},
	{ErrAdminOnly, "admin_only"},
	{ErrInvalidProposal, "invalid_proposal"},
	{ErrInvalidDescription, "invalid_description"},
	{ErrSubmissionFailed, "submission_failed"},
	{ErrLedgerUnavailable, "ledger_unavailable"},
	{ErrModelInitFailed, "model_init_failed"},
	{ErrNotInitialized, "not_initialized"},
}

// Code returns a stable identifier for err, "internal" when it is not part of
// the taxonomy. The first match in declaration order wins, so a session build
// failure caused by an admin mismatch reports "admin_mismatch".
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}
