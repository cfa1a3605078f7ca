package handlers

import (
	"net/http"

	"github.com/kozaktomas/face-ballot/internal/config"
	"github.com/kozaktomas/face-ballot/internal/database"
	"github.com/kozaktomas/face-ballot/internal/voting"
)

// ConfigHandler handles configuration endpoints
type ConfigHandler struct {
	config  *config.Config
	session *voting.Session
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(cfg *config.Config, session *voting.Session) *ConfigHandler {
	return &ConfigHandler{
		config:  cfg,
		session: session,
	}
}

// ConfigResponse represents the public configuration
type ConfigResponse struct {
	ContractAddress string  `json:"contractAddress"`
	Signer          string  `json:"signer,omitempty"`
	Initialized     bool    `json:"initialized"`
	FaceProvider    string  `json:"faceProvider"`
	MatchThreshold  float64 `json:"matchThreshold"`
	ReceiptStore    bool    `json:"receiptStore"`
	AdminProtected  bool    `json:"adminProtected"`
}

// Get returns the public configuration. It never triggers initialization.
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	response := ConfigResponse{
		ContractAddress: h.config.Ledger.ContractAddress,
		FaceProvider:    h.config.Face.Provider,
		MatchThreshold:  h.config.Face.MatchThreshold,
		ReceiptStore:    database.IsInitialized(),
		AdminProtected:  h.config.Web.AdminToken != "",
	}

	if o := h.session.Current(); o != nil {
		response.Initialized = true
		response.Signer = o.Signer().Hex()
		response.MatchThreshold = o.Threshold()
	}

	respondJSON(w, http.StatusOK, response)
}
