package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/awnumar/memguard"
)

// Face embedding providers.
const (
	FaceProviderDlib   = "dlib"
	FaceProviderRemote = "remote"
)

// Default euclidean match thresholds per provider. dlib descriptors are
// compared raw; remote embeddings are unit length, where 1.0 equals a cosine
// distance of 0.5.
const (
	DefaultDlibThreshold   = 0.6
	DefaultRemoteThreshold = 1.0
)

// DefaultMatchThreshold returns the threshold used when FACE_MATCH_THRESHOLD is unset.
func DefaultMatchThreshold(provider string) float64 {
	if provider == FaceProviderRemote {
		return DefaultRemoteThreshold
	}
	return DefaultDlibThreshold
}

type Config struct {
	Ledger    LedgerConfig
	Face      FaceConfig
	Embedding EmbeddingConfig
	Database  DatabaseConfig
	Web       WebConfig
}

type LedgerConfig struct {
	RPCURL          string        // defaults to http://localhost:8545
	ContractAddress string        // deployed voting contract
	GasMarginPct    int           // added on top of the gas estimate (default 20)
	ConfirmTimeout  time.Duration // 0 waits for confirmation indefinitely

	privateKey *memguard.Enclave
}

// HasPrivateKey reports whether a signing key was configured.
func (c *LedgerConfig) HasPrivateKey() bool {
	return c.privateKey != nil
}

// OpenPrivateKey decrypts the signing key into a locked buffer.
// The caller must Destroy the buffer once the key has been parsed.
func (c *LedgerConfig) OpenPrivateKey() (*memguard.LockedBuffer, error) {
	if c.privateKey == nil {
		return nil, errors.New("PRIVATE_KEY is not set")
	}
	buf, err := c.privateKey.Open()
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// SetPrivateKey seals a hex-encoded key into an enclave. The input slice is wiped.
func (c *LedgerConfig) SetPrivateKey(key []byte) {
	if len(key) == 0 {
		c.privateKey = nil
		return
	}
	c.privateKey = memguard.NewEnclave(key)
}

type FaceConfig struct {
	Provider       string  // dlib or remote
	ModelsPath     string  // dlib model directory
	MatchThreshold float64 // euclidean distance below which two faces are the same person; default depends on Provider
	IndexMinSize   int     // registry size at which the HNSW index kicks in
	MaxImageEdge   int     // images are downscaled to this edge before detection
	MaxImageBytes  int     // decoded upload size limit
}

type EmbeddingConfig struct {
	URL string // defaults to http://localhost:8000
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL (optional, enables the receipt store)
	MaxOpenConns int    // Maximum open connections (default 10)
	MaxIdleConns int    // Maximum idle connections (default 2)
}

type WebConfig struct {
	AllowedOrigins []string
	AdminToken     string
	VoteRateLimit  int // requests per minute per client, 0 disables
	VoteRateBurst  int
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a positive float, falling back to the default on bad input.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envDuration accepts Go durations ("90s") or plain seconds ("90").
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for item := range strings.SplitSeq(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func Load() *Config {
	cfg := &Config{
		Ledger: LedgerConfig{
			RPCURL:          envString("RPC_URL", "http://localhost:8545"),
			ContractAddress: os.Getenv("CONTRACT_ADDRESS"),
			GasMarginPct:    envInt("GAS_MARGIN_PERCENT", 20),
			ConfirmTimeout:  envDuration("LEDGER_CONFIRM_TIMEOUT", 0),
		},
		Face: FaceConfig{
			Provider:      strings.ToLower(envString("FACE_PROVIDER", FaceProviderDlib)),
			ModelsPath:    envString("MODELS_PATH", "models"),
			IndexMinSize:  envInt("FACE_INDEX_MIN_SIZE", 256),
			MaxImageEdge:  envInt("IMAGE_MAX_EDGE", 1024),
			MaxImageBytes: envInt("IMAGE_MAX_BYTES", 10<<20),
		},
		Embedding: EmbeddingConfig{
			URL: os.Getenv("EMBEDDING_URL"),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 2),
		},
		Web: WebConfig{
			AllowedOrigins: splitList(os.Getenv("WEB_ALLOWED_ORIGINS")),
			AdminToken:     os.Getenv("ADMIN_TOKEN"),
			VoteRateLimit:  envInt("VOTE_RATE_LIMIT", 30),
			VoteRateBurst:  envInt("VOTE_RATE_BURST", 5),
		},
	}
	cfg.Face.MatchThreshold = envFloat("FACE_MATCH_THRESHOLD", DefaultMatchThreshold(cfg.Face.Provider))
	cfg.Ledger.SetPrivateKey([]byte(os.Getenv("PRIVATE_KEY")))
	return cfg
}

// Validate reports every missing setting required to talk to the ledger.
func (c *Config) Validate() error {
	var errs []error
	if c.Ledger.RPCURL == "" {
		errs = append(errs, errors.New("RPC_URL environment variable is required"))
	}
	if !c.Ledger.HasPrivateKey() {
		errs = append(errs, errors.New("PRIVATE_KEY environment variable is required"))
	}
	if c.Ledger.ContractAddress == "" {
		errs = append(errs, errors.New("CONTRACT_ADDRESS environment variable is required"))
	}
	switch c.Face.Provider {
	case FaceProviderDlib:
		if c.Face.ModelsPath == "" {
			errs = append(errs, errors.New("MODELS_PATH is required for the dlib face provider"))
		}
	case FaceProviderRemote:
	default:
		errs = append(errs, errors.New("FACE_PROVIDER must be one of: dlib, remote"))
	}
	return errors.Join(errs...)
}
