// Package remote extracts face descriptors through an HTTP embedding server.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/face-ballot/internal/faceid"
	"github.com/kozaktomas/face-ballot/internal/faceid/imaging"
)

const defaultEmbeddingURL = "http://localhost:8000"

// FaceDetection represents a single detected face
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// FaceResponse represents the response from the face embedding endpoint
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Client implements faceid.Embedder against the embedding server.
type Client struct {
	baseURL    string
	client     *http.Client
	normalizer imaging.Normalizer

	mu    sync.Mutex
	ready bool
}

// NewClient creates a new embedding client
func NewClient(baseURL string, normalizer imaging.Normalizer) *Client {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	if normalizer == nil {
		normalizer = imaging.NewJPEGNormalizer(0, 0)
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		client:     &http.Client{Timeout: 2 * time.Minute},
		normalizer: normalizer,
	}
}

// Init checks the embedding server is reachable. Successful checks are remembered.
func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("%w: %w", faceid.ErrModelInit, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: embedding server unreachable: %w", faceid.ErrModelInit, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: embedding server health check returned %d", faceid.ErrModelInit, resp.StatusCode)
	}
	c.ready = true
	return nil
}

// Extract implements faceid.Embedder. The face with the highest detection score
// wins. Embeddings are scaled to unit length so euclidean distance tracks the
// cosine distance the server's models are trained for: d = sqrt(2 * cosDist).
func (c *Client) Extract(ctx context.Context, image []byte) (faceid.Descriptor, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}

	jpegData, err := c.normalizer.Normalize(image)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", faceid.ErrInvalidImage, err)
	}

	resp, err := c.ComputeFaceEmbeddings(ctx, jpegData)
	if err != nil {
		return nil, err
	}

	best := -1
	for i, f := range resp.Faces {
		if len(f.Embedding) == 0 {
			continue
		}
		if best < 0 || f.DetScore > resp.Faces[best].DetScore {
			best = i
		}
	}
	if best < 0 {
		return nil, faceid.ErrNoFace
	}
	return faceid.Descriptor(resp.Faces[best].Embedding).Normalized(), nil
}

// ComputeFaceEmbeddings detects faces and computes their embeddings
func (c *Client) ComputeFaceEmbeddings(ctx context.Context, imageData []byte) (*FaceResponse, error) {
	body, err := c.postMultipartImage(ctx, "/embed/face", imageData)
	if err != nil {
		return nil, err
	}

	var faceResp FaceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &faceResp, nil
}

// postMultipartImage posts the image as the "file" form field.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", imaging.DetectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}
