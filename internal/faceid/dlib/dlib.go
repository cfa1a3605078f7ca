// Package dlib extracts face descriptors locally with dlib's ResNet model via go-face.
//
// The model directory must contain shape_predictor_5_face_landmarks.dat,
// dlib_face_recognition_resnet_model_v1.dat and mmod_human_face_detector.dat.
package dlib

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/Kagami/go-face"
	"github.com/kozaktomas/face-ballot/internal/faceid"
	"github.com/kozaktomas/face-ballot/internal/faceid/imaging"
)

// Provider implements faceid.Embedder on top of a go-face Recognizer.
type Provider struct {
	modelsPath string
	normalizer imaging.Normalizer

	mu  sync.Mutex // guards rec; the recognizer is not safe for concurrent use
	rec *face.Recognizer
}

// New creates a provider. Models are loaded on first use.
func New(modelsPath string, normalizer imaging.Normalizer) *Provider {
	if normalizer == nil {
		normalizer = imaging.NewJPEGNormalizer(0, 0)
	}
	return &Provider{
		modelsPath: modelsPath,
		normalizer: normalizer,
	}
}

// Init loads the models if they are not loaded yet.
func (p *Provider) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initLocked()
}

func (p *Provider) initLocked() error {
	if p.rec != nil {
		return nil
	}
	if _, err := os.Stat(p.modelsPath); err != nil {
		return fmt.Errorf("%w: models directory %s: %w", faceid.ErrModelInit, p.modelsPath, err)
	}

	slog.Info("loading face models", "path", p.modelsPath)
	rec, err := face.NewRecognizer(p.modelsPath)
	if err != nil {
		return fmt.Errorf("%w: %w", faceid.ErrModelInit, err)
	}
	p.rec = rec
	slog.Info("face models loaded")
	return nil
}

// Extract implements faceid.Embedder.
func (p *Provider) Extract(ctx context.Context, image []byte) (faceid.Descriptor, error) {
	jpegData, err := p.normalizer.Normalize(image)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", faceid.ErrInvalidImage, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.initLocked(); err != nil {
		return nil, err
	}

	f, err := p.rec.RecognizeSingle(jpegData)
	if err != nil {
		return nil, fmt.Errorf("face recognition failed: %w", err)
	}
	if f == nil {
		return nil, faceid.ErrNoFace
	}

	d := make(faceid.Descriptor, len(f.Descriptor))
	copy(d, f.Descriptor[:])
	return d, nil
}

// Close releases the dlib resources.
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rec != nil {
		p.rec.Close()
		p.rec = nil
	}
}
