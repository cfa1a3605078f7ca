// Package faceid defines face descriptors, the identifiers derived from them,
// and the contract every face embedding provider implements.
package faceid

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DescriptorSize is the dimension produced by the dlib and face-api ResNet models.
const DescriptorSize = 128

var (
	// ErrNoFace is returned when the image contains no detectable face.
	ErrNoFace = errors.New("no face detected in the image")
	// ErrModelInit is returned when the embedding model cannot be loaded or reached.
	ErrModelInit = errors.New("face model initialization failed")
	// ErrInvalidImage is returned for payloads that cannot be decoded.
	ErrInvalidImage = errors.New("invalid image")
)

// Descriptor is a fixed-length vector summarizing a detected face.
type Descriptor []float32

// Identifier is the hex SHA-256 digest of a descriptor, used as the ledger's voter key.
type Identifier string

// Short returns the first 10 characters, enough for logs.
func (id Identifier) Short() string {
	if len(id) <= 10 {
		return string(id)
	}
	return string(id[:10])
}

// Embedder converts an image into a face descriptor.
type Embedder interface {
	// Init loads the model. It is idempotent and may be retried after a failure.
	Init(ctx context.Context) error
	// Extract returns the descriptor of the most prominent face, or ErrNoFace.
	Extract(ctx context.Context, image []byte) (Descriptor, error)
}

// Identify derives the identifier of a descriptor.
// Elements are joined with "," using ECMAScript number formatting so that
// identifiers match voter records written by browser-side face-api clients.
func Identify(d Descriptor) Identifier {
	sum := sha256.Sum256([]byte(Canonical(d)))
	return Identifier(hex.EncodeToString(sum[:]))
}

// Canonical returns the text form hashed by Identify.
func Canonical(d Descriptor) string {
	var b strings.Builder
	for i, v := range d {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(formatNumber(float64(v)))
	}
	return b.String()
}

// formatNumber renders a float64 the way Number.prototype.toString does:
// shortest round-trip digits, plain notation for exponents in [-7, 21),
// otherwise "d.ddde+N" / "d.ddde-N".
func formatNumber(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	case v == 0:
		return "0"
	}

	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}

	// "d.ddddde±XX"
	sci := strconv.FormatFloat(v, 'e', -1, 64)
	mantissa, expPart, _ := strings.Cut(sci, "e")
	exp, _ := strconv.Atoi(expPart)
	digits := strings.Replace(mantissa, ".", "", 1)
	k := len(digits)
	n := exp + 1

	var out string
	switch {
	case k <= n && n <= 21:
		out = digits + strings.Repeat("0", n-k)
	case 0 < n && n <= 21:
		out = digits[:n] + "." + digits[n:]
	case -6 < n && n <= 0:
		out = "0." + strings.Repeat("0", -n) + digits
	default:
		e := n - 1
		expSign := "+"
		if e < 0 {
			expSign = "-"
			e = -e
		}
		if k == 1 {
			out = digits + "e" + expSign + strconv.Itoa(e)
		} else {
			out = digits[:1] + "." + digits[1:] + "e" + expSign + strconv.Itoa(e)
		}
	}
	return sign + out
}

// EuclideanDistance returns the L2 distance between two descriptors.
// Descriptors of different length are infinitely far apart.
func EuclideanDistance(a, b Descriptor) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Normalized returns a unit-length copy of d. A zero vector is returned as is.
func (d Descriptor) Normalized() Descriptor {
	var sum float64
	for _, v := range d {
		sum += float64(v) * float64(v)
	}
	out := append(Descriptor(nil), d...)
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i, v := range out {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

// Validate checks the descriptor has the expected size and finite values.
func (d Descriptor) Validate(size int) error {
	if len(d) == 0 {
		return errors.New("empty descriptor")
	}
	if size > 0 && len(d) != size {
		return fmt.Errorf("descriptor has %d values, expected %d", len(d), size)
	}
	for _, v := range d {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return errors.New("descriptor contains non-finite values")
		}
	}
	return nil
}
