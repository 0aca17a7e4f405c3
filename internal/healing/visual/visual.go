// Package visual scores how likely two element snapshots are renderings of
// the same underlying UI element. The comparison math is pure; rendered-pixel
// fingerprints come from an injected RenderSnapshotProvider and degrade to a
// structural hash without one.
package visual

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/xkilldash9x/relock/api/schemas"
	"go.uber.org/zap"
)

// Sub-score weights. They sum to 1.0.
const (
	weightPixelHash = 0.4
	weightSize      = 0.2
	weightStyle     = 0.2
	weightPosition  = 0.1
	weightText      = 0.1
)

// Default screen dimensions used to normalize position distance.
const (
	defaultScreenWidth  = 1920.0
	defaultScreenHeight = 1080.0
)

// truncated text kept in fingerprints.
const fingerprintTextLimit = 120

// Fingerprint is the comparable visual summary of one element.
type Fingerprint struct {
	Box             schemas.BoundingBox `json:"box"`
	Color           string              `json:"color"`
	BackgroundColor string              `json:"backgroundColor"`
	FontFamily      string              `json:"fontFamily"`
	FontSize        string              `json:"fontSize"`
	FontWeight      string              `json:"fontWeight"`
	BorderRadius    string              `json:"borderRadius"`
	Text            string              `json:"text"`
	TextHash        string              `json:"textHash"`
	PixelHash       string              `json:"pixelHash"`
}

// Comparator blends five weighted similarity sub-scores between element
// fingerprints. Deterministic, side-effect free, never fails: missing data
// contributes mismatch rather than error.
type Comparator struct {
	provider     schemas.RenderSnapshotProvider
	screenWidth  float64
	screenHeight float64
	log          *zap.Logger
}

// Option adjusts a Comparator.
type Option func(*Comparator)

// WithScreenSize overrides the screen dimensions used for position
// normalization.
func WithScreenSize(width, height float64) Option {
	return func(c *Comparator) {
		if width > 0 && height > 0 {
			c.screenWidth = width
			c.screenHeight = height
		}
	}
}

// NewComparator creates a comparator. provider may be nil, in which case pixel
// hashes are derived structurally from the descriptor.
func NewComparator(provider schemas.RenderSnapshotProvider, logger *zap.Logger, opts ...Option) *Comparator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Comparator{
		provider:     provider,
		screenWidth:  defaultScreenWidth,
		screenHeight: defaultScreenHeight,
		log:          logger.Named("visual"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Fingerprint builds the visual summary for one element.
func (c *Comparator) Fingerprint(ctx context.Context, el schemas.ElementDescriptor) Fingerprint {
	text := el.Text
	if len(text) > fingerprintTextLimit {
		text = text[:fingerprintTextLimit]
	}

	fp := Fingerprint{
		Box:             el.Box,
		Color:           el.Style.Color,
		BackgroundColor: el.Style.BackgroundColor,
		FontFamily:      el.Style.FontFamily,
		FontSize:        el.Style.FontSize,
		FontWeight:      el.Style.FontWeight,
		BorderRadius:    el.Style.BorderRadius,
		Text:            text,
		TextHash:        fnvHash(text),
	}

	fp.PixelHash = c.pixelHash(ctx, el)
	return fp
}

// pixelHash asks the provider for a rendered snapshot; without a provider, or
// when it fails, a deterministic structural hash stands in so that identical
// descriptors still compare equal.
func (c *Comparator) pixelHash(ctx context.Context, el schemas.ElementDescriptor) string {
	if c.provider != nil {
		snap, err := c.provider.Snapshot(ctx, el)
		if err == nil && snap.PixelHash != "" {
			return snap.PixelHash
		}
		if err != nil {
			c.log.Warn("Render snapshot failed, falling back to structural hash", zap.Error(err))
		}
	}

	structural := fmt.Sprintf("%s|%s|%.0fx%.0f|%s|%s|%s",
		el.Tag, el.ID, el.Box.Width, el.Box.Height,
		el.Style.Color, el.Style.BackgroundColor, el.Text)
	return fnvHash(structural)
}

// Compare returns a blended similarity in [0,1] between two elements. An
// element compared with itself yields 1.0.
func (c *Comparator) Compare(ctx context.Context, a, b schemas.ElementDescriptor) float64 {
	fa := c.Fingerprint(ctx, a)
	fb := c.Fingerprint(ctx, b)
	return CompareFingerprints(fa, fb, c.screenWidth, c.screenHeight)
}

// CompareFingerprints blends the five weighted sub-scores. Exposed separately
// so callers holding precomputed fingerprints can compare without re-capture.
func CompareFingerprints(a, b Fingerprint, screenWidth, screenHeight float64) float64 {
	total := weightPixelHash*hashSimilarity(a.PixelHash, b.PixelHash) +
		weightSize*sizeSimilarity(a.Box, b.Box) +
		weightStyle*styleSimilarity(a, b) +
		weightPosition*positionSimilarity(a.Box, b.Box, screenWidth, screenHeight) +
		weightText*textSimilarity(a.Text, b.Text)

	weightSum := weightPixelHash + weightSize + weightStyle + weightPosition + weightText
	return total / weightSum
}

// hashSimilarity is the character-wise match ratio over the longer hash.
func hashSimilarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	matches := 0
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] == b[i] {
			matches++
		}
	}
	return float64(matches) / float64(maxLen)
}

func sizeSimilarity(a, b schemas.BoundingBox) float64 {
	wDiff := relativeDiff(a.Width, b.Width)
	hDiff := relativeDiff(a.Height, b.Height)
	return clamp01(1 - (wDiff+hDiff)/2)
}

func relativeDiff(a, b float64) float64 {
	larger := math.Max(math.Abs(a), math.Abs(b))
	if larger == 0 {
		return 0
	}
	return math.Abs(a-b) / larger
}

// styleSimilarity is the fraction of {color, backgroundColor, fontFamily}
// that match exactly. Missing properties are empty strings and match only
// other empty strings.
func styleSimilarity(a, b Fingerprint) float64 {
	matches := 0
	if a.Color == b.Color {
		matches++
	}
	if a.BackgroundColor == b.BackgroundColor {
		matches++
	}
	if a.FontFamily == b.FontFamily {
		matches++
	}
	return float64(matches) / 3
}

func positionSimilarity(a, b schemas.BoundingBox, screenWidth, screenHeight float64) float64 {
	diagonal := math.Hypot(screenWidth, screenHeight)
	if diagonal == 0 {
		return 1
	}
	distance := math.Hypot(a.X-b.X, a.Y-b.Y)
	return clamp01(1 - distance/diagonal)
}

// textSimilarity is the normalized Levenshtein similarity.
func textSimilarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	return 1 - float64(levenshtein(a, b))/float64(maxLen)
}

// levenshtein computes edit distance with a two-row rolling buffer.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func fnvHash(s string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return fmt.Sprintf("%016x", h.Sum64())
}
