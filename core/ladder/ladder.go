// Package ladder maps quality labels to encoder targets and plans the
// renditions a source can produce without upscaling.
package ladder

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"Fanvault/model"
)

// ErrInvalidDimensions is returned for non-positive source dimensions.
var ErrInvalidDimensions = errors.New("ladder: source dimensions must be positive")

// Rung is the canonical target for one quality label.
type Rung struct {
	Label       string
	Height      int
	BitrateKbps int
	CRF         int
}

// rungs is ordered ascending by height.
var rungs = []Rung{
	{Label: "240p", Height: 240, BitrateKbps: 400, CRF: 30},
	{Label: "360p", Height: 360, BitrateKbps: 800, CRF: 28},
	{Label: "480p", Height: 480, BitrateKbps: 1400, CRF: 26},
	{Label: "720p", Height: 720, BitrateKbps: 2800, CRF: 24},
	{Label: "1080p", Height: 1080, BitrateKbps: 5000, CRF: 23},
	{Label: "1440p", Height: 1440, BitrateKbps: 8000, CRF: 22},
	{Label: "2160p", Height: 2160, BitrateKbps: 14000, CRF: 21},
}

var aliases = map[string]string{
	"4k":  "2160p",
	"uhd": "2160p",
	"2k":  "1440p",
	"hd":  "720p",
	"fhd": "1080p",
}

// Rungs returns a copy of the full table, lowest first.
func Rungs() []Rung {
	out := make([]Rung, len(rungs))
	copy(out, rungs)
	return out
}

// Normalize canonicalizes a label ("4K" -> "2160p", "720P" -> "720p").
func Normalize(label string) string {
	l := strings.ToLower(strings.TrimSpace(label))
	if canonical, ok := aliases[l]; ok {
		return canonical
	}
	return l
}

// Lookup returns the rung for label.
func Lookup(label string) (Rung, bool) {
	l := Normalize(label)
	for _, r := range rungs {
		if r.Label == l {
			return r, true
		}
	}
	return Rung{}, false
}

// Plan returns the renditions for the requested labels that fit within the
// source, ordered by ascending height. Unknown and duplicate labels are
// skipped; labels taller than the source are dropped.
func Plan(nativeWidth, nativeHeight int, requested []string) ([]model.RenditionSpec, error) {
	if nativeWidth <= 0 || nativeHeight <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, nativeWidth, nativeHeight)
	}

	seen := make(map[string]bool, len(requested))
	specs := make([]model.RenditionSpec, 0, len(requested))
	for _, label := range requested {
		rung, ok := Lookup(label)
		if !ok || seen[rung.Label] {
			continue
		}
		seen[rung.Label] = true

		if rung.Height > nativeHeight {
			continue
		}

		specs = append(specs, model.RenditionSpec{
			Label:       rung.Label,
			Width:       scaledWidth(nativeWidth, nativeHeight, rung.Height),
			Height:      rung.Height,
			BitrateKbps: rung.BitrateKbps,
			CRF:         rung.CRF,
		})
	}

	sort.Slice(specs, func(i, j int) bool { return specs[i].Height < specs[j].Height })
	return specs, nil
}

// scaledWidth keeps the source aspect ratio and rounds to an even number,
// which yuv420p encoders require.
func scaledWidth(nativeWidth, nativeHeight, targetHeight int) int {
	w := float64(nativeWidth) * float64(targetHeight) / float64(nativeHeight)
	even := int(math.Round(w/2)) * 2
	if even < 2 {
		even = 2
	}
	return even
}
