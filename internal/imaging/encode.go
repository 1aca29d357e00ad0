// Package imaging re-encodes downloaded provider assets under a named
// compression profile before they are persisted.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
)

type Profile string

const (
	ProfileHighQuality Profile = "high_quality"
	ProfileBalanced    Profile = "balanced"
	ProfileSmallSize   Profile = "small_size"
	ProfileMinimumSize Profile = "minimum_size"
)

// settings is the fixed (quality, effort) pair for one profile. Effort is
// expressed as a maximum dimension; zero keeps the original dimensions.
type settings struct {
	quality      int
	maxDimension uint
}

var profiles = map[Profile]settings{
	ProfileHighQuality: {quality: 95},
	ProfileBalanced:    {quality: 85},
	ProfileSmallSize:   {quality: 75, maxDimension: 1280},
	ProfileMinimumSize: {quality: 60, maxDimension: 900},
}

// ParseProfile validates a configured profile name, defaulting to balanced.
func ParseProfile(name string) (Profile, error) {
	if name == "" {
		return ProfileBalanced, nil
	}
	profile := Profile(name)
	if _, ok := profiles[profile]; !ok {
		return "", fmt.Errorf("unknown compression profile: %s", name)
	}
	return profile, nil
}

// EncodeResult reports the size change of a re-encode pass.
type EncodeResult struct {
	Data       []byte
	BytesIn    int
	BytesOut   int
	ReductionP float64
}

// Encode decodes raw and re-encodes it as JPEG under the profile. PNG and
// JPEG inputs are supported; anything else fails decode.
func Encode(raw []byte, profile Profile) (EncodeResult, error) {
	cfg, ok := profiles[profile]
	if !ok {
		return EncodeResult{}, fmt.Errorf("unknown compression profile: %s", profile)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return EncodeResult{}, fmt.Errorf("decode image: %w", err)
	}

	if cfg.maxDimension > 0 {
		img = resize.Thumbnail(cfg.maxDimension, cfg.maxDimension, img, resize.Lanczos3)
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: cfg.quality}); err != nil {
		return EncodeResult{}, fmt.Errorf("encode jpeg: %w", err)
	}

	result := EncodeResult{
		Data:     out.Bytes(),
		BytesIn:  len(raw),
		BytesOut: out.Len(),
	}
	if result.BytesIn > 0 {
		result.ReductionP = 100 * float64(result.BytesIn-result.BytesOut) / float64(result.BytesIn)
	}
	return result, nil
}
