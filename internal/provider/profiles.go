package provider

import (
	"time"

	"github.com/iago/imagegen-back/internal/imaging"
	"github.com/iago/imagegen-back/internal/pace"
)

// RenderProfile bundles the behavior knobs that used to vary between the two
// historical client generations: compression and pacing are now selected by
// configuration on a single client.
type RenderProfile struct {
	Compression imaging.Profile
	Pacing      pace.Config
}

type ProfileSelectorConfig struct {
	CompressionProfile string
	PacingPreset       string
}

type ProfileSelector struct {
	config ProfileSelectorConfig
}

func NewProfileSelector(config ProfileSelectorConfig) (*ProfileSelector, error) {
	if _, err := imaging.ParseProfile(config.CompressionProfile); err != nil {
		return nil, err
	}
	return &ProfileSelector{config: config}, nil
}

// Select resolves the configured render profile. The "patient" preset is the
// original client's slower cadence; "brisk" is the second generation's.
func (s *ProfileSelector) Select() RenderProfile {
	compression, _ := imaging.ParseProfile(s.config.CompressionProfile)

	pacing := pace.Config{
		BaseSpacing: 3 * time.Second,
		Typing:      pace.DelayRange{Min: 2 * time.Second, Max: 6 * time.Second},
		Reading:     pace.DelayRange{Min: 1 * time.Second, Max: 3 * time.Second},
		Thinking:    pace.DelayRange{Min: 4 * time.Second, Max: 9 * time.Second},
	}
	if s.config.PacingPreset == "patient" {
		pacing = pace.Config{
			BaseSpacing: 6 * time.Second,
			Typing:      pace.DelayRange{Min: 4 * time.Second, Max: 10 * time.Second},
			Reading:     pace.DelayRange{Min: 2 * time.Second, Max: 6 * time.Second},
			Thinking:    pace.DelayRange{Min: 8 * time.Second, Max: 15 * time.Second},
		}
	}

	return RenderProfile{
		Compression: compression,
		Pacing:      pacing,
	}
}
