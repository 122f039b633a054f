package domain

import (
	"math"
	"sort"
)

// DefaultMaxHeight is assumed when a source reports no video heights at all
const DefaultMaxHeight = 1080

// audioBitrateTolerance is how far (kbps) a source bitrate may be from the requested one
const audioBitrateTolerance = 10

// VideoPresets are the selectable output heights
var VideoPresets = []int{4320, 2160, 1440, 1080, 720, 480, 360, 240, 144}

// AudioPresets are the selectable output bitrates in kbps
var AudioPresets = []int{320, 256, 192, 128, 96, 64}

// Selection is the outcome of a quality lookup. Audio is set when the primary
// format is video-only and must be merged with a separately fetched audio track.
type Selection struct {
	Format *Format
	Audio  *Format
}

// NeedsMerge reports whether the selection spans two formats
func (s *Selection) NeedsMerge() bool {
	return s.Audio != nil
}

// FormatCatalog is a read-only query layer over one MediaInfo
type FormatCatalog struct {
	video []Format
	audio []Format
}

// NewFormatCatalog creates a catalog over the formats of an analysis result
func NewFormatCatalog(info *MediaInfo) *FormatCatalog {
	if info == nil {
		return &FormatCatalog{}
	}
	return &FormatCatalog{video: info.VideoFormats, audio: info.AudioFormats}
}

// VideoFormats returns the video candidates
func (c *FormatCatalog) VideoFormats() []Format {
	return c.video
}

// AudioFormats returns the audio candidates
func (c *FormatCatalog) AudioFormats() []Format {
	return c.audio
}

// AvailableHeights returns the distinct known heights, highest first
func (c *FormatCatalog) AvailableHeights() []int {
	seen := make(map[int]bool)
	heights := []int{}
	for _, f := range c.video {
		if f.Height > 0 && !seen[f.Height] {
			seen[f.Height] = true
			heights = append(heights, f.Height)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(heights)))
	return heights
}

// AvailableFPS returns the distinct known frame rates, highest first
func (c *FormatCatalog) AvailableFPS() []float64 {
	seen := make(map[float64]bool)
	rates := []float64{}
	for _, f := range c.video {
		if f.FPS > 0 && !seen[f.FPS] {
			seen[f.FPS] = true
			rates = append(rates, f.FPS)
		}
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(rates)))
	return rates
}

// MaxHeight returns the highest available height, falling back to the thumbnail
// height for audio-only sources and then to DefaultMaxHeight
func (c *FormatCatalog) MaxHeight(thumbnailHeight int) int {
	if heights := c.AvailableHeights(); len(heights) > 0 {
		return heights[0]
	}
	if thumbnailHeight > 0 {
		return thumbnailHeight
	}
	return DefaultMaxHeight
}

// HeightPresets returns the presets that do not upscale the source
func (c *FormatCatalog) HeightPresets(thumbnailHeight int) []int {
	maxHeight := c.MaxHeight(thumbnailHeight)
	presets := []int{}
	for _, h := range VideoPresets {
		if h <= maxHeight {
			presets = append(presets, h)
		}
	}
	return presets
}

// BitratePresets returns the audio presets up to 1.5x the best source bitrate
func (c *FormatCatalog) BitratePresets() []int {
	maxBitrate := 0.0
	for _, f := range c.audio {
		br := f.AudioBitrateKbps
		if br <= 0 {
			br = f.BitrateKbps
		}
		maxBitrate = math.Max(maxBitrate, br)
	}
	if maxBitrate <= 0 {
		maxBitrate = 320
	}
	limit := math.Ceil(maxBitrate * 1.5)

	presets := []int{}
	for _, p := range AudioPresets {
		if float64(p) <= limit {
			presets = append(presets, p)
		}
	}
	if len(presets) == 0 {
		presets = append(presets, 128)
	}
	return presets
}

// BestAudio returns the audio format with the highest audio bitrate.
// Ties keep the first occurrence. Returns nil when there are no audio formats.
func (c *FormatCatalog) BestAudio() *Format {
	var best *Format
	for i := range c.audio {
		if best == nil || c.audio[i].AudioBitrateKbps > best.AudioBitrateKbps {
			best = &c.audio[i]
		}
	}
	return best
}

// BestVideo returns the highest video, ties broken by total bitrate
func (c *FormatCatalog) BestVideo() *Format {
	var best *Format
	for i := range c.video {
		f := &c.video[i]
		if best == nil || f.Height > best.Height ||
			(f.Height == best.Height && f.BitrateKbps > best.BitrateKbps) {
			best = f
		}
	}
	return best
}

// FindByQuality resolves a selector to a candidate. A nil result means the
// quality is unavailable; it is not an error.
func (c *FormatCatalog) FindByQuality(kind MediaKind, q QualitySelector) *Selection {
	if kind == KindAudio {
		return c.findAudio(q)
	}
	return c.findVideo(q)
}

func (c *FormatCatalog) findVideo(q QualitySelector) *Selection {
	if len(c.video) == 0 {
		return nil
	}

	if q.Best {
		if f := firstMatch(c.video, func(f *Format) bool { return f.HasURL() && f.IsPreMerged() }); f != nil {
			return &Selection{Format: f}
		}
		if f := firstMatch(c.video, (*Format).HasURL); f != nil {
			return c.pairWithAudio(f)
		}
		if f := firstMatch(c.video, (*Format).IsPreMerged); f != nil {
			return &Selection{Format: f}
		}
		return c.pairWithAudio(&c.video[0])
	}

	atHeight := func(f *Format) bool { return f.Height == q.Height }
	if f := firstMatch(c.video, func(f *Format) bool { return atHeight(f) && f.IsPreMerged() }); f != nil {
		return &Selection{Format: f}
	}

	var videoOnly *Format
	for i := range c.video {
		f := &c.video[i]
		if !atHeight(f) || !f.HasVideo() || f.HasAudio() {
			continue
		}
		if videoOnly == nil || bitrateOf(f) > bitrateOf(videoOnly) {
			videoOnly = f
		}
	}
	if videoOnly != nil {
		return c.pairWithAudio(videoOnly)
	}

	if f := firstMatch(c.video, atHeight); f != nil {
		return c.pairWithAudio(f)
	}
	return nil
}

func (c *FormatCatalog) findAudio(q QualitySelector) *Selection {
	if len(c.audio) == 0 {
		return nil
	}

	matches := func(f *Format) bool {
		if q.Best || f.AudioBitrateKbps <= 0 {
			return true
		}
		return math.Abs(f.AudioBitrateKbps-float64(q.BitrateKbps)) <= audioBitrateTolerance
	}

	var best *Format
	for i := range c.audio {
		f := &c.audio[i]
		if !f.HasURL() || !matches(f) {
			continue
		}
		if best == nil || f.AudioBitrateKbps > best.AudioBitrateKbps {
			best = f
		}
	}
	if best != nil {
		return &Selection{Format: best}
	}

	if q.Best {
		return &Selection{Format: c.BestAudio()}
	}
	if f := firstMatch(c.audio, matches); f != nil {
		return &Selection{Format: f}
	}
	return nil
}

// pairWithAudio attaches the best audio track to a video-only format
func (c *FormatCatalog) pairWithAudio(f *Format) *Selection {
	sel := &Selection{Format: f}
	if f.HasVideo() && !f.HasAudio() {
		sel.Audio = c.BestAudio()
	}
	return sel
}

func firstMatch(formats []Format, pred func(*Format) bool) *Format {
	for i := range formats {
		if pred(&formats[i]) {
			return &formats[i]
		}
	}
	return nil
}

func bitrateOf(f *Format) float64 {
	if f.BitrateKbps > 0 {
		return f.BitrateKbps
	}
	return f.VideoBitrateKbps
}
