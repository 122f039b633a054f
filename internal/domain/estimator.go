package domain

import "strings"

// DefaultAudioBitrateKbps is assumed for audio with no size or bitrate information
const DefaultAudioBitrateKbps = 192

// LosslessBitrateKbps is assumed for lossless audio containers
const LosslessBitrateKbps = 1000

// heightTier maps a minimum height to legacy/modern codec bitrates in kbps
type heightTier struct {
	minHeight int
	legacy    float64
	modern    float64
}

var videoBitrateTiers = []heightTier{
	{2160, 20000, 12000},
	{1440, 12000, 8000},
	{1080, 5000, 3500},
	{720, 3000, 2000},
	{480, 1800, 1200},
	{360, 1200, 800},
	{0, 600, 400},
}

// containerOverhead is the remux overhead applied to video totals
var containerOverhead = map[string]float64{
	"mov":  1.04,
	"mkv":  1.03,
	"webm": 1.02,
	"mp4":  1.00,
}

var losslessContainers = map[string]bool{"flac": true, "wav": true, "alac": true}

// Estimate is a size estimate split into its components, in bytes
type Estimate struct {
	VideoBytes float64 `json:"video_bytes"`
	AudioBytes float64 `json:"audio_bytes"`
	Overhead   float64 `json:"overhead"`
	TotalBytes float64 `json:"total_bytes"`
}

// EstimateFormatSize returns the approximate size in bytes of one format.
// Resolution order: direct size, bitrate x duration, codec-aware heuristic, 0.
func EstimateFormatSize(f *Format, durationSeconds, fallbackBitrateKbps float64) float64 {
	if f == nil && fallbackBitrateKbps == 0 {
		return 0
	}

	if f != nil {
		if f.FileSizeBytes > 0 {
			return float64(f.FileSizeBytes)
		}
		if f.FileSizeApprox > 0 {
			return float64(f.FileSizeApprox)
		}
	}

	// Field order tbr, abr, vbr; see DESIGN.md
	bitrate := fallbackBitrateKbps
	if f != nil {
		switch {
		case f.BitrateKbps > 0:
			bitrate = f.BitrateKbps
		case f.AudioBitrateKbps > 0:
			bitrate = f.AudioBitrateKbps
		case f.VideoBitrateKbps > 0:
			bitrate = f.VideoBitrateKbps
		}
	}
	if bitrate > 0 && durationSeconds > 0 {
		return bitrate * 1000 / 8 * durationSeconds
	}

	if durationSeconds > 0 {
		return heuristicBitrate(f) * 1000 / 8 * durationSeconds
	}
	return 0
}

func heuristicBitrate(f *Format) float64 {
	if f == nil || !f.HasVideo() {
		return DefaultAudioBitrateKbps
	}

	height := f.Height
	if height <= 0 {
		height = 360
	}
	codec := strings.ToLower(f.VideoCodec)
	modern := strings.Contains(codec, "av01") || strings.Contains(codec, "av1") ||
		strings.Contains(codec, "vp09") || strings.Contains(codec, "vp9")

	for _, tier := range videoBitrateTiers {
		if height >= tier.minHeight {
			if modern {
				return tier.modern
			}
			return tier.legacy
		}
	}
	return videoBitrateTiers[len(videoBitrateTiers)-1].legacy
}

// ContainerOverhead returns the remux multiplier for a video container
func ContainerOverhead(container string) float64 {
	if m, ok := containerOverhead[strings.ToLower(container)]; ok {
		return m
	}
	return 1.0
}

// EstimateRequest estimates the output size of a full download request.
// Video totals are video component + audio component with container overhead;
// audio-only downloads carry no overhead.
func EstimateRequest(catalog *FormatCatalog, durationSeconds float64, req DownloadRequest) Estimate {
	if req.MediaKind == KindAudio {
		audio := estimateAudio(catalog, durationSeconds, req)
		return Estimate{AudioBytes: audio, Overhead: 1.0, TotalBytes: audio}
	}

	var est Estimate
	bestAudio := catalog.BestAudio()
	if req.Quality.Best {
		est.VideoBytes = EstimateFormatSize(catalog.BestVideo(), durationSeconds, 0)
		est.AudioBytes = EstimateFormatSize(bestAudio, durationSeconds, 0)
	} else if sel := catalog.FindByQuality(KindVideo, req.Quality); sel != nil {
		est.VideoBytes = EstimateFormatSize(sel.Format, durationSeconds, 0)
		if !sel.Format.IsPreMerged() {
			est.AudioBytes = EstimateFormatSize(bestAudio, durationSeconds, 0)
		}
	} else {
		est.AudioBytes = EstimateFormatSize(bestAudio, durationSeconds, 0)
	}

	est.Overhead = ContainerOverhead(req.NormalizedContainer())
	est.TotalBytes = (est.VideoBytes + est.AudioBytes) * est.Overhead
	return est
}

func estimateAudio(catalog *FormatCatalog, durationSeconds float64, req DownloadRequest) float64 {
	container := req.NormalizedContainer()
	audio := catalog.AudioFormats()
	if len(audio) > 0 {
		match := firstMatch(audio, func(f *Format) bool { return strings.EqualFold(f.Container, container) })
		if match == nil {
			match = &audio[0]
		}
		return EstimateFormatSize(match, durationSeconds, 0)
	}

	fallback := float64(req.Quality.BitrateKbps)
	switch {
	case losslessContainers[container]:
		fallback = LosslessBitrateKbps
	case req.Quality.Best || fallback <= 0:
		fallback = DefaultAudioBitrateKbps
		if f := firstMatch(catalog.VideoFormats(), (*Format).HasAudio); f != nil && f.AudioBitrateKbps > 0 {
			fallback = f.AudioBitrateKbps
		}
	}
	if durationSeconds > 0 && fallback > 0 {
		return durationSeconds * fallback * 1000 / 8
	}
	return 0
}
