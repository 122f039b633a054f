package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// MediaKind is the kind of output the user asked for
type MediaKind string

const (
	KindVideo MediaKind = "video"
	KindAudio MediaKind = "audio"
)

// ValidateMediaKind checks if a media kind is valid
func ValidateMediaKind(kind MediaKind) bool {
	return kind == KindVideo || kind == KindAudio
}

// Format represents one retrievable encoding variant as reported by /analyze.
// A missing URL means the variant requires server-side extraction.
type Format struct {
	FormatID         string  `json:"format_id"`
	URL              string  `json:"url,omitempty"`
	Container        string  `json:"ext"`
	Height           int     `json:"height,omitempty"`
	FPS              float64 `json:"fps,omitempty"`
	VideoCodec       string  `json:"vcodec,omitempty"`
	AudioCodec       string  `json:"acodec,omitempty"`
	BitrateKbps      float64 `json:"tbr,omitempty"`
	VideoBitrateKbps float64 `json:"vbr,omitempty"`
	AudioBitrateKbps float64 `json:"abr,omitempty"`
	FileSizeBytes    int64   `json:"filesize,omitempty"`
	FileSizeApprox   int64   `json:"filesize_approx,omitempty"`
}

// HasVideo reports whether the format carries a video track
func (f *Format) HasVideo() bool {
	return codecPresent(f.VideoCodec)
}

// HasAudio reports whether the format carries an audio track
func (f *Format) HasAudio() bool {
	return codecPresent(f.AudioCodec)
}

// IsPreMerged reports whether the format already contains both tracks
func (f *Format) IsPreMerged() bool {
	return f.HasVideo() && f.HasAudio()
}

// HasURL reports whether the format can be fetched without server extraction
func (f *Format) HasURL() bool {
	return f.URL != ""
}

func codecPresent(codec string) bool {
	return codec != "" && !strings.EqualFold(codec, "none")
}

// MediaInfo is the result of analyzing one source URL
type MediaInfo struct {
	Title           string   `json:"title"`
	DurationSeconds float64  `json:"duration"`
	ThumbnailURL    string   `json:"thumbnail,omitempty"`
	ThumbnailHeight int      `json:"thumbnail_height,omitempty"`
	ExtractedURL    string   `json:"extracted_url,omitempty"`
	VideoFormats    []Format `json:"video_formats"`
	AudioFormats    []Format `json:"audio_formats"`
}

// QualitySelector selects a quality tier. The zero value is invalid; use
// BestQuality, HeightQuality or BitrateQuality.
type QualitySelector struct {
	Best        bool
	Height      int
	BitrateKbps int
}

// BestQuality selects the source's original quality
func BestQuality() QualitySelector {
	return QualitySelector{Best: true}
}

// HeightQuality selects a video height in pixels
func HeightQuality(height int) QualitySelector {
	return QualitySelector{Height: height}
}

// BitrateQuality selects an audio bitrate in kbps
func BitrateQuality(kbps int) QualitySelector {
	return QualitySelector{BitrateKbps: kbps}
}

// String returns the wire representation ("best", "1080", "192")
func (q QualitySelector) String() string {
	switch {
	case q.Best:
		return "best"
	case q.Height > 0:
		return strconv.Itoa(q.Height)
	case q.BitrateKbps > 0:
		return strconv.Itoa(q.BitrateKbps)
	default:
		return ""
	}
}

// ParseQuality parses a quality selector for the given media kind.
// Numbers are heights for video and kbps for audio.
func ParseQuality(kind MediaKind, s string) (QualitySelector, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "best" {
		return BestQuality(), nil
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSuffix(s, "p"), "kbps"))
	if err != nil || n <= 0 {
		return QualitySelector{}, NewError(ErrValidation, "parse quality", fmt.Sprintf("invalid quality %q", s), err)
	}
	if kind == KindAudio {
		return BitrateQuality(n), nil
	}
	return HeightQuality(n), nil
}

// FPSSelector selects a frame rate; zero means "any"
type FPSSelector float64

// AnyFPS keeps the source frame rate
const AnyFPS FPSSelector = 0

// IsAny reports whether no specific frame rate was requested
func (f FPSSelector) IsAny() bool {
	return f <= 0
}

// String returns the wire representation ("any", "60")
func (f FPSSelector) String() string {
	if f.IsAny() {
		return "any"
	}
	return strconv.FormatFloat(float64(f), 'f', -1, 64)
}

// ParseFPS parses "any" or a positive number
func ParseFPS(s string) (FPSSelector, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "any" {
		return AnyFPS, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "fps"), 64)
	if err != nil || v <= 0 {
		return AnyFPS, NewError(ErrValidation, "parse fps", fmt.Sprintf("invalid fps %q", s), err)
	}
	return FPSSelector(v), nil
}

// DownloadRequest is one user intent. It is built fresh per attempt and never mutated.
type DownloadRequest struct {
	SourceURL          string
	MediaKind          MediaKind
	Container          string
	Quality            QualitySelector
	FPS                FPSSelector
	CachedExtractedURL string
	Title              string
}

// NormalizedContainer returns the lower-cased container, defaulting per kind
func (r DownloadRequest) NormalizedContainer() string {
	c := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(r.Container)), ".")
	if c != "" {
		return c
	}
	if r.MediaKind == KindAudio {
		return "mp3"
	}
	return "mp4"
}
