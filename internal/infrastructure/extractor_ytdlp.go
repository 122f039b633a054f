package infrastructure

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"go.uber.org/zap"

	"github.com/yourusername/hqmx-go/internal/domain"
	"github.com/yourusername/hqmx-go/pkg/logger"
)

// outputTemplate names files after the title and id; restricted to safe characters
const outputTemplate = "%(title).80s_%(id)s.%(ext)s"

// YTDLPExtractor performs credentialed extraction for session-bound platforms
// by running yt-dlp with the user's cookies
type YTDLPExtractor struct {
	config       *domain.ExtractionConfig
	logsDir      string
	incomingDir  string
	completedDir string
	eventLogger  *logger.MultiLogger // For structured events only
}

// NewYTDLPExtractor creates a new yt-dlp extractor
func NewYTDLPExtractor(config *domain.ExtractionConfig, incomingDir, completedDir, logsDir string, eventLogger *logger.MultiLogger) *YTDLPExtractor {
	return &YTDLPExtractor{
		config:       config,
		logsDir:      logsDir,
		incomingDir:  incomingDir,
		completedDir: completedDir,
		eventLogger:  eventLogger,
	}
}

// Name identifies the extractor in logs
func (e *YTDLPExtractor) Name() string {
	return "yt-dlp"
}

// extractionPlan is the yt-dlp selection for one request
type extractionPlan struct {
	Format       string
	MergeFormat  string
	ExtractAudio bool
	AudioFormat  string
	AudioQuality string
}

// planFor maps a request onto yt-dlp format selection
func planFor(req domain.DownloadRequest) extractionPlan {
	container := req.NormalizedContainer()

	if req.MediaKind == domain.KindAudio {
		plan := extractionPlan{Format: "ba/b", ExtractAudio: true, AudioFormat: container}
		if !req.Quality.Best && req.Quality.BitrateKbps > 0 {
			plan.AudioQuality = fmt.Sprintf("%dK", req.Quality.BitrateKbps)
		}
		return plan
	}

	var filters []string
	if !req.Quality.Best && req.Quality.Height > 0 {
		filters = append(filters, fmt.Sprintf("[height<=%d]", req.Quality.Height))
	}
	if !req.FPS.IsAny() {
		filters = append(filters, fmt.Sprintf("[fps<=%s]", req.FPS))
	}
	f := strings.Join(filters, "")
	return extractionPlan{
		Format:      fmt.Sprintf("bv*%s+ba/b%s", f, f),
		MergeFormat: container,
	}
}

// args renders the plan as the equivalent yt-dlp command line, for the download log
func (e *YTDLPExtractor) args(plan extractionPlan, url string) []string {
	args := []string{
		"--restrict-filenames",
		"--no-playlist",
		"-o", filepath.Join(e.incomingDir, outputTemplate),
		"-f", plan.Format,
	}
	if plan.MergeFormat != "" {
		args = append(args, "--merge-output-format", plan.MergeFormat)
	}
	if plan.ExtractAudio {
		args = append(args, "-x", "--audio-format", plan.AudioFormat)
		if plan.AudioQuality != "" {
			args = append(args, "--audio-quality", plan.AudioQuality)
		}
	}
	if e.hasCookies() {
		args = append(args, "--cookies", e.config.CookieFile)
	}
	return append(args, url)
}

func (e *YTDLPExtractor) command(plan extractionPlan, onProgress domain.ProgressFunc) *ytdlp.Command {
	dl := ytdlp.New().
		RestrictFilenames().
		NoPlaylist().
		Output(filepath.Join(e.incomingDir, outputTemplate)).
		Format(plan.Format)

	if e.config.YTDLPBinary != "" {
		dl.SetExecutable(e.config.YTDLPBinary)
	}
	if plan.MergeFormat != "" {
		dl.MergeOutputFormat(plan.MergeFormat)
	}
	if plan.ExtractAudio {
		dl.ExtractAudio().AudioFormat(plan.AudioFormat)
		if plan.AudioQuality != "" {
			dl.AudioQuality(plan.AudioQuality)
		}
	}
	if e.hasCookies() {
		dl.Cookies(e.config.CookieFile)
	}

	dl.ProgressFunc(500*time.Millisecond, func(update ytdlp.ProgressUpdate) {
		if onProgress == nil || update.TotalBytes <= 0 {
			return
		}
		onProgress(domain.Progress{
			Strategy:   domain.StrategyExternalExtraction,
			Percentage: domain.ClampPercent(float64(update.DownloadedBytes) / float64(update.TotalBytes) * 100),
			Loaded:     int64(update.DownloadedBytes),
			Total:      int64(update.TotalBytes),
		})
	})
	return dl
}

// Extract downloads the requested media into the incoming directory and moves
// the result to the completed directory
func (e *YTDLPExtractor) Extract(ctx context.Context, req domain.DownloadRequest, onProgress domain.ProgressFunc) (*domain.TransferResult, error) {
	if err := os.MkdirAll(e.incomingDir, 0755); err != nil {
		return nil, domain.NewError(domain.ErrTransfer, "extract", "failed to create incoming directory", err)
	}

	downloadLog, err := e.openLogFile()
	if err != nil {
		return nil, domain.NewError(domain.ErrTransfer, "extract", "failed to open log file", err)
	}
	defer downloadLog.Close()

	plan := planFor(req)
	binary := e.config.YTDLPBinary
	if binary == "" {
		binary = "yt-dlp"
	}
	e.writeLogHeader(downloadLog, req.SourceURL, FormatCommandLine(binary, e.args(plan, req.SourceURL)))

	result, err := e.command(plan, onProgress).Run(ctx, req.SourceURL)
	if err != nil {
		e.writeLogFooter(downloadLog, false, fmt.Sprintf("yt-dlp failed: %v", err))
		if ctx.Err() != nil {
			return nil, domain.NewError(domain.ErrCancelled, "extract", "extraction abandoned", ctx.Err())
		}
		if e.eventLogger != nil {
			e.eventLogger.LogAppError("Extraction failed", zap.String("url", req.SourceURL), zap.Error(err))
		}
		return nil, domain.NewError(domain.ErrTransfer, "extract", "yt-dlp failed", err)
	}

	downloaded := e.resolveOutput(result, plan)
	if downloaded == "" {
		e.writeLogFooter(downloadLog, false, "No files downloaded")
		return nil, domain.NewError(domain.ErrTransfer, "extract", "no files downloaded", nil)
	}

	destPath, err := moveToDir(downloaded, e.completedDir, filepath.Base(downloaded))
	if err != nil {
		e.writeLogFooter(downloadLog, false, fmt.Sprintf("Failed to move file: %v", err))
		return nil, domain.NewError(domain.ErrTransfer, "extract", "failed to move file to completed", err)
	}

	var size int64
	if info, err := os.Stat(destPath); err == nil {
		size = info.Size()
	}

	e.writeLogFooter(downloadLog, true, fmt.Sprintf("Downloaded: %s", destPath))
	if onProgress != nil {
		onProgress(domain.Progress{Strategy: domain.StrategyExternalExtraction, Percentage: 100, Loaded: size, Total: size})
	}
	return &domain.TransferResult{FileName: filepath.Base(destPath), FilePath: destPath, Bytes: size}, nil
}

// resolveOutput finds the final file. Audio extraction rewrites the extension
// after yt-dlp has reported the original file name.
func (e *YTDLPExtractor) resolveOutput(result *ytdlp.Result, plan extractionPlan) string {
	if result == nil {
		return ""
	}
	infos, err := result.GetExtractedInfo()
	if err != nil || len(infos) == 0 || infos[0].Filename == nil {
		return ""
	}

	name := *infos[0].Filename
	candidates := []string{name}
	target := plan.MergeFormat
	if plan.ExtractAudio {
		target = plan.AudioFormat
	}
	if target != "" {
		candidates = append(candidates, strings.TrimSuffix(name, filepath.Ext(name))+"."+target)
	}

	for i := len(candidates) - 1; i >= 0; i-- {
		if fileExists(candidates[i]) {
			return candidates[i]
		}
	}
	return ""
}

func (e *YTDLPExtractor) hasCookies() bool {
	return e.config.CookieFile != "" && fileExists(e.config.CookieFile)
}

// openLogFile opens the download log file for today
func (e *YTDLPExtractor) openLogFile() (*os.File, error) {
	if err := os.MkdirAll(e.logsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	dateStr := time.Now().Format("20060102")
	downloadPath := filepath.Join(e.logsDir, "extract-"+dateStr+".log")
	return os.OpenFile(downloadPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

// writeLogHeader writes the extraction start marker
func (e *YTDLPExtractor) writeLogHeader(file *os.File, url, cmdLine string) {
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	file.WriteString(fmt.Sprintf("\n=== [%s] Extract: %s ===\n", timestamp, url))
	file.WriteString(fmt.Sprintf("$ %s\n", cmdLine))
}

// writeLogFooter writes the extraction end marker
func (e *YTDLPExtractor) writeLogFooter(file *os.File, success bool, message string) {
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	status := "SUCCESS"
	if !success {
		status = "FAILED"
	}
	file.WriteString(fmt.Sprintf("[%s] %s: %s\n", timestamp, status, message))
	file.WriteString("=== END ===\n\n")
}
