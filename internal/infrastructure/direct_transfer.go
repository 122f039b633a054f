package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/yourusername/hqmx-go/internal/domain"
)

const (
	defaultChunkSize   = 32 * 1024
	maxFileNameLength  = 200
	defaultDownloadTag = "download"
)

// DirectTransferOptions tunes the direct executor
type DirectTransferOptions struct {
	BandwidthLimit int64 // bytes/s, 0 = unlimited
	MaxSize        int64 // bytes, 0 = unlimited
	ChunkSize      int
	UserAgent      string
}

// DirectTransferExecutor streams a response body from the origin into a PayloadSaver
type DirectTransferExecutor struct {
	client    *http.Client
	saver     domain.PayloadSaver
	limiter   *rate.Limiter
	chunkSize int
	maxSize   int64
	userAgent string
	logger    *zap.Logger
}

// NewDirectTransferExecutor creates a new direct transfer executor
func NewDirectTransferExecutor(saver domain.PayloadSaver, opts DirectTransferOptions, logger *zap.Logger) *DirectTransferExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	var limiter *rate.Limiter
	if opts.BandwidthLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.BandwidthLimit), chunkSize)
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}

	return &DirectTransferExecutor{
		client:    &http.Client{Transport: transport},
		saver:     saver,
		limiter:   limiter,
		chunkSize: chunkSize,
		maxSize:   opts.MaxSize,
		userAgent: opts.UserAgent,
		logger:    logger,
	}
}

// Execute fetches url and saves the body. It never retries; any failure is
// reported as a network or transfer error.
func (e *DirectTransferExecutor) Execute(ctx context.Context, url, title, container string, onProgress domain.ProgressFunc) (*domain.TransferResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.NewError(domain.ErrNetwork, "direct transfer", "invalid transfer URL", err)
	}
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, e.classify(ctx, domain.ErrNetwork, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, domain.NewError(domain.ErrNetwork, "direct transfer", fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	total := resp.ContentLength
	if e.maxSize > 0 && total > e.maxSize {
		return nil, domain.NewError(domain.ErrTransfer, "direct transfer",
			fmt.Sprintf("payload of %d bytes exceeds limit of %d", total, e.maxSize), nil)
	}

	fileName := FileNameFor(resp.Header.Get("Content-Disposition"), title, container)
	payload, err := e.saver.Begin(fileName)
	if err != nil {
		return nil, domain.NewError(domain.ErrTransfer, "direct transfer", "failed to start save", err)
	}

	body := io.Reader(resp.Body)
	if e.limiter != nil {
		body = &throttledReader{ctx: ctx, r: body, limiter: e.limiter}
	}

	var written int64
	if total > 0 {
		written, err = e.copyWithProgress(payload, body, total, onProgress)
	} else {
		written, err = e.copyBuffered(payload, body)
	}
	if err != nil {
		payload.Abort()
		return nil, e.classify(ctx, domain.ErrTransfer, "stream read failed", err)
	}

	path, err := payload.Commit()
	if err != nil {
		return nil, domain.NewError(domain.ErrTransfer, "direct transfer", "failed to save payload", err)
	}

	e.logger.Info("Direct transfer completed",
		zap.String("url", url),
		zap.String("file", path),
		zap.Int64("bytes", written))
	return &domain.TransferResult{FileName: filepath.Base(path), FilePath: path, Bytes: written}, nil
}

// copyWithProgress reads chunk by chunk, reporting after each chunk, and verifies
// the byte count against the declared length
func (e *DirectTransferExecutor) copyWithProgress(dst io.Writer, src io.Reader, total int64, onProgress domain.ProgressFunc) (int64, error) {
	buf := make([]byte, e.chunkSize)
	var loaded int64

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return loaded, err
			}
			loaded += int64(n)
			if loaded > total {
				return loaded, fmt.Errorf("received more than the declared %d bytes", total)
			}
			if onProgress != nil {
				onProgress(domain.Progress{
					Strategy:   domain.StrategyDirectStream,
					Percentage: domain.ClampPercent(float64(loaded) / float64(total) * 100),
					Loaded:     loaded,
					Total:      total,
				})
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return loaded, readErr
		}
	}

	if loaded != total {
		return loaded, fmt.Errorf("received %d of %d declared bytes", loaded, total)
	}
	return loaded, nil
}

// copyBuffered performs a single buffered read when no length is declared
func (e *DirectTransferExecutor) copyBuffered(dst io.Writer, src io.Reader) (int64, error) {
	if e.maxSize > 0 {
		src = io.LimitReader(src, e.maxSize+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return 0, err
	}
	if e.maxSize > 0 && int64(len(data)) > e.maxSize {
		return 0, fmt.Errorf("payload exceeds limit of %d bytes", e.maxSize)
	}
	n, err := dst.Write(data)
	return int64(n), err
}

func (e *DirectTransferExecutor) classify(ctx context.Context, kind domain.ErrorKind, message string, err error) error {
	if ctx.Err() != nil {
		return domain.NewError(domain.ErrCancelled, "direct transfer", "transfer abandoned", ctx.Err())
	}
	return domain.NewError(kind, "direct transfer", message, err)
}

// throttledReader paces reads through a token bucket
type throttledReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (t *throttledReader) Read(p []byte) (int, error) {
	if burst := t.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := t.r.Read(p)
	if n > 0 {
		if waitErr := t.limiter.WaitN(t.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}

// FileNameFor derives the saved file name: Content-Disposition first, then the
// title, sanitized, with the container extension appended when missing
func FileNameFor(contentDisposition, title, container string) string {
	name := ""
	if contentDisposition != "" {
		if _, params, err := mime.ParseMediaType(contentDisposition); err == nil {
			name = params["filename"]
		}
	}
	if name == "" {
		name = title
	}

	name = SanitizeFileName(name)
	if name == "" {
		name = defaultDownloadTag
	}

	container = strings.TrimPrefix(strings.ToLower(container), ".")
	if container != "" && !strings.HasSuffix(strings.ToLower(name), "."+container) {
		name += "." + container
	}
	return name
}

// SanitizeFileName strips path components and characters that are unsafe in file names
func SanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20 || r == 0x7f:
			continue
		case strings.ContainsRune(`<>:"|?*`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}

	cleaned := strings.Trim(strings.TrimSpace(b.String()), ".")
	if len(cleaned) > maxFileNameLength {
		cleaned = strings.TrimSpace(truncateRunes(cleaned, maxFileNameLength))
	}
	return cleaned
}

// truncateRunes cuts s to at most maxBytes without splitting a rune
func truncateRunes(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := 0
	for i := range s {
		if i > maxBytes {
			break
		}
		cut = i
	}
	return s[:cut]
}
