package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yourusername/hqmx-go/internal/domain"
)

var (
	serverURL   string
	noAutoStart bool
	rootCmd     = &cobra.Command{
		Use:           "hqmx",
		Short:         "HQMX CLI - media download queue",
		Long:          `A command-line interface for analyzing media sources and managing queued downloads.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.PersistentFlags().BoolVar(&noAutoStart, "no-auto-start", false, "Don't auto-start server if not running")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(estimateCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(logsCmd)
}

// ensureServer checks if server is running and starts it if needed (unless --no-auto-start)
func ensureServer() *apiClient {
	if !noAutoStart {
		if err := ensureServerRunning(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}
	return newAPIClient(serverURL)
}

// addRequestFlags registers the options shared by analyze, estimate and add
func addRequestFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("kind", "k", "video", "Media kind (video, audio)")
	cmd.Flags().StringP("container", "c", "", "Output container (mp4, webm, mp3, m4a, flac...)")
	cmd.Flags().StringP("quality", "q", "best", "Quality: best, a height such as 1080p, or a bitrate such as 192kbps")
	cmd.Flags().String("fps", "any", "Frame rate: any or a number")
}

func requestBody(cmd *cobra.Command, sourceURL string) map[string]interface{} {
	kind, _ := cmd.Flags().GetString("kind")
	container, _ := cmd.Flags().GetString("container")
	quality, _ := cmd.Flags().GetString("quality")
	fps, _ := cmd.Flags().GetString("fps")
	return map[string]interface{}{
		"url":        sourceURL,
		"media_kind": kind,
		"container":  container,
		"quality":    quality,
		"fps":        fps,
	}
}

type strategyInfo struct {
	Kind     string `json:"kind"`
	Reason   string `json:"reason"`
	Platform string `json:"platform"`
}

func (s strategyInfo) String() string {
	if s.Reason == "" {
		return s.Kind
	}
	return fmt.Sprintf("%s (%s)", s.Kind, s.Reason)
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [url]",
	Short: "Show the qualities and frame rates a source offers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := ensureServer()

		var result struct {
			Title          string          `json:"title"`
			Duration       float64         `json:"duration"`
			Platform       string          `json:"platform"`
			HeightPresets  []int           `json:"height_presets"`
			AvailableFPS   []float64       `json:"available_fps"`
			BitratePresets []int           `json:"bitrate_presets"`
			Estimate       domain.Estimate `json:"estimate"`
			Strategy       strategyInfo    `json:"strategy"`
		}
		if err := client.do(http.MethodPost, "/api/v1/analyze", requestBody(cmd, args[0]), &result); err != nil {
			return err
		}

		fmt.Printf("Title:     %s\n", result.Title)
		fmt.Printf("Duration:  %.0fs\n", result.Duration)
		if result.Platform != "" {
			fmt.Printf("Platform:  %s\n", result.Platform)
		}
		fmt.Printf("Heights:   %s\n", joinInts(result.HeightPresets, "p"))
		fmt.Printf("Bitrates:  %s\n", joinInts(result.BitratePresets, "kbps"))
		if len(result.AvailableFPS) > 0 {
			fps := make([]string, len(result.AvailableFPS))
			for i, f := range result.AvailableFPS {
				fps[i] = fmt.Sprintf("%g", f)
			}
			fmt.Printf("FPS:       %s\n", strings.Join(fps, ", "))
		}
		fmt.Printf("Estimate:  %s\n", formatBytes(result.Estimate.TotalBytes))
		fmt.Printf("Strategy:  %s\n", result.Strategy)
		return nil
	},
}

var estimateCmd = &cobra.Command{
	Use:   "estimate [url]",
	Short: "Estimate the output size of a download",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := ensureServer()

		var result struct {
			Estimate domain.Estimate `json:"estimate"`
			Strategy strategyInfo    `json:"strategy"`
		}
		if err := client.do(http.MethodPost, "/api/v1/estimate", requestBody(cmd, args[0]), &result); err != nil {
			return err
		}

		fmt.Printf("Video:     %s\n", formatBytes(result.Estimate.VideoBytes))
		fmt.Printf("Audio:     %s\n", formatBytes(result.Estimate.AudioBytes))
		fmt.Printf("Total:     %s\n", formatBytes(result.Estimate.TotalBytes))
		fmt.Printf("Strategy:  %s\n", result.Strategy)
		return nil
	},
}

var addCmd = &cobra.Command{
	Use:   "add [url]",
	Short: "Add a download to the queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := ensureServer()

		body := requestBody(cmd, args[0])
		priority, _ := cmd.Flags().GetInt("priority")
		body["priority"] = priority

		var download domain.Download
		if err := client.do(http.MethodPost, "/api/v1/downloads", body, &download); err != nil {
			return err
		}

		fmt.Printf("Download added successfully!\n")
		fmt.Printf("ID: %s\n", download.ID)
		fmt.Printf("Status: %s\n", download.Status)

		if wait, _ := cmd.Flags().GetBool("wait"); wait {
			return watchDownloads(serverURL, download.ID, os.Stdout)
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all downloads",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := ensureServer()

		query := url.Values{}
		for _, key := range []string{"status", "platform", "media_kind", "strategy"} {
			if v, _ := cmd.Flags().GetString(key); v != "" {
				query.Set(key, v)
			}
		}
		path := "/api/v1/downloads"
		if len(query) > 0 {
			path += "?" + query.Encode()
		}

		var downloads []domain.Download
		if err := client.do(http.MethodGet, path, nil, &downloads); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tURL\tKIND\tQUALITY\tSTATUS\tPROGRESS\tCREATED")
		for _, d := range downloads {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.0f%%\t%s\n",
				truncate(d.ID, 8),
				truncate(d.URL, 40),
				d.MediaKind,
				d.Quality,
				d.Status,
				d.Percentage,
				d.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show download statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := ensureServer()

		var stats domain.DownloadStats
		if err := client.do(http.MethodGet, "/api/v1/downloads/stats", nil, &stats); err != nil {
			return err
		}

		fmt.Println("Download Statistics:")
		fmt.Printf("  Total:      %d\n", stats.Total)
		fmt.Printf("  Queued:     %d\n", stats.Queued)
		fmt.Printf("  Processing: %d\n", stats.Processing)
		fmt.Printf("  Completed:  %d\n", stats.Completed)
		fmt.Printf("  Failed:     %d\n", stats.Failed)
		fmt.Printf("  Cancelled:  %d\n", stats.Cancelled)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Get download details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := ensureServer()

		var d domain.Download
		if err := client.do(http.MethodGet, "/api/v1/downloads/"+args[0], nil, &d); err != nil {
			return err
		}

		fmt.Printf("Download Details:\n")
		fmt.Printf("  ID:       %s\n", d.ID)
		fmt.Printf("  URL:      %s\n", d.URL)
		if d.Platform != "" {
			fmt.Printf("  Platform: %s\n", d.Platform)
		}
		fmt.Printf("  Request:  %s %s quality=%s fps=%s\n", d.MediaKind, d.Container, d.Quality, d.FPS)
		fmt.Printf("  Status:   %s (%.0f%%)\n", d.Status, d.Percentage)
		if d.Strategy != "" {
			strategy := string(d.Strategy)
			if d.FellBack {
				strategy += " (fallback)"
			}
			fmt.Printf("  Strategy: %s\n", strategy)
		}
		fmt.Printf("  Created:  %s\n", d.CreatedAt.Format("2006-01-02 15:04:05"))
		if d.FilePath != "" {
			fmt.Printf("  File:     %s\n", d.FilePath)
		}
		if d.Location != "" {
			fmt.Printf("  Location: %s\n", d.Location)
		}
		if d.ErrorMessage != "" {
			fmt.Printf("  Error:    %s (%s)\n", d.ErrorMessage, d.ErrorKind)
		}
		return nil
	},
}

// postAction returns a command that POSTs to /downloads/:id/<action>
func postAction(use, short, action, done string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ensureServer()
			if err := client.do(http.MethodPost, "/api/v1/downloads/"+args[0]+"/"+action, nil, nil); err != nil {
				return err
			}
			fmt.Println(done)
			return nil
		},
	}
}

var cancelCmd = postAction("cancel [id]", "Cancel a download", "cancel", "Download cancelled successfully")

var retryCmd = postAction("retry [id]", "Retry a failed or cancelled download", "retry", "Download queued for retry")

var deleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a download record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := ensureServer()
		if err := client.do(http.MethodDelete, "/api/v1/downloads/"+args[0], nil, nil); err != nil {
			return err
		}
		fmt.Println("Download deleted")
		return nil
	},
}

func init() {
	addRequestFlags(analyzeCmd)
	addRequestFlags(estimateCmd)
	addRequestFlags(addCmd)
	addCmd.Flags().IntP("priority", "p", 0, "Queue priority; higher runs first")
	addCmd.Flags().BoolP("wait", "w", false, "Follow progress until the download finishes")
	listCmd.Flags().StringP("status", "s", "", "Filter by status")
	listCmd.Flags().String("platform", "", "Filter by platform")
	listCmd.Flags().String("media_kind", "", "Filter by media kind")
	listCmd.Flags().String("strategy", "", "Filter by strategy")
}

func joinInts(values []int, suffix string) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%d%s", v, suffix)
	}
	return strings.Join(parts, ", ")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
