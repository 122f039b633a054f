package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/yourusername/hqmx-go/internal/app"
	"github.com/yourusername/hqmx-go/internal/domain"
	"github.com/yourusername/hqmx-go/pkg/logger"
)

// websocketURL converts the server URL to a ws:// or wss:// endpoint
func websocketURL(base, path string, query url.Values) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

func dial(base, path string, query url.Values) (*websocket.Conn, error) {
	endpoint, err := websocketURL(base, path, query)
	if err != nil {
		return nil, err
	}
	conn, resp, err := websocket.DefaultDialer.Dial(endpoint, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("not found: %s", path)
		}
		return nil, err
	}
	return conn, nil
}

func isTerminal(status domain.DownloadStatus) bool {
	switch status {
	case domain.StatusCompleted, domain.StatusFailed, domain.StatusCancelled:
		return true
	}
	return false
}

// formatEvent renders one progress event as a single line
func formatEvent(event app.ProgressEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %-10s", truncate(event.DownloadID, 8), event.Status)
	if p := event.Progress; p != nil {
		fmt.Fprintf(&b, " %5.1f%%", p.Percentage)
		if p.Strategy != "" {
			fmt.Fprintf(&b, " [%s]", p.Strategy)
		}
		if p.Restarted {
			b.WriteString(" restarted")
		}
		if p.Message != "" {
			fmt.Fprintf(&b, " %s", p.Message)
		}
	}
	if event.Error != "" {
		fmt.Fprintf(&b, " error: %s", event.Error)
	}
	return b.String()
}

// watchDownloads prints progress events. With an id it returns once that
// download reaches a terminal status; without one it runs until the connection closes.
func watchDownloads(base, id string, out io.Writer) error {
	query := url.Values{}
	if id != "" {
		query.Set("id", id)
	}
	conn, err := dial(base, "/api/v1/progress", query)
	if err != nil {
		return err
	}
	defer conn.Close()

	for {
		var event app.ProgressEvent
		if err := conn.ReadJSON(&event); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		fmt.Fprintln(out, formatEvent(event))

		if id != "" && event.DownloadID == id && isTerminal(event.Status) {
			if event.Status == domain.StatusFailed {
				return fmt.Errorf("download failed: %s", event.Error)
			}
			return nil
		}
	}
}

var watchCmd = &cobra.Command{
	Use:   "watch [id]",
	Short: "Follow live download progress",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ensureServer()
		id := ""
		if len(args) == 1 {
			id = args[0]
		}
		return watchDownloads(serverURL, id, os.Stdout)
	},
}

func printEntry(out io.Writer, entry logger.LogEntry) {
	fmt.Fprintf(out, "%s %-5s %s", entry.Timestamp, strings.ToUpper(entry.Level), entry.Message)
	for k, v := range entry.Fields {
		fmt.Fprintf(out, " %s=%v", k, v)
	}
	fmt.Fprintln(out)
}

var logsCmd = &cobra.Command{
	Use:   "logs [category]",
	Short: "View event logs (queue, download, error)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := ensureServer()

		category := string(logger.CategoryDownload)
		if len(args) == 1 {
			category = args[0]
		}
		if _, err := logger.ParseCategory(category); err != nil {
			return err
		}

		if follow, _ := cmd.Flags().GetBool("follow"); follow {
			conn, err := dial(serverURL, "/api/v1/logs/"+category+"/ws", nil)
			if err != nil {
				return err
			}
			defer conn.Close()
			for {
				var entry logger.LogEntry
				if err := conn.ReadJSON(&entry); err != nil {
					return err
				}
				printEntry(os.Stdout, entry)
			}
		}

		query := url.Values{}
		if date, _ := cmd.Flags().GetString("date"); date != "" {
			query.Set("date", date)
		}
		limit, _ := cmd.Flags().GetInt("limit")
		query.Set("limit", strconv.Itoa(limit))

		path := "/api/v1/logs/" + category
		if search, _ := cmd.Flags().GetString("search"); search != "" {
			path += "/search"
			query.Set("q", search)
		}

		var result struct {
			Entries []logger.LogEntry `json:"entries"`
		}
		if err := client.do(http.MethodGet, path+"?"+query.Encode(), nil, &result); err != nil {
			return err
		}
		for _, entry := range result.Entries {
			printEntry(os.Stdout, entry)
		}
		return nil
	},
}

func init() {
	logsCmd.Flags().StringP("date", "d", "", "Day to read (YYYY-MM-DD), default today")
	logsCmd.Flags().IntP("limit", "n", 100, "Maximum entries")
	logsCmd.Flags().StringP("search", "s", "", "Only entries containing this text")
	logsCmd.Flags().BoolP("follow", "f", false, "Stream new entries")
}
