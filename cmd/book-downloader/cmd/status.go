package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gosuri/uilive"
	"github.com/spf13/cobra"

	"go-book-download/internal/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the download queue of a running server",
	Long:  `Reads /api/status from a running server and prints every tracked book grouped by status.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().String("server", "", "Server base URL (defaults to http://<ListenAddr>)")
	statusCmd.Flags().BoolP("watch", "w", false, "Keep refreshing the table")
	statusCmd.Flags().Duration("interval", 2*time.Second, "Refresh interval with --watch")
}

func runStatus(cmd *cobra.Command, args []string) error {
	serverURL, _ := cmd.Flags().GetString("server")
	watch, _ := cmd.Flags().GetBool("watch")
	interval, _ := cmd.Flags().GetDuration("interval")
	if serverURL == "" {
		serverURL = "http://" + globalConfig.ListenAddr
	}
	statusURL := strings.TrimRight(serverURL, "/") + "/api/status"
	client := &http.Client{Timeout: time.Duration(globalConfig.ApiClientTimeoutSec) * time.Second}
	ctx := cmd.Context()

	if !watch {
		snap, err := fetchStatus(ctx, client, statusURL)
		if err != nil {
			return err
		}
		return printStatus(os.Stdout, snap)
	}

	writer := uilive.New()
	writer.Start()
	defer writer.Stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		snap, err := fetchStatus(ctx, client, statusURL)
		if err != nil {
			fmt.Fprintf(writer, "Error reading %s: %v\n", statusURL, err)
		} else if err := printStatus(writer, snap); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func fetchStatus(ctx context.Context, client *http.Client, statusURL string) (models.StatusSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, statusURL)
	}
	var snap models.StatusSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decoding status: %w", err)
	}
	return snap, nil
}

// printStatus writes one row per tracked book in lifecycle order.
func printStatus(w io.Writer, snap models.StatusSnapshot) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Status\tID\tTitle\tFormat")
	fmt.Fprintln(tw, "------\t--\t-----\t------")
	for _, status := range models.AllStatuses {
		for _, id := range snap.IDs(status) {
			rec := snap[status][id]
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", status, id, truncate(rec.Title, 60), rec.Format)
		}
	}
	fmt.Fprintf(tw, "\n%d book(s) tracked\n", snap.Count())
	return tw.Flush()
}
