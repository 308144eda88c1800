package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-book-download/internal/database"
	"go-book-download/internal/helpers"
	"go-book-download/internal/models"
)

// historyCmd represents the base command for history operations
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect the download history database",
}

var historyViewCmd = &cobra.Command{
	Use:   "view",
	Short: "List every recorded download outcome, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(func(db *database.DB) ([]models.HistoryEntry, error) {
			return db.ListHistory()
		})
	},
}

var historySearchCmd = &cobra.Command{
	Use:   "search [QUERY]",
	Short: "Search recorded downloads by title or author",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(func(db *database.DB) ([]models.HistoryEntry, error) {
			return db.SearchHistory(args[0])
		})
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show [ID]",
	Short: "Show the recorded outcome of one book",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(func(db *database.DB) ([]models.HistoryEntry, error) {
			entry, err := db.GetHistory(args[0])
			if err != nil {
				return nil, historyLookupError(args[0], err)
			}
			return []models.HistoryEntry{entry}, nil
		})
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete [ID]",
	Short: "Forget the recorded outcome of one book",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return openHistory(func(db *database.DB) error {
			if err := db.DeleteHistory(args[0]); err != nil {
				return historyLookupError(args[0], err)
			}
			log.Infof("Deleted history entry %s", args[0])
			return nil
		})
	},
}

var historyVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Re-hash published files and compare them with the recorded BLAKE3 digests",
	Long: `Checks every successful download whose file is still on disk against the
digest recorded when it was fetched. Files already consumed from the ingest
directory are reported as gone and do not count as failures.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return openHistory(func(db *database.DB) error {
			ok, bad, err := verifyHistory(db, os.Stdout)
			if err != nil {
				return err
			}
			log.Infof("Verified %d file(s), %d mismatch(es).", ok+bad, bad)
			if bad > 0 {
				return fmt.Errorf("%d file(s) do not match their recorded digest", bad)
			}
			return nil
		})
	},
}

var historyRedownloadCmd = &cobra.Command{
	Use:   "redownload [ID]",
	Short: "Download a previously recorded book again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		publish, _ := cmd.Flags().GetBool("publish")
		noProgress, _ := cmd.Flags().GetBool("no-progress")

		var entry models.HistoryEntry
		err := openHistory(func(db *database.DB) error {
			if !db.HasHistory(args[0]) {
				return fmt.Errorf("no history entry for %s", args[0])
			}
			var err error
			entry, err = db.GetHistory(args[0])
			return err
		})
		if err != nil {
			return err
		}
		log.Infof("Fetching %q again (last outcome: %s)", entry.Title, entry.Status)

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		return fetchBook(ctx, entry.ID, publish, noProgress)
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyViewCmd)
	historyCmd.AddCommand(historySearchCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyDeleteCmd)
	historyCmd.AddCommand(historyVerifyCmd)
	historyCmd.AddCommand(historyRedownloadCmd)

	historyRedownloadCmd.Flags().Bool("publish", false, "Move the finished file into the ingest directory")
	historyRedownloadCmd.Flags().Bool("no-progress", false, "Do not render a progress bar")
}

func openHistory(fn func(db *database.DB) error) error {
	if globalConfig.HistoryDatabasePath == "" {
		return fmt.Errorf("HistoryDatabasePath is not set in the configuration")
	}
	db, err := database.Open(globalConfig.HistoryDatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func historyLookupError(id string, err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("no history entry for %s", id)
	}
	return err
}

func withHistory(load func(db *database.DB) ([]models.HistoryEntry, error)) error {
	return openHistory(func(db *database.DB) error {
		entries, err := load(db)
		if err != nil {
			return err
		}
		if err := printHistory(os.Stdout, entries); err != nil {
			return err
		}
		log.Infof("Displayed %d entries.", len(entries))
		return nil
	})
}

// verifyHistory hashes the file of every available entry that recorded a
// digest. Missing files are listed as gone and counted in neither total.
func verifyHistory(db *database.DB, w io.Writer) (ok, bad int, err error) {
	entries, err := db.ListHistory()
	if err != nil {
		return 0, 0, err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTitle\tResult\tPath")
	fmt.Fprintln(tw, "--\t-----\t------\t----")
	for _, e := range entries {
		if e.Status != models.StatusAvailable || e.Path == "" || e.Blake3 == "" {
			continue
		}
		result := "ok"
		sum, err := helpers.FileBlake3(e.Path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			result = "gone"
		case err != nil:
			result = "unreadable"
			bad++
		case sum != e.Blake3:
			result = "mismatch"
			bad++
		default:
			ok++
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ID, truncate(e.Title, 50), result, e.Path)
	}
	return ok, bad, tw.Flush()
}

func printHistory(w io.Writer, entries []models.HistoryEntry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "When\tID\tTitle\tAuthor\tStatus\tSize\tDetail")
	fmt.Fprintln(tw, "----\t--\t-----\t------\t------\t----\t------")
	for _, e := range entries {
		size := ""
		if e.Bytes > 0 {
			size = helpers.BytesToSize(uint64(e.Bytes))
		}
		detail := e.Path
		if e.Status == models.StatusError {
			detail = e.ErrorDetail
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime), e.ID, truncate(e.Title, 50), truncate(e.Author, 30), e.Status, size, detail)
	}
	return tw.Flush()
}
