package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-book-download/internal/api"
	"go-book-download/internal/models"
)

var searchCmd = &cobra.Command{
	Use:   "search [QUERY]",
	Short: "Search the catalog",
	Long:  `Runs a catalog search restricted to the configured formats and languages and prints the results.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var infoCmd = &cobra.Command{
	Use:   "info [ID]",
	Short: "Show the full catalog record of one book",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(infoCmd)

	searchCmd.Flags().Bool("json", false, "Print results as JSON")
	searchCmd.Flags().IntP("limit", "n", 0, "Maximum number of results to print (0 for all)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	asJSON, _ := cmd.Flags().GetBool("json")
	limit, _ := cmd.Flags().GetInt("limit")

	records, err := newCatalogClient().SearchBooks(cmd.Context(), query)
	if err != nil {
		if !errors.Is(err, api.ErrNotFound) {
			return err
		}
		log.Infof("No results for %q", query)
		records = []models.Record{}
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	if asJSON {
		return writeJSON(os.Stdout, records)
	}
	return printRecords(os.Stdout, records)
}

func runInfo(cmd *cobra.Command, args []string) error {
	rec, err := newCatalogClient().GetBookInfo(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return writeJSON(os.Stdout, rec)
}

// printRecords writes search results as an aligned table.
func printRecords(w io.Writer, records []models.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTitle\tAuthor\tYear\tLanguage\tFormat\tSize")
	fmt.Fprintln(tw, "--\t-----\t------\t----\t--------\t------\t----")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, truncate(r.Title, 60), truncate(r.Author, 30), r.Year, r.Language, r.Format, r.Size)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
