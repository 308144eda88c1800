package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/blevesearch/bleve/v2"
	"github.com/spf13/cobra"

	"go-book-download/index"
)

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "Query the index of acquired books",
}

var librarySearchCmd = &cobra.Command{
	Use:   "search [QUERY]",
	Short: "Search acquired books",
	Long: `Runs a query-string search over the library index.
Fields: title, author, publisher, year, language, format, isbn, tags.
Example: book-downloader library search '+author:herbert format:epub'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLibrarySearch,
}

var libraryResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the library index",
	Long: `Removes the library index directory. It is recreated empty the next time
the server or a library search opens it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return fmt.Errorf("refusing to delete %s without --yes", globalConfig.LibraryIndexPath)
		}
		return index.DeleteIndex(globalConfig.LibraryIndexPath)
	},
}

func init() {
	rootCmd.AddCommand(libraryCmd)
	libraryCmd.AddCommand(librarySearchCmd)
	libraryCmd.AddCommand(libraryResetCmd)

	libraryResetCmd.Flags().Bool("yes", false, "Confirm deletion of the index")

	librarySearchCmd.Flags().IntP("limit", "n", 20, "Maximum number of hits")
}

func runLibrarySearch(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	lib, err := index.OpenLibrary(globalConfig.LibraryIndexPath)
	if err != nil {
		return err
	}
	defer lib.Close()

	res, err := lib.Search(strings.Join(args, " "), limit)
	if err != nil {
		return err
	}
	return printLibraryHits(os.Stdout, res)
}

func printLibraryHits(w io.Writer, res *bleve.SearchResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Score\tID\tTitle\tAuthor\tFormat\tPath")
	fmt.Fprintln(tw, "-----\t--\t-----\t------\t------\t----")
	for _, hit := range res.Hits {
		fmt.Fprintf(tw, "%.3f\t%s\t%s\t%s\t%s\t%s\n",
			hit.Score, hit.ID, field(hit.Fields, "title"), field(hit.Fields, "author"),
			field(hit.Fields, "format"), field(hit.Fields, "filePath"))
	}
	fmt.Fprintf(tw, "\n%d of %d hit(s)\n", len(res.Hits), res.Total)
	return tw.Flush()
}

func field(fields map[string]any, name string) string {
	if v, ok := fields[name]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}
