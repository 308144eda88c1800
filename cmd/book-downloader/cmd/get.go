package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-book-download/internal/downloader"
	"go-book-download/internal/helpers"
	"go-book-download/internal/ingest"
)

var getCmd = &cobra.Command{
	Use:   "get [ID]",
	Short: "Download one book without running the server",
	Long: `Looks the book up in the catalog, downloads it into the staging directory
trying each mirror in turn and, with --publish, moves it into the ingest directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

func init() {
	rootCmd.AddCommand(getCmd)

	getCmd.Flags().Bool("publish", false, "Move the finished file into the ingest directory")
	getCmd.Flags().Bool("no-progress", false, "Do not render a progress bar")
}

func runGet(cmd *cobra.Command, args []string) error {
	publish, _ := cmd.Flags().GetBool("publish")
	noProgress, _ := cmd.Flags().GetBool("no-progress")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fetchBook(ctx, args[0], publish, noProgress)
}

// fetchBook resolves id in the catalog and downloads it into the staging
// directory, publishing it to the ingest directory when asked.
func fetchBook(ctx context.Context, id string, publish, noProgress bool) error {
	rec, err := newCatalogClient().GetBookInfo(ctx, id)
	if err != nil {
		return err
	}
	log.Infof("Found %q by %s (%s, %s)", rec.Title, rec.Author, rec.Format, rec.Size)

	if !helpers.CheckAndMakeDir(globalConfig.TmpDir) {
		return fmt.Errorf("cannot create staging directory %s", globalConfig.TmpDir)
	}
	dl := downloader.NewDownloader(newDownloadHTTPClient(), globalConfig.TmpDir, globalConfig.CatalogBaseURL, globalConfig.UserAgent)
	if !noProgress {
		dl.SetProgress(func(rawURL string, contentLength int64) io.Writer {
			return progressbar.DefaultBytes(contentLength, "downloading")
		})
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(globalConfig.DownloadTimeoutSec)*time.Second)
	defer cancel()
	res, err := dl.Fetch(ctx, rec)
	if err != nil {
		return err
	}
	log.Infof("Downloaded %s (%s) from %s, blake3 %s", res.Path, helpers.BytesToSize(uint64(res.Bytes)), res.URL, res.Blake3)

	if !publish {
		fmt.Println(res.Path)
		return nil
	}
	finalPath, err := ingest.NewWatcher(globalConfig.IngestDir).Publish(res.Path, rec)
	if err != nil {
		return err
	}
	fmt.Println(finalPath)
	return nil
}
