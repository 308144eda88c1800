package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove leftover partial downloads (.tmp) from the staging directory",
	Long: `Recursively scans the configured TmpDir and removes every file ending in .tmp.
With --staged, finished but unpublished downloads are removed as well.`,
	RunE: runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().Bool("staged", false, "Also remove finished downloads that were never published")
}

func runClean(cmd *cobra.Command, args []string) error {
	staged, _ := cmd.Flags().GetBool("staged")
	dir := globalConfig.TmpDir

	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("accessing TmpDir %q: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("TmpDir is not a directory: %s", dir)
	}

	log.Infof("Scanning for leftovers in %s...", dir)
	removed, failed, err := cleanDir(dir, staged)
	if err != nil {
		log.Errorf("Error during directory walk of %q: %v", dir, err)
	}

	summary := fmt.Sprintf("Clean complete. Removed %d file(s)", removed)
	if failed > 0 {
		summary += fmt.Sprintf(". Failed to remove %d file(s)", failed)
	}
	log.Info(summary)

	if failed > 0 || err != nil {
		return errors.New("clean finished with errors")
	}
	return nil
}

// cleanDir removes *.tmp files under dir, and every other regular file when all is set.
func cleanDir(dir string, all bool) (removed, failed int, err error) {
	err = filepath.Walk(dir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			log.Warnf("Error accessing path %q during scan: %v", path, walkErr)
			return nil
		}
		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}
		if !all && !strings.HasSuffix(strings.ToLower(info.Name()), ".tmp") {
			return nil
		}
		// The API request log may live in the staging directory.
		if info.Name() == "api.log" {
			return nil
		}

		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				log.Warnf("Attempted to remove %q, but it was already gone.", path)
				return nil
			}
			log.Errorf("Failed to remove %q: %v", path, err)
			failed++
			return nil
		}
		log.Infof("Removed %s", path)
		removed++
		return nil
	})
	return removed, failed, err
}
