package main

import (
	"go-book-download/cmd/book-downloader/cmd"
	"go-book-download/internal/api"
)

func main() {
	// Flush and close every API log file on exit
	defer api.CloseAllLoggingTransports()

	cmd.Execute()
}
