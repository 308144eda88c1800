package api

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// maxLoggedBody caps how much of a catalog page is written to the log file.
const maxLoggedBody = 64 * 1024

var (
	openTransportsMu sync.Mutex
	openTransports   []*LoggingTransport
)

// LoggingTransport wraps an http.RoundTripper and appends every catalog
// request and response to a log file.
type LoggingTransport struct {
	Transport http.RoundTripper
	logFile   *os.File
	mu        sync.Mutex
	writer    *bufio.Writer
	closed    bool
}

// NewLoggingTransport opens logFilePath for appending and wraps transport.
func NewLoggingTransport(transport http.RoundTripper, logFilePath string) (*LoggingTransport, error) {
	f, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open API log file %s: %w", logFilePath, err)
	}
	if transport == nil {
		transport = http.DefaultTransport
	}

	t := &LoggingTransport{
		Transport: transport,
		logFile:   f,
		writer:    bufio.NewWriter(f),
	}
	openTransportsMu.Lock()
	openTransports = append(openTransports, t)
	openTransportsMu.Unlock()
	return t, nil
}

// RoundTrip executes a single HTTP transaction, logging details.
// Text bodies (HTML, JSON) are logged up to maxLoggedBody bytes and handed
// back to the caller intact.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	startTime := time.Now()

	var entry strings.Builder
	if reqDump, err := httputil.DumpRequestOut(req, false); err != nil {
		log.WithError(err).Debug("Failed to dump API request for logging")
	} else {
		fmt.Fprintf(&entry, "--- Request (%s) ---\n%s\n", startTime.Format(time.RFC3339), reqDump)
	}

	resp, err := t.Transport.RoundTrip(req)
	duration := time.Since(startTime)

	if err != nil {
		fmt.Fprintf(&entry, "--- Response Error (Duration: %v) ---\n%s\n", duration, err)
		t.write(entry.String())
		return resp, err
	}

	respDump, dumpErr := httputil.DumpResponse(resp, false)
	if dumpErr != nil {
		fmt.Fprintf(&entry, "--- Response (Duration: %v) ---\nStatus: %s\n", duration, resp.Status)
	} else {
		fmt.Fprintf(&entry, "--- Response (Duration: %v) ---\n%s", duration, respDump)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "text/") || strings.HasPrefix(contentType, "application/json") {
		bodyBytes, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			fmt.Fprintf(&entry, "(body read failed: %v)\n", readErr)
			t.write(entry.String())
			return nil, fmt.Errorf("reading response body: %w", readErr)
		}
		resp.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		logged := bodyBytes
		if len(logged) > maxLoggedBody {
			logged = logged[:maxLoggedBody]
		}
		fmt.Fprintf(&entry, "--- Body (%d bytes, %s) ---\n%s\n", len(bodyBytes), contentType, logged)
	} else {
		fmt.Fprintf(&entry, "(body not logged, type %q)\n", contentType)
	}

	t.write(entry.String())
	return resp, nil
}

func (t *LoggingTransport) write(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if _, err := t.writer.WriteString(s + "\n"); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing to API log file: %v\n", err)
		return
	}
	t.writer.Flush()
}

// Close flushes and closes the log file. It is safe to call more than once.
func (t *LoggingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	errFlush := t.writer.Flush()
	errClose := t.logFile.Close()
	if errFlush != nil {
		return fmt.Errorf("failed to flush API log buffer: %w", errFlush)
	}
	return errClose
}

// CloseAllLoggingTransports closes every transport created by NewLoggingTransport.
func CloseAllLoggingTransports() {
	openTransportsMu.Lock()
	transports := openTransports
	openTransports = nil
	openTransportsMu.Unlock()

	for _, t := range transports {
		if err := t.Close(); err != nil {
			log.WithError(err).Error("Error closing API log file")
		}
	}
}
