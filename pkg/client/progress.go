package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/docker/go-units"

	"github.com/lumeview/tagrunner/pkg/store"
)

// DisplayProgress renders the NDJSON download-progress stream of a
// model install. On a terminal the current line is rewritten in place;
// otherwise each record is printed on its own line. A terminal error
// record aborts the display and is returned as an error.
func DisplayProgress(body io.Reader, printer StatusPrinter) error {
	_, isTerminal := printer.GetFdInfo()

	scanner := bufio.NewScanner(body)
	inPlace := false
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var p store.Progress
		if err := json.Unmarshal(line, &p); err != nil {
			// Not a progress record; skip.
			continue
		}

		switch p.Status {
		case store.StatusDownloading:
			text := fmt.Sprintf("Downloading %s: %s of %s",
				p.File,
				units.HumanSize(float64(p.BytesDownloaded)),
				units.HumanSize(float64(p.TotalBytes)))
			if isTerminal {
				printer.Printf("\r\033[K%s", text)
				inPlace = true
			} else {
				printer.Println(text)
			}

		case store.StatusReady:
			if inPlace {
				printer.Printf("\n")
			}
			printer.Printf("Installed %s (%s)\n", p.Model, units.HumanSize(float64(p.BytesDownloaded)))

		case store.StatusError:
			if inPlace {
				printer.Printf("\n")
			}
			return fmt.Errorf("%s", p.Message)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading progress stream: %w", err)
	}
	return nil
}
