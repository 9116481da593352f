package immich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/hbomb79/immich-relay/internal/media"
	"github.com/hbomb79/immich-relay/pkg/logger"
)

type (
	// File is a downloaded file on disk awaiting relay.
	File struct {
		Path     string
		Filename string
	}

	// Outcome records the result of relaying a single file as
	// part of a batch.
	Outcome struct {
		Filename string
		Success  bool
		Response json.RawMessage
		Err      error
	}
)

// UploadFiles relays each file to Immich, one at a time and in the order
// provided. A failure to relay one file does not prevent the remaining files
// from being attempted; exactly one Outcome is returned per file, in input order.
// Once all files have been attempted, they are removed from disk. Failure to
// remove a file is logged and otherwise ignored.
func (client *Client) UploadFiles(ctx context.Context, files []File, apiKey string, baseURL string) []Outcome {
	outcomes := make([]Outcome, 0, len(files))
	for i, file := range files {
		response, err := client.uploadFile(ctx, file, apiKey, baseURL, i+1)
		if err != nil {
			log.Emit(logger.WARNING, "Failed to relay %s (%d of %d): %v\n", file.Filename, i+1, len(files), err)
			outcomes = append(outcomes, Outcome{Filename: file.Filename, Err: err})
			continue
		}

		outcomes = append(outcomes, Outcome{Filename: file.Filename, Success: true, Response: response})
	}

	for _, file := range files {
		if err := os.Remove(file.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Emit(logger.WARNING, "Failed to remove relayed file %s: %v\n", file.Path, err)
		}
	}

	return outcomes
}

func (client *Client) uploadFile(ctx context.Context, file File, apiKey string, baseURL string, index int) (json.RawMessage, error) {
	f, err := os.Open(file.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s for relay: %w", file.Filename, err)
	}
	defer f.Close()

	asset := Asset{Filename: file.Filename, ContentType: media.ContentTypeForFile(file.Path), Content: f}
	return client.upload(ctx, asset, apiKey, baseURL, index)
}

// Successful returns the number of outcomes which succeeded.
func Successful(outcomes []Outcome) int {
	count := 0
	for _, o := range outcomes {
		if o.Success {
			count++
		}
	}

	return count
}
