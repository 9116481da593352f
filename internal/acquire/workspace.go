package acquire

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hbomb79/immich-relay/pkg/logger"
)

const (
	// WorkspacePrefix is used for every acquisition workspace created
	// under the work dir; the temp sweeper relies on it.
	WorkspacePrefix = "acquire-"
	mediaDirName    = "media"
)

// Suffixes left behind by the downloaders for incomplete files
var partialSuffixes = []string{".part", ".ytdl", ".temp"}

type (
	Asset struct {
		Path     string
		Filename string
	}

	// Result is the ordered set of files produced by an acquisition. The
	// order of Assets matches the position of the media in the source post.
	Result struct {
		Assets []Asset
		Dir    string
	}

	// Acquisition is a handle for a completed download. The files it refers
	// to, along with any scoped cookies, are owned by the handle until
	// Release is called.
	Acquisition struct {
		Result
		SourceURL    string
		EffectiveURL string
		Tool         string

		root    string
		release sync.Once
	}

	workspace struct {
		root     string
		mediaDir string
	}
)

func newWorkspace(workDir string) (*workspace, error) {
	root, err := os.MkdirTemp(workDir, WorkspacePrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to create acquisition workspace: %w", err)
	}

	ws := &workspace{root: root, mediaDir: filepath.Join(root, mediaDirName)}
	if err := os.Mkdir(ws.mediaDir, 0o700); err != nil {
		ws.release()
		return nil, fmt.Errorf("failed to create acquisition media dir: %w", err)
	}

	return ws, nil
}

// resetMedia removes anything left in the media directory by a previous
// (failed) tool invocation.
func (ws *workspace) resetMedia() error {
	if err := os.RemoveAll(ws.mediaDir); err != nil {
		return err
	}

	return os.Mkdir(ws.mediaDir, 0o700)
}

// collect lists the files produced in the media directory, sorted by
// filename. Tool enumeration order is not relied upon.
func (ws *workspace) collect() ([]Asset, error) {
	entries, err := os.ReadDir(ws.mediaDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list acquisition media dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || isPartial(entry.Name()) {
			continue
		}

		names = append(names, entry.Name())
	}
	sort.Strings(names)

	assets := make([]Asset, 0, len(names))
	for _, name := range names {
		assets = append(assets, Asset{Path: filepath.Join(ws.mediaDir, name), Filename: name})
	}

	return assets, nil
}

func (ws *workspace) release() {
	if err := os.RemoveAll(ws.root); err != nil {
		log.Emit(logger.WARNING, "Failed to remove acquisition workspace %s: %v\n", ws.root, err)
	}
}

func isPartial(name string) bool {
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}

	return false
}

// Release removes the workspace backing this acquisition, including any
// downloaded files which have not already been removed. Safe to call
// more than once.
func (acq *Acquisition) Release() {
	acq.release.Do(func() {
		(&workspace{root: acq.root}).release()
		log.Emit(logger.REMOVE, "Released acquisition workspace %s\n", acq.root)
	})
}

// IsCarousel reports whether the acquisition produced more than one asset.
func (acq *Acquisition) IsCarousel() bool { return len(acq.Assets) > 1 }
