// Package archive implements session archival (spec.md §4.9): after a
// session finishes (and any MP3 encode completes), its output files are
// uploaded to a configured storage provider and a retention policy
// prunes old sessions beyond a configured count.
//
// Grounded on the teacher's internal/backup package (BackupManager,
// CreateSnapshot/ListSnapshots/DeleteSnapshot): the manifest-per-run,
// list-by-prefix, prune-beyond-retention shape is kept, generalized
// from "backup an arbitrary file tree on a schedule" to "archive one
// finished session's fixed output set on demand".
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/breeze-audio/recorder/internal/archive/providers"
	"github.com/breeze-audio/recorder/internal/logging"
)

var log = logging.L("archive")

const (
	archiveRootDir = "sessions"
	manifestName   = "manifest.json"
)

// Manifest records what was archived for one session.
type Manifest struct {
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
	Files     []File    `json:"files"`
	Size      int64     `json:"size"`
}

// File is one archived output (a WAV, the optional MP3, or the session log).
type File struct {
	RemotePath string `json:"remotePath"`
	Size       int64  `json:"size"`
}

// Archiver uploads a finished session's output files to a provider and
// enforces a retention count of kept sessions.
type Archiver struct {
	Provider  providers.Provider
	Retention int
}

// New constructs an Archiver. retention <= 0 disables pruning.
func New(provider providers.Provider, retention int) *Archiver {
	return &Archiver{Provider: provider, Retention: retention}
}

// Archive uploads localPaths (typically the System/Mic/Mix WAVs, an
// optional MP3, and the session log) under sessions/<sessionID>/ and
// writes a manifest alongside them, then prunes sessions beyond
// Retention. Per-file upload failures are collected and returned
// together rather than aborting the whole archive.
func (a *Archiver) Archive(ctx context.Context, sessionID string, localPaths []string) (*Manifest, error) {
	if a.Provider == nil {
		return nil, errors.New("archive provider is required")
	}
	if len(localPaths) == 0 {
		return nil, errors.New("no files provided for archive")
	}

	manifest := &Manifest{SessionID: sessionID, Timestamp: time.Now().UTC()}
	prefix := path.Join(archiveRootDir, sessionID)

	var errs []error
	for _, local := range localPaths {
		info, err := os.Stat(local)
		if err != nil {
			errs = append(errs, fmt.Errorf("stat %s: %w", local, err))
			continue
		}
		remote := path.Join(prefix, filepath.Base(local))
		if err := a.Provider.Upload(ctx, local, remote); err != nil {
			err = fmt.Errorf("upload %s: %w", local, err)
			errs = append(errs, err)
			log.Warn("archive upload failed", "path", local, "error", err)
			continue
		}
		manifest.Files = append(manifest.Files, File{RemotePath: remote, Size: info.Size()})
		manifest.Size += info.Size()
	}

	if len(manifest.Files) == 0 {
		return nil, errors.Join(errs...)
	}

	manifestPath, err := writeManifestTemp(manifest)
	if err != nil {
		return manifest, err
	}
	defer os.Remove(manifestPath)

	if err := a.Provider.Upload(ctx, manifestPath, path.Join(prefix, manifestName)); err != nil {
		return manifest, fmt.Errorf("upload manifest: %w", err)
	}

	if a.Retention > 0 {
		if pruneErr := a.prune(ctx); pruneErr != nil {
			log.Warn("retention prune failed", "error", pruneErr)
		}
	}

	return manifest, errors.Join(errs...)
}

// List returns archived session manifests, oldest first.
func (a *Archiver) List(ctx context.Context) ([]Manifest, error) {
	if a.Provider == nil {
		return nil, errors.New("archive provider is required")
	}

	items, err := a.Provider.List(ctx, archiveRootDir)
	if err != nil {
		return nil, err
	}

	var manifests []Manifest
	var errs []error

	for _, item := range items {
		if !isManifestPath(item) {
			continue
		}

		tempFile, err := os.CreateTemp("", "archive-manifest-*.json")
		if err != nil {
			err = fmt.Errorf("create temp manifest: %w", err)
			errs = append(errs, err)
			log.Warn("manifest temp file failed", "error", err)
			continue
		}
		tempPath := tempFile.Name()
		_ = tempFile.Close()

		if err := a.Provider.Download(ctx, item, tempPath); err != nil {
			os.Remove(tempPath)
			err = fmt.Errorf("download manifest %s: %w", item, err)
			errs = append(errs, err)
			log.Warn("manifest download failed", "item", item, "error", err)
			continue
		}

		manifestFile, err := os.Open(tempPath)
		if err != nil {
			os.Remove(tempPath)
			errs = append(errs, fmt.Errorf("open manifest %s: %w", tempPath, err))
			continue
		}
		var m Manifest
		decodeErr := json.NewDecoder(manifestFile).Decode(&m)
		_ = manifestFile.Close()
		os.Remove(tempPath)
		if decodeErr != nil {
			errs = append(errs, fmt.Errorf("decode manifest %s: %w", item, decodeErr))
			continue
		}

		manifests = append(manifests, m)
	}

	sort.Slice(manifests, func(i, j int) bool {
		return manifests[i].Timestamp.Before(manifests[j].Timestamp)
	})

	if len(manifests) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return manifests, errors.Join(errs...)
}

func (a *Archiver) prune(ctx context.Context) error {
	manifests, err := a.List(ctx)
	if err != nil && len(manifests) == 0 {
		return err
	}
	if len(manifests) <= a.Retention {
		return err
	}

	var errs []error
	toDelete := manifests[:len(manifests)-a.Retention]
	for _, m := range toDelete {
		prefix := path.Join(archiveRootDir, m.SessionID)
		items, listErr := a.Provider.List(ctx, prefix)
		if listErr != nil {
			errs = append(errs, fmt.Errorf("list session %s: %w", m.SessionID, listErr))
			continue
		}
		for _, item := range items {
			if delErr := a.Provider.Delete(ctx, item); delErr != nil {
				errs = append(errs, fmt.Errorf("delete %s: %w", item, delErr))
			}
		}
	}
	return errors.Join(err, errors.Join(errs...))
}

func writeManifestTemp(m *Manifest) (string, error) {
	f, err := os.CreateTemp("", "archive-manifest-*.json")
	if err != nil {
		return "", fmt.Errorf("create manifest temp file: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	return f.Name(), nil
}

func isManifestPath(item string) bool {
	item = path.Clean(item)
	return strings.HasSuffix(item, "/"+manifestName) || path.Base(item) == manifestName
}
