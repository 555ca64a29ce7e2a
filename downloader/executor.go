package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phuslu/log"

	"x-keeper/classifier"
	"x-keeper/database"
	"x-keeper/extractor"
	"x-keeper/models"
)

// FilenameTemplate makes every saved file name carry its post id.
const FilenameTemplate = "{author[name]}-{tweet_id}-{num:02d}.{extension}"

var filenamePattern = regexp.MustCompile(`^(.+)-(\d+)-(\d+)\.(\w+)$`)

// PostIDFromFilename recovers the post id from a name produced by FilenameTemplate.
func PostIDFromFilename(name string) string {
	m := filenamePattern.FindStringSubmatch(name)
	if m == nil {
		return ""
	}
	return m[2]
}

// Executor materializes media into a dated folder under one root and keeps the ledger current.
// All operations share one lock: the folder diff is only valid without concurrent writers.
type Executor struct {
	mu     sync.Mutex
	tool   extractor.Tool
	ledger database.Ledger
	root   string
	now    func() time.Time
}

// New creates an executor writing below root.
func New(tool extractor.Tool, ledger database.Ledger, root string) *Executor {
	return &Executor{tool: tool, ledger: ledger, root: root, now: time.Now}
}

// DestDir is the folder the next invocation writes into.
func (e *Executor) DestDir() string {
	return filepath.Join(e.root, e.now().Format("2006-01-02"))
}

// DownloadAll fetches every post in postURLs that the ledger does not know yet.
func (e *Executor) DownloadAll(ctx context.Context, postURLs []string) models.DownloadResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := models.DownloadResult{Requested: unique(postURLs)}
	seen := make(map[string]bool)
	for _, url := range result.Requested {
		id := classifier.PostIDFromURL(url)
		switch {
		case id == "":
			result.AddError(url, &models.ValidationError{Input: url, Reason: "not a post url"})
		case seen[id]:
			// The same post under another host name.
			result.Rejected = append(result.Rejected, url)
		case e.ledger.Contains(id):
			seen[id] = true
			result.Rejected = append(result.Rejected, url)
		default:
			seen[id] = true
			result.Accepted = append(result.Accepted, url)
		}
	}
	if len(result.Accepted) == 0 {
		return result
	}

	dest, err := e.prepareDest()
	if err != nil {
		return batchFailure(result, err)
	}

	for _, url := range result.Accepted {
		id := classifier.PostIDFromURL(url)
		saved, err := e.materialize(ctx, extractor.Request{
			URLs:             []string{url},
			DestDir:          dest,
			FilenameTemplate: FilenameTemplate,
			Mode:             extractor.ModeSingle,
		}, url)
		if errors.Is(err, extractor.ErrToolUnavailable) {
			return batchFailure(result, err)
		}
		result.Saved = append(result.Saved, saved...)
		ids := postIDs(saved)
		if err != nil {
			// Files that landed before the failure are registered, as for collections.
			if len(ids) > 0 {
				if _, perr := e.ledger.Add(ids); perr != nil {
					result.AddError(url, perr)
				}
			}
			result.AddError(url, &models.ExecutionError{URL: url, Err: err})
			continue
		}

		if len(ids) == 0 {
			// Media already on disk or a post without media: still remember it.
			ids = []string{id}
			log.Info().Str("url", url).Msg("no new files, marking post as fetched")
		}
		if _, err := e.ledger.Add(ids); err != nil {
			result.AddError(url, err)
		}
	}
	return result
}

// DownloadCollection fetches an author's media page, skipping every id in exclude.
func (e *Executor) DownloadCollection(ctx context.Context, collectionURL string, exclude []string) models.DownloadResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := models.DownloadResult{Requested: []string{collectionURL}, Accepted: []string{collectionURL}}

	dest, err := e.prepareDest()
	if err != nil {
		return batchFailure(result, err)
	}

	excludeFile, err := writeExcludeFile(exclude)
	if err != nil {
		result.AddError(collectionURL, &models.ExecutionError{URL: collectionURL, Err: err})
		return result
	}
	defer os.Remove(excludeFile)

	log.Info().Str("url", collectionURL).Int("excluded", len(exclude)).Msg("downloading collection")
	saved, err := e.materialize(ctx, extractor.Request{
		URLs:             []string{collectionURL},
		DestDir:          dest,
		FilenameTemplate: FilenameTemplate,
		ExcludeFile:      excludeFile,
		Mode:             extractor.ModeCollection,
	}, collectionURL)
	if errors.Is(err, extractor.ErrToolUnavailable) {
		return batchFailure(result, err)
	}
	// Files that did land are still registered after a partial run.
	result.Saved = saved
	if ids := postIDs(saved); len(ids) > 0 {
		if _, perr := e.ledger.Add(ids); perr != nil {
			result.AddError(collectionURL, perr)
		}
	}
	if err != nil {
		result.AddError(collectionURL, &models.ExecutionError{URL: collectionURL, Err: err})
	}
	return result
}

// DownloadDirect fetches sources without a thread concept, deduplicated by URL.
func (e *Executor) DownloadDirect(ctx context.Context, urls []string) models.DownloadResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := models.DownloadResult{Requested: unique(urls)}
	for _, url := range result.Requested {
		if e.ledger.ContainsURL(url) {
			result.Rejected = append(result.Rejected, url)
		} else {
			result.Accepted = append(result.Accepted, url)
		}
	}
	if len(result.Accepted) == 0 {
		return result
	}

	dest, err := e.prepareDest()
	if err != nil {
		return batchFailure(result, err)
	}

	for _, url := range result.Accepted {
		saved, err := e.materialize(ctx, extractor.Request{URLs: []string{url}, DestDir: dest}, url)
		if errors.Is(err, extractor.ErrToolUnavailable) {
			return batchFailure(result, err)
		}
		if err != nil {
			result.AddError(url, &models.ExecutionError{URL: url, Err: err})
			continue
		}
		if len(saved) == 0 {
			result.AddError(url, &models.ExecutionError{URL: url, Err: errors.New("tool produced no files")})
			continue
		}
		result.Saved = append(result.Saved, saved...)
		if _, err := e.ledger.AddURLs([]string{url}); err != nil {
			result.AddError(url, err)
		}
	}
	return result
}

func (e *Executor) prepareDest() (string, error) {
	dest := e.DestDir()
	if err := os.MkdirAll(dest, 0755); err != nil {
		return "", fmt.Errorf("failed to create destination directory: %w", err)
	}
	return dest, nil
}

// materialize runs the tool and returns the files that appeared in req.DestDir.
func (e *Executor) materialize(ctx context.Context, req extractor.Request, sourceURL string) ([]models.SavedFile, error) {
	before, err := listFiles(req.DestDir)
	if err != nil {
		return nil, err
	}
	runErr := e.tool.Materialize(ctx, req)

	after, err := listFiles(req.DestDir)
	if err != nil {
		return nil, err
	}

	var names []string
	for name := range after {
		if _, ok := before[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	saved := make([]models.SavedFile, 0, len(names))
	for _, name := range names {
		file := models.SavedFile{
			Path:      filepath.Join(req.DestDir, name),
			SourceURL: sourceURL,
			SizeBytes: after[name],
		}
		if req.FilenameTemplate != "" {
			file.PostID = PostIDFromFilename(name)
			if file.PostID == "" {
				log.Warn().Str("file", name).Str("url", sourceURL).Msg("could not map saved file to a post id")
			}
		}
		saved = append(saved, file)
	}
	log.Info().Str("url", sourceURL).Int("files", len(saved)).Msg("materialize finished")
	return saved, runErr
}

// listFiles maps the regular files of dir to their sizes. In-progress downloads are skipped.
func listFiles(dir string) (map[string]int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	files := make(map[string]int64, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasSuffix(entry.Name(), ".part") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files[entry.Name()] = info.Size()
	}
	return files, nil
}

func writeExcludeFile(ids []string) (string, error) {
	path := filepath.Join(os.TempDir(), "x-keeper-exclude-"+uuid.NewString()+".txt")
	if err := os.WriteFile(path, []byte(strings.Join(ids, "\n")), 0600); err != nil {
		return "", fmt.Errorf("failed to write exclusion file: %w", err)
	}
	return path, nil
}

func batchFailure(result models.DownloadResult, err error) models.DownloadResult {
	result.Errors = append(result.Errors, models.DownloadError{URL: models.BatchErrorURL, Reason: err.Error()})
	log.Error().Err(err).Strs("urls", result.Requested).Msg("download batch failed")
	return result
}

func postIDs(files []models.SavedFile) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, f := range files {
		if f.PostID != "" && !seen[f.PostID] {
			seen[f.PostID] = true
			ids = append(ids, f.PostID)
		}
	}
	return ids
}

func unique(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
