package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/phuslu/log"
	"golang.org/x/time/rate"

	"x-keeper/models"
)

// Mode selects the timeout budget of a materialize call.
type Mode int

const (
	ModeSingle Mode = iota
	ModeCollection
)

// ErrToolUnavailable means the tool binary could not be started at all.
var ErrToolUnavailable = errors.New("extraction tool unavailable")

// Request describes one materialize invocation.
type Request struct {
	URLs             []string
	DestDir          string
	FilenameTemplate string
	// ExcludeFile lists post ids (one per line) the tool must skip.
	ExcludeFile string
	Mode        Mode
}

// Tool is the boundary to the external extraction tool.
type Tool interface {
	Metadata(ctx context.Context, url string) ([]Record, error)
	Materialize(ctx context.Context, req Request) error
}

// ExitError is a tool run that ended with an unexpected status.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("tool exited with status %d", e.Code)
	}
	return fmt.Sprintf("tool exited with status %d: %s", e.Code, e.Stderr)
}

// GalleryDL runs gallery-dl as a subprocess.
type GalleryDL struct {
	command           string
	cookiesFile       string
	pixivRefreshToken string
	metadataTimeout   time.Duration
	downloadTimeout   time.Duration
	collectionTimeout time.Duration
	retries           int
	limiter           *rate.Limiter
}

// NewGalleryDL builds the tool wrapper from configuration, applying defaults for zero values.
func NewGalleryDL(cfg models.ExtractorConfig) *GalleryDL {
	g := &GalleryDL{
		command:           cfg.Command,
		cookiesFile:       cfg.CookiesFile,
		pixivRefreshToken: cfg.PixivRefreshToken,
		metadataTimeout:   cfg.MetadataTimeout,
		downloadTimeout:   cfg.DownloadTimeout,
		collectionTimeout: cfg.CollectionTimeout,
		retries:           cfg.Retries,
	}
	if g.command == "" {
		g.command = "gallery-dl"
	}
	if g.metadataTimeout <= 0 {
		g.metadataTimeout = 30 * time.Second
	}
	if g.downloadTimeout <= 0 {
		g.downloadTimeout = 300 * time.Second
	}
	if g.collectionTimeout <= 0 {
		g.collectionTimeout = 2 * time.Hour
	}
	if g.retries <= 0 {
		g.retries = 3
	}
	if cfg.MinInterval > 0 {
		g.limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	} else {
		g.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return g
}

// Metadata dumps the metadata of url without downloading anything.
func (g *GalleryDL) Metadata(ctx context.Context, url string) ([]Record, error) {
	args := []string{"--dump-json"}
	if g.cookiesFile != "" {
		args = append(args, "--cookies", g.cookiesFile)
	}
	args = append(args, url)

	stdout, err := g.run(ctx, g.metadataTimeout, args)
	if err != nil {
		return nil, err
	}
	return ParseRecords(stdout)
}

// Materialize downloads req.URLs into req.DestDir, retrying failed runs.
func (g *GalleryDL) Materialize(ctx context.Context, req Request) error {
	args := g.materializeArgs(req)
	timeout := g.downloadTimeout
	attempts := g.retries
	if req.Mode == ModeCollection {
		timeout = g.collectionTimeout
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		_, err = g.run(ctx, timeout, args)
		if err == nil {
			return nil
		}
		var exitErr *ExitError
		if !errors.As(err, &exitErr) {
			return err
		}
		log.Warn().Int("attempt", attempt).Int("max", attempts).Strs("urls", req.URLs).Err(err).Msg("extraction tool run failed")
	}
	return err
}

func (g *GalleryDL) materializeArgs(req Request) []string {
	args := []string{"-D", req.DestDir}
	if req.FilenameTemplate != "" {
		args = append(args, "-o", "filename="+req.FilenameTemplate)
	}
	if req.ExcludeFile != "" {
		args = append(args, "--filter", ExcludeFilter(req.ExcludeFile))
	}
	if g.cookiesFile != "" {
		// A logged-in session can pull a whole conversation in one run.
		args = append(args, "--cookies", g.cookiesFile, "-o", "extractor.twitter.conversations=true")
	}
	if g.pixivRefreshToken != "" {
		args = append(args, "-o", "extractor.pixiv.refresh-token="+g.pixivRefreshToken)
	}
	return append(args, req.URLs...)
}

// ExcludeFilter is the tool filter expression that skips every id listed in path.
func ExcludeFilter(path string) string {
	quoted := strings.ReplaceAll(path, `\`, `\\`)
	quoted = strings.ReplaceAll(quoted, `'`, `\'`)
	return fmt.Sprintf("str(tweet_id) not in open('%s', encoding='utf-8').read().splitlines()", quoted)
}

// run executes one invocation. Exit status 0 and 1 (nothing to download) are success.
func (g *GalleryDL) run(ctx context.Context, timeout time.Duration, args []string) ([]byte, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to wait for tool slot: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, g.command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	log.Debug().Str("command", g.command).Str("mode", args[0]).Dur("elapsed", time.Since(start)).Msg("extraction tool finished")

	if err == nil {
		return stdout.Bytes(), nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("tool timed out after %s: %w", timeout, ctx.Err())
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode() == 1 {
			return stdout.Bytes(), nil
		}
		return nil, &ExitError{Code: exitErr.ExitCode(), Stderr: strings.TrimSpace(stderr.String())}
	}
	return nil, fmt.Errorf("%w: %v", ErrToolUnavailable, err)
}
