package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/phuslu/log"

	"x-keeper/classifier"
	"x-keeper/extractor"
	"x-keeper/models"
)

// DefaultMaxDepth bounds how many posts one resolution may visit.
const DefaultMaxDepth = 50

// Ledger is the part of the deduplication store the resolver reads.
type Ledger interface {
	Contains(id string) bool
}

// Resolver walks reply chains upward through the extraction tool's metadata mode.
type Resolver struct {
	tool     extractor.Tool
	ledger   Ledger
	maxDepth int
}

// New creates a resolver. A non-positive maxDepth uses DefaultMaxDepth.
func New(tool extractor.Tool, ledger Ledger, maxDepth int) *Resolver {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Resolver{tool: tool, ledger: ledger, maxDepth: maxDepth}
}

// Resolve returns the ancestor chain of postURL ordered oldest first, ending with the post itself.
// Traversal stops at a thread root, at a post already in the ledger (kept in the chain),
// at a repeated id, or after maxDepth posts.
func (r *Resolver) Resolve(ctx context.Context, postURL string) (models.PostThread, error) {
	id := classifier.PostIDFromURL(postURL)
	if id == "" {
		return models.PostThread{}, &models.ResolutionError{URL: postURL, Err: errors.New("url does not name a post")}
	}

	var chain []models.PostReference
	visited := make(map[string]bool)
	url := postURL
	for {
		if len(chain) >= r.maxDepth {
			log.Warn().Str("url", postURL).Int("max_depth", r.maxDepth).Msg("thread depth limit reached, truncating chain")
			break
		}

		records, err := r.tool.Metadata(ctx, url)
		if err != nil {
			return models.PostThread{}, &models.ResolutionError{URL: url, Err: err}
		}
		ref, err := referenceFrom(id, records)
		if err != nil {
			return models.PostThread{}, &models.ResolutionError{URL: url, Err: err}
		}
		chain = append(chain, ref)
		visited[ref.ID] = true

		if ref.ParentID == "" {
			break
		}
		if r.ledger != nil && r.ledger.Contains(ref.ID) {
			log.Debug().Str("id", ref.ID).Msg("reached an already fetched post, stopping traversal")
			break
		}
		if visited[ref.ParentID] {
			log.Warn().Str("id", ref.ID).Str("parent", ref.ParentID).Msg("reply cycle detected, stopping traversal")
			break
		}

		id = ref.ParentID
		url = classifier.StatusURL(id)
	}

	// Collected newest first; callers expect thread order.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return models.PostThread{Posts: chain}, nil
}

// referenceFrom builds the PostReference for id out of one metadata dump.
// The dump may describe more posts than the requested one; those are ignored.
func referenceFrom(id string, records []extractor.Record) (models.PostReference, error) {
	var (
		ref   models.PostReference
		found bool
	)
	for _, rec := range records {
		if rec.TweetID != id {
			continue
		}
		if !found {
			ref = models.PostReference{ID: id, Author: rec.Author, ParentID: rec.ReplyID}
			found = true
		}
		if ref.Author == "" {
			ref.Author = rec.Author
		}
		if ref.ParentID == "" {
			ref.ParentID = rec.ReplyID
		}
		if rec.Type == extractor.TypeMedia && rec.URL != "" {
			ref.MediaURLs = append(ref.MediaURLs, rec.URL)
		}
	}
	if !found {
		return ref, fmt.Errorf("no metadata for post %s in %d records", id, len(records))
	}
	return ref, nil
}
