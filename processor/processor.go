package processor

import (
	"context"
	"errors"
	"strings"

	"github.com/phuslu/log"

	"x-keeper/classifier"
	"x-keeper/models"
)

// Resolver walks a post's reply chain.
type Resolver interface {
	Resolve(ctx context.Context, postURL string) (models.PostThread, error)
}

// Executor materializes media and maintains the ledger.
type Executor interface {
	DownloadAll(ctx context.Context, postURLs []string) models.DownloadResult
	DownloadCollection(ctx context.Context, collectionURL string, exclude []string) models.DownloadResult
	DownloadDirect(ctx context.Context, urls []string) models.DownloadResult
}

// IDSource lists the post ids already fetched.
type IDSource interface {
	IDs() []string
}

// Outcome summarises one submission.
type Outcome struct {
	URLs     []string
	Files    []models.SavedFile
	Rejected []string
	Errors   []models.DownloadError
}

// Err is nil when every URL of the submission was handled.
func (o Outcome) Err() error {
	if len(o.Errors) == 0 {
		return nil
	}
	parts := make([]string, 0, len(o.Errors))
	for _, e := range o.Errors {
		parts = append(parts, e.URL+": "+e.Reason)
	}
	return errors.New(strings.Join(parts, "; "))
}

func (o *Outcome) merge(result models.DownloadResult) {
	o.Files = append(o.Files, result.Saved...)
	o.Rejected = append(o.Rejected, result.Rejected...)
	o.Errors = append(o.Errors, result.Errors...)
}

// Processor routes submitted URLs to the right pipeline.
type Processor struct {
	resolver       Resolver
	executor       Executor
	ids            IDSource
	sameAuthorOnly bool
}

// New creates a processor. With sameAuthorOnly set, only the requesting author's
// posts of a reply chain are downloaded.
func New(resolver Resolver, executor Executor, ids IDSource, sameAuthorOnly bool) *Processor {
	return &Processor{resolver: resolver, executor: executor, ids: ids, sameAuthorOnly: sameAuthorOnly}
}

// Process handles every URL in urls and reports the combined outcome.
func (p *Processor) Process(ctx context.Context, urls []string) Outcome {
	outcome := Outcome{URLs: urls}
	for _, raw := range urls {
		target := classifier.Classify(raw)
		switch target.Kind {
		case classifier.PostStatusRef:
			p.processPost(ctx, target, &outcome)
		case classifier.PostCollectionRef:
			outcome.merge(p.executor.DownloadCollection(ctx, target.URL, p.ids.IDs()))
		case classifier.ArtworkRef, classifier.GenericImageHostRef:
			outcome.merge(p.executor.DownloadDirect(ctx, []string{target.URL}))
		default:
			err := &models.ValidationError{Input: raw, Reason: "unsupported url"}
			outcome.Errors = append(outcome.Errors, models.DownloadError{URL: raw, Reason: err.Error()})
		}
	}

	log.Info().Strs("urls", urls).Int("files", len(outcome.Files)).Int("rejected", len(outcome.Rejected)).
		Int("errors", len(outcome.Errors)).Msg("submission processed")
	return outcome
}

func (p *Processor) processPost(ctx context.Context, target classifier.Target, outcome *Outcome) {
	thread, err := p.resolver.Resolve(ctx, target.URL)
	if err != nil {
		outcome.Errors = append(outcome.Errors, models.DownloadError{URL: target.URL, Reason: err.Error()})
		return
	}

	posts := thread.Posts
	if p.sameAuthorOnly {
		author := target.Author
		if requested, ok := thread.Requested(); ok && requested.Author != "" {
			author = requested.Author
		}
		posts = thread.ByAuthor(author)
	}

	postURLs := make([]string, 0, len(posts))
	for _, post := range posts {
		if post.ID == target.PostID {
			postURLs = append(postURLs, target.URL)
		} else {
			postURLs = append(postURLs, classifier.StatusURL(post.ID))
		}
	}
	outcome.merge(p.executor.DownloadAll(ctx, postURLs))
}
