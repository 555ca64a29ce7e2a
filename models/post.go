package models

// PostReference is one post as reported by the extraction tool's metadata mode.
type PostReference struct {
	ID        string   `json:"id"`
	Author    string   `json:"author"`
	ParentID  string   `json:"parentId,omitempty"` // empty for a thread root
	MediaURLs []string `json:"mediaUrls,omitempty"`
}

// PostThread is an ancestor chain ordered from the oldest ancestor to the requested post.
type PostThread struct {
	Posts []PostReference `json:"posts"`
}

// Len returns the number of posts in the chain.
func (t PostThread) Len() int {
	return len(t.Posts)
}

// Requested returns the post the chain was resolved from.
func (t PostThread) Requested() (PostReference, bool) {
	if len(t.Posts) == 0 {
		return PostReference{}, false
	}
	return t.Posts[len(t.Posts)-1], true
}

// IDs returns the post ids in chain order.
func (t PostThread) IDs() []string {
	ids := make([]string, 0, len(t.Posts))
	for _, p := range t.Posts {
		ids = append(ids, p.ID)
	}
	return ids
}

// ByAuthor returns the posts written by author, keeping chain order.
// An empty author keeps every post.
func (t PostThread) ByAuthor(author string) []PostReference {
	if author == "" {
		return t.Posts
	}
	var out []PostReference
	for _, p := range t.Posts {
		if p.Author == "" || p.Author == author {
			out = append(out, p)
		}
	}
	return out
}

// SavedFile is a media file confirmed on disk after a download.
type SavedFile struct {
	Path      string `json:"path"`
	PostID    string `json:"postId,omitempty"`
	SourceURL string `json:"sourceUrl"`
	SizeBytes int64  `json:"sizeBytes"`
}

// BatchErrorURL marks a DownloadError that covers a whole batch.
const BatchErrorURL = "*"

// DownloadError is one per-URL failure inside a DownloadResult.
type DownloadError struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// DownloadResult is the outcome of one executor invocation. It is never persisted.
type DownloadResult struct {
	Requested []string        `json:"requested"`
	Accepted  []string        `json:"accepted"`
	Rejected  []string        `json:"rejected"`
	Saved     []SavedFile     `json:"saved"`
	Errors    []DownloadError `json:"errors"`
}

// Failed reports whether any URL of the batch failed.
func (r DownloadResult) Failed() bool {
	return len(r.Errors) > 0
}

// AddError records a failure for url.
func (r *DownloadResult) AddError(url string, err error) {
	r.Errors = append(r.Errors, DownloadError{URL: url, Reason: err.Error()})
}
