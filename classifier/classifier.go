// Package classifier maps raw input strings to typed download targets.
// Everything here is pure: no network access and no shared state.
package classifier

import (
	"regexp"
	"strings"
)

// Kind is the variant of a classified URL.
type Kind int

const (
	Unsupported Kind = iota
	PostStatusRef
	PostCollectionRef
	ArtworkRef
	GenericImageHostRef
)

func (k Kind) String() string {
	switch k {
	case PostStatusRef:
		return "post"
	case PostCollectionRef:
		return "collection"
	case ArtworkRef:
		return "artwork"
	case GenericImageHostRef:
		return "image_host"
	default:
		return "unsupported"
	}
}

// Target is a classified URL. URL is the matched, canonical part of the input
// (query strings and trailing text are dropped).
type Target struct {
	Kind   Kind
	URL    string
	PostID string
	Author string
}

// Supported reports whether the target may be resolved or downloaded.
func (t Target) Supported() bool {
	return t.Kind != Unsupported
}

var (
	// /media must be tested before /status so a collection URL is never read as a post.
	collectionPattern = regexp.MustCompile(`^(https?://(?:twitter\.com|x\.com)/([A-Za-z0-9_]+)/media)(?:[/?#]|$)`)
	statusPattern     = regexp.MustCompile(`^https?://(?:twitter\.com|x\.com)/([A-Za-z0-9_]+)/status/(\d+)`)
	artworkPattern    = regexp.MustCompile(`^https?://(?:www\.)?pixiv\.net/(?:en/)?artworks/(\d+)`)
	imageHostPattern  = regexp.MustCompile(`^https?://(?:i\.)?imgur\.com/[A-Za-z0-9/_\-.]+`)

	statusIDPattern  = regexp.MustCompile(`/status/(\d+)`)
	candidatePattern = regexp.MustCompile(`https?://[^\s<>"'` + "`" + `|]+`)
)

// Classify maps input to a Target. Unrecognized input yields Kind Unsupported.
func Classify(input string) Target {
	s := strings.TrimSpace(input)

	if m := collectionPattern.FindStringSubmatch(s); m != nil {
		return Target{Kind: PostCollectionRef, URL: m[1], Author: m[2]}
	}
	if m := statusPattern.FindStringSubmatch(s); m != nil {
		author := m[1]
		if author == "i" {
			author = ""
		}
		return Target{Kind: PostStatusRef, URL: m[0], PostID: m[2], Author: author}
	}
	if m := artworkPattern.FindStringSubmatch(s); m != nil {
		return Target{Kind: ArtworkRef, URL: m[0], PostID: m[1]}
	}
	if m := imageHostPattern.FindString(s); m != "" {
		return Target{Kind: GenericImageHostRef, URL: m}
	}
	return Target{Kind: Unsupported, URL: s}
}

// FindAll extracts every supported URL from free text, in order of appearance and without duplicates.
func FindAll(text string) []Target {
	var targets []Target
	seen := make(map[string]bool)
	for _, candidate := range candidatePattern.FindAllString(text, -1) {
		candidate = strings.TrimRight(candidate, ").,!>]")
		t := Classify(candidate)
		if !t.Supported() || seen[t.URL] {
			continue
		}
		seen[t.URL] = true
		targets = append(targets, t)
	}
	return targets
}

// URLs returns the URL of each target.
func URLs(targets []Target) []string {
	urls := make([]string, 0, len(targets))
	for _, t := range targets {
		urls = append(urls, t.URL)
	}
	return urls
}

// PostIDFromURL returns the numeric post id of a status URL, or "".
func PostIDFromURL(url string) string {
	if m := statusIDPattern.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	return ""
}

// StatusURL builds the author-independent URL of a post. The /i/status form
// works without knowing the author's handle.
func StatusURL(postID string) string {
	return "https://x.com/i/status/" + postID
}
