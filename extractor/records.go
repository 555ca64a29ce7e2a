package extractor

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Message types emitted by gallery-dl in JSON dump mode.
const (
	TypeReference = 2 // directory entry: one post's metadata
	TypeMedia     = 3 // one media URL plus the metadata of its post
	TypeQueue     = 6 // child extractor URL (quoted post, collection page)
)

// ErrNoRecords means the tool finished but printed nothing usable.
var ErrNoRecords = errors.New("no metadata records in tool output")

// Record is one metadata entry of a dump.
type Record struct {
	Type     int
	URL      string
	TweetID  string
	Author   string
	ReplyID  string // empty for a thread root
	Metadata map[string]any
}

// ParseRecords decodes dump output. It accepts one JSON array of entries,
// a stream of concatenated entries, or one entry per line with noise between them.
func ParseRecords(output []byte) ([]Record, error) {
	trimmed := bytes.TrimSpace(output)
	if len(trimmed) == 0 {
		return nil, ErrNoRecords
	}

	records, err := decodeStream(trimmed)
	if err != nil {
		records = decodeLines(trimmed)
	}
	if len(records) == 0 {
		if err != nil {
			return nil, fmt.Errorf("failed to parse tool output: %w", err)
		}
		return nil, ErrNoRecords
	}
	return records, nil
}

func decodeStream(data []byte) ([]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var records []Record
	for {
		var value any
		err := dec.Decode(&value)
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, recordsFrom(value)...)
	}
}

func decodeLines(data []byte) []Record {
	var records []Record
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		var value any
		if err := dec.Decode(&value); err != nil {
			continue
		}
		records = append(records, recordsFrom(value)...)
	}
	return records
}

// recordsFrom flattens a decoded top-level value into records.
func recordsFrom(value any) []Record {
	switch v := value.(type) {
	case []any:
		if len(v) == 0 {
			return nil
		}
		if _, nested := v[0].([]any); nested {
			var out []Record
			for _, entry := range v {
				out = append(out, recordsFrom(entry)...)
			}
			return out
		}
		if rec, ok := entryRecord(v); ok {
			return []Record{rec}
		}
	case map[string]any:
		return []Record{metadataRecord(TypeReference, "", v)}
	}
	return nil
}

// entryRecord reads [type, meta] or [type, url, meta].
func entryRecord(entry []any) (Record, bool) {
	if len(entry) < 2 {
		return Record{}, false
	}
	typ, ok := intValue(entry[0])
	if !ok {
		return Record{}, false
	}
	var url string
	meta, ok := entry[len(entry)-1].(map[string]any)
	if !ok {
		return Record{}, false
	}
	if len(entry) >= 3 {
		url, _ = entry[1].(string)
	}
	return metadataRecord(typ, url, meta), true
}

func metadataRecord(typ int, url string, meta map[string]any) Record {
	rec := Record{Type: typ, URL: url, Metadata: meta}
	rec.TweetID = stringValue(meta["tweet_id"])
	if author, ok := meta["author"].(map[string]any); ok {
		rec.Author = stringValue(author["name"])
	}
	if reply := stringValue(meta["reply_id"]); reply != "" && reply != "0" {
		rec.ReplyID = reply
	}
	return rec
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case float64:
		return int(n), true
	}
	return 0, false
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case json.Number:
		return s.String()
	case float64:
		return fmt.Sprintf("%.0f", s)
	}
	return ""
}
