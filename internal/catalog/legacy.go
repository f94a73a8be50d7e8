package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// legacyManifest is the monolithic v1 document: one file listing every topic
// and book, folder paths under folder_path and Unix seconds as floats.
type legacyManifest struct {
	SchemaVersion  string          `json:"schema_version"`
	LibraryPath    string          `json:"library_path"`
	EmbeddingModel string          `json:"embedding_model"`
	ChunkSettings  *legacyChunking `json:"chunk_settings"`
	Topics         []legacyTopic   `json:"topics"`
}

type legacyChunking struct {
	Size     int `json:"size"`
	Overlap  int `json:"overlap"`
	MinWords int `json:"min_words"`
}

type legacyTopic struct {
	ID            string       `json:"id"`
	Label         string       `json:"label"`
	Description   string       `json:"description"`
	Tags          []string     `json:"tags"`
	FolderPath    string       `json:"folder_path"`
	Path          string       `json:"path"`
	ContentHash   string       `json:"content_hash"`
	LastIndexedAt unixTime     `json:"last_indexed_at"`
	Books         []legacyBook `json:"books"`
}

type legacyBook struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Author        string     `json:"author"`
	Year          legacyYear `json:"year"`
	Tags          []string   `json:"tags"`
	Filename      string     `json:"filename"`
	LastModified  unixTime   `json:"last_modified"`
	LastIndexedAt unixTime   `json:"last_indexed_at"`
}

// isLegacy reports whether a decoded document predates schema 2.
func (m *legacyManifest) isLegacy() bool {
	v := strings.TrimSpace(m.SchemaVersion)
	return v == "" || v == "1" || strings.HasPrefix(v, "1.")
}

// unixTime accepts float or integer Unix seconds, an RFC3339 string or null.
type unixTime struct {
	t *time.Time
}

func (u *unixTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) || len(data) == 0 {
		u.t = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			secs, ferr := strconv.ParseFloat(s, 64)
			if ferr != nil {
				return fmt.Errorf("invalid timestamp %q", s)
			}
			t = fromUnixSeconds(secs)
		}
		t = t.UTC()
		u.t = &t
		return nil
	}
	secs, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s", data)
	}
	t := fromUnixSeconds(secs)
	u.t = &t
	return nil
}

func fromUnixSeconds(secs float64) time.Time {
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}

// legacyYear accepts a number, a string holding a year, or null.
type legacyYear struct {
	year *int
}

func (y *legacyYear) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) || len(data) == 0 {
		return nil
	}
	s := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	s = strings.TrimSpace(s)
	if len(s) >= 4 {
		if n, err := strconv.Atoi(s[:4]); err == nil {
			y.year = &n
		}
	}
	return nil
}
