// Package entry reads and interprets the entry.json metadata that the
// Bilibili client writes into each cache folder.
package entry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bilicache/bilicache/internal/rish"
)

// Parse failures are classified so a batch run can report why items
// were skipped.
var (
	ErrMissing     = errors.New("entry.json missing")
	ErrEmpty       = errors.New("entry.json empty")
	ErrInvalidJSON = errors.New("entry.json is not valid JSON")
)

// Entry is the subset of entry.json the pipeline uses.
type Entry struct {
	Title      string   `json:"title"`
	TypeTag    string   `json:"type_tag"`
	IndexTitle string   `json:"index_title"`
	PageData   PageData `json:"page_data"`
	Owner      Owner    `json:"owner_name,omitempty"`
	Downloaded bool     `json:"is_completed"`
}

// PageData carries the per-part title of a multi-part video.
type PageData struct {
	Part string `json:"part"`
}

// Owner is kept as a raw value because the client has shipped it both
// as a string and as an object.
type Owner struct {
	Name string
}

func (o *Owner) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		o.Name = s
		return nil
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	o.Name = obj.Name
	return nil
}

// Stats counts read failures by class.
type Stats struct {
	Missing     int
	Empty       int
	InvalidJSON int
	Other       int
}

func (s Stats) Total() int { return s.Missing + s.Empty + s.InvalidJSON + s.Other }

// Reader fetches entry.json over the exec channel and keeps failure
// counters across a batch.
type Reader struct {
	ch      rish.Channel
	root    string
	timeout time.Duration
	log     *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// NewReader returns a reader rooted at the device download directory.
func NewReader(ch rish.Channel, root string, log *slog.Logger) *Reader {
	if log == nil {
		log = slog.Default()
	}
	return &Reader{ch: ch, root: root, timeout: 15 * time.Second, log: log}
}

// Read fetches and parses entry.json for one item. Failures return a
// classified error and bump the matching counter.
func (r *Reader) Read(ctx context.Context, uid, folder string) (*Entry, error) {
	path := fmt.Sprintf("%s/%s/%s/entry.json", r.root, uid, folder)
	res, err := r.ch.Exec(ctx, fmt.Sprintf("cat '%s'", path), r.timeout)
	if err != nil {
		r.count(func(s *Stats) { s.Other++ })
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if res.ExitCode != 0 {
		if strings.Contains(strings.ToLower(res.Stderr), "no such file") {
			r.count(func(s *Stats) { s.Missing++ })
			return nil, fmt.Errorf("%s/%s: %w", uid, folder, ErrMissing)
		}
		r.count(func(s *Stats) { s.Other++ })
		return nil, fmt.Errorf("read %s: exit status %d: %s", path, res.ExitCode, res.Stderr)
	}

	e, err := Parse([]byte(res.Stdout))
	if err != nil {
		switch {
		case errors.Is(err, ErrEmpty):
			r.count(func(s *Stats) { s.Empty++ })
		case errors.Is(err, ErrInvalidJSON):
			r.count(func(s *Stats) { s.InvalidJSON++ })
		default:
			r.count(func(s *Stats) { s.Other++ })
		}
		return nil, fmt.Errorf("%s/%s: %w", uid, folder, err)
	}
	if e.Title == "" || e.TypeTag == "" {
		r.log.Warn("entry.json missing expected fields", "uid", uid, "folder", folder)
	}
	return e, nil
}

// Parse interprets raw entry.json bytes.
func Parse(raw []byte) (*Entry, error) {
	body := strings.TrimSpace(string(raw))
	if body == "" {
		return nil, ErrEmpty
	}
	if !strings.HasPrefix(body, "{") {
		return nil, ErrInvalidJSON
	}
	var e Entry
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return &e, nil
}

// ReadLocal parses entry.json from an extracted cache folder on disk.
func ReadLocal(dir string) (*Entry, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "entry.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrMissing
		}
		return nil, err
	}
	return Parse(raw)
}

// Stats returns a copy of the failure counters.
func (r *Reader) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Reader) count(f func(*Stats)) {
	r.mu.Lock()
	f(&r.stats)
	r.mu.Unlock()
}

// FullTitle assembles the display title: "title - part" when a per-part
// title exists and differs from the main title.
func (e *Entry) FullTitle() string {
	title := e.Title
	if title == "" {
		title = "untitled"
	}
	part := e.PageData.Part
	if part == "" {
		part = e.IndexTitle
	}
	if part != "" && part != title {
		return title + " - " + part
	}
	return title
}

// MaxFilenameBytes leaves headroom under the common 255-byte directory
// entry limit for extensions and numbering suffixes.
const MaxFilenameBytes = 180

// CleanFilename replaces characters that are illegal in file names and
// truncates to MaxFilenameBytes without splitting a UTF-8 rune. An
// empty result becomes "untitled".
func CleanFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch r {
		case '\\', '/', ':', '*', '?', '"', '<', '>', '|':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	cleaned := strings.TrimSpace(b.String())
	if cleaned == "" {
		return "untitled"
	}
	return truncateBytes(cleaned, MaxFilenameBytes)
}

// truncateBytes cuts s to at most maxBytes, backing up to the previous
// rune boundary.
func truncateBytes(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// QualityPriority lists quality directory names from best to worst.
var QualityPriority = []string{"112", "80", "64", "32", "16"}

// SelectBestQuality picks the highest-priority quality present in
// available. Empty string means none matched.
func SelectBestQuality(available []string) string {
	for _, q := range QualityPriority {
		for _, a := range available {
			if a == q {
				return q
			}
		}
	}
	return ""
}
