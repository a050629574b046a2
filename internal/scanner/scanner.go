// Package scanner enumerates the Bilibili download tree on the device
// with ls over the exec channel.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bilicache/bilicache/internal/rish"
)

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// Scanner lists UIDs, cache folders and quality directories under the
// download root.
type Scanner struct {
	ch      rish.Channel
	root    string
	timeout time.Duration
	log     *slog.Logger
}

// New returns a scanner over the channel rooted at the device download
// directory.
func New(ch rish.Channel, root string, log *slog.Logger) *Scanner {
	if log == nil {
		log = slog.Default()
	}
	return &Scanner{ch: ch, root: root, timeout: 15 * time.Second, log: log}
}

// ListUIDs returns the numeric account folders under the root.
func (s *Scanner) ListUIDs(ctx context.Context) ([]string, error) {
	names, err := s.list(ctx, s.root)
	if err != nil {
		return nil, err
	}
	return filter(names, isDigits), nil
}

// ListFolders returns the c_* item folders under one UID.
func (s *Scanner) ListFolders(ctx context.Context, uid string) ([]string, error) {
	names, err := s.list(ctx, s.root+"/"+uid)
	if err != nil {
		return nil, err
	}
	return filter(names, func(n string) bool { return strings.HasPrefix(n, "c_") }), nil
}

// ListQualityDirs returns the numeric quality directories inside one
// item folder.
func (s *Scanner) ListQualityDirs(ctx context.Context, uid, folder string) ([]string, error) {
	names, err := s.list(ctx, s.root+"/"+uid+"/"+folder)
	if err != nil {
		return nil, err
	}
	return filter(names, isDigits), nil
}

// FolderSize reports the on-device size of one item folder in bytes,
// measured with du -sk.
func (s *Scanner) FolderSize(ctx context.Context, uid, folder string) (int64, error) {
	dir := s.root + "/" + uid + "/" + folder
	res, err := s.ch.Exec(ctx, fmt.Sprintf("du -sk '%s'", dir), s.timeout)
	if err != nil {
		return 0, fmt.Errorf("size of %s: %w", dir, err)
	}
	if res.ExitCode != 0 {
		return 0, fmt.Errorf("size of %s: exit status %d", dir, res.ExitCode)
	}
	fields := strings.Fields(strings.TrimSpace(res.Stdout))
	if len(fields) == 0 {
		return 0, fmt.Errorf("size of %s: empty du output", dir)
	}
	kb, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("size of %s: parse %q: %w", dir, fields[0], err)
	}
	return kb * 1024, nil
}

func (s *Scanner) list(ctx context.Context, dir string) ([]string, error) {
	res, err := s.ch.Exec(ctx, fmt.Sprintf("ls '%s'", dir), s.timeout)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("list %s: exit status %d", dir, res.ExitCode)
	}
	return parseLS(res.Stdout), nil
}

// parseLS splits ls output into clean names: ANSI color escapes and
// carriage returns stripped, blank lines dropped.
func parseLS(out string) []string {
	var names []string
	for _, line := range strings.Split(out, "\n") {
		name := strings.TrimSpace(strings.ReplaceAll(ansiEscape.ReplaceAllString(line, ""), "\r", ""))
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

func filter(names []string, keep func(string) bool) []string {
	var out []string
	for _, n := range names {
		if keep(n) {
			out = append(out, n)
		}
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
