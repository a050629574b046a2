// Package finder locates the playable media inside an extracted cache
// entry. Entries come in two layouts: DASH (separate video/audio
// streams under a quality directory) and BLV (numbered segments).
package finder

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Kind is the detected media layout.
type Kind string

const (
	KindDASH    Kind = "dash"
	KindMP4     Kind = "mp4"
	KindBLV     Kind = "blv"
	KindUnknown Kind = "unknown"
)

// Media describes what was found under an entry directory.
type Media struct {
	Kind  Kind
	Video string   // DASH/MP4 video stream, empty for BLV
	Audio string   // matching audio stream, may be empty
	BLV   []string // BLV segments in playback order
}

var (
	videoNames = []string{"video.m4s", "video.mp4"}
	audioNames = []string{"audio.m4s", "audio.mp4", "audio.m4a", "audio.mp3"}
	blvName    = regexp.MustCompile(`^(\d+)\.blv$`)
)

type hit struct {
	path  string
	depth int
}

// Find walks dir and picks the media files. BLV segments take
// precedence; otherwise the shallowest video stream wins and its audio
// is looked up in the same directory.
func Find(dir string) (Media, error) {
	var videos, audios []hit
	var blvs []struct {
		seq  int
		path string
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		depth := strings.Count(rel, string(filepath.Separator))
		name := d.Name()
		switch {
		case contains(videoNames, name):
			videos = append(videos, hit{path, depth})
		case contains(audioNames, name):
			audios = append(audios, hit{path, depth})
		default:
			if m := blvName.FindStringSubmatch(name); m != nil {
				seq, _ := strconv.Atoi(m[1])
				blvs = append(blvs, struct {
					seq  int
					path string
				}{seq, path})
			}
		}
		return nil
	})
	if err != nil {
		return Media{}, fmt.Errorf("scan %s: %w", dir, err)
	}

	if len(blvs) > 0 {
		sort.Slice(blvs, func(i, j int) bool { return blvs[i].seq < blvs[j].seq })
		segs := make([]string, len(blvs))
		for i, b := range blvs {
			segs[i] = b.path
		}
		return Media{Kind: KindBLV, BLV: segs}, nil
	}

	if len(videos) == 0 {
		return Media{Kind: KindUnknown}, nil
	}

	sort.SliceStable(videos, func(i, j int) bool { return videos[i].depth < videos[j].depth })
	video := videos[0].path

	// Audio must sit next to the chosen video stream.
	audio := ""
	videoDir := filepath.Dir(video)
	for _, name := range audioNames {
		for _, a := range audios {
			if a.path == filepath.Join(videoDir, name) {
				audio = a.path
				break
			}
		}
		if audio != "" {
			break
		}
	}

	kind := KindMP4
	if strings.HasSuffix(video, ".m4s") {
		kind = KindDASH
	}
	return Media{Kind: kind, Video: video, Audio: audio}, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
