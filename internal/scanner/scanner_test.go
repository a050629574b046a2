package scanner

import (
	"context"
	"reflect"
	"testing"

	"github.com/bilicache/bilicache/internal/rish"
)

const testRoot = "/storage/emulated/0/Android/data/tv.danmaku.bili/download"

func TestListUIDs(t *testing.T) {
	ch := rish.NewMockChannel()
	ch.HandleResult("ls '"+testRoot+"'", rish.Result{
		Stdout: "12345678\n\x1b[0;34m98765\x1b[0m\n.nomedia\ntemp\n",
	})

	s := New(ch, testRoot, nil)
	uids, err := s.ListUIDs(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"12345678", "98765"}
	if !reflect.DeepEqual(uids, want) {
		t.Fatalf("expected %v, got %v", want, uids)
	}
}

func TestListFolders(t *testing.T) {
	ch := rish.NewMockChannel()
	ch.HandleResult("ls '"+testRoot+"/12345678'", rish.Result{
		Stdout: "c_111111\r\nc_222222\r\ndanmaku.xml\n",
	})

	s := New(ch, testRoot, nil)
	folders, err := s.ListFolders(context.Background(), "12345678")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"c_111111", "c_222222"}
	if !reflect.DeepEqual(folders, want) {
		t.Fatalf("expected %v, got %v", want, folders)
	}
}

func TestListQualityDirs(t *testing.T) {
	ch := rish.NewMockChannel()
	ch.HandleResult("ls '"+testRoot+"/12345678/c_111111'", rish.Result{
		Stdout: "112\n80\nentry.json\n",
	})

	s := New(ch, testRoot, nil)
	dirs, err := s.ListQualityDirs(context.Background(), "12345678", "c_111111")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"112", "80"}
	if !reflect.DeepEqual(dirs, want) {
		t.Fatalf("expected %v, got %v", want, dirs)
	}
}

func TestListNonZeroExit(t *testing.T) {
	ch := rish.NewMockChannel()
	ch.HandleResult("ls", rish.Result{ExitCode: 1, Stderr: "ls: cannot access"})

	s := New(ch, testRoot, nil)
	if _, err := s.ListUIDs(context.Background()); err == nil {
		t.Fatal("expected error on non-zero exit")
	}
}

func TestFolderSize(t *testing.T) {
	ch := rish.NewMockChannel()
	ch.HandleResult("du -sk '"+testRoot+"/12345678/c_111111'", rish.Result{
		Stdout: "20480\t" + testRoot + "/12345678/c_111111\n",
	})

	s := New(ch, testRoot, nil)
	size, err := s.FolderSize(context.Background(), "12345678", "c_111111")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := int64(20480 * 1024); size != want {
		t.Fatalf("expected %d, got %d", want, size)
	}
}

func TestFolderSizeBadOutput(t *testing.T) {
	ch := rish.NewMockChannel()
	ch.HandleResult("du -sk", rish.Result{Stdout: "du: permission denied\n"})

	s := New(ch, testRoot, nil)
	if _, err := s.FolderSize(context.Background(), "12345678", "c_111111"); err == nil {
		t.Fatal("expected error on unparsable du output")
	}
}

func TestParseLS(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"plain", "a\nb\n", []string{"a", "b"}},
		{"ansi colors", "\x1b[1;36mdir\x1b[0m\nfile\n", []string{"dir", "file"}},
		{"crlf", "a\r\nb\r\n", []string{"a", "b"}},
		{"blank lines", "\n\na\n\n", []string{"a"}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseLS(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
