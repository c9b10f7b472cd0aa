package migrate

import (
	"bufio"
	"bytes"
	"encoding/json"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	b, err := os.ReadFile(path) //nolint:gosec // G304: test file
	if err != nil {
		t.Fatal(err)
	}
	var out []map[string]any
	s := bufio.NewScanner(bytes.NewReader(b))
	for s.Scan() {
		var m map[string]any
		if err := json.Unmarshal(s.Bytes(), &m); err != nil {
			t.Fatalf("invalid line %q: %v", s.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

func imagePath(m map[string]any) string {
	img, _ := m["image"].(map[string]any)
	p, _ := img["path"].(string)
	return p
}

func TestRebase(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"/home/u/work/imgs_EN/hummus_images/1.jpg", "imgs_EN/hummus_images/1.jpg", true},
		{`C:\data\imgs_EN\a\b.png`, "imgs_EN/a/b.png", true},
		{"imgs_EN/x.jpg", "imgs_EN/x.jpg", true},
		{"/a/imgs_EN_old/imgs_EN/x.jpg", "imgs_EN/x.jpg", true},
		{"/a/b/x.jpg", "", false},
		{"/a/imgs_EN", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := rebase(tt.in, "imgs_EN")
			if got != tt.want || ok != tt.ok {
				t.Errorf("rebase(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestRebasePaths(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.jsonl")
	out := filepath.Join(dir, "out", "rebased.jsonl")
	writeFile(t, in, `{"id":7,"image":{"path":"/mnt/x/imgs_EN/a/1.jpg","w":3}}
not json
{"image":{"path":"other/2.jpg"}}
{"text":"no image"}
`)
	st, err := RebasePaths(t.Context(), in, out, "imgs_EN")
	if err != nil {
		t.Fatal(err)
	}
	want := RebaseStats{Read: 3, Skipped: 1, Rebased: 1, Unchanged: 2}
	if st != want {
		t.Errorf("stats = %+v, want %+v", st, want)
	}
	lines := readLines(t, out)
	if len(lines) != 3 {
		t.Fatalf("got %d lines", len(lines))
	}
	if got := imagePath(lines[0]); got != "imgs_EN/a/1.jpg" {
		t.Errorf("path = %q", got)
	}
	if _, ok := lines[0]["id"]; ok {
		t.Error("id was written")
	}
	if got := imagePath(lines[1]); got != "other/2.jpg" {
		t.Errorf("path = %q", got)
	}
	if _, err := RebasePaths(t.Context(), in, out, ""); err == nil {
		t.Error("empty marker accepted")
	}
	if _, err := RebasePaths(t.Context(), filepath.Join(dir, "missing.jsonl"), out, "imgs_EN"); err == nil {
		t.Error("missing input accepted")
	}
}

// sampleInput returns n records; every third one has the wanted optimal path.
func sampleInput(n int) string {
	var b strings.Builder
	for i := range n {
		path := "serial"
		if i%3 == 0 {
			path = "parallel"
		}
		m := map[string]any{
			"n":          i,
			"image":      map[string]any{"path": "imgs/" + string(rune('a'+i%26)) + ".jpg"},
			"extra_info": map[string]any{"optimal_path": path},
		}
		line, _ := json.Marshal(m)
		b.Write(line)
		b.WriteByte('\n')
	}
	return b.String()
}

func numbers(t *testing.T, lines []map[string]any) []int {
	t.Helper()
	out := make([]int, 0, len(lines))
	for _, l := range lines {
		f, ok := l["n"].(float64)
		if !ok {
			t.Fatalf("missing n in %v", l)
		}
		out = append(out, int(f))
	}
	return out
}

func TestSample(t *testing.T) {
	tests := []struct {
		name        string
		records     int
		count       int
		wantMatched int
		wantLen     int
		// wantAllMatched means only parallel records are selected.
		wantAllMatched bool
	}{
		{"more matches than count", 30, 5, 10, 5, true},
		{"exact", 30, 10, 10, 10, true},
		{"filled from others", 30, 15, 10, 15, false},
		{"fewer records than count", 6, 50, 2, 6, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			in := filepath.Join(dir, "in.jsonl")
			out := filepath.Join(dir, "out.jsonl")
			writeFile(t, in, sampleInput(tt.records))
			st, err := Sample(t.Context(), in, out, SampleOptions{
				Count:     tt.count,
				PathValue: "parallel",
				Rand:      rand.New(rand.NewPCG(3, 4)), //nolint:gosec // G404: deterministic tests
			})
			if err != nil {
				t.Fatal(err)
			}
			if st.Read != tt.records || st.Matched != tt.wantMatched || st.Selected != tt.wantLen {
				t.Errorf("stats = %+v", st)
			}
			n := numbers(t, readLines(t, out))
			if len(n) != tt.wantLen {
				t.Fatalf("got %d records, want %d", len(n), tt.wantLen)
			}
			parallel := 0
			for i, v := range n {
				if i > 0 && n[i-1] >= v {
					t.Errorf("records out of input order: %v", n)
				}
				if v%3 == 0 {
					parallel++
				}
			}
			if tt.wantAllMatched && parallel != len(n) {
				t.Errorf("selected non matching records: %v", n)
			}
			if !tt.wantAllMatched && parallel != tt.wantMatched {
				t.Errorf("got %d matching records, want all %d", parallel, tt.wantMatched)
			}
		})
	}
}

func TestSampleEmptyPathValue(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.jsonl")
	out := filepath.Join(dir, "out.jsonl")
	writeFile(t, in, `{"n":0,"extra_info":{"optimal_path":""}}
{"n":1}
{"n":2,"extra_info":{"claim":"c"}}
{"n":3,"extra_info":{"optimal_path":""}}
{"n":4,"extra_info":{"optimal_path":null}}
`)
	st, err := Sample(t.Context(), in, out, SampleOptions{Count: 2, PathValue: ""})
	if err != nil {
		t.Fatal(err)
	}
	if st.Matched != 2 {
		t.Errorf("matched = %d, want 2: records without optimal_path are not matches", st.Matched)
	}
	n := numbers(t, readLines(t, out))
	if len(n) != 2 || n[0] != 0 || n[1] != 3 {
		t.Errorf("selected %v, want [0 3]", n)
	}
}

func TestSampleRejectsCount(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.jsonl")
	writeFile(t, in, sampleInput(3))
	if _, err := Sample(t.Context(), in, filepath.Join(dir, "out.jsonl"), SampleOptions{}); err == nil {
		t.Error("zero count accepted")
	}
}

func TestSampleCopiesImages(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	in := filepath.Join(dir, "in.jsonl")
	writeFile(t, in, `{"image":{"path":"imgs/a.jpg"},"extra_info":{"optimal_path":"parallel"}}
{"image":{"path":"imgs/missing.jpg"},"extra_info":{"optimal_path":"parallel"}}
{"image":{"path":"../escape.jpg"},"extra_info":{"optimal_path":"parallel"}}
{"extra_info":{"optimal_path":"parallel"}}
`)
	img := filepath.Join(src, "imgs", "a.jpg")
	writeFile(t, img, "jpeg")
	mtime := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := os.Chtimes(img, mtime, mtime); err != nil {
		t.Fatal(err)
	}
	st, err := Sample(t.Context(), in, filepath.Join(dir, "out.jsonl"), SampleOptions{
		Count:        10,
		PathValue:    "parallel",
		ImagesDir:    src,
		OutImagesDir: dst,
	})
	if err != nil {
		t.Fatal(err)
	}
	if st.Copied != 1 || st.MissingImages != 1 || st.NoImage != 2 {
		t.Errorf("stats = %+v", st)
	}
	copied := filepath.Join(dst, "imgs", "a.jpg")
	b, err := os.ReadFile(copied) //nolint:gosec // G304: test file
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "jpeg" {
		t.Errorf("content = %q", b)
	}
	fi, err := os.Stat(copied)
	if err != nil {
		t.Fatal(err)
	}
	if !fi.ModTime().Equal(mtime) {
		t.Errorf("mtime = %v, want %v", fi.ModTime(), mtime)
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.jpg")); err == nil {
		t.Error("image written outside the output directory")
	}
}
