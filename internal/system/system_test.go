package system

import (
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func touch(t *testing.T, path string, mod time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte("steps: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatal(err)
	}
}

func TestFindLatestScript(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	touch(t, filepath.Join(dir, "old.yaml"), now.Add(-time.Hour))
	touch(t, filepath.Join(dir, "new.yml"), now)
	touch(t, filepath.Join(dir, "newer.txt"), now.Add(time.Hour))

	got, err := FindLatestScript(dir)
	if err != nil {
		t.Fatalf("FindLatestScript: %v", err)
	}
	if filepath.Base(got) != "new.yml" {
		t.Errorf("got %s, want new.yml", got)
	}

	file := filepath.Join(dir, "old.yaml")
	got, err = FindLatestScript(file)
	if err != nil || got != file {
		t.Errorf("a file path should be returned as is, got %q, %v", got, err)
	}
}

func TestFindLatestEmptyDir(t *testing.T) {
	if _, err := FindLatest(t.TempDir(), DocumentExtensions); err == nil {
		t.Fatal("expected an error for a directory without documents")
	}
}

func TestDefaultParallelism(t *testing.T) {
	if n := DefaultParallelism(); n < 1 {
		t.Fatalf("parallelism must be positive, got %d", n)
	}
	r := HostResources()
	if r.LogicalCores < 1 {
		t.Errorf("logical cores must be positive, got %d", r.LogicalCores)
	}
}

func TestInitResourceLimits(t *testing.T) {
	InitResourceLimits(zaptest.NewLogger(t))
}

func TestImagePoolClearsBuffers(t *testing.T) {
	rect := image.Rect(0, 0, 4, 4)
	img := GetImage(rect)
	img.Pix[0] = 255
	PutImage(img)

	again := GetImage(rect)
	if again.Pix[0] != 0 {
		t.Errorf("reused buffer was not cleared")
	}
	if again.Rect != rect {
		t.Errorf("bounds: got %v, want %v", again.Rect, rect)
	}

	PutImage(image.NewRGBA(image.Rect(0, 0, 1, 1)))
	PutImage(nil)
}
