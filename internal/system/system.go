package system

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// ScriptExtensions are the file extensions of edit scripts.
var ScriptExtensions = []string{".yaml", ".yml"}

// DocumentExtensions are the files a slideshow can be built from.
var DocumentExtensions = []string{".pdf", ".jpg", ".jpeg", ".png", ".webp", ".bmp", ".tif", ".tiff"}

// InitResourceLimits raises the open file limit. Journals and rendered
// snapshots keep many files open during long runs.
func InitResourceLimits(log *zap.Logger) {
	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		log.Warn("could not read the open file limit", zap.Error(err))
		return
	}

	if rLimit.Cur >= 2048 {
		return
	}
	rLimit.Cur = min(2048, rLimit.Max)

	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		log.Warn("could not raise the open file limit", zap.Error(err))
		return
	}
	log.Debug("open file limit raised", zap.Uint64("limit", uint64(rLimit.Cur)))
}

// DefaultParallelism returns the number of physical cores, or the logical
// CPU count when the physical count is unknown.
func DefaultParallelism() int {
	n, err := cpu.Counts(false)
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// Resources describes the host a project runs on.
type Resources struct {
	PhysicalCores int
	LogicalCores  int
	TotalMemory   uint64
	FreeMemory    uint64
}

// HostResources queries the host. Memory fields stay zero when the memory
// statistics are unavailable.
func HostResources() Resources {
	r := Resources{
		PhysicalCores: DefaultParallelism(),
		LogicalCores:  runtime.NumCPU(),
	}
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		r.LogicalCores = n
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		r.TotalMemory = vm.Total
		r.FreeMemory = vm.Available
	}
	return r
}

// FindLatest returns the most recently modified file of dir with one of
// the given extensions.
func FindLatest(dir string, extensions []string) (string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var latestFile string
	var latestTime time.Time

	for _, f := range files {
		if f.IsDir() || !hasExtension(f.Name(), extensions) {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(latestTime) {
			latestTime = info.ModTime()
			latestFile = filepath.Join(dir, f.Name())
		}
	}

	if latestFile == "" {
		return "", fmt.Errorf("no %s files found in %s", strings.Join(extensions, "/"), dir)
	}
	return latestFile, nil
}

// FindLatestScript returns path itself when it is a file, or the newest
// edit script of the directory otherwise.
func FindLatestScript(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !fi.IsDir() {
		return path, nil
	}
	return FindLatest(path, ScriptExtensions)
}

func hasExtension(name string, extensions []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
