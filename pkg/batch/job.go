// Package batch runs the per-image crop pipeline over a set of source images
// with a bounded worker pool.
package batch

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/menta2k/facecrop/pkg/detection"
	"github.com/menta2k/facecrop/pkg/geometry"
	"github.com/menta2k/facecrop/pkg/processing"
	"github.com/menta2k/facecrop/pkg/types"
)

// Job is the resolved, immutable description of one run.
type Job struct {
	// Sources are the images to crop, in order.
	Sources []string
	// OutputDir receives one output per source.
	OutputDir string
	// OutputFile overrides the output path in single-file mode.
	OutputFile string

	Detector detection.Detector
	Ratio    types.AspectRatio
	Policy   geometry.Policy

	// Workers bounds the number of images processed at once.
	// Zero means runtime.NumCPU().
	Workers int

	// Format forces the output encoding. Empty keeps the source extension.
	Format   string
	Quality  int
	Lossless bool

	// Debug writes <base>_debug.png next to each output.
	Debug bool
}

// Validate checks that the job can be run.
func (j Job) Validate() error {
	if len(j.Sources) == 0 {
		return fmt.Errorf("%w: no input images", types.ErrConfiguration)
	}
	if j.OutputDir == "" && j.OutputFile == "" {
		return fmt.Errorf("%w: no output location", types.ErrConfiguration)
	}
	if j.OutputFile != "" && len(j.Sources) != 1 {
		return fmt.Errorf("%w: an output file needs exactly one input", types.ErrConfiguration)
	}
	if j.Detector == nil {
		return fmt.Errorf("%w: no face detector", types.ErrConfiguration)
	}
	if !j.Ratio.Valid() {
		return fmt.Errorf("%w: invalid aspect ratio %s", types.ErrConfiguration, j.Ratio)
	}
	if j.Format != "" {
		if _, err := processing.NormalizeFormat(j.Format); err != nil {
			return fmt.Errorf("%w: %v", types.ErrConfiguration, err)
		}
	}
	if j.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative", types.ErrConfiguration)
	}
	return nil
}

func (j Job) workers() int {
	if j.Workers > 0 {
		return j.Workers
	}
	return runtime.NumCPU()
}

// OutputPath returns where the crop of the index-th source is written and
// the format to encode it in.
func (j Job) OutputPath(index int, source string) (string, string) {
	format := ""
	if j.Format != "" {
		format, _ = processing.NormalizeFormat(j.Format)
	}

	if j.OutputFile != "" {
		if format == "" {
			format = processing.FormatFromPath(j.OutputFile)
		}
		return j.OutputFile, format
	}

	name := OutputName(index, source, format)
	if format == "" {
		format = processing.FormatFromPath(name)
	}
	return filepath.Join(j.OutputDir, name), format
}

// OutputName derives the output file name from the source base name. When
// no base name can be derived the sequence index is used instead.
func OutputName(index int, source, format string) string {
	base := filepath.Base(source)
	if base == "." || base == string(filepath.Separator) || strings.TrimSuffix(base, filepath.Ext(base)) == "" {
		ext := "png"
		if format != "" {
			ext = format
		}
		return fmt.Sprintf("%05d.%s", index, ext)
	}
	if format != "" {
		return strings.TrimSuffix(base, filepath.Ext(base)) + "." + format
	}
	return base
}

// Target is where the crop of one source is written.
type Target struct {
	Output string
	Format string
	// Debug is the overlay path, empty unless the job writes overlays.
	Debug string
	// Renamed is set when the default name was taken by an earlier source.
	Renamed bool
}

// Targets resolves a distinct destination for every source, in source
// order. Names are compared case-insensitively, overlays included. A source
// whose default name is taken keeps its own extension in the name
// (shot.png.webp), and failing that is named by its sequence index.
func (j Job) Targets() []Target {
	targets := make([]Target, len(j.Sources))
	taken := make(map[string]bool)
	key := func(path string) string { return strings.ToLower(filepath.Clean(path)) }
	free := func(output string) bool {
		if taken[key(output)] {
			return false
		}
		return !j.Debug || !taken[key(DebugPath(output))]
	}

	for i, src := range j.Sources {
		output, format := j.OutputPath(i, src)
		t := Target{Output: output, Format: format}

		if j.OutputFile == "" && !free(output) {
			t.Renamed = true
			t.Output = ""
			for _, name := range []string{
				filepath.Base(src) + "." + format,
				fmt.Sprintf("%05d.%s", i, format),
			} {
				if candidate := filepath.Join(j.OutputDir, name); free(candidate) {
					t.Output = candidate
					break
				}
			}
			for n := 1; t.Output == ""; n++ {
				if candidate := filepath.Join(j.OutputDir, fmt.Sprintf("%05d-%d.%s", i, n, format)); free(candidate) {
					t.Output = candidate
				}
			}
		}

		taken[key(t.Output)] = true
		if j.Debug {
			t.Debug = DebugPath(t.Output)
			taken[key(t.Debug)] = true
		}
		targets[i] = t
	}
	return targets
}

// DebugPath returns the overlay path for an output file.
func DebugPath(output string) string {
	return strings.TrimSuffix(output, filepath.Ext(output)) + "_debug.png"
}
