// Package pipeline drives a run: it discovers the files under a source
// directory, instruments every class file with one pass and mirrors the
// result into an output directory.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	ignore "github.com/sabhiram/go-gitignore"
	"github.com/tliron/commonlog"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"github.com/skdltmxn/classpatch/classfile"
	"github.com/skdltmxn/classpatch/hierarchy"
	"github.com/skdltmxn/classpatch/instrument"
	"github.com/skdltmxn/classpatch/internal/config"
)

var log = commonlog.GetLogger("classpatch.pipeline")

// Action is what the driver did with a file.
type Action uint8

const (
	// Copied files are not class files and are copied verbatim.
	Copied Action = iota
	// Excluded files match an exclude pattern and are copied verbatim.
	Excluded
	// Passthrough files are interfaces, annotations or module descriptors,
	// copied byte for byte.
	Passthrough
	// Instrumented files were rewritten by the pass.
	Instrumented
)

var actionNames = [...]string{
	Copied:       "copied",
	Excluded:     "excluded",
	Passthrough:  "passthrough",
	Instrumented: "instrumented",
}

func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return fmt.Sprintf("Action(%d)", uint8(a))
}

// Report summarizes a successful run.
type Report struct {
	Pass    instrument.Kind
	Counts  [len(actionNames)]int
	Sites   int
	Entries []Entry
	Elapsed time.Duration
}

// Count returns the number of files that got action a.
func (r *Report) Count(a Action) int {
	if int(a) >= len(r.Counts) {
		return 0
	}
	return r.Counts[a]
}

// Total returns the number of files processed.
func (r *Report) Total() int {
	n := 0
	for _, c := range r.Counts {
		n += c
	}
	return n
}

// Driver runs the pipeline with one configuration. It holds no per-run
// state and may be reused.
type Driver struct {
	cfg     config.Config
	builder *instrument.Builder
	exclude *ignore.GitIgnore
}

// New validates cfg and returns a Driver.
func New(cfg config.Config) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	builder, err := instrument.NewBuilder(cfg.Pass, cfg.Options())
	if err != nil {
		return nil, err
	}
	return &Driver{cfg: cfg, builder: builder, exclude: compileExclude(cfg.Exclude)}, nil
}

// Run instruments src into out. out is emptied first. The first failing
// file aborts the run and cancels the files not yet started.
func (d *Driver) Run(ctx context.Context, src, out string) (*Report, error) {
	start := time.Now()
	src, out, err := prepare(src, out)
	if err != nil {
		return nil, err
	}

	files, err := Discover(src)
	if err != nil {
		return nil, err
	}
	log.Infof("%s: %d files under %s", d.cfg.Pass, len(files), src)

	if err := EmptyDir(out); err != nil {
		return nil, err
	}

	entries := make([]Entry, len(files))
	actions := make([]Action, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)
	for i, f := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			a, e, err := d.process(f, filepath.Join(out, filepath.FromSlash(f.Rel)))
			if err != nil {
				return err
			}
			actions[i], entries[i] = a, e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Errorf("%s: run aborted: %s", d.cfg.Pass, err)
		return nil, err
	}

	report := &Report{Pass: d.cfg.Pass, Entries: entries}
	for i, a := range actions {
		report.Counts[a]++
		report.Sites += entries[i].Sites
	}

	if d.cfg.Manifest != "" {
		m := &Manifest{
			Version:  ManifestVersion,
			Pass:     d.cfg.Pass.String(),
			Contract: instrument.ContractVersion,
			Entries:  entries,
		}
		if err := WriteManifest(d.cfg.Manifest, m); err != nil {
			return nil, err
		}
	}

	report.Elapsed = time.Since(start)
	log.Infof("%s: %d instrumented, %d sites, %d copied in %s",
		d.cfg.Pass, report.Count(Instrumented), report.Sites, report.Total()-report.Count(Instrumented), report.Elapsed)
	return report, nil
}

func prepare(src, out string) (string, string, error) {
	src, err := filepath.Abs(src)
	if err != nil {
		return "", "", usage(err, "cannot resolve source")
	}
	out, err = filepath.Abs(out)
	if err != nil {
		return "", "", usage(err, "cannot resolve output")
	}
	info, err := os.Stat(src)
	if err != nil {
		return "", "", usage(err, "cannot read source %s", src)
	}
	if !info.IsDir() {
		return "", "", usage(ErrNotDirectory, "%s", src)
	}
	if within(src, out) || within(out, src) {
		return "", "", usage(ErrOverlap, "%s and %s", src, out)
	}
	return src, out, nil
}

// within reports whether path is dir or lies below it.
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func (d *Driver) process(f File, dst string) (Action, Entry, error) {
	entry := Entry{Path: f.Rel}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return 0, entry, fmt.Errorf("pipeline: failed to read %s: %w", f.Rel, err)
	}
	entry.InputHash = xxh3.Hash(data)

	action, output, sites, err := d.transform(f, data)
	if err != nil {
		return 0, entry, fmt.Errorf("pipeline: %s: %w", f.Rel, err)
	}
	if err := writeFile(dst, output); err != nil {
		return 0, entry, err
	}

	entry.Action = action.String()
	entry.OutputHash = xxh3.Hash(output)
	entry.Sites = sites
	log.Debugf("%s: %s", f.Rel, action)
	return action, entry, nil
}

func (d *Driver) transform(f File, data []byte) (Action, []byte, int, error) {
	if d.exclude != nil && d.exclude.MatchesPath(f.Rel) {
		return Excluded, data, 0, nil
	}
	if !f.IsClass() {
		return Copied, data, 0, nil
	}

	cf, err := classfile.Parse(data)
	if err != nil {
		return 0, nil, 0, err
	}
	if cf.IsInterface() || cf.IsModule() {
		return Passthrough, data, 0, nil
	}

	baseDir, err := hierarchy.BaseDir(f.Path, cf.Name)
	var chain hierarchy.Chain
	if d.builder.ProcessParents() {
		if err != nil {
			return 0, nil, 0, err
		}
		if chain, err = hierarchy.Resolve(cf, baseDir); err != nil {
			return 0, nil, 0, err
		}
	} else if err != nil {
		// Frames can still be computed from the platform table.
		baseDir = ""
	}

	v := d.builder.Build(cf, chain)
	if err := v.Run(); err != nil {
		return 0, nil, 0, err
	}
	if len(cf.DroppedAttributes) > 0 {
		log.Debugf("%s: dropped code attributes %s", f.Rel, strings.Join(cf.DroppedAttributes, ", "))
	}
	idx := hierarchy.NewIndex(baseDir, cf, chain)
	out, err := classfile.Encode(cf, idx)
	if err == nil {
		err = idx.Err()
	}
	if err != nil {
		return 0, nil, 0, err
	}
	return Instrumented, out, v.Sites(), nil
}
