// Package plan builds dataset-wide inference plans: one run per chunk
// manifest, each with its own output directory and telemetry log.
package plan

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/jdziat/badc/pkg/telemetry"
)

// Plan describes one inference run.
type Plan struct {
	RecordingID  string   `json:"recording_id"`
	ManifestPath string   `json:"manifest_path"`
	OutputDir    string   `json:"output_dir"`
	TelemetryLog string   `json:"telemetry_log"`
	UseHawkEars  bool     `json:"use_hawkears"`
	HawkEarsArgs []string `json:"hawkears_args"`
	MaxGPUs      *int     `json:"max_gpus"`
}

// Options controls manifest discovery and the paths assigned to each plan.
// Relative directories resolve against the dataset root.
type Options struct {
	// ManifestPaths, when set, replaces discovery under ManifestDir.
	ManifestPaths []string
	ManifestDir   string
	// Pattern is a doublestar glob relative to ManifestDir.
	Pattern      string
	OutputDir    string
	TelemetryDir string
	// IncludeExisting keeps recordings whose output directory already exists.
	IncludeExisting bool
	UseHawkEars     bool
	HawkEarsArgs    []string
	MaxGPUs         *int
	// Limit caps the number of plans; zero means no limit.
	Limit int
}

// DefaultOptions returns the dataset layout used by the chunking tools.
func DefaultOptions() Options {
	return Options{
		ManifestDir:  "manifests",
		Pattern:      "**/*.csv",
		OutputDir:    filepath.Join("artifacts", "infer"),
		TelemetryDir: filepath.Join("artifacts", "telemetry"),
		UseHawkEars:  true,
	}
}

// Build returns plans for the manifests of a dataset in path order.
// Missing manifests are skipped.
func Build(datasetRoot string, opts Options) ([]Plan, error) {
	root, err := filepath.Abs(datasetRoot)
	if err != nil {
		return nil, err
	}
	defaults := DefaultOptions()
	if opts.ManifestDir == "" {
		opts.ManifestDir = defaults.ManifestDir
	}
	if opts.Pattern == "" {
		opts.Pattern = defaults.Pattern
	}
	if opts.OutputDir == "" {
		opts.OutputDir = defaults.OutputDir
	}
	if opts.TelemetryDir == "" {
		opts.TelemetryDir = defaults.TelemetryDir
	}

	outputRoot := resolve(root, opts.OutputDir)
	telemetryRoot := resolve(root, opts.TelemetryDir)

	candidates, err := discover(root, opts)
	if err != nil {
		return nil, err
	}

	var plans []Plan
	for _, manifestPath := range candidates {
		if _, err := os.Stat(manifestPath); err != nil {
			continue
		}
		recordingID := stem(manifestPath)
		output := filepath.Join(outputRoot, recordingID)
		if !opts.IncludeExisting {
			if _, err := os.Stat(output); err == nil {
				continue
			}
		}
		plans = append(plans, Plan{
			RecordingID:  recordingID,
			ManifestPath: manifestPath,
			OutputDir:    output,
			TelemetryLog: filepath.Join(telemetryRoot, "infer", recordingID+".jsonl"),
			UseHawkEars:  opts.UseHawkEars,
			HawkEarsArgs: slices.Clone(opts.HawkEarsArgs),
			MaxGPUs:      opts.MaxGPUs,
		})
		if opts.Limit > 0 && len(plans) >= opts.Limit {
			break
		}
	}
	return plans, nil
}

func discover(root string, opts Options) ([]string, error) {
	if opts.ManifestPaths != nil {
		paths := make([]string, 0, len(opts.ManifestPaths))
		for _, p := range opts.ManifestPaths {
			abs, err := filepath.Abs(p)
			if err != nil {
				return nil, err
			}
			paths = append(paths, abs)
		}
		return paths, nil
	}

	manifestRoot := resolve(root, opts.ManifestDir)
	if _, err := os.Stat(manifestRoot); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	matches, err := doublestar.Glob(os.DirFS(manifestRoot), opts.Pattern)
	if err != nil {
		return nil, fmt.Errorf("manifest pattern %q: %w", opts.Pattern, err)
	}
	slices.Sort(matches)
	paths := make([]string, len(matches))
	for i, m := range matches {
		paths[i] = filepath.Join(manifestRoot, filepath.FromSlash(m))
	}
	return paths, nil
}

func resolve(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Args returns the `badc infer run` arguments for p with paths relative to
// datasetRoot. Paths outside the dataset are rejected.
func (p Plan) Args(datasetRoot string) ([]string, error) {
	root, err := filepath.Abs(datasetRoot)
	if err != nil {
		return nil, err
	}
	rel := func(path string) (string, error) {
		r, err := filepath.Rel(root, path)
		if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("plan path %s is outside dataset root %s", path, root)
		}
		return r, nil
	}
	manifest, err := rel(p.ManifestPath)
	if err != nil {
		return nil, err
	}
	output, err := rel(p.OutputDir)
	if err != nil {
		return nil, err
	}
	log, err := rel(p.TelemetryLog)
	if err != nil {
		return nil, err
	}

	args := []string{"infer", "run", manifest, "--output-dir", output, "--telemetry-log", log}
	if p.MaxGPUs != nil {
		args = append(args, "--max-gpus", strconv.Itoa(*p.MaxGPUs))
	}
	if p.UseHawkEars {
		args = append(args, "--use-hawkears")
	}
	for _, a := range p.HawkEarsArgs {
		args = append(args, "--hawkears-arg", a)
	}
	return args, nil
}

// DataladCommand renders a `datalad run` invocation that records p's
// inputs and outputs in the dataset history.
func (p Plan) DataladCommand(datasetRoot string) (string, error) {
	args, err := p.Args(datasetRoot)
	if err != nil {
		return "", err
	}
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = quote(a)
	}
	return fmt.Sprintf(`datalad run -m "Infer %s" --input %s --output %s -- badc %s`,
		p.RecordingID, quote(args[2]), quote(args[4]), strings.Join(quoted, " ")), nil
}

func quote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Save writes plans as a JSON array that LoadManifestPaths can read back.
func Save(path string, plans []Plan) error {
	if plans == nil {
		plans = []Plan{}
	}
	data, err := json.MarshalIndent(plans, "", "  ")
	if err != nil {
		return err
	}
	return telemetry.WriteFileAtomic(path, append(data, '\n'))
}

// LoadManifestPaths reads manifest paths from a plan file. Files ending in
// .json hold an array of objects; anything else is CSV with a header. The
// manifest_path field is preferred over manifest.
func LoadManifestPaths(planPath string) ([]string, error) {
	f, err := os.Open(planPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(planPath), ".json") {
		return parseJSONPlan(f)
	}
	return parseCSVPlan(f)
}

func parseJSONPlan(r io.Reader) ([]string, error) {
	var records []map[string]any
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("invalid plan file: %w", err)
	}
	var paths []string
	for _, rec := range records {
		if p := firstString(rec, "manifest_path", "manifest"); p != "" {
			paths = append(paths, p)
		}
	}
	return paths, nil
}

func firstString(rec map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := rec[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func parseCSVPlan(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("invalid plan file: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}

	var paths []string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid plan file: %w", err)
		}
		for _, key := range []string{"manifest_path", "manifest"} {
			i, ok := columns[key]
			if ok && i < len(row) && strings.TrimSpace(row[i]) != "" {
				paths = append(paths, strings.TrimSpace(row[i]))
				break
			}
		}
	}
	return paths, nil
}
