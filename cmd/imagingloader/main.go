package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"imagingloader/internal/models"
	"imagingloader/pkg/caiman"
	"imagingloader/pkg/config"
	"imagingloader/pkg/logger"
	"imagingloader/pkg/memo"
	"imagingloader/pkg/paths"
	"imagingloader/pkg/prairieview"
	"imagingloader/pkg/visualization"
)

// SummaryFile is written into the output directory
const SummaryFile = "summary.yaml"

func main() {
	// a missing .env is fine
	_ = godotenv.Load()

	inputDir := flag.String("input", "", "Directory containing CaImAn plane results")
	configPath := flag.String("config", "imagingloader.yaml", "Configuration file")
	outputDir := flag.String("output", "", "Directory for the summary and its cache entry (overrides config)")
	previews := flag.Bool("previews", false, "Write JPEG previews of the summary images")
	verbose := flag.Bool("v", false, "Verbose logging")
	mkconf := flag.Bool("mkconf", false, "Write a default configuration file to -config and exit")
	pvDir := flag.String("prairieview", "", "Print the Prairie View scan metadata of a directory and exit")
	flag.Parse()

	if *mkconf {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write default config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	if *inputDir == "" && *pvDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *outputDir != "" {
		cfg.Cache.OutputDir = *outputDir
	}
	if *previews {
		cfg.Output.Previews = true
	}
	if *verbose {
		cfg.Output.Verbose = true
	}

	lg, err := logger.New(cfg.Output.LogMode, cfg.Output.Verbose)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer lg.Sync()

	if *pvDir != "" {
		if err := describePrairieView(os.Stdout, *pvDir, lg.Zap()); err != nil {
			log.Fatalf("Failed to read Prairie View metadata: %v", err)
		}
		return
	}

	input, err := resolveInput(*inputDir, cfg.Loader.RootDirs)
	if err != nil {
		log.Fatalf("Failed to resolve input: %v", err)
	}

	start := time.Now()
	agg, err := caiman.Load(input, caiman.WithLogger(lg.Zap()))
	if err != nil {
		log.Fatalf("Failed to load results: %v", err)
	}

	summarize := func() (*caiman.Summary, error) {
		s, err := agg.Summarize()
		if err != nil {
			return nil, err
		}
		return s, writeSummary(cfg.Cache.OutputDir, s)
	}
	if cfg.Cache.Enabled {
		key, err := summaryKey(input, agg.Mode().String())
		if err != nil {
			log.Fatalf("Failed to fingerprint input: %v", err)
		}
		summarize = memo.Memoize(key, cfg.Cache.OutputDir, summarize, memo.WithLogger(lg.Zap()))
	}

	s, err := summarize()
	if err != nil {
		log.Fatalf("Failed to summarize results: %v", err)
	}

	fmt.Println("================================")
	fmt.Println("CAIMAN RESULTS")
	fmt.Println("================================")
	fmt.Printf("Directory: %s\n", s.Dir)
	fmt.Printf("Mode: %s\n", s.Mode)
	fmt.Printf("Planes: %d\n", len(s.Planes))
	for _, p := range s.Planes {
		fmt.Printf("- plane %d: %s\n", p.Index, p.Path)
	}
	fmt.Printf("Image shape: %v\n", s.ImageShape)
	fmt.Printf("Frames: %d\n", s.Frames)
	if s.Blocks > 0 {
		fmt.Printf("Piecewise-rigid blocks: %d\n", s.Blocks)
	}
	if s.MasksSupported {
		fmt.Printf("Masks: %d accepted of %d\n", s.AcceptedMasks, s.Masks)
	} else {
		fmt.Println("Masks: not available for this mode")
	}
	fmt.Printf("Created: %s\n", s.CreationTime.Format(time.RFC3339))
	fmt.Printf("Curated: %s\n", s.CurationTime.Format(time.RFC3339))
	fmt.Printf("Summary saved to: %s\n", filepath.Join(cfg.Cache.OutputDir, SummaryFile))

	if cfg.Output.Previews {
		written, err := savePreviews(agg, cfg.Output.PreviewDir)
		if err != nil {
			log.Printf("Warning: Failed to save previews: %v", err)
		}
		fmt.Printf("Wrote %d preview images to %s\n", len(written), cfg.Output.PreviewDir)
	}

	lg.Info("done", "elapsed", time.Since(start).String())
}

// resolveInput returns dir when it exists, otherwise dir resolved against roots
func resolveInput(dir string, roots []string) (string, error) {
	if _, err := os.Stat(dir); err == nil || len(roots) == 0 || filepath.IsAbs(dir) {
		return filepath.Abs(dir)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	return paths.FindFullPath(roots, dir)
}

// summaryKey identifies one summary run: the input location, its resolved
// mode and the fingerprint of the plane files under it
func summaryKey(input, mode string) (map[string]interface{}, error) {
	fp, err := memo.Fingerprint(input)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"task":              "summary",
		"input":             input,
		"mode":              mode,
		"input_fingerprint": fp.String(),
	}, nil
}

// describePrairieView writes the scan metadata found in dir as YAML
func describePrairieView(w io.Writer, dir string, zl *zap.Logger) error {
	scan, err := prairieview.Load(dir, prairieview.WithLogger(zl))
	if err != nil {
		return err
	}
	meta, err := scan.Meta()
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(meta)
}

// writeSummary stores s as YAML in outputDir
func writeSummary(outputDir string, s *caiman.Summary) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("error marshaling summary: %w", err)
	}
	return os.WriteFile(filepath.Join(outputDir, SummaryFile), data, 0644)
}

// savePreviews writes the z slices of every summary image
func savePreviews(agg *caiman.Aggregator, dir string) ([]string, error) {
	getters := map[string]func() (*models.Image, error){
		"reference":   agg.RefImage,
		"mean":        agg.MeanImage,
		"max":         agg.MaxProjImage,
		"correlation": agg.CorrelationMap,
	}
	images := make(map[string]*models.Image, len(getters))
	for name, get := range getters {
		img, err := get()
		if err != nil {
			return nil, fmt.Errorf("error reading %s image: %w", name, err)
		}
		images[name] = img
	}
	return visualization.SavePreviews(images, dir)
}
