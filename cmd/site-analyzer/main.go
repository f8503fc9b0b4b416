package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	siteanalyzer "github.com/menta2k/site-analyzer"
	"github.com/menta2k/site-analyzer/internal/config"
	"github.com/menta2k/site-analyzer/internal/utils"
	"github.com/menta2k/site-analyzer/pkg/export"
	"github.com/menta2k/site-analyzer/pkg/processing"
	"github.com/menta2k/site-analyzer/pkg/session"
	"github.com/menta2k/site-analyzer/pkg/types"
)

func main() {
	var cfgPath, envFile, formats string
	var backend, url, model, mode, outDir string
	var concurrency int
	var retries int
	var debug, crops, saveConfig bool
	var dbgext string
	var dbgquality int

	flag.StringVar(&cfgPath, "config", "", "config file (json or yaml), defaults to "+config.GetConfigPath()+" when present")
	flag.StringVar(&envFile, "env", ".env", "dotenv file with secrets")
	flag.BoolVar(&saveConfig, "saveconfig", false, "write the effective config to -config and exit")

	flag.StringVar(&backend, "backend", "", "backend to use: ollama, llamacpp or gemini")
	flag.StringVar(&url, "url", "", "server URL (defaults: ollama=http://localhost:11435/api/chat, llamacpp=http://localhost:8080)")
	flag.StringVar(&model, "model", "", "model name")
	flag.StringVar(&mode, "mode", "", "response schema: site or items")
	flag.IntVar(&concurrency, "concurrency", 0, "images analyzed at once (0 = config value)")
	flag.IntVar(&retries, "retries", 0, "re-run failed images this many times")

	flag.StringVar(&outDir, "out", "", "output directory")
	flag.StringVar(&formats, "formats", "", "comma separated exports: json,yaml,csv,detections")
	flag.BoolVar(&debug, "debug", false, "write debug overlay images")
	flag.StringVar(&dbgext, "dbgext", "", "debug overlay format: png|jpg|webp")
	flag.IntVar(&dbgquality, "dbgquality", 92, "debug overlay quality (for jpg/webp)")
	flag.BoolVar(&crops, "crops", false, "write one crop per detected box")

	flag.Parse()

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.LoadEnv(envFile); err != nil {
		log.Fatal(err)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Backend.Type = strings.ToLower(backend)
		case "url":
			cfg.Backend.URL = url
		case "model":
			cfg.Backend.Model = model
		case "mode":
			cfg.Analysis.Mode = mode
		case "concurrency":
			cfg.Analysis.Concurrency = concurrency
		case "out":
			cfg.Output.OutputDir = outDir
		case "formats":
			cfg.Output.Formats = splitList(formats)
		case "debug":
			cfg.Output.DebugOverlay = debug
		case "dbgext":
			cfg.Output.DebugFormat = dbgext
		case "crops":
			cfg.Output.Crops = crops
		}
	})

	if saveConfig {
		path := cfgPath
		if path == "" {
			path = config.GetConfigPath()
		}
		if err := cfg.SaveToFile(path); err != nil {
			log.Fatal(err)
		}
		log.Printf("wrote %s", path)
		return
	}

	if flag.NArg() == 0 {
		log.Fatalf("usage: %s [-backend ollama|llamacpp|gemini] [-model name] [-out outdir] [-formats json,csv] [-debug] image|dir ...", filepath.Base(os.Args[0]))
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	files, err := utils.CollectImages(flag.Args())
	if err != nil {
		log.Fatal(err)
	}
	if len(files) == 0 {
		log.Fatalf("no images found in %v", flag.Args())
	}
	if err := utils.EnsureDir(cfg.Output.OutputDir); err != nil {
		log.Fatal(err)
	}

	logger := log.Default()
	sa, err := siteanalyzer.NewWithConfig(cfg,
		siteanalyzer.WithLogger(logger),
		siteanalyzer.WithProgress(func(p session.Progress) {
			logger.Printf("progress: %d/%d done (%d%%), %d failed", p.Done, p.Total, p.Percentage, p.Error)
		}),
	)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Printf("analyzing %d images with %s (%s)", len(files), cfg.Backend.Model, cfg.Backend.Type)
	res, err := sa.AnalyzeFiles(ctx, files)
	for i := 0; err == nil && i < retries && len(res.Session.Failed()) > 0; i++ {
		log.Printf("retrying %d failed images", len(res.Session.Failed()))
		res, err = sa.RetryFailed(ctx, res.Session)
	}
	if err != nil && res.Session == nil {
		log.Fatal(err)
	}
	if err != nil {
		log.Printf("analysis stopped early: %v", err)
	}

	agg := res.Aggregates
	log.Printf("session %s: %s, %d completed, %d failed, %d detections, %d safety issues (high=%d medium=%d low=%d)",
		res.Session.ID, res.Status(), agg.CompletedImages, agg.FailedImages, agg.TotalDetections,
		agg.TotalSafetyIssues, agg.SafetyBySeverity.High, agg.SafetyBySeverity.Medium, agg.SafetyBySeverity.Low)

	report := res.Report()
	for _, f := range cfg.Output.Formats {
		if err := writeExport(cfg.Output.OutputDir, f, report); err != nil {
			log.Printf("export %s failed: %v", f, err)
		}
	}

	if cfg.Output.DebugOverlay || cfg.Output.Crops {
		writeImages(cfg, res.Session, dbgquality)
	}
}

// loadConfig reads path, or the default config file when it exists
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	if def := config.GetConfigPath(); utils.FileExists(def) {
		return config.LoadFromFile(def)
	}
	return config.Default(), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}

func writeExport(dir, format string, report export.Report) error {
	var name string
	var write func(io.Writer, export.Report) error
	switch format {
	case "json":
		name, write = "session.json", export.SessionJSON
	case "yaml":
		name, write = "session.yaml", export.SessionYAML
	case "csv":
		name, write = "session.csv", export.SessionCSV
	case "detections":
		name, write = "detections.csv", export.DetectionsCSV
	default:
		return fmt.Errorf("unknown export format %q", format)
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f, report); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if info, err := os.Stat(path); err == nil {
		log.Printf("wrote %s (%s)", path, utils.FormatFileSize(info.Size()))
	}
	return nil
}

// writeImages saves overlays and crops for every completed image
func writeImages(cfg *config.Config, s *session.Session, quality int) {
	processor := processing.NewProcessor()
	dbgext := strings.ToLower(cfg.Output.DebugFormat)
	cropext := strings.ToLower(cfg.Processing.Format)

	for _, task := range s.Images {
		if task.Status != types.StatusCompleted || len(task.Result) == 0 {
			continue
		}
		img, err := processor.LoadImageSmart(task.FileRef)
		if err != nil {
			log.Printf("reload %s failed: %v", task.FileName, err)
			continue
		}

		if cfg.Output.DebugOverlay {
			overlay := processor.CreateDebugOverlay(img, task.Result)
			path := utils.OutputFilename(cfg.Output.OutputDir, task.ID, task.FileName, "_overlay", dbgext)
			if err := processor.SaveImage(overlay, path, dbgext, quality, false); err != nil {
				log.Printf("debug overlay save failed: %v", err)
			} else {
				log.Printf("wrote %s", path)
			}
		}

		if !cfg.Output.Crops {
			continue
		}
		for i, det := range task.Result {
			if det.Box == nil {
				continue
			}
			cropped, err := processor.CropImageToBox(img, *det.Box, cfg.Output.CropPadding, 0, 0)
			if err != nil {
				log.Printf("crop %s/%s failed: %v", task.ID, det.ID, err)
				continue
			}
			suffix := fmt.Sprintf("_%02d_%s", i+1, utils.SanitizeFilename(det.Label))
			path := utils.OutputFilename(cfg.Output.OutputDir, task.ID, task.FileName, suffix, cropext)
			if err := processor.SaveImage(cropped, path, cropext, cfg.Processing.Quality, false); err != nil {
				log.Printf("save %s failed: %v", path, err)
			} else {
				log.Printf("wrote %s", path)
			}
		}
	}
}
