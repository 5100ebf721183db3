// Package main writes an APR coverage report for the configured pairs:
// REPORT.md plus one <pair>_apr.csv per pair.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pair-apr-lab/internal/config"
	"pair-apr-lab/internal/orchestrator"
	"pair-apr-lab/internal/reporting"
)

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "Path to YAML config file (optional)")
	outputDir := flag.String("output-dir", "output", "Output directory for generated files")
	days := flag.Int("days", 7, "Report range in days, ending now")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *days <= 0 {
		fmt.Fprintln(os.Stderr, "Error: --days must be positive")
		os.Exit(1)
	}

	ctx := context.Background()

	store, closeStore, err := orchestrator.OpenStore(ctx, cfg.Storage)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	defer closeStore()

	to := time.Now().UTC()
	from := to.Add(-time.Duration(*days) * 24 * time.Hour)

	report, err := reporting.NewGenerator(store).Generate(ctx, cfg.Pairs, from, to)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating report: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output dir: %v\n", err)
		os.Exit(1)
	}

	files := map[string]string{"REPORT.md": reporting.RenderMarkdown(report)}
	for _, p := range report.Pairs {
		files[p.PairID+"_apr.csv"] = reporting.RenderCSV(p)
	}

	fmt.Println("Report generated successfully:")
	for name, content := range files {
		path := filepath.Join(*outputDir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", path, err)
			os.Exit(1)
		}
		fmt.Printf("  - %s\n", path)
	}
}
