package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/matsim-org/matsim-episim-libs/internal/config"
	"github.com/matsim-org/matsim-episim-libs/internal/fsutil"
	"github.com/matsim-org/matsim-episim-libs/internal/runs"
	"github.com/matsim-org/matsim-episim-libs/internal/table"
	"github.com/matsim-org/matsim-episim-libs/internal/version"
)

// parseCSVIntSlice parses a comma-separated list of ints
func parseCSVIntSlice(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid int '%s': %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func main() {
	configPath := flag.String("config", "", "JSON analysis config; flags override its values")
	district := flag.String("district", "", "District filter, empty keeps all districts")
	window := flag.Int("window", runs.DefaultWindow, "Smoothing window in days")
	start := flag.String("start", "", "First date to keep (YYYY-MM-DD)")
	end := flag.String("end", "", "Last date to keep (YYYY-MM-DD)")
	rValues := flag.Bool("rvalues", false, "Join the rValues tables")
	infections := flag.Bool("infections", false, "Join the infections per activity tables")
	ageGroups := flag.String("age-groups", "", "Comma-separated age edges, e.g. 0,5,15,35,60,80,120")
	base := flag.String("base", "", "Batch of the base case; prints the R reduction against it")
	baseVars := flag.String("base-vars", "", "Comma-separated configuration columns shared with the base case")
	groupBy := flag.String("group-by", "", "Comma-separated columns of the R reduction (default -base-vars)")
	output := flag.String("output", "", "Output CSV (default stdout)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [batch]\n\n", os.Args[0])
		fmt.Fprintln(flag.CommandLine.Output(), "Reads every run of a batch zip or directory into one CSV table.")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("batch-run"))
		return
	}

	cfg := &config.Analysis{}
	if *configPath != "" {
		var err error
		cfg, err = config.LoadAnalysis(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "district":
			cfg.District = district
		case "window":
			cfg.Window = window
		case "start":
			cfg.Start = start
		case "end":
			cfg.End = end
		}
	})
	if flag.NArg() > 0 {
		dir := flag.Arg(0)
		cfg.RunDir = &dir
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	edges, err := parseCSVIntSlice(*ageGroups)
	if err != nil {
		log.Fatalf("invalid -age-groups: %v", err)
	}
	opts := runs.BatchOptions{
		Options:    cfg.RunOptions(),
		RValues:    *rValues || *base != "",
		Infections: *infections,
		AgeGroups:  edges,
	}

	df := readBatch(cfg, cfg.GetRunDir(), opts)
	if *base != "" {
		baseDF := readBatch(cfg, *base, opts)
		var by []string
		if *groupBy != "" {
			by = splitList(*groupBy)
		}
		df, err = runs.RReduction(baseDF, df, splitList(*baseVars), by)
		if err != nil {
			log.Fatalf("Failed to compute R reduction: %v", err)
		}
	}

	if *output == "" {
		err = df.Write(os.Stdout, table.Comma)
	} else {
		err = writeFile(*output, df)
	}
	if err != nil {
		log.Fatalf("Failed to write result: %v", err)
	}
}

// writeFile writes df as CSV to path. The file is closed before returning so
// a failed flush is reported.
func writeFile(path string, df *table.Table) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return df.Write(f, table.Comma)
}

func readBatch(cfg *config.Analysis, path string, opts runs.BatchOptions) *table.Table {
	df, err := runs.ReadBatchRun(fsutil.OSFileSystem{}, path, opts)
	if err != nil {
		log.Fatalf("Failed to read batch %s: %v", path, err)
	}
	df, err = runs.Between(df, cfg.GetStart(), cfg.GetEnd())
	if err != nil {
		log.Fatalf("Failed to filter %s: %v", path, err)
	}
	return df
}
