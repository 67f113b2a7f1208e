package main

import (
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/matsim-org/matsim-episim-libs/internal/calibration"
	"github.com/matsim-org/matsim-episim-libs/internal/db"
	"github.com/matsim-org/matsim-episim-libs/internal/fsutil"
	"github.com/matsim-org/matsim-episim-libs/internal/version"
)

func main() {
	var opts calibration.NextOptions
	flag.StringVar(&opts.Dir, "dir", ".", "Working directory of the calibration")
	flag.BoolVar(&opts.Update, "update", false, "Update the start script with the new date")
	flag.StringVar(&opts.Study, "study", calibration.DefaultNextStudy, "Objective name, the study is <study>_<date>")
	flag.StringVar(&opts.Param, "param", calibration.DefaultNextParam, "Parameter the median trial is selected by")
	flag.StringVar(&opts.Script, "script", calibration.DefaultScript, "Name of the start script to parse for the date")
	flag.IntVar(&opts.Top, "top", calibration.DefaultNextTop, "Number of best trials to take the median of")
	flag.IntVar(&opts.Horizon, "horizon", calibration.DefaultHorizon, "Days between two correction starts")
	storage := flag.String("storage", db.DefaultPath, "Study store, relative to -dir")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("prepare-next"))
		return
	}

	path := *storage
	if !filepath.IsAbs(path) {
		path = filepath.Join(opts.Dir, path)
	}
	store, err := db.NewDB(path)
	if err != nil {
		log.Fatalf("Failed to open study store: %v", err)
	}
	defer store.Close()

	next, err := calibration.PrepareNext(store, fsutil.OSFileSystem{}, opts)
	if err != nil {
		log.Fatalf("Failed to prepare next step: %v", err)
	}

	fmt.Printf("Current start: %s\n", next.Current.Format(time.DateOnly))
	fmt.Printf("Selected trial %d with %s=%v\n", next.Trial.Number, opts.Param, next.Value)
	fmt.Printf("Copied %s -> %s\n", next.Snapshot, next.Target)
	if next.Updated {
		fmt.Printf("Updated start to %s\n", next.Next.Format(time.DateOnly))
	} else {
		fmt.Printf("Next start: %s (run with -update to rewrite the script)\n", next.Next.Format(time.DateOnly))
	}
}
