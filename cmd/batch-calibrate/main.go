package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/matsim-org/matsim-episim-libs/internal/archive"
	"github.com/matsim-org/matsim-episim-libs/internal/calibration"
	"github.com/matsim-org/matsim-episim-libs/internal/db"
	"github.com/matsim-org/matsim-episim-libs/internal/simulator"
	"github.com/matsim-org/matsim-episim-libs/internal/table"
	"github.com/matsim-org/matsim-episim-libs/internal/version"
)

const defaultTrials = 50

func main() {
	var (
		batchPath   string
		scenario    string
		runs        int
		prefix      string
		jvmOpts     string
		objective   string
		district    string
		storage     string
		timeout     time.Duration
		seed        int64
		simLog      string
		dryRun      bool
		showVersion bool
	)
	flag.StringVar(&batchPath, "batch", "_info.txt", "Path to the info.txt of the batch run")
	flag.StringVar(&scenario, "scenario", "SyntheticScenario", "Scenario module used for calibration")
	flag.IntVar(&runs, "runs", 8, "Number of runs per objective")
	flag.StringVar(&prefix, "prefix", calibration.DefaultBatchPrefix, "Prefix used for the properties")
	flag.StringVar(&jvmOpts, "jvm-opts", "-Xmx8G", "JVM options of the simulator")
	flag.StringVar(&objective, "objective", calibration.DefaultBatchObjective, "Single-valued objective to optimize")
	flag.StringVar(&district, "district", "", "District filter of the simulation output, empty keeps all")
	flag.StringVar(&storage, "storage", "", "Path of the study store (default <prefix>batch.db)")
	flag.DurationVar(&timeout, "timeout", 0, "Timeout of a single simulator run, 0 waits indefinitely")
	flag.Int64Var(&seed, "seed", 0, "Seed of the random sampler, 0 seeds from the clock")
	flag.StringVar(&simLog, "log", "simulator.log", "File the simulator output is appended to, empty discards it")
	flag.BoolVar(&dryRun, "dry-run", false, "Log simulator commands instead of running them")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version.String("batch-calibrate"))
		return
	}

	nTrials := defaultTrials
	if flag.NArg() > 0 {
		n, err := strconv.Atoi(flag.Arg(0))
		if err != nil || n < 1 {
			log.Fatalf("invalid number of trials: %s", flag.Arg(0))
		}
		nTrials = n
	}
	if storage == "" {
		storage = prefix + "batch.db"
	}
	resultPath := prefix + "result.csv"

	f, err := os.Open(batchPath)
	if err != nil {
		log.Fatalf("Failed to open batch info: %v", err)
	}
	manifest, err := archive.ReadManifest(f)
	f.Close()
	if err != nil {
		log.Fatalf("Failed to read batch info %s: %v", batchPath, err)
	}

	store, err := db.NewDB(storage)
	if err != nil {
		log.Fatalf("Failed to open study store: %v", err)
	}
	defer store.Close()

	runner := simulator.NewRunner(".", timeout)
	runner.DryRun = dryRun
	if simLog != "" {
		lf, err := os.OpenFile(simLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Fatalf("Failed to open simulator log: %v", err)
		}
		defer lf.Close()
		runner.Log = lf
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	results, err := calibration.BatchCalibrate(ctx, store, manifest, calibration.BatchOptions{
		Env: calibration.Env{
			Runner:   runner,
			Scenario: scenario,
			District: district,
			Runs:     runs,
			JVMOpts:  jvmOpts,
		},
		Prefix:    prefix,
		Trials:    nTrials,
		Objective: objective,
		Attrs:     map[string]any{"scenario": scenario, "runs": runs, "batch": batchPath},
		NewSampler: func() calibration.Sampler {
			if seed == 0 {
				return nil
			}
			return calibration.NewRandomSampler(seed)
		},
		Progress: func(t *table.Table) error {
			var buf bytes.Buffer
			if err := t.Write(&buf, table.Comma); err != nil {
				return err
			}
			return os.WriteFile(resultPath, buf.Bytes(), 0644)
		},
	})
	if err != nil {
		log.Fatalf("Batch calibration failed: %v", err)
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	log.Printf("calibrated %d groups (%d failed), results in %s", len(results), failed, resultPath)
}
