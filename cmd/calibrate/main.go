package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/matsim-org/matsim-episim-libs/internal/calibration"
	"github.com/matsim-org/matsim-episim-libs/internal/config"
	"github.com/matsim-org/matsim-episim-libs/internal/db"
	"github.com/matsim-org/matsim-episim-libs/internal/simulator"
	"github.com/matsim-org/matsim-episim-libs/internal/table"
	"github.com/matsim-org/matsim-episim-libs/internal/version"
)

const defaultTrials = 10

var (
	configPath  = flag.String("config", "", "JSON calibration config; flags override its values")
	district    = flag.String("district", "Berlin", "District to calibrate for")
	scenario    = flag.String("scenario", "SnzBerlinWeekScenario2020", "Scenario module used for calibration")
	runs        = flag.Int("runs", 1, "Number of runs per objective")
	start       = flag.String("start", "2020-03-06", "Start date for ci correction")
	days        = flag.Int("days", 70, "Number of days to simulate after ci correction")
	dz          = flag.Float64("dz", 1.5, "Assumed under-reporting factor for the error metric")
	objective   = flag.String("objective", "unconstrained", "Objective to optimize")
	jvmOpts     = flag.String("jvm-opts", "-Xmx8G", "JVM options of the simulator")
	jar         = flag.String("jar", "", "Simulator jar (default "+simulator.DefaultJar+")")
	storage     = flag.String("storage", db.DefaultPath, "Path of the study store")
	timeout     = flag.Duration("timeout", 0, "Timeout of a single simulator run, 0 waits indefinitely")
	seed        = flag.Int64("seed", 0, "Seed of the random sampler")
	sampler     = flag.String("sampler", config.SamplerRandom, "Sampler: 'random' or 'grid'")
	simLog      = flag.String("log", "simulator.log", "File the simulator output is appended to, empty discards it")
	dryRun      = flag.Bool("dry-run", false, "Log simulator commands instead of running them")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [N]\n", os.Args[0])
	fmt.Fprintf(flag.CommandLine.Output(), "       %s [flags] migrate <up|down|status>\n", os.Args[0])
	fmt.Fprintf(flag.CommandLine.Output(), "       %s [flags] trials <study>\n\n", os.Args[0])
	fmt.Fprintf(flag.CommandLine.Output(), "Objectives: %v\n\n", calibration.DefaultRegistry().Names())
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("calibrate"))
		return
	}

	cfg := loadConfig()
	args := flag.Args()
	if len(args) > 0 {
		switch args[0] {
		case "migrate":
			if err := db.RunMigrateCommand(args[1:], cfg.GetStorage(), os.Stdout); err != nil {
				log.Fatalf("migrate failed: %v", err)
			}
			return
		case "trials":
			if len(args) < 2 {
				log.Fatal("Usage: calibrate trials <study>")
			}
			printTrials(cfg.GetStorage(), args[1])
			return
		}
	}

	nTrials := defaultTrials
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			log.Fatalf("invalid number of trials: %s", args[0])
		}
		nTrials = n
	}

	def, err := calibration.DefaultRegistry().Lookup(cfg.GetObjective())
	if err != nil {
		log.Fatal(err)
	}

	store, err := db.NewDB(cfg.GetStorage())
	if err != nil {
		log.Fatalf("Failed to open study store: %v", err)
	}
	defer store.Close()

	study, err := calibration.NewStudy(store, cfg.StudyName(), def.Directions, newSampler(cfg, def.Params), nil)
	if err != nil {
		log.Fatalf("Failed to load study: %v", err)
	}
	for k, v := range studyAttrs(cfg) {
		if err := study.SetUserAttr(k, v); err != nil {
			log.Fatalf("Failed to store study attribute %s: %v", k, err)
		}
	}

	env := newEnv(cfg)
	if *simLog != "" {
		f, err := os.OpenFile(*simLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Fatalf("Failed to open simulator log: %v", err)
		}
		defer f.Close()
		env.Runner.Log = f
	}
	fn, err := def.New(env)
	if err != nil {
		log.Fatalf("Failed to prepare objective %s: %v", def.Name, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("optimizing study %s with %d trials", study.Name, nTrials)
	if err := study.Optimize(ctx, fn, nTrials); err != nil {
		log.Fatalf("Calibration failed: %v", err)
	}

	if len(def.Directions) == 1 {
		best, err := study.BestTrial()
		if err != nil {
			log.Fatalf("Failed to select best trial: %v", err)
		}
		log.Printf("best trial %d: value=%v params=%v", best.Number, best.Values, best.Params)
		return
	}
	front, err := store.ParetoFront(study.Name)
	if err != nil {
		log.Fatalf("Failed to compute pareto front: %v", err)
	}
	for _, tr := range front {
		log.Printf("pareto trial %d: values=%v params=%v", tr.Number, tr.Values, tr.Params)
	}
}

// loadConfig reads the config file, if any, and applies the flags set on
// the command line on top of it.
func loadConfig() *config.Calibration {
	cfg := &config.Calibration{}
	if *configPath != "" {
		var err error
		cfg, err = config.LoadCalibration(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "district":
			cfg.District = district
		case "scenario":
			cfg.Scenario = scenario
		case "runs":
			cfg.Runs = runs
		case "start":
			cfg.Start = start
		case "days":
			cfg.Days = days
		case "dz":
			cfg.DZ = dz
		case "objective":
			cfg.Objective = objective
		case "jvm-opts":
			cfg.JVMOpts = jvmOpts
		case "jar":
			cfg.Jar = jar
		case "storage":
			cfg.Storage = storage
		case "timeout":
			s := timeout.String()
			cfg.Timeout = &s
		case "seed":
			cfg.Seed = seed
		case "sampler":
			cfg.Sampler = sampler
		}
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	return cfg
}

func newEnv(cfg *config.Calibration) *calibration.Env {
	runner := simulator.NewRunner(".", cfg.GetTimeout())
	runner.DryRun = *dryRun
	return &calibration.Env{
		Runner:        runner,
		Scenario:      cfg.GetScenario(),
		District:      cfg.GetDistrict(),
		Runs:          cfg.GetRuns(),
		Start:         cfg.GetStart(),
		Days:          cfg.GetDays(),
		DZ:            cfg.GetDZ(),
		JVMOpts:       cfg.GetJVMOpts(),
		Jar:           cfg.GetJar(),
		Window:        cfg.GetWindow(),
		HospitalFile:  cfg.GetHospital(),
		CasesFile:     cfg.GetCases(),
		IncidenceFile: cfg.GetIncidence(),
		StrainsFile:   cfg.GetStrains(),
		Strain:        cfg.GetStrain(),
		Population:    cfg.GetPopulation(),
	}
}

func newSampler(cfg *config.Calibration, params []string) calibration.Sampler {
	if cfg.GetSampler() == config.SamplerGrid {
		return calibration.NewGridSampler(cfg.GetGridValues(), cfg.GetGridTopK(), params...)
	}
	s, ok := cfg.GetSeed()
	if !ok {
		s = time.Now().UnixNano()
	}
	return calibration.NewRandomSampler(s)
}

// studyAttrs are the settings recorded on the study, so a store can be
// analyzed without the command line that produced it.
func studyAttrs(cfg *config.Calibration) map[string]any {
	return map[string]any{
		"district":  cfg.GetDistrict(),
		"scenario":  cfg.GetScenario(),
		"runs":      cfg.GetRuns(),
		"start":     cfg.GetStart().Format(time.DateOnly),
		"days":      cfg.GetDays(),
		"dz":        cfg.GetDZ(),
		"objective": cfg.GetObjective(),
		"jvm_opts":  cfg.GetJVMOpts(),
	}
}

func printTrials(path, study string) {
	store, err := db.NewDB(path)
	if err != nil {
		log.Fatalf("Failed to open study store: %v", err)
	}
	defer store.Close()

	df, err := store.TrialsFrame(study)
	if err != nil {
		log.Fatalf("Failed to read trials of %s: %v", study, err)
	}
	if err := df.Write(os.Stdout, table.Comma); err != nil {
		log.Fatalf("Failed to write trials: %v", err)
	}
}
