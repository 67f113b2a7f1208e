package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/matsim-org/matsim-episim-libs/internal/aggregate"
	"github.com/matsim-org/matsim-episim-libs/internal/fsutil"
	"github.com/matsim-org/matsim-episim-libs/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s <archive.zip>...\n\n", os.Args[0])
		fmt.Fprintln(flag.CommandLine.Output(), "Averages every file kind over the seeds of each configuration and")
		fmt.Fprintln(flag.CommandLine.Output(), "writes <archive>-aggr.zip next to the input.")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("aggregate"))
		return
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	for _, path := range flag.Args() {
		report, err := aggregate.Aggregate(fsutil.OSFileSystem{}, path)
		if err != nil {
			log.Fatalf("Failed to aggregate %s: %v", path, err)
		}
		for _, s := range report.Skipped() {
			fmt.Printf("skipped group %d %s: %s\n", s.Group, s.Kind, s.Skipped)
		}
		if report.Name != "" {
			fmt.Printf("%s (%s) -> %s\n", report.Input, report.Name, report.Output)
		} else {
			fmt.Printf("%s -> %s\n", report.Input, report.Output)
		}
	}
}
