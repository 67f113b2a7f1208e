package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/matsim-org/matsim-episim-libs/internal/calibration"
	"github.com/matsim-org/matsim-episim-libs/internal/fsutil"
	"github.com/matsim-org/matsim-episim-libs/internal/table"
	"github.com/matsim-org/matsim-episim-libs/internal/version"
)

func main() {
	var opts calibration.StrainOptions
	output := flag.String("output", "result.csv", "Output CSV")
	flag.StringVar(&opts.Dir, "dir", ".", "Directory with the calibration*.db stores and their output folders")
	flag.StringVar(&opts.Strain, "strain", calibration.DefaultSummaryStrain, "Strain")
	flag.StringVar(&opts.District, "district", calibration.DefaultSummaryDistrict, "District to extract data for")
	flag.Float64Var(&opts.Population, "population", calibration.DefaultSummaryPopulation, "Population of the district")
	flag.IntVar(&opts.Top, "top", calibration.DefaultSummaryTop, "Number of best trials to take the median of")
	from := flag.String("from", calibration.DefaultSummaryFrom.Format(time.DateOnly), "First week end to report")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("analyze-strains"))
		return
	}

	var err error
	opts.From, err = time.Parse(time.DateOnly, *from)
	if err != nil {
		log.Fatalf("invalid -from: %v", err)
	}

	df, err := calibration.AnalyzeStrains(fsutil.OSFileSystem{}, opts)
	if err != nil {
		log.Fatalf("Failed to analyze strains: %v", err)
	}

	var buf bytes.Buffer
	if err := df.Write(&buf, table.Comma); err != nil {
		log.Fatalf("Failed to format result: %v", err)
	}
	if err := os.WriteFile(*output, buf.Bytes(), 0644); err != nil {
		log.Fatalf("Failed to write %s: %v", *output, err)
	}
	fmt.Printf("wrote %d rows to %s\n", df.Len(), *output)
}
