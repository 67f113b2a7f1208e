package config

import (
	"fmt"
	"time"

	"github.com/matsim-org/matsim-episim-libs/internal/runs"
)

// Sampler names.
const (
	SamplerRandom = "random"
	SamplerGrid   = "grid"
)

// Calibration configures a calibration study.
type Calibration struct {
	Scenario  *string  `json:"scenario,omitempty"`
	District  *string  `json:"district,omitempty"`
	Runs      *int     `json:"runs,omitempty"`
	Start     *string  `json:"start,omitempty"` // ISO date
	Days      *int     `json:"days,omitempty"`
	DZ        *float64 `json:"dz,omitempty"`
	Objective *string  `json:"objective,omitempty"`
	JVMOpts   *string  `json:"jvm_opts,omitempty"`
	Jar       *string  `json:"jar,omitempty"`
	Storage   *string  `json:"storage,omitempty"`
	Timeout   *string  `json:"timeout,omitempty"` // duration string like "2h"
	Window    *int     `json:"window,omitempty"`

	// Sampler params
	Sampler    *string `json:"sampler,omitempty"`
	Seed       *int64  `json:"seed,omitempty"`
	GridValues *int    `json:"grid_values_per_param,omitempty"`
	GridTopK   *int    `json:"grid_top_k,omitempty"`

	// Reference data
	Hospital   *string  `json:"hospital,omitempty"`
	Cases      *string  `json:"cases,omitempty"`
	Incidence  *string  `json:"incidence,omitempty"`
	Strains    *string  `json:"strains,omitempty"`
	Strain     *string  `json:"strain,omitempty"`
	Population *float64 `json:"population,omitempty"`
}

// LoadCalibration loads a Calibration from a JSON file and validates it.
func LoadCalibration(path string) (*Calibration, error) {
	cfg := &Calibration{}
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *Calibration) Validate() error {
	if c.Runs != nil && *c.Runs < 1 {
		return fmt.Errorf("runs must be positive, got %d", *c.Runs)
	}
	if c.Days != nil && *c.Days < 1 {
		return fmt.Errorf("days must be positive, got %d", *c.Days)
	}
	if c.DZ != nil && *c.DZ <= 0 {
		return fmt.Errorf("dz must be positive, got %f", *c.DZ)
	}
	if c.Window != nil && *c.Window < 1 {
		return fmt.Errorf("window must be positive, got %d", *c.Window)
	}
	if c.Population != nil && *c.Population <= 0 {
		return fmt.Errorf("population must be positive, got %f", *c.Population)
	}
	if err := parseDate("start", c.Start); err != nil {
		return err
	}
	if c.Timeout != nil && *c.Timeout != "" {
		d, err := time.ParseDuration(*c.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout '%s': %w", *c.Timeout, err)
		}
		if d < 0 {
			return fmt.Errorf("timeout must not be negative, got %s", d)
		}
	}
	if c.Sampler != nil && *c.Sampler != "" && *c.Sampler != SamplerRandom && *c.Sampler != SamplerGrid {
		return fmt.Errorf("sampler must be %q or %q, got %q", SamplerRandom, SamplerGrid, *c.Sampler)
	}
	return nil
}

// GetScenario returns the scenario module.
func (c *Calibration) GetScenario() string {
	if c.Scenario == nil || *c.Scenario == "" {
		return "SnzBerlinWeekScenario2020"
	}
	return *c.Scenario
}

// GetDistrict returns the district to calibrate for.
func (c *Calibration) GetDistrict() string {
	if c.District == nil || *c.District == "" {
		return "Berlin"
	}
	return *c.District
}

// GetRuns returns the number of simulator runs per trial.
func (c *Calibration) GetRuns() int {
	if c.Runs == nil {
		return 1
	}
	return *c.Runs
}

// GetStart returns the start date of a correction.
func (c *Calibration) GetStart() time.Time {
	return getDate(c.Start, time.Date(2020, 3, 6, 0, 0, 0, 0, time.UTC))
}

// GetDays returns the number of days simulated after the start.
func (c *Calibration) GetDays() int {
	if c.Days == nil {
		return 70
	}
	return *c.Days
}

// GetDZ returns the assumed under-reporting factor.
func (c *Calibration) GetDZ() float64 {
	if c.DZ == nil {
		return 1.5
	}
	return *c.DZ
}

// GetObjective returns the objective name.
func (c *Calibration) GetObjective() string {
	if c.Objective == nil || *c.Objective == "" {
		return "unconstrained"
	}
	return *c.Objective
}

// GetJVMOpts returns the JVM options of the simulator.
func (c *Calibration) GetJVMOpts() string {
	if c.JVMOpts == nil {
		return "-Xmx8G"
	}
	return *c.JVMOpts
}

// GetJar returns the simulator jar. Empty selects the default jar.
func (c *Calibration) GetJar() string {
	if c.Jar == nil {
		return ""
	}
	return *c.Jar
}

// GetStorage returns the path of the study store.
func (c *Calibration) GetStorage() string {
	if c.Storage == nil || *c.Storage == "" {
		return "calibration.db"
	}
	return *c.Storage
}

// GetTimeout parses the simulator timeout. Zero means no timeout.
func (c *Calibration) GetTimeout() time.Duration {
	if c.Timeout == nil || *c.Timeout == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// GetWindow returns the smoothing window for case numbers.
func (c *Calibration) GetWindow() int {
	if c.Window == nil {
		return runs.DefaultWindow
	}
	return *c.Window
}

// GetSampler returns the sampler name.
func (c *Calibration) GetSampler() string {
	if c.Sampler == nil || *c.Sampler == "" {
		return SamplerRandom
	}
	return *c.Sampler
}

// GetSeed returns the sampler seed and whether one was configured.
func (c *Calibration) GetSeed() (int64, bool) {
	if c.Seed == nil {
		return 0, false
	}
	return *c.Seed, true
}

// GetGridValues returns the grid values per parameter.
func (c *Calibration) GetGridValues() int {
	if c.GridValues == nil {
		return 5
	}
	return *c.GridValues
}

// GetGridTopK returns the number of best trials the grid narrows around.
func (c *Calibration) GetGridTopK() int {
	if c.GridTopK == nil {
		return 5
	}
	return *c.GridTopK
}

// GetHospital returns the hospital reference file.
func (c *Calibration) GetHospital() string {
	if c.Hospital == nil || *c.Hospital == "" {
		return "berlin-hospital.csv"
	}
	return *c.Hospital
}

// GetCases returns the reported cases reference file.
func (c *Calibration) GetCases() string {
	if c.Cases == nil || *c.Cases == "" {
		return "berlin-cases.csv"
	}
	return *c.Cases
}

// GetIncidence returns the weekly incidence reference file, empty if unset.
func (c *Calibration) GetIncidence() string {
	if c.Incidence == nil {
		return ""
	}
	return *c.Incidence
}

// GetStrains returns the strain share reference file, empty if unset.
func (c *Calibration) GetStrains() string {
	if c.Strains == nil {
		return ""
	}
	return *c.Strains
}

// GetStrain returns the calibrated strain.
func (c *Calibration) GetStrain() string {
	if c.Strain == nil || *c.Strain == "" {
		return "ALPHA"
	}
	return *c.Strain
}

// GetPopulation returns the population incidences are computed for.
func (c *Calibration) GetPopulation() float64 {
	if c.Population == nil {
		return 919944
	}
	return *c.Population
}

// StudyName returns the study name: multi studies are named after the
// objective, the others after the objective and the start date.
func (c *Calibration) StudyName() string {
	obj := c.GetObjective()
	if obj == "multi" {
		return obj
	}
	return obj + "_" + c.GetStart().Format(time.DateOnly)
}
