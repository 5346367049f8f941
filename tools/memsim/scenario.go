package main

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/goldencm/blanc-os/kernel/boot"
)

// Region is a memory map entry as written in a scenario file.
type Region struct {
	Start uint64 `yaml:"start"`
	End   uint64 `yaml:"end"`
	Kind  string `yaml:"kind"`
}

// Range is a half-open physical address range.
type Range struct {
	Start uint64 `yaml:"start"`
	End   uint64 `yaml:"end"`
}

// Stress configures the concurrent allocation phase.
type Stress struct {
	Workers    int `yaml:"workers"`
	Iterations int `yaml:"iterations"`
}

// Scenario describes a boot memory map and the allocator workload to run
// against it.
type Scenario struct {
	Name    string   `yaml:"name"`
	Regions []Region `yaml:"regions"`

	// Kernel is carved out of the usable regions before the allocator
	// is set up, mirroring the boot sequence.
	Kernel *Range `yaml:"kernel"`

	// Allocations is the number of frames allocated sequentially.
	Allocations int `yaml:"allocations"`

	// Reserve lists physical addresses claimed with AllocFrameAt.
	Reserve []uint64 `yaml:"reserve"`

	Stress *Stress `yaml:"stress"`
}

var (
	errNoRegions  = errors.New("scenario defines no memory regions")
	errBadStress  = errors.New("stress workers and iterations must be positive")
	errNegAllocs  = errors.New("allocations must not be negative")
	errEmptyRange = errors.New("region end must be greater than its start")

	regionKinds = map[string]boot.RegionKind{
		"usable":           boot.KindUsable,
		"reserved":         boot.KindReserved,
		"acpi-reclaimable": boot.KindACPIReclaimable,
		"nvs":              boot.KindNVS,
		"bootloader":       boot.KindBootloader,
		"kernel":           boot.KindKernel,
	}
)

// loadScenario reads and validates the scenario stored at path.
func loadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}

	return parseScenario(data)
}

func parseScenario(data []byte) (*Scenario, error) {
	var scn Scenario
	if err := yaml.Unmarshal(data, &scn); err != nil {
		return nil, fmt.Errorf("decoding scenario: %w", err)
	}

	if err := scn.validate(); err != nil {
		return nil, err
	}

	return &scn, nil
}

func (scn *Scenario) validate() error {
	if len(scn.Regions) == 0 {
		return errNoRegions
	}

	for i, region := range scn.Regions {
		if region.End <= region.Start {
			return fmt.Errorf("region %d: %w", i, errEmptyRange)
		}

		if _, ok := regionKinds[region.Kind]; !ok {
			return fmt.Errorf("region %d: unknown kind %q", i, region.Kind)
		}
	}

	if scn.Allocations < 0 {
		return errNegAllocs
	}

	if scn.Stress != nil && (scn.Stress.Workers <= 0 || scn.Stress.Iterations <= 0) {
		return errBadStress
	}

	return nil
}

// memoryMap converts the scenario regions into a boot memory map and carves
// out the kernel image.
func (scn *Scenario) memoryMap() (*boot.MemoryMap, error) {
	var m boot.MemoryMap

	for _, region := range scn.Regions {
		if err := m.Append(boot.MemoryRegion{
			Start: region.Start,
			End:   region.End,
			Kind:  regionKinds[region.Kind],
		}); err != nil {
			return nil, err
		}
	}

	if scn.Kernel != nil {
		if err := m.Exclude(scn.Kernel.Start, scn.Kernel.End, boot.KindKernel); err != nil {
			return nil, err
		}
	}

	return &m, nil
}
