package diagnostics

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/ebrahimk/rubinius/vm"
	"github.com/ebrahimk/rubinius/vm/memory"
)

var cborEncMode cbor.EncMode

func init() {
	opts := cbor.CanonicalEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("diagnostics: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Region is the occupancy of one heap region.
type Region struct {
	Objects int `cbor:"objects"`
	Bytes   int `cbor:"bytes"`
}

// Report is a point-in-time view of a VM's memory system.
type Report struct {
	VMID      uuid.UUID `cbor:"vm_id"`
	Generated time.Time `cbor:"generated"`

	Cycles  uint64            `cbor:"cycles"`
	Threads int               `cbor:"threads"`
	Handles int               `cbor:"handles"`
	Symbols int               `cbor:"symbols"`
	Regions map[string]Region `cbor:"regions"`

	Metrics memory.MetricsSnapshot `cbor:"metrics"`
	Last    *memory.CycleStats     `cbor:"last,omitempty"`
}

// NewReport captures the current state of v.
func NewReport(id uuid.UUID, v *vm.VM) *Report {
	mm := v.Memory()
	r := &Report{
		VMID:      id,
		Generated: time.Now().UTC(),
		Cycles:    mm.CycleCount(),
		Threads:   mm.Threads().Len(),
		Handles:   mm.Handles().Len(),
		Symbols:   v.Symbols().Len(),
		Regions:   make(map[string]Region),
		Metrics:   mm.Metrics().Snapshot(),
		Last:      mm.LastStats(),
	}
	for _, region := range []memory.Region{memory.RegionYoung, memory.RegionMature, memory.RegionLarge, memory.RegionCode} {
		s := mm.Heap().Stats(region)
		r.Regions[region.String()] = Region{Objects: s.Objects, Bytes: s.Bytes}
	}
	return r
}

// Marshal serializes the report to canonical CBOR.
func (r *Report) Marshal() ([]byte, error) {
	return cborEncMode.Marshal(r)
}

// UnmarshalReport deserializes a report from CBOR bytes.
func UnmarshalReport(data []byte) (*Report, error) {
	var r Report
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("diagnostics: unmarshal report: %w", err)
	}
	return &r, nil
}

// WriteFile writes the CBOR encoding of the report to path.
func (r *Report) WriteFile(path string) error {
	data, err := r.Marshal()
	if err != nil {
		return fmt.Errorf("diagnostics: marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("diagnostics: %w", err)
	}
	return nil
}

// ReadFile reads a report written by WriteFile.
func ReadFile(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: %w", err)
	}
	return UnmarshalReport(data)
}

// Summary formats the report for humans.
func (r *Report) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "vm %s: %s cycles, %d threads, %d handles, %s symbols\n",
		r.VMID, humanize.Comma(int64(r.Cycles)), r.Threads, r.Handles, humanize.Comma(int64(r.Symbols)))
	for _, name := range []string{"young", "mature", "large", "code"} {
		reg := r.Regions[name]
		fmt.Fprintf(&sb, "  %-6s %s objects, %s\n", name, humanize.Comma(int64(reg.Objects)), humanize.IBytes(uint64(reg.Bytes)))
	}
	m := r.Metrics
	fmt.Fprintf(&sb, "  copied %s, promoted %s, freed %s (%s), total pause %s\n",
		humanize.Comma(int64(m.ObjectsCopied)), humanize.Comma(int64(m.ObjectsPromoted)),
		humanize.Comma(int64(m.ObjectsFreed)), humanize.IBytes(m.BytesFreed), m.TotalPause)
	if m.Anomalies > 0 {
		fmt.Fprintf(&sb, "  %s handle anomalies\n", humanize.Comma(int64(m.Anomalies)))
	}
	if r.Last != nil {
		fmt.Fprintf(&sb, "  last cycle #%d took %s, %s\n", r.Last.ID, r.Last.Duration, humanize.Time(r.Last.Started))
	}
	return sb.String()
}
