package diagnostics

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/ebrahimk/rubinius/vm"
)

func collectedVM(t *testing.T) *vm.VM {
	t.Helper()
	v, err := vm.NewVM(vm.DefaultOptions())
	if err != nil {
		t.Fatalf("NewVM: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := v.NewArray(vm.FromSmallInt(int64(i))); err != nil {
			t.Fatalf("NewArray: %v", err)
		}
	}
	if _, err := v.Collect(); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return v
}

func TestReportCBORRoundTrip(t *testing.T) {
	v := collectedVM(t)
	id := uuid.New()
	r := NewReport(id, v)

	if r.Cycles != 1 || r.Last == nil {
		t.Fatalf("report cycles = %d, last = %v", r.Cycles, r.Last)
	}
	if r.Last.YoungFreed < 3 {
		t.Errorf("young freed = %d, want at least the 3 garbage arrays", r.Last.YoungFreed)
	}

	data, err := r.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	again, err := r.Marshal()
	if err != nil || !bytes.Equal(data, again) {
		t.Errorf("encoding is not deterministic")
	}

	got, err := UnmarshalReport(data)
	if err != nil {
		t.Fatalf("UnmarshalReport: %v", err)
	}
	if got.VMID != id {
		t.Errorf("VMID = %s, want %s", got.VMID, id)
	}
	if !got.Generated.Equal(r.Generated) {
		t.Errorf("Generated = %s, want %s", got.Generated, r.Generated)
	}
	if got.Metrics != r.Metrics {
		t.Errorf("Metrics = %+v, want %+v", got.Metrics, r.Metrics)
	}
	if got.Last == nil || got.Last.ID != r.Last.ID || got.Last.YoungFreed != r.Last.YoungFreed {
		t.Errorf("Last = %+v, want %+v", got.Last, r.Last)
	}
	if got.Regions["mature"] != r.Regions["mature"] {
		t.Errorf("mature region = %+v, want %+v", got.Regions["mature"], r.Regions["mature"])
	}
}

func TestReportFile(t *testing.T) {
	v := collectedVM(t)
	r := NewReport(uuid.New(), v)
	path := filepath.Join(t.TempDir(), "report.cbor")

	if err := r.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got.VMID != r.VMID || got.Cycles != r.Cycles {
		t.Errorf("read back %+v", got)
	}

	if _, err := UnmarshalReport([]byte{0xff, 0x00}); err == nil {
		t.Errorf("garbage decoded without error")
	}
}

func TestReportSummary(t *testing.T) {
	v := collectedVM(t)
	id := uuid.New()
	s := NewReport(id, v).Summary()

	for _, want := range []string{id.String(), "1 cycles", "young", "mature", "code", "last cycle #1"} {
		if !strings.Contains(s, want) {
			t.Errorf("summary missing %q:\n%s", want, s)
		}
	}
}

func TestConfigureLogging(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rbx.log")
	ConfigureLogging(2, path)
	ConfigureLogging(0, "")
}
