// Package fake is a deterministic firmware.Services implementation for
// tests and the cmd/quibgoctl harness: fixed RTC value, a software page
// allocator, a fixed (non-busy-waiting) TSC model, and an in-memory
// volume backed by a plain map of file contents. Nothing here depends on
// wall-clock time or real hardware, so a test run is reproducible.
package fake

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/maharmstone/quibgo/boottype"
	"github.com/maharmstone/quibgo/firmware"
)

// Firmware is a deterministic firmware.Services: AllocatePages bumps a
// single cursor (it never has to reclaim pages within one boot attempt),
// GetTime returns a fixed instant, and ReadTSC/Stall model a fixed
// 2.5 GHz part so ProcessorCounterFrequency comes out the same every run.
type Firmware struct {
	nextPage    uint64
	fixedTime   time.Time
	tscHz       uint64
	tsc         uint64
	arcName     string
	volumeFiles map[string][]byte
}

// New returns a Firmware seeded with a fixed RTC value and an empty
// volume; callers add fixture files with PutFile before booting.
func New() *Firmware {
	return &Firmware{
		nextPage:    0x100000, // 1 MiB, past the real-mode IVT/BDA area
		fixedTime:   time.Date(2021, time.June, 15, 12, 0, 0, 0, time.UTC),
		tscHz:       2_500_000_000,
		arcName:     "multi(0)disk(0)rdisk(0)partition(1)",
		volumeFiles: make(map[string][]byte),
	}
}

// PutFile registers fixture bytes a later OpenVolume().ReadFile(dir, name)
// call returns, keyed case-insensitively on dir+"\"+name.
func (f *Firmware) PutFile(dir, name string, data []byte) {
	f.volumeFiles[volumeKey(dir, name)] = data
}

func volumeKey(dir, name string) string {
	return strings.ToLower(strings.TrimRight(dir, `\`) + `\` + name)
}

const pageSize = 0x1000

func (f *Firmware) AllocatePages(pageCount uint64, typ firmware.MemoryType) (uint64, error) {
	if pageCount == 0 {
		return 0, boottype.New("allocate_pages", boottype.ResourceExhausted, errors.New("zero page count"))
	}
	pa := f.nextPage
	f.nextPage += pageCount * pageSize
	return pa, nil
}

func (f *Firmware) GetTime() (time.Time, error) { return f.fixedTime, nil }

// Stall advances the simulated TSC by exactly d worth of ticks at tscHz,
// without actually sleeping, so TSC-frequency measurement in tests is
// both deterministic and instantaneous.
func (f *Firmware) Stall(d time.Duration) error {
	f.tsc += uint64(d.Seconds() * float64(f.tscHz))
	return nil
}

func (f *Firmware) ReadTSC() uint64 { return f.tsc }

func (f *Firmware) OpenVolume() (firmware.Volume, error) {
	return &volume{f: f}, nil
}

type volume struct{ f *Firmware }

func (v *volume) ReadFile(dir, name string) ([]byte, error) {
	data, ok := v.f.volumeFiles[volumeKey(dir, name)]
	if !ok {
		return nil, boottype.New("read_file", boottype.NotFound, errors.Errorf(`%s\%s`, dir, name))
	}
	return data, nil
}

func (v *volume) GetArcName() (string, error) { return v.f.arcName, nil }
