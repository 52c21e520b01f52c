// Package verify checks an erased device by reading randomly chosen sectors.
package verify

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"time"

	"disksanitizer/internal/logging"
	"disksanitizer/internal/system"
	"disksanitizer/internal/wipe"
)

// SectorState classifies one sampled sector.
type SectorState string

const (
	StateBlank      SectorState = "blank"
	StateNonBlank   SectorState = "non-blank"
	StateUnreadable SectorState = "unreadable"
)

// Sample is one checked sector.
type Sample struct {
	Sector int64       `json:"sector"`
	State  SectorState `json:"state"`
	Error  string      `json:"error,omitempty"`
}

// maxAnomalies bounds how many failing samples a Result keeps.
const maxAnomalies = 16

// Result of one verification pass.
type Result struct {
	Samples    int           `json:"samples"`
	Blank      int           `json:"blank"`
	NonBlank   int           `json:"non_blank"`
	Unreadable int           `json:"unreadable"`
	Seed       uint64        `json:"seed"`
	Anomalies  []Sample      `json:"anomalies,omitempty"`
	Duration   time.Duration `json:"duration"`
	Reason     string        `json:"reason,omitempty"`
}

// Passed is true only when every sample was readable and blank.
func (r Result) Passed() bool {
	return r.Samples > 0 && r.NonBlank == 0 && r.Unreadable == 0 && r.Reason == ""
}

// Summary converts r into the form stored in a run outcome.
func (r Result) Summary() wipe.VerificationSummary {
	return wipe.VerificationSummary{
		Samples:    r.Samples,
		Blank:      r.Blank,
		NonBlank:   r.NonBlank,
		Unreadable: r.Unreadable,
		Seed:       r.Seed,
		Passed:     r.Passed(),
	}
}

// Verifier samples sectors with a seedable generator, so a run can be
// replayed exactly from the seed recorded in the report.
type Verifier struct {
	samples int
	seed    uint64
	logger  *logging.Logger
}

// New returns a verifier. A zero seed draws one from crypto/rand.
func New(samples int, seed uint64, logger *logging.Logger) *Verifier {
	if seed == 0 {
		seed = randomSeed()
	}
	return &Verifier{samples: samples, seed: seed, logger: logger}
}

func (v *Verifier) Seed() uint64 { return v.seed }

// Verify reads v.samples random whole sectors from dev.
func (v *Verifier) Verify(ctx context.Context, dev system.BlockDevice) Result {
	start := time.Now()
	res := Result{Seed: v.seed}

	sectorSize := dev.SectorSize()
	if sectorSize <= 0 {
		sectorSize = system.DefaultSectorSize
	}
	total := dev.Size() / int64(sectorSize)
	if total <= 0 {
		res.Reason = fmt.Sprintf("device reports %d bytes, no whole sector to sample", dev.Size())
		v.logger.Log("ERROR", "verification impossible", "reason", res.Reason)
		return res
	}

	rng := rand.New(rand.NewPCG(v.seed, v.seed^0x9e3779b97f4a7c15))
	buf := make([]byte, sectorSize)

	v.logger.Log("INFO", "verification started", "samples", v.samples, "sectors", total, "seed", v.seed)
	for i := 0; i < v.samples; i++ {
		if ctx.Err() != nil {
			res.Reason = "verification interrupted"
			break
		}
		sector := rng.Int64N(total)
		s := v.check(dev, buf, sector)
		res.Samples++
		switch s.State {
		case StateBlank:
			res.Blank++
			continue
		case StateNonBlank:
			res.NonBlank++
		case StateUnreadable:
			res.Unreadable++
		}
		if len(res.Anomalies) < maxAnomalies {
			res.Anomalies = append(res.Anomalies, s)
		}
	}
	res.Duration = time.Since(start)

	level := "INFO"
	if !res.Passed() {
		level = "ERROR"
	}
	v.logger.Log(level, "verification finished", "samples", res.Samples, "blank", res.Blank,
		"non_blank", res.NonBlank, "unreadable", res.Unreadable, "passed", res.Passed())
	return res
}

func (v *Verifier) check(dev system.BlockDevice, buf []byte, sector int64) Sample {
	n, err := dev.ReadAt(buf, sector*int64(len(buf)))
	if err != nil || n != len(buf) {
		if err == nil {
			err = fmt.Errorf("short read: %d of %d bytes", n, len(buf))
		}
		return Sample{Sector: sector, State: StateUnreadable, Error: err.Error()}
	}
	if IsBlank(buf) {
		return Sample{Sector: sector, State: StateBlank}
	}
	return Sample{Sector: sector, State: StateNonBlank}
}

// IsBlank reports whether buf is entirely 0x00 or entirely 0xFF.
func IsBlank(buf []byte) bool {
	if len(buf) == 0 {
		return false
	}
	first := buf[0]
	if first != 0x00 && first != 0xFF {
		return false
	}
	for _, b := range buf[1:] {
		if b != first {
			return false
		}
	}
	return true
}

func randomSeed() uint64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	if s := binary.LittleEndian.Uint64(b[:]); s != 0 {
		return s
	}
	return 1
}
