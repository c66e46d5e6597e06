package telemetry

import (
	"fmt"
	"time"

	"github.com/itohio/stratolpc/pkg/bins"
	"github.com/itohio/stratolpc/pkg/config"
	"github.com/itohio/stratolpc/pkg/hk"
)

// Packager turns a finished cycle into one TM record.
type Packager struct {
	tx     Transport
	acc    *bins.Accumulator
	rec    *hk.Record
	limits config.LimitsConfig
	mirror *Mirror
}

// NewPackager creates a packager. mirror may be nil to skip local copies.
func NewPackager(tx Transport, acc *bins.Accumulator, rec *hk.Record, limits config.LimitsConfig, mirror *Mirror) *Packager {
	return &Packager{tx: tx, acc: acc, rec: rec, limits: limits, mirror: mirror}
}

// Health evaluates the header fields from the latest housekeeping values.
func (p *Packager) Health(latest hk.Readings) Header {
	l := p.limits
	var h Header

	if inRange(latest.TPump1, l.PumpTempMin, l.PumpTempMax) &&
		inRange(latest.TPump2, l.PumpTempMin, l.PumpTempMax) &&
		inRange(latest.TLaser, l.LaserTempMin, l.LaserTempMax) {
		h.Flags[0] = Fine
	} else {
		h.Flags[0] = Warn
	}
	h.Details[0] = fmt.Sprintf("%.2f,%.2f,%.2f", latest.TPump1, latest.TPump2, latest.TLaser)

	if inRange(latest.VBattery, l.BatteryMin, l.BatteryMax) {
		h.Flags[1] = Fine
	} else {
		h.Flags[1] = Warn
	}
	h.Details[1] = fmt.Sprintf("%.2f,%.2f", latest.VBattery, latest.VTeensy)

	return h
}

// Package sends the bins and housekeeping of the first slots slots, mirrors
// the record locally and zeroes both tables. A mirror failure is logged and
// does not fail the call; a send failure is returned after zeroing.
func (p *Packager) Package(slots int, latest hk.Readings, now time.Time) error {
	if limit := min(p.acc.Slots(), p.rec.Cap()); slots > limit {
		Logf("telemetry: %d slots requested, packaging %d", slots, limit)
		slots = limit
	}
	slots = max(slots, 0)

	hdr := p.Health(latest)
	for i := 0; i < Fields; i++ {
		p.tx.SetHealthFlag(i+1, hdr.Flags[i])
		p.tx.SetHealthDetail(i+1, hdr.Details[i])
	}

	for slot := 0; slot < slots; slot++ {
		for bin := 0; bin < p.acc.Bins(); bin++ {
			p.tx.AppendUint16(p.acc.At(bin, slot))
		}
		row := p.rec.Row(slot)
		for _, v := range row {
			p.tx.AppendUint16(v)
		}
	}

	sendErr := p.tx.Send()
	if sendErr != nil {
		Logf("error: telemetry send: %v", sendErr)
	} else {
		Logf("telemetry: sent %d slots, %d bytes", slots, len(p.tx.Payload()))
	}

	if p.mirror != nil {
		if name, err := p.mirror.Write(now, hdr, p.tx.Payload()); err != nil {
			Logf("error: unable to open %s, LPC data will not be written: %v", name, err)
		} else {
			Logf("telemetry: %s written", name)
		}
	}

	p.acc.Reset()
	p.rec.Reset()
	return sendErr
}

func inRange(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}
