package telemetry

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/itohio/stratolpc/pkg/storage"
)

// MirrorExt is the extension of mirrored TM files.
const MirrorExt = "ready_tm"

// Mirror writes a local copy of each sent record in the TM file format.
// The message number is fixed at 0 and the CRC fields are zero placeholders.
type Mirror struct {
	fs         storage.FileSystem
	instrument string
}

// NewMirror creates a mirror writing <instrument>_<ts>.ready_tm files.
func NewMirror(fs storage.FileSystem, instrument string) *Mirror {
	return &Mirror{fs: fs, instrument: instrument}
}

// Write stores hdr and payload under a name derived from now.
func (m *Mirror) Write(now time.Time, hdr Header, payload []byte) (string, error) {
	name := storage.FileName(m.instrument, MirrorExt, now)

	f, err := m.fs.Create(name)
	if err != nil {
		return name, fmt.Errorf("mirror %s: %w", name, err)
	}
	_, err = f.Write(Encode(m.instrument, hdr, payload))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return name, fmt.Errorf("mirror %s: %w", name, err)
	}
	return name, nil
}

// Encode renders a TM record in the mirror file format.
func Encode(instrument string, hdr Header, payload []byte) []byte {
	var b bytes.Buffer
	b.WriteString("<TM>\n")
	b.WriteString("\t<Msg>0</Msg>\n")
	b.WriteString("\t<Inst>" + instrument + "</Inst>\n")
	for i := 0; i < Fields; i++ {
		n := strconv.Itoa(i + 1)
		b.WriteString("\t<StateFlag" + n + ">" + hdr.Flags[i].String() + "</StateFlag" + n + ">\n")
		b.WriteString("\t<StateMess" + n + ">" + hdr.Details[i] + "</StateMess" + n + ">\n")
	}
	b.WriteString("\t<Length>" + strconv.Itoa(len(payload)) + "</Length>\n")
	b.WriteString("</TM>\n")
	b.WriteString("<CRC>00000</CRC>\n")
	b.WriteString("START")
	b.Write(payload)
	b.Write([]byte{0, 0})
	b.WriteString("END")
	return b.Bytes()
}
