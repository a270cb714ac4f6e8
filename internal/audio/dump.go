package audio

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DumpWriter records the encoded mono PCM stream to a WAV file so an
// operator can check levels and clipping after a rehearsal.
type DumpWriter struct {
	file *os.File
	enc  *wav.Encoder
}

func NewDumpWriter(path string, sampleRate int) (*DumpWriter, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dump dir: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create dump file: %w", err)
	}
	return &DumpWriter{
		file: file,
		enc:  wav.NewEncoder(file, sampleRate, 16, 1, 1),
	}, nil
}

// Write appends S16LE mono samples to the recording.
func (d *DumpWriter) Write(pcm []byte) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	buf := &gaudio.IntBuffer{
		Format: &gaudio.Format{NumChannels: 1, SampleRate: d.enc.SampleRate},
		Data:   make([]int, len(pcm)/2),
	}
	for i := range buf.Data {
		buf.Data[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	if err := d.enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	return nil
}

func (d *DumpWriter) Close() error {
	if err := d.enc.Close(); err != nil {
		d.file.Close()
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return d.file.Close()
}
