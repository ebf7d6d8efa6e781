package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"path/filepath"
	"testing"
)

func pcmSamples(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestMuLawSilence(t *testing.T) {
	got := EncodeMuLaw(pcmSamples(0, 0))
	if !bytes.Equal(got, []byte{MuLawSilence, MuLawSilence}) {
		t.Fatalf("EncodeMuLaw(0) = %x, want ffff", got)
	}
	if n := len(Silence(20)); n != 160 {
		t.Fatalf("len(Silence(20)) = %d, want 160", n)
	}
	if Silence(0) != nil {
		t.Fatalf("Silence(0) should be nil")
	}
}

func TestMuLawRoundTripIsClose(t *testing.T) {
	in := []int16{0, 100, -100, 1000, -1000, 8000, -8000, 32000, -32000}
	out := DecodeMuLaw(EncodeMuLaw(pcmSamples(in...)))
	for i, want := range in {
		got := int16(binary.LittleEndian.Uint16(out[i*2:]))
		diff := int(got) - int(want)
		if diff < 0 {
			diff = -diff
		}
		mag := int(want)
		if mag < 0 {
			mag = -mag
		}
		// Quantization step grows with magnitude.
		limit := mag/16 + 8
		if diff > limit {
			t.Fatalf("sample %d: decoded %d from %d (diff %d > %d)", i, got, want, diff, limit)
		}
	}
}

func TestResamplePCM16(t *testing.T) {
	in := pcmSamples(0, 100, 200, 300)
	if got := ResamplePCM16(in, 8000, 8000); !bytes.Equal(got, in) {
		t.Fatalf("same-rate resample changed data")
	}
	down := ResamplePCM16(in, 16000, 8000)
	if len(down) != 4 {
		t.Fatalf("len(down) = %d, want 4", len(down))
	}
	if s := int16(binary.LittleEndian.Uint16(down[2:])); s != 200 {
		t.Fatalf("down[1] = %d, want 200", s)
	}
	up := ResamplePCM16(pcmSamples(0, 100), 8000, 16000)
	if s := int16(binary.LittleEndian.Uint16(up[2:])); s != 50 {
		t.Fatalf("up[1] = %d, want 50", s)
	}
}

func TestWAVFileRoundTrip(t *testing.T) {
	pcm := pcmSamples(0, 1000, -1000)
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := WriteWAVPCM16LEFile(path, pcm, 8000); err != nil {
		t.Fatalf("WriteWAVPCM16LEFile() error = %v", err)
	}
	got, rate, err := ReadWAVFile(path)
	if err != nil {
		t.Fatalf("ReadWAVFile() error = %v", err)
	}
	if rate != 8000 {
		t.Fatalf("rate = %d, want 8000", rate)
	}
	if !bytes.Equal(got, pcm) {
		t.Fatalf("pcm = %v, want %v", got, pcm)
	}
}

func TestDecodeWAVPCM16StereoDownmix(t *testing.T) {
	// L=1000,R=-1000 then L=3000,R=1000
	stereo := pcmSamples(1000, -1000, 3000, 1000)
	var b bytes.Buffer
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(36+len(stereo)))
	b.WriteString("WAVEfmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(16))
	_ = binary.Write(&b, binary.LittleEndian, uint16(1))
	_ = binary.Write(&b, binary.LittleEndian, uint16(2))
	_ = binary.Write(&b, binary.LittleEndian, uint32(24000))
	_ = binary.Write(&b, binary.LittleEndian, uint32(24000*4))
	_ = binary.Write(&b, binary.LittleEndian, uint16(4))
	_ = binary.Write(&b, binary.LittleEndian, uint16(16))
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, uint32(len(stereo)))
	b.Write(stereo)

	got, rate, err := DecodeWAVPCM16(b.Bytes())
	if err != nil {
		t.Fatalf("DecodeWAVPCM16() error = %v", err)
	}
	if rate != 24000 {
		t.Fatalf("rate = %d, want 24000", rate)
	}
	if !bytes.Equal(got, pcmSamples(0, 2000)) {
		t.Fatalf("downmix = %v", got)
	}
}

func TestDecodeWAVPCM16RejectsGarbage(t *testing.T) {
	if _, _, err := DecodeWAVPCM16([]byte("not a wav file")); !errors.Is(err, ErrInvalidWAV) {
		t.Fatalf("DecodeWAVPCM16() error = %v, want ErrInvalidWAV", err)
	}
}
