package audio

import "encoding/binary"

// TelephonySampleRate is the fixed rate of G.711 media-stream audio.
const TelephonySampleRate = 8000

const (
	muLawBias = 0x84
	muLawClip = 32635
)

// MuLawSilence is the encoded value of a zero sample.
const MuLawSilence byte = 0xFF

// EncodeMuLaw converts PCM16LE mono samples to 8-bit G.711 mu-law.
func EncodeMuLaw(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := range out {
		out[i] = linearToMuLaw(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return out
}

// DecodeMuLaw converts G.711 mu-law bytes back to PCM16LE mono samples.
func DecodeMuLaw(ulaw []byte) []byte {
	out := make([]byte, len(ulaw)*2)
	for i, b := range ulaw {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(muLawToLinear(b)))
	}
	return out
}

// Silence returns ms milliseconds of mu-law silence at the telephony rate.
func Silence(ms int) []byte {
	if ms <= 0 {
		return nil
	}
	out := make([]byte, TelephonySampleRate*ms/1000)
	for i := range out {
		out[i] = MuLawSilence
	}
	return out
}

// ResamplePCM16 converts PCM16LE mono audio between sample rates with linear
// interpolation.
func ResamplePCM16(pcm []byte, from, to int) []byte {
	if from <= 0 || to <= 0 || from == to || len(pcm) < 2 {
		return pcm
	}
	n := len(pcm) / 2
	outN := int(int64(n) * int64(to) / int64(from))
	out := make([]byte, outN*2)
	sample := func(i int) float64 {
		if i >= n {
			i = n - 1
		}
		return float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	for i := 0; i < outN; i++ {
		pos := float64(i) * float64(from) / float64(to)
		j := int(pos)
		frac := pos - float64(j)
		v := sample(j)*(1-frac) + sample(j+1)*frac
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

func linearToMuLaw(s int16) byte {
	v := int(s)
	sign := 0
	if v < 0 {
		sign = 0x80
		v = -v
	}
	if v > muLawClip {
		v = muLawClip
	}
	v += muLawBias
	exponent := 7
	for mask := 0x4000; v&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (v >> (exponent + 3)) & 0x0F
	return ^byte(sign | exponent<<4 | mantissa)
}

func muLawToLinear(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := int(b>>4) & 0x07
	mantissa := int(b & 0x0F)
	v := ((mantissa << 3) + muLawBias) << exponent
	v -= muLawBias
	if sign != 0 {
		return int16(-v)
	}
	return int16(v)
}
