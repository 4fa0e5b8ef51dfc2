package coqui

import (
	"encoding/binary"
	"testing"
)

func buildWAV(pcm []byte) []byte {
	var buf []byte
	buf = append(buf, []byte("RIFF")...)
	buf = append(buf, make([]byte, 4)...) // chunk size, unused by the reader
	buf = append(buf, []byte("WAVE")...)

	buf = append(buf, []byte("fmt ")...)
	fmtSize := make([]byte, 4)
	binary.LittleEndian.PutUint32(fmtSize, 16)
	buf = append(buf, fmtSize...)
	buf = append(buf, make([]byte, 16)...)

	buf = append(buf, []byte("data")...)
	dataSize := make([]byte, 4)
	binary.LittleEndian.PutUint32(dataSize, uint32(len(pcm)))
	buf = append(buf, dataSize...)
	buf = append(buf, pcm...)
	return buf
}

func TestFindWAVDataOffset_LocatesDataChunkAfterFmt(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	wav := buildWAV(pcm)

	offset, err := findWAVDataOffset(wav)
	if err != nil {
		t.Fatalf("findWAVDataOffset returned error: %v", err)
	}
	got := wav[offset:]
	if len(got) != len(pcm) {
		t.Fatalf("data length = %d, want %d", len(got), len(pcm))
	}
	for i := range pcm {
		if got[i] != pcm[i] {
			t.Errorf("byte %d = %d, want %d", i, got[i], pcm[i])
		}
	}
}

func TestFindWAVDataOffset_RejectsNonRIFF(t *testing.T) {
	if _, err := findWAVDataOffset([]byte("not a wav file")); err == nil {
		t.Fatal("expected error for non-RIFF input")
	}
}

func TestNew_RejectsEmptyServerURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty serverURL")
	}
}
