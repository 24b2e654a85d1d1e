package ingress_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"sfwriter/internal/frame"
	"sfwriter/internal/ingress"
)

func defaultDecoder(t *testing.T) *ingress.Decoder {
	t.Helper()
	d, err := ingress.NewDecoder(map[string]string{
		"pulse_id":      "uint64",
		"frame":         "uint64",
		"is_good_frame": "uint64",
		"daq_rec":       "int64",
	})
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	return d
}

func TestDecodeFrame(t *testing.T) {
	d := defaultDecoder(t)
	meta := []byte(`{"frame": 7, "shape": [2, 2], "type": "uint16", "pulse_id": 42, "daq_rec": -1, "is_good_frame": true}`)
	payload := []byte{1, 0, 2, 0, 3, 0, 4, 0}

	f, err := d.Decode([][]byte{meta, payload})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.Index != 7 || f.DType != frame.Uint16 || f.Endianness != frame.LittleEndian || f.ByteSize != 8 {
		t.Fatalf("unexpected metadata: %+v", f.Metadata)
	}
	if diff := cmp.Diff([]uint64{2, 2}, f.Shape); diff != "" {
		t.Fatalf("shape (-want +got):\n%s", diff)
	}
	want := map[string][]byte{
		"pulse_id":      {42, 0, 0, 0, 0, 0, 0, 0},
		"frame":         {7, 0, 0, 0, 0, 0, 0, 0},
		"is_good_frame": {1, 0, 0, 0, 0, 0, 0, 0},
		"daq_rec":       {0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
	}
	if diff := cmp.Diff(want, f.Header); diff != "" {
		t.Fatalf("header (-want +got):\n%s", diff)
	}
}

func TestDecodeSkipsMissingHeaderFields(t *testing.T) {
	d := defaultDecoder(t)
	f, err := d.Decode([][]byte{[]byte(`{"frame": 1, "shape": [1], "type": "uint8", "endianness": "big"}`), {9}})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := f.Header["pulse_id"]; ok {
		t.Fatal("pulse_id should be absent")
	}
	if f.Endianness != frame.BigEndian {
		t.Fatalf("expected big endian, got %q", f.Endianness)
	}
}

func TestDecodeKeepsFrameWithUnusableHeaderValues(t *testing.T) {
	d := defaultDecoder(t)
	meta := []byte(`{"frame": 7, "shape": [2, 2], "type": "uint16", "pulse_id": 42, "daq_rec": 1.5, "is_good_frame": -5, "frame_extra": 1}`)
	payload := []byte{1, 0, 2, 0, 3, 0, 4, 0}

	f, err := d.Decode([][]byte{meta, payload})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(payload, f.Data); diff != "" {
		t.Fatalf("payload (-want +got):\n%s", diff)
	}
	if _, ok := f.Header["pulse_id"]; !ok {
		t.Fatal("expected pulse_id to survive")
	}
	for _, name := range []string{"daq_rec", "is_good_frame"} {
		if _, ok := f.Header[name]; ok {
			t.Fatalf("%s should be left out of the header", name)
		}
		if f.HeaderErrors[name] == nil {
			t.Fatalf("expected a header error for %s, got %v", name, f.HeaderErrors)
		}
	}
	if len(f.HeaderErrors) != 2 {
		t.Fatalf("expected 2 header errors, got %v", f.HeaderErrors)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	d := defaultDecoder(t)
	cases := map[string][][]byte{
		"single part":    {[]byte(`{"frame": 1, "shape": [1], "type": "uint8"}`)},
		"bad json":       {[]byte(`{"frame":`), {1}},
		"missing frame":  {[]byte(`{"shape": [1], "type": "uint8"}`), {1}},
		"unknown type":   {[]byte(`{"frame": 1, "shape": [1], "type": "complex64"}`), {1}},
		"size mismatch":  {[]byte(`{"frame": 1, "shape": [4], "type": "uint16"}`), {1, 2}},
		"negative frame": {[]byte(`{"frame": -1, "shape": [1], "type": "uint8"}`), {1}},
		"shape overflow": {[]byte(`{"frame": 8, "shape": [4294967296, 4294967296], "type": "uint8"}`), {}},
	}
	for name, parts := range cases {
		if _, err := d.Decode(parts); !errors.Is(err, ingress.ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
}

func TestNewDecoderRejectsUnknownHeaderType(t *testing.T) {
	if _, err := ingress.NewDecoder(map[string]string{"module_number": "JF2.0M_header"}); err == nil {
		t.Fatal("expected error for unknown header type")
	}
}
