package kde

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"fmt"
)

// BandwidthSnapshot is a compressed copy of the per-pixel bandwidth bins,
// suitable for persisting alongside run records.
type BandwidthSnapshot struct {
	Rows, Cols, Channels int
	Frame                int
	KernelBins           int
	MinBandwidth         float64
	MaxBandwidth         float64
	BinsBlob             []byte // gob+gzip encoded []uint8, frame order
}

// Snapshot captures the current bandwidth bins. It fails before estimation.
func (m *Model) Snapshot() (*BandwidthSnapshot, error) {
	if m.kt == nil {
		return nil, fmt.Errorf("%w: no bandwidths before estimation", ErrOutOfOrder)
	}
	blob, err := encodeBins(m.bwBins)
	if err != nil {
		return nil, err
	}
	return &BandwidthSnapshot{
		Rows:         m.rows,
		Cols:         m.cols,
		Channels:     m.channels,
		Frame:        m.frames,
		KernelBins:   m.kt.bins,
		MinBandwidth: m.kt.minBW,
		MaxBandwidth: m.kt.maxBW,
		BinsBlob:     blob,
	}, nil
}

func encodeBins(bins []uint8) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := gob.NewEncoder(gz)
	if err := enc.Encode(bins); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeBandwidthBins decompresses the bins held in a snapshot blob.
func DecodeBandwidthBins(blob []byte) ([]uint8, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("empty bandwidth blob")
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	var bins []uint8
	if err := gob.NewDecoder(gz).Decode(&bins); err != nil {
		return nil, fmt.Errorf("failed to decode bandwidth bins: %w", err)
	}
	return bins, nil
}

// Bandwidths converts decoded bins back to bandwidth values using the
// snapshot's kernel range.
func (s *BandwidthSnapshot) Bandwidths() ([]float64, error) {
	bins, err := DecodeBandwidthBins(s.BinsBlob)
	if err != nil {
		return nil, err
	}
	if s.KernelBins <= 0 {
		return nil, fmt.Errorf("snapshot has no kernel bins")
	}
	step := (s.MaxBandwidth - s.MinBandwidth) / float64(s.KernelBins)
	out := make([]float64, len(bins))
	for i, b := range bins {
		out[i] = s.MinBandwidth + float64(b)*step
	}
	return out, nil
}
