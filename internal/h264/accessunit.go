// Package h264 groups an Annex-B H.264 byte stream into access units.
package h264

import (
	"errors"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4/pkg/media/h264reader"
)

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// AccessUnit is one coded picture with its parameter sets, in Annex-B form.
type AccessUnit struct {
	Data     []byte
	Keyframe bool
	NALs     int
}

// Reader splits a byte stream into access units. A new unit starts at an
// access unit delimiter, or, for streams without delimiters, at a parameter
// set or first slice that follows a slice of the previous picture.
type Reader struct {
	nals    *h264reader.H264Reader
	current AccessUnit
	hasVCL  bool
	err     error
}

// NewReader wraps a byte stream.
func NewReader(r io.Reader) (*Reader, error) {
	nals, err := h264reader.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create h264 reader: %w", err)
	}
	return &Reader{nals: nals}, nil
}

// Next returns the next complete access unit. At the end of the stream the
// trailing unit is returned first, then io.EOF.
func (r *Reader) Next() (AccessUnit, error) {
	for {
		if r.err != nil {
			return r.flush(r.err)
		}

		nal, err := r.nals.NextNAL()
		if err != nil {
			r.err = err
			continue
		}
		if len(nal.Data) == 0 {
			continue
		}

		if r.startsNewUnit(nal) {
			au := r.current
			r.reset()
			r.appendNAL(nal)
			return au, nil
		}
		r.appendNAL(nal)
	}
}

func (r *Reader) flush(err error) (AccessUnit, error) {
	if r.current.NALs > 0 {
		au := r.current
		r.reset()
		return au, nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return AccessUnit{}, io.EOF
	}
	return AccessUnit{}, err
}

func (r *Reader) startsNewUnit(nal *h264reader.NAL) bool {
	if r.current.NALs == 0 {
		return false
	}
	switch nal.UnitType {
	case h264reader.NalUnitTypeAUD:
		return true
	case h264reader.NalUnitTypeSPS, h264reader.NalUnitTypePPS:
		return r.hasVCL
	}
	if isVCL(nal.UnitType) && r.hasVCL {
		return firstSliceOfPicture(nal.Data)
	}
	return false
}

func (r *Reader) appendNAL(nal *h264reader.NAL) {
	r.current.Data = append(r.current.Data, startCode...)
	r.current.Data = append(r.current.Data, nal.Data...)
	r.current.NALs++
	if nal.UnitType == h264reader.NalUnitTypeCodedSliceIdr {
		r.current.Keyframe = true
	}
	if isVCL(nal.UnitType) {
		r.hasVCL = true
	}
}

func (r *Reader) reset() {
	r.current = AccessUnit{}
	r.hasVCL = false
}

func isVCL(t h264reader.NalUnitType) bool {
	return t >= h264reader.NalUnitTypeCodedSliceNonIdr && t <= h264reader.NalUnitTypeCodedSliceIdr
}

// firstSliceOfPicture reports whether first_mb_in_slice is zero. It is the
// first ue(v) field of the slice header, so a leading 1 bit encodes zero.
func firstSliceOfPicture(data []byte) bool {
	return len(data) > 1 && data[1]&0x80 != 0
}

// IsKeyframe reports whether an Annex-B payload contains an IDR slice.
func IsKeyframe(payload []byte) bool {
	zeros := 0
	for i := 0; i < len(payload); i++ {
		b := payload[i]
		switch {
		case b == 0:
			zeros++
			continue
		case b == 1 && zeros >= 2 && i+1 < len(payload):
			if payload[i+1]&0x1F == byte(h264reader.NalUnitTypeCodedSliceIdr) {
				return true
			}
		}
		zeros = 0
	}
	return false
}
