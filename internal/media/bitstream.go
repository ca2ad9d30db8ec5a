package media

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/mediacore/internal/domain"
)

// Wire layout of one encoded frame, big-endian:
//
//	magic(2) version(1) flags(1) kind(1) reserved(1) width(2) height(2)
//	seq(8) timestamp_ns(8) duration_us(4) bitrate(4) payload...
const (
	frameMagic   uint16 = 0x4d43
	frameVersion byte   = 1
	headerSize          = 36

	flagKeyframe byte = 1 << 0
)

var ErrBadFrame = errors.New("media: malformed frame")

// MarshalFrame serialises f into the header-prefixed wire form.
func MarshalFrame(f *domain.EncodedFrame) []byte {
	buf := make([]byte, headerSize+len(f.Payload))
	binary.BigEndian.PutUint16(buf[0:], frameMagic)
	buf[2] = frameVersion
	if f.Keyframe {
		buf[3] |= flagKeyframe
	}
	buf[4] = byte(kindFromCodec(f.Codec))
	binary.BigEndian.PutUint16(buf[6:], uint16(f.Width))
	binary.BigEndian.PutUint16(buf[8:], uint16(f.Height))
	binary.BigEndian.PutUint64(buf[10:], f.Seq)
	binary.BigEndian.PutUint64(buf[18:], uint64(f.Timestamp))
	binary.BigEndian.PutUint32(buf[26:], uint32(f.Duration/time.Microsecond))
	binary.BigEndian.PutUint32(buf[30:], uint32(f.Bitrate))
	// bytes 34:36 reserved
	copy(buf[headerSize:], f.Payload)
	return buf
}

// UnmarshalFrame parses the wire form. The returned payload aliases b.
func UnmarshalFrame(b []byte, codec string) (*domain.EncodedFrame, error) {
	if len(b) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadFrame, len(b))
	}
	if binary.BigEndian.Uint16(b[0:]) != frameMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrBadFrame)
	}
	if b[2] != frameVersion {
		return nil, fmt.Errorf("%w: version %d", ErrBadFrame, b[2])
	}
	return &domain.EncodedFrame{
		Keyframe:  b[3]&flagKeyframe != 0,
		Codec:     codec,
		Width:     int(binary.BigEndian.Uint16(b[6:])),
		Height:    int(binary.BigEndian.Uint16(b[8:])),
		Seq:       binary.BigEndian.Uint64(b[10:]),
		Timestamp: time.Duration(binary.BigEndian.Uint64(b[18:])),
		Duration:  time.Duration(binary.BigEndian.Uint32(b[26:])) * time.Microsecond,
		Bitrate:   int(binary.BigEndian.Uint32(b[30:])),
		Payload:   b[headerSize:],
	}, nil
}

func kindFromCodec(mime string) domain.MediaKind {
	if strings.EqualFold(mime, CodecOpus) {
		return domain.KindAudio
	}
	return domain.KindVideo
}
