package quic

import (
	"errors"
	"sort"
)

const (
	frameTypePadding = 0x00
	frameTypePing    = 0x01
	frameTypeAck     = 0x02
	frameTypeAckECN  = 0x03
	frameTypeCrypto  = 0x06
)

var errInvalidInitialFrame = errors.New("quic: frame type not valid in a client Initial")

type cryptoSegment struct {
	offset uint64
	data   []byte
}

// parseInitialFrames walks the decrypted Initial payload, collecting
// CRYPTO segments. Only PADDING, PING, and CRYPTO may appear in a client
// Initial (RFC 9000 §17.2.2); anything else, including ACK, means this
// is not a client Initial at all.
func parseInitialFrames(payload []byte) ([]cryptoSegment, error) {
	var segments []cryptoSegment
	off := 0
	for off < len(payload) {
		frameType := payload[off]
		off++
		switch frameType {
		case frameTypePadding, frameTypePing:
			continue
		case frameTypeCrypto:
			cryptoOffset, n, ok := decodeVarint(payload[off:])
			if !ok {
				return nil, errors.New("quic: truncated crypto frame offset")
			}
			off += n
			length, n, ok := decodeVarint(payload[off:])
			if !ok {
				return nil, errors.New("quic: truncated crypto frame length")
			}
			off += n
			if uint64(len(payload)-off) < length {
				return nil, errors.New("quic: truncated crypto frame data")
			}
			data := make([]byte, length)
			copy(data, payload[off:off+int(length)])
			off += int(length)
			segments = append(segments, cryptoSegment{offset: cryptoOffset, data: data})
		case frameTypeAck, frameTypeAckECN:
			return nil, errInvalidInitialFrame
		default:
			return nil, errInvalidInitialFrame
		}
	}
	return segments, nil
}

// reassembleCrypto merges CRYPTO segments into a contiguous buffer
// starting at offset 0, truncating at the first gap. A single
// offset-0 segment (the common case) is returned unchanged.
func reassembleCrypto(segments []cryptoSegment) []byte {
	sort.Slice(segments, func(i, j int) bool { return segments[i].offset < segments[j].offset })

	var out []byte
	var next uint64
	for _, seg := range segments {
		if seg.offset > next {
			break
		}
		end := seg.offset + uint64(len(seg.data))
		if end <= next {
			continue
		}
		start := uint64(0)
		if seg.offset < next {
			start = next - seg.offset
		}
		out = append(out, seg.data[start:]...)
		next = end
	}
	return out
}
