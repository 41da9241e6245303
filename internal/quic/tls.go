package quic

import "errors"

const (
	handshakeTypeClientHello = 0x01
	extensionServerName      = 0x0000
	serverNameTypeHostName   = 0x00
)

var errNoSNI = errors.New("quic: no SNI extension found")

// extractSNI parses msg as a TLS 1.3 ClientHello handshake message and
// returns its host_name server name, validated against
// [A-Za-z0-9.\-_] per spec §4.8.
func extractSNI(msg []byte) (string, error) {
	if len(msg) < 4 || msg[0] != handshakeTypeClientHello {
		return "", errors.New("quic: not a ClientHello")
	}
	length := int(msg[1])<<16 | int(msg[2])<<8 | int(msg[3])
	body := msg[4:]
	if len(body) < length {
		return "", errors.New("quic: truncated ClientHello")
	}
	body = body[:length]

	r := &byteReader{buf: body}
	if _, ok := r.take(2); !ok { // legacy_version
		return "", errors.New("quic: truncated ClientHello")
	}
	if _, ok := r.take(32); !ok { // random
		return "", errors.New("quic: truncated ClientHello")
	}

	sessionIDLen, ok := r.takeByte()
	if !ok {
		return "", errors.New("quic: truncated ClientHello")
	}
	if _, ok := r.take(int(sessionIDLen)); !ok {
		return "", errors.New("quic: truncated ClientHello")
	}

	cipherSuitesLen, ok := r.takeUint16()
	if !ok {
		return "", errors.New("quic: truncated ClientHello")
	}
	if _, ok := r.take(int(cipherSuitesLen)); !ok {
		return "", errors.New("quic: truncated ClientHello")
	}

	compressionLen, ok := r.takeByte()
	if !ok {
		return "", errors.New("quic: truncated ClientHello")
	}
	if _, ok := r.take(int(compressionLen)); !ok {
		return "", errors.New("quic: truncated ClientHello")
	}

	if r.remaining() == 0 {
		return "", errNoSNI // no extensions at all
	}
	extensionsLen, ok := r.takeUint16()
	if !ok {
		return "", errors.New("quic: truncated ClientHello extensions length")
	}
	extensions, ok := r.take(int(extensionsLen))
	if !ok {
		return "", errors.New("quic: truncated ClientHello extensions")
	}

	return findSNIExtension(extensions)
}

func findSNIExtension(extensions []byte) (string, error) {
	r := &byteReader{buf: extensions}
	for r.remaining() > 0 {
		extType, ok := r.takeUint16()
		if !ok {
			break
		}
		extLen, ok := r.takeUint16()
		if !ok {
			break
		}
		extData, ok := r.take(int(extLen))
		if !ok {
			break
		}
		if extType != extensionServerName {
			continue
		}
		return parseServerNameList(extData)
	}
	return "", errNoSNI
}

func parseServerNameList(data []byte) (string, error) {
	r := &byteReader{buf: data}
	listLen, ok := r.takeUint16()
	if !ok {
		return "", errors.New("quic: truncated server_name_list")
	}
	list, ok := r.take(int(listLen))
	if !ok {
		return "", errors.New("quic: truncated server_name_list")
	}

	lr := &byteReader{buf: list}
	for lr.remaining() > 0 {
		nameType, ok := lr.takeByte()
		if !ok {
			break
		}
		nameLen, ok := lr.takeUint16()
		if !ok {
			break
		}
		name, ok := lr.take(int(nameLen))
		if !ok {
			break
		}
		if nameType != serverNameTypeHostName {
			continue
		}
		if !validHostname(name) {
			return "", errors.New("quic: SNI contains invalid characters")
		}
		return string(name), nil
	}
	return "", errNoSNI
}

func validHostname(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}

// byteReader is a minimal forward-only cursor over a byte slice, used to
// keep the ClientHello/extension parsers free of manual offset tracking.
type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) remaining() int { return len(r.buf) - r.pos }

func (r *byteReader) take(n int) ([]byte, bool) {
	if n < 0 || r.remaining() < n {
		return nil, false
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, true
}

func (r *byteReader) takeByte() (byte, bool) {
	b, ok := r.take(1)
	if !ok {
		return 0, false
	}
	return b[0], true
}

func (r *byteReader) takeUint16() (uint16, bool) {
	b, ok := r.take(2)
	if !ok {
		return 0, false
	}
	return uint16(b[0])<<8 | uint16(b[1]), true
}
