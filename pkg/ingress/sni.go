package ingress

import (
	"bufio"
	"errors"
	"io"
	"net"
	"os"
	"time"
)

// SniffResult classifies what the sniffer saw on a fresh connection
type SniffResult int

const (
	SniFound SniffResult = iota
	SniNone              // valid TLS ClientHello without a server_name
	SniNotTLS
	SniTimeout
	SniMalformed
	SniIOError
)

func (r SniffResult) String() string {
	switch r {
	case SniFound:
		return "found"
	case SniNone:
		return "no_sni"
	case SniNotTLS:
		return "not_tls"
	case SniTimeout:
		return "timeout"
	case SniMalformed:
		return "malformed"
	default:
		return "io_error"
	}
}

const (
	// sniffLimit caps how much of the ClientHello we will buffer
	sniffLimit = 8192
	// sniffTimeout bounds how long a client may dawdle before sending it
	sniffTimeout = 200 * time.Millisecond

	recordTypeHandshake  = 22
	handshakeClientHello = 1
	extensionServerName  = 0
	sniTypeHostname      = 0
)

// SniffSNI reads the start of a connection and extracts the SNI
// hostname without terminating TLS. The returned reader replays the
// consumed bytes ahead of the rest of the connection.
func SniffSNI(conn net.Conn) (hostname string, result SniffResult, replay io.Reader) {
	if err := conn.SetReadDeadline(time.Now().Add(sniffTimeout)); err != nil {
		return "", SniIOError, nil
	}
	defer conn.SetReadDeadline(time.Time{})

	br := bufio.NewReaderSize(conn, sniffLimit)

	// record header: type(1) version(2) length(2)
	header, err := br.Peek(5)
	if err != nil {
		return "", classifyErr(err), readerFor(br)
	}
	if header[0] != recordTypeHandshake {
		return "", SniNotTLS, readerFor(br)
	}
	recordVersion := int(header[1])<<8 | int(header[2])
	if recordVersion < 0x0300 || recordVersion > 0x0303 {
		return "", SniNotTLS, readerFor(br)
	}
	recordLen := int(header[3])<<8 | int(header[4])
	if recordLen <= 0 {
		return "", SniMalformed, readerFor(br)
	}
	if 5+recordLen > sniffLimit {
		recordLen = sniffLimit - 5
	}

	record, err := br.Peek(5 + recordLen)
	if err != nil {
		return "", classifyErr(err), readerFor(br)
	}

	host, ok, malformed := parseClientHello(record[5:])
	switch {
	case malformed:
		return "", SniMalformed, readerFor(br)
	case !ok:
		return "", SniNone, readerFor(br)
	default:
		return host, SniFound, readerFor(br)
	}
}

func readerFor(br *bufio.Reader) io.Reader { return br }

func classifyErr(err error) SniffResult {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return SniTimeout
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return SniTimeout
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return SniMalformed
	}
	return SniIOError
}

// parseClientHello walks the handshake body looking for the server_name
// extension. Returns (host, found, malformed).
func parseClientHello(data []byte) (string, bool, bool) {
	// handshake header: type(1) length(3)
	if len(data) < 4 || data[0] != handshakeClientHello {
		return "", false, true
	}
	data = data[4:]

	// version(2) random(32)
	if len(data) < 34 {
		return "", false, true
	}
	data = data[34:]

	// session id
	if len(data) < 1 {
		return "", false, true
	}
	sessionLen := int(data[0])
	data = data[1:]
	if len(data) < sessionLen {
		return "", false, true
	}
	data = data[sessionLen:]

	// cipher suites
	if len(data) < 2 {
		return "", false, true
	}
	cipherLen := int(data[0])<<8 | int(data[1])
	data = data[2:]
	if len(data) < cipherLen {
		return "", false, true
	}
	data = data[cipherLen:]

	// compression methods
	if len(data) < 1 {
		return "", false, true
	}
	compLen := int(data[0])
	data = data[1:]
	if len(data) < compLen {
		return "", false, true
	}
	data = data[compLen:]

	// a hello with no extensions is valid, just has no SNI
	if len(data) == 0 {
		return "", false, false
	}
	if len(data) < 2 {
		return "", false, true
	}
	extTotal := int(data[0])<<8 | int(data[1])
	data = data[2:]
	if len(data) < extTotal {
		// truncated by the sniff limit; treat what we have as final
		extTotal = len(data)
	}
	exts := data[:extTotal]

	for len(exts) >= 4 {
		extType := int(exts[0])<<8 | int(exts[1])
		extLen := int(exts[2])<<8 | int(exts[3])
		exts = exts[4:]
		if len(exts) < extLen {
			return "", false, true
		}
		if extType == extensionServerName {
			return parseServerNameExt(exts[:extLen])
		}
		exts = exts[extLen:]
	}
	return "", false, false
}

func parseServerNameExt(ext []byte) (string, bool, bool) {
	if len(ext) < 2 {
		return "", false, true
	}
	listLen := int(ext[0])<<8 | int(ext[1])
	ext = ext[2:]
	if len(ext) < listLen {
		return "", false, true
	}

	for len(ext) >= 3 {
		nameType := ext[0]
		nameLen := int(ext[1])<<8 | int(ext[2])
		ext = ext[3:]
		if len(ext) < nameLen {
			return "", false, true
		}
		if nameType == sniTypeHostname {
			return string(ext[:nameLen]), true, false
		}
		ext = ext[nameLen:]
	}
	return "", false, false
}
