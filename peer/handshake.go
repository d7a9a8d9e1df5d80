package peer

import (
	"bytes"
	"io"

	"bittorrent/bterr"
)

const protocolName = "BitTorrent protocol"

// handshakeLen is the fixed wire size: 1 (pstrlen) + 19 (pstr) + 8
// (reserved) + 20 (info hash) + 20 (peer id).
const handshakeLen = 1 + len(protocolName) + 8 + 20 + 20

// handshake is the fixed 68-byte message exchanged in both directions at
// the start of every peer connection.
type handshake struct {
	InfoHash [20]byte
	PeerID   [20]byte
}

func (h handshake) serialize() []byte {
	buf := make([]byte, 0, handshakeLen)
	buf = append(buf, byte(len(protocolName)))
	buf = append(buf, protocolName...)
	buf = append(buf, make([]byte, 8)...) // reserved
	buf = append(buf, h.InfoHash[:]...)
	buf = append(buf, h.PeerID[:]...)
	return buf
}

func readHandshake(r io.Reader, wantInfoHash [20]byte) (handshake, error) {
	const op = "peer: handshake"

	buf := make([]byte, handshakeLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return handshake{}, bterr.Wrap(op, bterr.NetworkFailure, err)
	}

	if buf[0] != byte(len(protocolName)) {
		return handshake{}, bterr.Newf(op, bterr.ProtocolViolation, "unexpected pstrlen %d", buf[0])
	}
	if string(buf[1:1+len(protocolName)]) != protocolName {
		return handshake{}, bterr.Newf(op, bterr.ProtocolViolation, "unexpected protocol string %q", buf[1:1+len(protocolName)])
	}

	var h handshake
	cursor := 1 + len(protocolName) + 8
	copy(h.InfoHash[:], buf[cursor:cursor+20])
	cursor += 20
	copy(h.PeerID[:], buf[cursor:cursor+20])

	if !bytes.Equal(h.InfoHash[:], wantInfoHash[:]) {
		return handshake{}, bterr.Newf(op, bterr.ProtocolViolation,
			"info hash mismatch: expected %x, got %x", wantInfoHash, h.InfoHash)
	}
	return h, nil
}
