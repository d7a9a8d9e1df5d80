package peer

import (
	"encoding/binary"
	"io"

	"bittorrent/bterr"
	"bittorrent/config"
)

// messageID identifies a peer wire message's type.
type messageID uint8

const (
	msgChoke         messageID = 0
	msgUnchoke       messageID = 1
	msgInterested    messageID = 2
	msgNotInterested messageID = 3
	msgHave          messageID = 4
	msgBitfield      messageID = 5
	msgRequest       messageID = 6
	msgPiece         messageID = 7
	msgCancel        messageID = 8
)

func (id messageID) String() string {
	switch id {
	case msgChoke:
		return "choke"
	case msgUnchoke:
		return "unchoke"
	case msgInterested:
		return "interested"
	case msgNotInterested:
		return "not_interested"
	case msgHave:
		return "have"
	case msgBitfield:
		return "bitfield"
	case msgRequest:
		return "request"
	case msgPiece:
		return "piece"
	case msgCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// message is one length-prefixed frame of the post-handshake peer stream.
// A nil *message (never returned by readMessage) would represent a
// keep-alive; this client's setup state machine treats an actual keep-alive
// frame (length 0) as a protocol error since it only appears during steady
// state in real swarms, never mid-handshake.
type message struct {
	ID      messageID
	Payload []byte
}

func (m *message) serialize() []byte {
	length := uint32(len(m.Payload) + 1)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)
	return buf
}

func readMessage(r io.Reader) (*message, error) {
	const op = "peer: read message"

	lengthBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lengthBuf); err != nil {
		return nil, bterr.Wrap(op, bterr.NetworkFailure, err)
	}
	length := binary.BigEndian.Uint32(lengthBuf)
	if length == 0 {
		return nil, bterr.NewProtocolViolation(op, "unexpected keep-alive")
	}
	if length-1 > config.MaxBlockPayload {
		return nil, bterr.Newf(op, bterr.ProtocolViolation, "frame payload %d exceeds maximum %d", length-1, config.MaxBlockPayload)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, bterr.Wrap(op, bterr.NetworkFailure, err)
	}
	return &message{ID: messageID(buf[0]), Payload: buf[1:]}, nil
}

func interestedMessage() *message { return &message{ID: msgInterested} }

func requestMessage(index, begin, length int) *message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:12], uint32(length))
	return &message{ID: msgRequest, Payload: payload}
}

// parsePieceMessage validates a "piece" message against the block actually
// requested — index, begin, and length must all match exactly, per the
// protocol discipline of sending one request and reading one matching
// response — and copies its block into buf at the embedded offset. A
// peer that replies with a different (but still in-bounds) offset, such as
// a stale response to an earlier in-flight request, is rejected here rather
// than silently written into the wrong region of buf.
func parsePieceMessage(index, begin, length int, buf []byte, msg *message) (int, error) {
	const op = "peer: parse piece message"

	if msg.ID != msgPiece {
		return 0, bterr.Newf(op, bterr.ProtocolViolation, "expected piece message, got %s", msg.ID)
	}
	if len(msg.Payload) != 8+length {
		return 0, bterr.Newf(op, bterr.ProtocolViolation, "piece payload length %d, want %d", len(msg.Payload), 8+length)
	}
	gotIndex := int(binary.BigEndian.Uint32(msg.Payload[0:4]))
	if gotIndex != index {
		return 0, bterr.Newf(op, bterr.ProtocolViolation, "piece index mismatch: expected %d, got %d", index, gotIndex)
	}
	gotBegin := int(binary.BigEndian.Uint32(msg.Payload[4:8]))
	if gotBegin != begin {
		return 0, bterr.Newf(op, bterr.ProtocolViolation, "piece offset mismatch: expected %d, got %d", begin, gotBegin)
	}
	data := msg.Payload[8:]
	if begin < 0 || begin+len(data) > len(buf) {
		return 0, bterr.Newf(op, bterr.ProtocolViolation, "piece block [%d,%d) out of bounds for length %d", begin, begin+len(data), len(buf))
	}
	copy(buf[begin:], data)
	return len(data), nil
}

func parseHaveMessage(msg *message) (int, error) {
	const op = "peer: parse have message"

	if msg.ID != msgHave {
		return 0, bterr.Newf(op, bterr.ProtocolViolation, "expected have message, got %s", msg.ID)
	}
	if len(msg.Payload) != 4 {
		return 0, bterr.Newf(op, bterr.ProtocolViolation, "have payload length %d, want 4", len(msg.Payload))
	}
	return int(binary.BigEndian.Uint32(msg.Payload)), nil
}
