package peer

import (
	"bytes"
	"crypto/sha1"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"bittorrent/bterr"
	"bittorrent/config"
	"bittorrent/metainfo"
	"bittorrent/tracker"
)

// state enumerates the session setup state machine's stages. A Session
// constructed by Dial has always reached Ready, or the constructor failed
// and no Session was returned.
type state int

const (
	stateInit state = iota
	stateHandshaked
	stateHaveBitfield
	stateInterested
	stateReady
)

// Session owns one TCP connection to a peer: it runs the handshake, reads
// the bitfield, announces interest, waits for unchoke, and then exchanges
// request/piece messages for whichever pieces its caller asks for. A
// Session is owned exclusively by one goroutine for its lifetime.
type Session struct {
	Conn     net.Conn
	PeerID   [20]byte
	Bitfield Bitfield

	infoHash [20]byte
	choked   bool
	state    state
	log      *logrus.Entry
}

// Dial connects to addr and drives the session through handshake, bitfield,
// interested, and unchoke, returning a Session in the Ready state.
func Dial(addr tracker.PeerAddress, infoHash [20]byte, log *logrus.Entry) (*Session, error) {
	const op = "peer: dial"

	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("peer", addr.String())

	conn, err := net.DialTimeout("tcp", addr.String(), config.DialTimeout)
	if err != nil {
		return nil, bterr.Wrap(op, bterr.NetworkFailure, err)
	}

	s := &Session{Conn: conn, infoHash: infoHash, choked: true, log: log}
	if err := s.setup(); err != nil {
		conn.Close()
		return nil, err
	}
	log.WithField("peer_id", hexString(s.PeerID[:])).Info("peer session ready")
	return s, nil
}

func (s *Session) setup() error {
	if err := s.doHandshake(); err != nil {
		return err
	}
	if err := s.readInitialBitfield(); err != nil {
		return err
	}
	if err := s.sendInterested(); err != nil {
		return err
	}
	return s.awaitUnchoke()
}

func (s *Session) doHandshake() error {
	const op = "peer: handshake"

	s.Conn.SetDeadline(time.Now().Add(config.IOTimeout))
	defer s.Conn.SetDeadline(time.Time{})

	req := handshake{InfoHash: s.infoHash, PeerID: config.PeerID()}
	if _, err := s.Conn.Write(req.serialize()); err != nil {
		return bterr.Wrap(op, bterr.NetworkFailure, err)
	}

	resp, err := readHandshake(s.Conn, s.infoHash)
	if err != nil {
		return err
	}
	s.PeerID = resp.PeerID
	s.state = stateHandshaked
	return nil
}

func (s *Session) readInitialBitfield() error {
	const op = "peer: initial bitfield"

	s.Conn.SetDeadline(time.Now().Add(config.IOTimeout))
	defer s.Conn.SetDeadline(time.Time{})

	msg, err := readMessage(s.Conn)
	if err != nil {
		return err
	}
	if msg.ID != msgBitfield {
		return bterr.Newf(op, bterr.ProtocolViolation, "expected bitfield, got %s", msg.ID)
	}
	bf := Bitfield(msg.Payload)
	if bf.Empty() {
		return bterr.NewProtocolViolation(op, "peer holds no pieces")
	}
	s.Bitfield = bf
	s.state = stateHaveBitfield
	return nil
}

func (s *Session) sendInterested() error {
	const op = "peer: send interested"

	s.Conn.SetDeadline(time.Now().Add(config.IOTimeout))
	defer s.Conn.SetDeadline(time.Time{})

	if _, err := s.Conn.Write(interestedMessage().serialize()); err != nil {
		return bterr.Wrap(op, bterr.NetworkFailure, err)
	}
	s.state = stateInterested
	return nil
}

func (s *Session) awaitUnchoke() error {
	const op = "peer: await unchoke"

	for {
		s.Conn.SetDeadline(time.Now().Add(config.IOTimeout))
		msg, err := readMessage(s.Conn)
		s.Conn.SetDeadline(time.Time{})
		if err != nil {
			return err
		}
		switch msg.ID {
		case msgUnchoke:
			s.choked = false
			s.state = stateReady
			return nil
		case msgChoke:
			s.choked = true
		case msgHave:
			index, err := parseHaveMessage(msg)
			if err != nil {
				return err
			}
			s.Bitfield.Set(index)
		default:
			return bterr.Newf(op, bterr.ProtocolViolation, "unexpected message %s while awaiting unchoke", msg.ID)
		}
	}
}

// HasPiece reports whether the peer has announced piece index.
func (s *Session) HasPiece(index int) bool { return s.Bitfield.Has(index) }

// DownloadPiece fetches and validates one piece: it requests blocks one at
// a time, waits for each response (processing any interleaved choke,
// unchoke, or have message along the way), and checks the accumulated
// buffer's SHA-1 against pi.Hash before returning it.
func (s *Session) DownloadPiece(pi metainfo.PieceInfo) ([]byte, error) {
	const op = "peer: download piece"

	buf := make([]byte, pi.Length)
	requested := 0
	downloaded := 0

	// pendingBegin/pendingLength describe the one outstanding request this
	// session is waiting on a response for; pendingBegin is -1 when no
	// request is outstanding. Tracked explicitly, rather than recomputed
	// each loop iteration, so a piece response is validated against what
	// was actually asked for even if a choke/unchoke/have message
	// interleaves first.
	pendingBegin := -1
	pendingLength := 0

	defer s.Conn.SetDeadline(time.Time{})

	for downloaded < int(pi.Length) {
		s.Conn.SetDeadline(time.Now().Add(config.IOTimeout))
		if s.choked {
			if err := s.waitForUnchoke(); err != nil {
				return nil, err
			}
			continue
		}

		if pendingBegin < 0 {
			blockSize := config.BlockSize
			if remaining := int(pi.Length) - requested; remaining < blockSize {
				blockSize = remaining
			}
			if _, err := s.Conn.Write(requestMessage(pi.Index, requested, blockSize).serialize()); err != nil {
				return nil, bterr.Wrap(op, bterr.NetworkFailure, err)
			}
			pendingBegin, pendingLength = requested, blockSize
			requested += blockSize
		}

		msg, err := readMessage(s.Conn)
		if err != nil {
			return nil, err
		}
		switch msg.ID {
		case msgPiece:
			n, err := parsePieceMessage(pi.Index, pendingBegin, pendingLength, buf, msg)
			if err != nil {
				return nil, err
			}
			downloaded += n
			pendingBegin = -1
		case msgChoke:
			s.choked = true
		case msgUnchoke:
			s.choked = false
		case msgHave:
			index, err := parseHaveMessage(msg)
			if err != nil {
				return nil, err
			}
			s.Bitfield.Set(index)
		default:
			s.log.WithField("piece", pi.Index).Debugf("ignoring unexpected message %s mid-piece", msg.ID)
		}
	}

	sum := sha1.Sum(buf)
	if !bytes.Equal(sum[:], pi.Hash[:]) {
		return nil, bterr.Newf(op, bterr.IntegrityFailure, "piece %d hash mismatch: got %x, want %x", pi.Index, sum, pi.Hash)
	}
	return buf, nil
}

func (s *Session) waitForUnchoke() error {
	msg, err := readMessage(s.Conn)
	if err != nil {
		return err
	}
	switch msg.ID {
	case msgUnchoke:
		s.choked = false
	case msgChoke:
		s.choked = true
	case msgHave:
		index, err := parseHaveMessage(msg)
		if err != nil {
			return err
		}
		s.Bitfield.Set(index)
	}
	return nil
}

// Close releases the underlying connection.
func (s *Session) Close() error { return s.Conn.Close() }

func hexString(b []byte) string {
	const hex = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hex[c>>4]
		out[i*2+1] = hex[c&0xf]
	}
	return string(out)
}
