package download

import (
	"context"
	"crypto/sha1"
	"net"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"bittorrent/bencode"
	"bittorrent/metainfo"
	"bittorrent/tracker"
)

func TestWorkQueuePopDrainsExactlyOnce(t *testing.T) {
	tor := buildSchedulerTestTorrent(t, 3, 4, []byte("aaaabbbbccccdddd"))
	q := NewWorkQueue(tor)

	seen := map[int]bool{}
	for {
		pi, ok := q.Pop()
		if !ok {
			break
		}
		require.False(t, seen[pi.Index], "piece %d popped twice", pi.Index)
		seen[pi.Index] = true
	}
	require.Len(t, seen, tor.PieceCount())
}

func TestOutputFilePreExtendsToSize(t *testing.T) {
	path := t.TempDir() + "/out.bin"
	out, err := createOutputFile(path, 10)
	require.NoError(t, err)
	defer out.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.EqualValues(t, 10, info.Size())

	require.NoError(t, out.WriteAt(2, []byte("XY")))
	out.Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, byte('X'), data[2])
	require.Equal(t, byte('Y'), data[3])
}

func TestDownloadSucceedsAgainstFakePeers(t *testing.T) {
	pieceData := [][]byte{
		[]byte("0123456789abcdef"), // piece 0, 16 bytes
		[]byte("ZZZZ"),             // piece 1, 4 bytes (shorter final piece)
	}
	allBytes := append(append([]byte{}, pieceData[0]...), pieceData[1]...)
	tor := buildSchedulerTestTorrent(t, 16, int64(len(allBytes)), allBytes)
	infoHash := tor.InfoHash()

	addr1 := startFakePeer(t, infoHash, Bitfield2Peer(true, true), pieceData)
	addr2 := startFakePeer(t, infoHash, Bitfield2Peer(true, true), pieceData)

	outPath := t.TempDir() + "/payload.bin"
	err := Download(context.Background(), tor, []tracker.PeerAddress{addr1, addr2}, outPath, nil)
	require.NoError(t, err)

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Equal(t, allBytes, got)
}

// --- test helpers ---

func buildSchedulerTestTorrent(t *testing.T, pieceLength int64, totalLength int64, payload []byte) *metainfo.Torrent {
	t.Helper()

	pieceCount := int((totalLength + pieceLength - 1) / pieceLength)
	hashes := make([]byte, 0, pieceCount*20)
	for i := 0; i < pieceCount; i++ {
		start := int64(i) * pieceLength
		end := start + pieceLength
		if end > totalLength {
			end = totalLength
		}
		h := sha1.Sum(payload[start:end])
		hashes = append(hashes, h[:]...)
	}

	info := bencode.NewDict([]bencode.KV{
		{Key: []byte("name"), Value: bencode.NewString([]byte("test.bin"))},
		{Key: []byte("piece length"), Value: bencode.NewInt(pieceLength)},
		{Key: []byte("length"), Value: bencode.NewInt(totalLength)},
		{Key: []byte("pieces"), Value: bencode.NewString(hashes)},
	})
	top := bencode.NewDict([]bencode.KV{
		{Key: []byte("announce"), Value: bencode.NewString([]byte("http://tracker.example/announce"))},
		{Key: []byte("info"), Value: info},
	})

	tor, err := metainfo.Parse(bencode.Encode(top))
	require.NoError(t, err)
	return tor
}

// Bitfield2Peer builds a two-piece bitfield for the fake peer to advertise.
func Bitfield2Peer(hasPiece0, hasPiece1 bool) []byte {
	var b byte
	if hasPiece0 {
		b |= 0x80
	}
	if hasPiece1 {
		b |= 0x40
	}
	return []byte{b}
}

// startFakePeer listens on an ephemeral localhost port and, for every
// accepted connection, drives one scheduler worker's full session: the
// setup handshake, then repeated request/piece exchanges for whichever
// piece indexes it is asked for, serving from pieceData by index.
func startFakePeer(t *testing.T, infoHash [20]byte, bitfield []byte, pieceData [][]byte) tracker.PeerAddress {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveFakePeerConn(conn, infoHash, bitfield, pieceData)
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return tracker.PeerAddress{IP: net.ParseIP(host), Port: uint16(port)}
}

func serveFakePeerConn(conn net.Conn, infoHash [20]byte, bitfield []byte, pieceData [][]byte) {
	defer conn.Close()

	buf := make([]byte, 68)
	if _, err := readFull(conn, buf); err != nil {
		return
	}
	var peerID [20]byte
	copy(peerID[:], "11111111111111111111")
	resp := make([]byte, 68)
	resp[0] = 19
	copy(resp[1:20], "BitTorrent protocol")
	copy(resp[28:48], infoHash[:])
	copy(resp[48:68], peerID[:])
	if _, err := conn.Write(resp); err != nil {
		return
	}

	bfMsg := make([]byte, 4+1+len(bitfield))
	putUint32(bfMsg[0:4], uint32(1+len(bitfield)))
	bfMsg[4] = 5 // bitfield
	copy(bfMsg[5:], bitfield)
	if _, err := conn.Write(bfMsg); err != nil {
		return
	}

	lengthBuf := make([]byte, 4)
	if _, err := readFull(conn, lengthBuf); err != nil {
		return
	}
	msgLen := uint32From(lengthBuf)
	rest := make([]byte, msgLen)
	if _, err := readFull(conn, rest); err != nil {
		return
	}
	// rest[0] == 2 (interested), ignore payload.

	unchoke := make([]byte, 5)
	putUint32(unchoke[0:4], 1)
	unchoke[4] = 1
	if _, err := conn.Write(unchoke); err != nil {
		return
	}

	for {
		if _, err := readFull(conn, lengthBuf); err != nil {
			return
		}
		msgLen = uint32From(lengthBuf)
		body := make([]byte, msgLen)
		if _, err := readFull(conn, body); err != nil {
			return
		}
		if body[0] != 6 { // request
			continue
		}
		index := int(uint32From(body[1:5]))
		begin := int(uint32From(body[5:9]))
		length := int(uint32From(body[9:13]))

		if index >= len(pieceData) {
			return
		}
		block := pieceData[index][begin : begin+length]

		piece := make([]byte, 4+1+8+len(block))
		putUint32(piece[0:4], uint32(1+8+len(block)))
		piece[4] = 7 // piece
		putUint32(piece[5:9], uint32(index))
		putUint32(piece[9:13], uint32(begin))
		copy(piece[13:], block)
		if _, err := conn.Write(piece); err != nil {
			return
		}
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func uint32From(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
