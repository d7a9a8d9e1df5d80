// Package config centralises the client identity and timing constants used
// across the tracker, peer, and download packages so they are declared once
// rather than re-literaled at each call site.
package config

import "time"

const (
	// DefaultPeerID is the 20-byte client identifier sent to trackers and
	// peers. Fixed, matching the reference test corpus.
	DefaultPeerID = "00112233445566778899"

	// DefaultPort is advertised to the tracker; this client never binds it.
	DefaultPort uint16 = 6881

	// BlockSize is the unit of a piece request/response.
	BlockSize = 16 * 1024

	// MaxBlockPayload bounds an accepted "piece" message payload: an
	// index, an offset, and at most one block of data.
	MaxBlockPayload = BlockSize + 8

	// TrackerTimeout bounds the announce GET.
	TrackerTimeout = 10 * time.Second

	// DialTimeout bounds establishing the peer TCP connection.
	DialTimeout = 2 * time.Second

	// IOTimeout bounds each peer socket read/write during setup and
	// piece exchange.
	IOTimeout = 2 * time.Second
)

// PeerID returns the fixed client peer id as a [20]byte array, as required
// by the handshake and tracker wire formats.
func PeerID() [20]byte {
	var id [20]byte
	copy(id[:], DefaultPeerID)
	return id
}
