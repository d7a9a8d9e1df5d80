// Package tracker issues the HTTP announce request described by the
// BitTorrent tracker protocol and parses the compact peer list out of its
// bencoded response.
package tracker

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/jackpal/bencode-go"
	"github.com/sirupsen/logrus"

	"bittorrent/bterr"
	"bittorrent/config"
	"bittorrent/metainfo"
)

const peerAddrSize = 6

// PeerAddress is an IPv4 address and port decoded from a tracker's compact
// peer list.
type PeerAddress struct {
	IP   net.IP
	Port uint16
}

func (p PeerAddress) String() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(int(p.Port)))
}

// response mirrors the bencoded dict a tracker returns. FailureReason is
// only populated on the failure shape; Peers only on the success shape.
type response struct {
	FailureReason string `bencode:"failure reason"`
	Interval      int    `bencode:"interval"`
	MinInterval   int    `bencode:"min interval"`
	Complete      int    `bencode:"complete"`
	Incomplete    int    `bencode:"incomplete"`
	Peers         string `bencode:"peers"`
}

// Client announces to a single torrent's tracker over HTTP.
type Client struct {
	HTTP *http.Client
	Log  *logrus.Entry
}

// NewClient builds a tracker Client with the timeout mandated by the
// announce protocol.
func NewClient(log *logrus.Entry) *Client {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{
		HTTP: &http.Client{Timeout: config.TrackerTimeout},
		Log:  log,
	}
}

// RequestPeers announces t's info hash, left bytes, and client identity to
// the torrent's announce URL and returns the peers it reports.
func (c *Client) RequestPeers(t *metainfo.Torrent) ([]PeerAddress, error) {
	const op = "tracker: announce"

	announceURL, err := c.buildAnnounceURL(t)
	if err != nil {
		return nil, bterr.Wrap(op, bterr.MalformedInput, err)
	}

	c.Log.WithField("announce", t.Announce).Info("requesting peers from tracker")

	resp, err := c.HTTP.Get(announceURL)
	if err != nil {
		return nil, bterr.Wrap(op, bterr.NetworkFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, bterr.Newf(op, bterr.NetworkFailure, "tracker returned HTTP %d", resp.StatusCode)
	}

	var tr response
	if err := bencode.Unmarshal(resp.Body, &tr); err != nil {
		return nil, bterr.Wrap(op, bterr.MalformedInput, err)
	}
	if tr.FailureReason != "" {
		return nil, bterr.NewTrackerRejected(op, tr.FailureReason)
	}

	c.Log.WithFields(logrus.Fields{
		"interval":   tr.Interval,
		"complete":   tr.Complete,
		"incomplete": tr.Incomplete,
	}).Debug("tracker announce informational fields")

	peers, err := unmarshalCompactPeers([]byte(tr.Peers))
	if err != nil {
		return nil, bterr.Wrap(op, bterr.MalformedInput, err)
	}

	c.Log.WithField("peer_count", len(peers)).Info("tracker returned peers")
	return peers, nil
}

func (c *Client) buildAnnounceURL(t *metainfo.Torrent) (string, error) {
	base, err := url.Parse(t.Announce)
	if err != nil {
		return "", err
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return "", fmt.Errorf("unsupported announce scheme %q", base.Scheme)
	}

	infoHash := t.InfoHash()
	peerID := config.PeerID()

	params := url.Values{
		"port":       []string{strconv.Itoa(int(config.DefaultPort))},
		"uploaded":   []string{"0"},
		"downloaded": []string{"0"},
		"left":       []string{strconv.FormatInt(t.Info.Length, 10)},
		"compact":    []string{"1"},
	}
	base.RawQuery = params.Encode() +
		"&info_hash=" + percentEncode(infoHash[:]) +
		"&peer_id=" + percentEncode(peerID[:])
	return base.String(), nil
}

// percentEncode escapes raw bytes the way BitTorrent trackers expect for
// binary query values: every byte as %XX, rather than url.QueryEscape's
// text-oriented rules (which leave some bytes unescaped and use '+' for
// space).
func percentEncode(b []byte) string {
	out := make([]byte, 0, len(b)*3)
	const hex = "0123456789ABCDEF"
	for _, c := range b {
		out = append(out, '%', hex[c>>4], hex[c&0xf])
	}
	return string(out)
}

func unmarshalCompactPeers(peers []byte) ([]PeerAddress, error) {
	if len(peers)%peerAddrSize != 0 {
		return nil, fmt.Errorf("compact peers length %d is not a multiple of %d", len(peers), peerAddrSize)
	}
	n := len(peers) / peerAddrSize
	out := make([]PeerAddress, n)
	for i := 0; i < n; i++ {
		off := i * peerAddrSize
		ip := make(net.IP, 4)
		copy(ip, peers[off:off+4])
		out[i] = PeerAddress{
			IP:   ip,
			Port: uint16(peers[off+4])<<8 | uint16(peers[off+5]),
		}
	}
	return out, nil
}
