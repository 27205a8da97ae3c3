// Package capture turns captured Ethernet frames into the TCP payload
// bytes the packet factory consumes. It owns Ethernet/IP/TCP header
// parsing, the BPF filter (and its Go-side equivalent for file replay,
// which has no BPF stage), and the warm-up filter that waits for a
// likely clean frame boundary before admitting bytes.
package capture

import (
	"errors"
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/yawning/tickcap/metrics"
)

// ServerPort is the game server's well-known TCP port; only traffic
// sourced from it (the server->client direction) is observed.
const ServerPort = 2050

// BPFFilter is applied to live captures; file replay has no BPF stage
// and performs the equivalent filtering in parseTCPPayload below.
const BPFFilter = "ip proto \\tcp and src port 2050"

// readTimeout is the pcap handle's read timeout, chosen so Stop() (which
// relies on the capture loop periodically checking a stop signal) stays
// responsive.
const readTimeout = time.Second

// snapLen is large enough to capture a full-MTU Ethernet frame.
const snapLen = 65536

// warmUpThreshold is the sub-MTU TCP payload size that marks a likely
// clean frame boundary when joining an in-progress TCP stream.
const warmUpThreshold = 1460

// ErrTimeout is returned by Source.NextPacket when a live capture's read
// timeout elapses with no packet available. It is not a failure: the
// caller should simply call NextPacket again.
var ErrTimeout = errors.New("capture: read timeout")

// Source is the capture collaborator the packet factory consumes. Each
// call reads one captured packet and returns its TCP payload if admitted,
// a nil payload with a nil error if the packet was filtered out or
// withheld by the warm-up filter, ErrTimeout (live capture only, retry),
// or io.EOF (end of stream -- file replay, or a closed live handle).
type Source interface {
	NextPacket() ([]byte, gopacket.CaptureInfo, error)
	Close() error
}

// warmUpFilter holds bytes back until one TCP payload strictly smaller
// than warmUpThreshold has been observed (the packet that triggers this
// is itself not admitted -- it only marks the boundary). Every later
// payload is admitted, including full-MTU ones. Most captures begin
// mid-stream; the first smaller-than-MTU packet is the best available
// signal of a frame boundary.
type warmUpFilter struct {
	armed   bool
	metrics *metrics.Collector
}

// Admit reports whether a payload of length n should be forwarded to the
// stitcher.
func (w *warmUpFilter) Admit(n int) bool {
	if w.armed {
		return true
	}
	if n > 0 && n < warmUpThreshold {
		w.armed = true
	}
	if w.metrics != nil {
		w.metrics.WarmUpDiscards.Inc()
	}
	return false
}

// parseTCPPayload extracts the TCP payload from a captured Ethernet-II
// frame: parse Ethernet, IP (v4 or v6), and TCP headers; the payload
// length is whatever remains after gopacket's own IP/TCP header
// accounting (equivalent to ip.payload_length - tcp.data_offset*4,
// since gopacket already subtracts the TCP header from IPv4.Length/
// IPv6.Length when building TCP.Payload). Returns ok=false if the frame
// is not a TCP segment sourced from ServerPort, or carries no payload.
func parseTCPPayload(data []byte) (payload []byte, ok bool) {
	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.NoCopy)
	tcpLayer := pkt.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return nil, false
	}
	tcp, _ := tcpLayer.(*layers.TCP)
	if tcp == nil || uint16(tcp.SrcPort) != ServerPort {
		return nil, false
	}
	if len(tcp.Payload) == 0 {
		return nil, false
	}
	return tcp.Payload, true
}

// ListDevices returns a human-readable description for every capture
// device pcap can see.
func ListDevices() ([]string, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(devs))
	for _, d := range devs {
		desc := d.Description
		if desc == "" {
			desc = d.Name
		}
		out = append(out, desc)
	}
	return out, nil
}

// PcapLiveSource reads packets from a live NIC in immediate mode with a
// 1-second timeout.
type PcapLiveSource struct {
	handle *pcap.Handle
	filter warmUpFilter
}

// NewPcapLiveSource opens device for live capture and applies BPFFilter.
func NewPcapLiveSource(device string) (*PcapLiveSource, error) {
	inactive, err := pcap.NewInactiveHandle(device)
	if err != nil {
		return nil, err
	}
	defer inactive.CleanUp()

	if err := inactive.SetImmediateMode(true); err != nil {
		return nil, err
	}
	if err := inactive.SetTimeout(readTimeout); err != nil {
		return nil, err
	}
	if err := inactive.SetSnapLen(snapLen); err != nil {
		return nil, err
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, err
	}
	if err := handle.SetBPFFilter(BPFFilter); err != nil {
		handle.Close()
		return nil, err
	}
	return &PcapLiveSource{handle: handle}, nil
}

// SetMetrics attaches m so warm-up-filter discards are counted. Optional;
// a nil or never-called m leaves the counter simply unused.
func (s *PcapLiveSource) SetMetrics(m *metrics.Collector) {
	s.filter.metrics = m
}

// NextPacket implements Source.
func (s *PcapLiveSource) NextPacket() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := s.handle.ReadPacketData()
	if err != nil {
		if errors.Is(err, pcap.NextErrorTimeoutExpired) {
			return nil, ci, ErrTimeout
		}
		return nil, ci, err
	}
	payload, ok := parseTCPPayload(data)
	if !ok || !s.filter.Admit(len(payload)) {
		return nil, ci, nil
	}
	return payload, ci, nil
}

// Close releases the capture handle.
func (s *PcapLiveSource) Close() error {
	s.handle.Close()
	return nil
}

// PcapFileSource replays a previously saved packet capture file. It has
// no BPF stage, so parseTCPPayload's port check stands in for it.
type PcapFileSource struct {
	handle *pcap.Handle
	filter warmUpFilter
}

// NewPcapFileSource opens path for offline replay.
func NewPcapFileSource(path string) (*PcapFileSource, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, err
	}
	return &PcapFileSource{handle: handle}, nil
}

// SetMetrics attaches m so warm-up-filter discards are counted. Optional;
// a nil or never-called m leaves the counter simply unused.
func (s *PcapFileSource) SetMetrics(m *metrics.Collector) {
	s.filter.metrics = m
}

// NextPacket implements Source. It returns io.EOF once the file is
// exhausted, which the host surfaces as a terminal event.
func (s *PcapFileSource) NextPacket() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := s.handle.ReadPacketData()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ci, io.EOF
		}
		return nil, ci, err
	}
	payload, ok := parseTCPPayload(data)
	if !ok || !s.filter.Admit(len(payload)) {
		return nil, ci, nil
	}
	return payload, ci, nil
}

// Close releases the capture handle.
func (s *PcapFileSource) Close() error {
	s.handle.Close()
	return nil
}
