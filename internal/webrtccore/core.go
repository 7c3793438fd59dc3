// Package webrtccore wraps a single pion PeerConnection in the host role:
// the host always creates the offer, advertises one VP8 video track, and
// opens exactly two data channels ("control" and "frames"). The session
// orchestrator consumes its events through the Callbacks it supplies at
// construction and never touches pion types directly.
package webrtccore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
)

const (
	// iceGatherTimeout bounds how long start_offer waits for ICE candidate
	// gathering before emitting the offer with whatever candidates are
	// ready; trickle ICE still delivers the rest via add_remote_candidate.
	iceGatherTimeout = 20 * time.Second

	videoClockRate = 90000
	// frameTimestampStep is the RTP timestamp increment per encoded frame at
	// the target 30fps / 90kHz clock rate (90000/30).
	frameTimestampStep = 3000

	rtpMTU            = 1200
	vp8PayloadTypeID  = 96
)

// Callbacks are invoked from the peer connection's own goroutines, except
// OnLocalOffer, which runs on StartOffer's caller with the Core's lock held;
// the caller must not block in them for long.
type Callbacks struct {
	OnLocalOffer      func(sdp string)
	OnICECandidate     func(candidate, sdpMid string, sdpMLineIndex uint16)
	OnControlMessage  func(data []byte)
	OnConnectionState func(state webrtc.PeerConnectionState)
	OnKeyframeRequest func()
	OnChannelOpen     func(kind string)
	OnChannelClose    func(kind string)
}

// Core manages one peer connection in the host role. All exported methods
// are safe for concurrent use; only one peer connection is ever live.
type Core struct {
	mu sync.Mutex

	pc         *webrtc.PeerConnection
	videoTrack *webrtc.TrackLocalStaticRTP
	controlDC  *webrtc.DataChannel
	framesDC   *webrtc.DataChannel

	cb Callbacks

	seq       uint16
	timestamp uint32
	ssrc      uint32
}

// New creates an empty Core; call StartOffer to bring up a connection.
func New(cb Callbacks) *Core {
	return &Core{cb: cb}
}

// ICEServer mirrors the subset of webrtc.ICEServer this package exposes so
// callers don't need to import pion directly.
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

// StartOffer tears down any existing connection, builds a fresh peer
// connection with the given ICE servers, attaches the VP8 track and the two
// data channels, and emits the local SDP offer via Callbacks.OnLocalOffer.
func (c *Core) StartOffer(ctx context.Context, servers []ICEServer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetLocked()

	config := webrtc.Configuration{ICEServers: toPionServers(servers)}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeVP8,
			ClockRate:   videoClockRate,
			RTCPFeedback: []webrtc.RTCPFeedback{{Type: "nack"}, {Type: "nack", Parameter: "pli"}, {Type: "ccm", Parameter: "fir"}},
		},
		PayloadType: vp8PayloadTypeID,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return fmt.Errorf("register VP8 codec: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}

	videoTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: videoClockRate},
		"video", "desktop",
	)
	if err != nil {
		pc.Close()
		return fmt.Errorf("new video track: %w", err)
	}
	sender, err := pc.AddTrack(videoTrack)
	if err != nil {
		pc.Close()
		return fmt.Errorf("add video track: %w", err)
	}
	go c.drainRTCP(sender)

	controlDC, err := pc.CreateDataChannel("control", nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("create control channel: %w", err)
	}
	framesDC, err := pc.CreateDataChannel("frames", nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("create frames channel: %w", err)
	}
	controlDC.OnMessage(func(msg webrtc.DataChannelMessage) {
		if c.cb.OnControlMessage != nil {
			c.cb.OnControlMessage(msg.Data)
		}
	})
	c.watchChannel(controlDC, "control")
	c.watchChannel(framesDC, "frames")

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || c.cb.OnICECandidate == nil {
			return
		}
		init := cand.ToJSON()
		mid := ""
		if init.SDPMid != nil {
			mid = *init.SDPMid
		}
		var mline uint16
		if init.SDPMLineIndex != nil {
			mline = *init.SDPMLineIndex
		}
		c.cb.OnICECandidate(init.Candidate, mid, mline)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if c.cb.OnConnectionState != nil {
			c.cb.OnConnectionState(state)
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-time.After(iceGatherTimeout):
		slog.Warn("webrtccore: ICE gathering timed out, emitting offer with candidates gathered so far")
	case <-ctx.Done():
	}

	c.pc = pc
	c.videoTrack = videoTrack
	c.controlDC = controlDC
	c.framesDC = framesDC
	c.seq = 0
	c.timestamp = 0
	c.ssrc = uint32(time.Now().UnixNano())

	if c.cb.OnLocalOffer != nil {
		c.cb.OnLocalOffer(pc.LocalDescription().SDP)
	}
	return nil
}

// AcceptAnswer sets the remote description. A no-op with a warning if there
// is no active connection.
func (c *Core) AcceptAnswer(sdp string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pc == nil {
		slog.Warn("webrtccore: accept_answer with no active connection")
		return fmt.Errorf("no active connection")
	}
	return c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

// AddRemoteCandidate appends a trickled ICE candidate. A no-op with a
// warning if there is no active connection.
func (c *Core) AddRemoteCandidate(candidate, sdpMid string, sdpMLineIndex uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pc == nil {
		slog.Warn("webrtccore: add_remote_candidate with no active connection")
		return fmt.Errorf("no active connection")
	}
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     candidate,
		SDPMid:        &sdpMid,
		SDPMLineIndex: &sdpMLineIndex,
	})
}

// TrySendControl writes a message on the control channel if it is open.
func (c *Core) TrySendControl(message []byte) bool {
	c.mu.Lock()
	dc := c.controlDC
	c.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return false
	}
	return dc.Send(message) == nil
}

// TrySendFrame writes a message on the frames channel if it is open.
func (c *Core) TrySendFrame(message []byte) bool {
	c.mu.Lock()
	dc := c.framesDC
	c.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return false
	}
	return dc.Send(message) == nil
}

// TrySendVideo fragments an encoded VP8 payload and writes it to the video
// track as raw RTP. The timestamp advances exactly once per call (one call
// == one encoded frame) and the sequence number once per RTP fragment; the
// marker bit is set from isKeyFrame
// rather than "last fragment of frame" as an ordinary VP8 payloader would,
// matching the wire contract this host/operator pair agree on.
func (c *Core) TrySendVideo(payload []byte, isKeyFrame bool) bool {
	c.mu.Lock()
	track := c.videoTrack
	if track == nil {
		c.mu.Unlock()
		return false
	}
	seq := c.seq
	ts := c.timestamp
	ssrc := c.ssrc
	c.timestamp += frameTimestampStep
	c.mu.Unlock()

	payloader := &codecs.VP8Payloader{}
	fragments := payloader.Payload(rtpMTU, payload)

	ok := true
	for _, frag := range fragments {
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         isKeyFrame,
				PayloadType:    vp8PayloadTypeID,
				SequenceNumber: seq,
				Timestamp:      ts,
				SSRC:           ssrc,
			},
			Payload: frag,
		}
		if err := track.WriteRTP(pkt); err != nil {
			ok = false
		}
		seq++
	}

	c.mu.Lock()
	c.seq = seq
	c.mu.Unlock()
	return ok
}

// Reset tears down the current peer connection, if any.
func (c *Core) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Core) resetLocked() {
	if c.pc != nil {
		c.pc.Close()
	}
	c.pc, c.videoTrack, c.controlDC, c.framesDC = nil, nil, nil, nil
}

// watchChannel surfaces the channel's open/close transitions to the caller
// by label ("control" or "frames").
func (c *Core) watchChannel(dc *webrtc.DataChannel, kind string) {
	dc.OnOpen(func() {
		if c.cb.OnChannelOpen != nil {
			c.cb.OnChannelOpen(kind)
		}
	})
	dc.OnClose(func() {
		if c.cb.OnChannelClose != nil {
			c.cb.OnChannelClose(kind)
		}
	})
}

func (c *Core) drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}
		pkts, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, pkt := range pkts {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				if c.cb.OnKeyframeRequest != nil {
					c.cb.OnKeyframeRequest()
				}
			}
		}
	}
}

func toPionServers(servers []ICEServer) []webrtc.ICEServer {
	if len(servers) == 0 {
		return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, server)
	}
	return out
}
