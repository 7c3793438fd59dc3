// Package orchestrator implements the session orchestrator: the top-level
// state machine that owns the session lease, authentication, transport
// selection, and re-offer policy. One goroutine drives it off a single
// typed event channel; the transports and the WebRTC core only ever post
// events onto that channel, so there are no delegate cycles to reason
// about and event ordering is testable.
package orchestrator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/agent/internal/config"
	"github.com/breeze-rmm/agent/internal/desktop"
	"github.com/breeze-rmm/agent/internal/webrtccore"
	"github.com/pion/webrtc/v4"
)

const reofferDebounce = 5 * time.Second

// SignalingSender is the outbound half of the Signaling Client, kept as an
// interface here so this package does not import internal/signaling (which
// depends on this package's inbound callbacks instead).
type SignalingSender interface {
	Send(raw []byte) bool
}

// Orchestrator is the heart of the host: one instance per process, wired to
// exactly one WebRTC Core, one Capture Pipeline, one Input Injector, and the
// Config Store.
type Orchestrator struct {
	cfg      *config.Store
	capturer desktop.Capturer
	injector desktop.Injector
	encoder  *desktop.VideoEncoder
	rtc      *webrtccore.Core
	iceServers []webrtccore.ICEServer

	events chan any

	mu            sync.Mutex
	state         State
	active        *lease
	signaling     SignalingSender
	lastReofferAt atomic.Int64

	frameCancel context.CancelFunc
	frameDone   chan struct{}
}

// New builds an Orchestrator. Call SetSignaling once the Signaling Client
// is constructed, then Run to start the event loop.
func New(cfg *config.Store, capturer desktop.Capturer, injector desktop.Injector, encoder *desktop.VideoEncoder, iceServers []webrtccore.ICEServer) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		capturer:   capturer,
		injector:   injector,
		encoder:    encoder,
		iceServers: iceServers,
		events:     make(chan any, 64),
		state:      StateNoSession,
	}
	o.rtc = webrtccore.New(webrtccore.Callbacks{
		OnLocalOffer:      func(sdp string) { o.post(eventOfferReady{sdp: sdp}) },
		OnICECandidate:    func(c, mid string, mline uint16) { o.post(eventICECandidateReady{candidate: c, mid: mid, mline: mline}) },
		OnControlMessage:  func(data []byte) { o.post(eventControlMessage{raw: data}) },
		OnConnectionState: func(s webrtc.PeerConnectionState) { o.post(eventICEState{state: s.String()}) },
		OnKeyframeRequest: func() { _ = o.encoder.ForceKeyframe() },
		OnChannelOpen:     func(kind string) { o.post(eventChannelOpen{kind: kind}) },
		OnChannelClose:    func(kind string) { o.post(eventChannelClose{kind: kind}) },
	})
	return o
}

// SetSignaling installs the outbound signaling sender. Must be called
// before Run handles any events that need to emit signaling traffic.
func (o *Orchestrator) SetSignaling(s SignalingSender) {
	o.mu.Lock()
	o.signaling = s
	o.mu.Unlock()
}

func (o *Orchestrator) post(ev any) {
	select {
	case o.events <- ev:
	default:
		slog.Warn("orchestrator: event channel full, dropping event", "type", fmt.Sprintf("%T", ev))
	}
}

// OnSignalingMessage is invoked by the Signaling Client's read pump for
// every complete text message received.
func (o *Orchestrator) OnSignalingMessage(raw []byte) { o.post(eventSignalingMessage{raw: raw}) }

// OnSignalingDisconnected is invoked when the signaling socket closes or
// errors, including a graceful remote close.
func (o *Orchestrator) OnSignalingDisconnected() { o.post(eventSignalingDisconnected{}) }

// OnICEStateChange lets a transport layer report a WebRTC ICE connection
// state transition explicitly (in addition to the Core's own callback path)
// for states the Core callback signature above does not carry structurally.
func (o *Orchestrator) OnICEStateChange(state string) { o.post(eventICEState{state: state}) }

// Run drives the event loop until ctx is canceled.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		select {
		case ev := <-o.events:
			o.handle(ctx, ev)
		case <-ctx.Done():
			o.stopFrameLoop()
			o.rtc.Reset()
			return
		}
	}
}

type (
	eventSignalingMessage      struct{ raw []byte }
	eventSignalingDisconnected struct{}
	eventControlMessage        struct{ raw []byte }
	eventICEState              struct{ state string }
	eventChannelOpen           struct{ kind string }
	eventChannelClose          struct{ kind string }
	eventOfferReady            struct{ sdp string }
	eventICECandidateReady     struct {
		candidate string
		mid       string
		mline     uint16
	}
)

func (o *Orchestrator) handle(ctx context.Context, ev any) {
	switch e := ev.(type) {
	case eventSignalingMessage:
		o.handleSignalingMessage(ctx, e.raw)
	case eventControlMessage:
		o.handleControlMessage(e.raw)
	case eventSignalingDisconnected:
		o.handleSignalingDisconnected()
	case eventICEState:
		o.handleICEState(ctx, e.state)
	case eventChannelOpen:
		slog.Debug("orchestrator: data channel open", "kind", e.kind)
		if e.kind == "frames" {
			// A freshly opened frames channel needs a keyframe before any
			// delta is decodable on the other side.
			_ = o.encoder.ForceKeyframe()
		}
	case eventChannelClose:
		slog.Debug("orchestrator: data channel closed", "kind", e.kind)
	case eventOfferReady:
		o.sendSignaling(sdpMsg{Type: "sdp_offer", SDP: e.sdp, SDPType: "offer"})
	case eventICECandidateReady:
		msg := iceCandidateMsg{Type: "ice_candidate", Candidate: e.candidate}
		if e.mid != "" {
			msg.SDPMid = &e.mid
		}
		msg.SDPMLineIndex = &e.mline
		o.sendSignaling(msg)
	}
}

func (o *Orchestrator) handleSignalingMessage(ctx context.Context, raw []byte) {
	var base wireMessage
	if err := json.Unmarshal(raw, &base); err != nil {
		slog.Warn("orchestrator: malformed signaling message", "error", err)
		return
	}

	switch base.Type {
	case "operator_hello":
		o.handleOperatorHello(ctx, raw)
	case "auth":
		o.handleAuth(raw)
	case "monitor_switch":
		o.handleMonitorSwitch(raw)
	case "monitor_list_request":
		o.sendMonitorList()
	case "input":
		o.handleInput(raw)
	case "sdp_answer":
		o.handleSDPAnswer(raw)
	case "ice_candidate":
		o.handleRemoteCandidate(raw)
	default:
		slog.Debug("orchestrator: unrecognized signaling message type", "type", base.Type)
	}
}

func (o *Orchestrator) handleOperatorHello(ctx context.Context, raw []byte) {
	var msg operatorHelloMsg
	if err := json.Unmarshal(raw, &msg); err != nil || msg.SessionID == "" {
		slog.Warn("orchestrator: invalid operator_hello")
		return
	}

	o.mu.Lock()
	if o.active != nil && o.active.sessionID != msg.SessionID {
		o.mu.Unlock()
		o.sendSignaling(hostBusyMsg{Type: "host_busy", Reason: "active_session"})
		return
	}
	if o.active == nil {
		o.active = &lease{sessionID: msg.SessionID}
		o.state = StateUnauthenticated
	}
	o.mu.Unlock()

	monitors, _ := desktop.ListMonitors()
	active := primaryMonitorID(monitors)
	o.sendSignaling(hostHelloMsg{
		Type:            "host_hello",
		HostID:          o.cfg.HostID(),
		Monitors:        toMonitorJSON(monitors),
		ActiveMonitorID: active,
	})
	o.sendSignaling(monitorListMsg{
		Type:            "monitor_list",
		Monitors:        toMonitorJSON(monitors),
		ActiveMonitorID: active,
	})

	if err := o.rtc.StartOffer(ctx, o.iceServers); err != nil {
		slog.Error("orchestrator: start_offer failed", "error", err)
	}
}

func (o *Orchestrator) handleAuth(raw []byte) {
	o.mu.Lock()
	hasLease := o.active != nil
	o.mu.Unlock()
	if !hasLease {
		// An auth that arrives with no lease (e.g. after a signaling drop,
		// before a new operator_hello) must not be able to reach Authenticated.
		slog.Debug("orchestrator: dropping auth, no active session")
		return
	}

	var msg authMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	if locked, retryAfter := o.cfg.IsLocked(); locked {
		o.sendControl(authResultMsg{Type: "auth_result", Status: "locked", RetryAfterMS: retryAfter})
		return
	}

	if o.cfg.VerifyPassword(msg.Password) {
		o.cfg.RegisterSuccess()
		o.mu.Lock()
		o.state = StateAuthenticated
		if o.active != nil {
			o.active.authenticated = true
			monitors, _ := desktop.ListMonitors()
			if o.active.monitorID == "" {
				o.active.monitorID = primaryMonitorID(monitors)
			}
		}
		o.mu.Unlock()
		o.sendControl(authResultMsg{Type: "auth_result", Status: "ok"})
		o.startFrameLoop()
		return
	}

	o.cfg.RegisterFailure()
	// The triggering failure itself still reports invalid; only subsequent
	// attempts see locked. A lockout armed by this failure shows up here as
	// the retry hint alone.
	result := authResultMsg{Type: "auth_result", Status: "invalid"}
	if locked, retryAfter := o.cfg.IsLocked(); locked {
		result.RetryAfterMS = retryAfter
	}
	o.sendControl(result)
}

func (o *Orchestrator) handleMonitorSwitch(raw []byte) {
	if !o.authenticated() {
		slog.Debug("orchestrator: dropping monitor_switch, not authenticated")
		return
	}
	var msg monitorSwitchMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	o.mu.Lock()
	if o.active != nil {
		o.active.monitorID = msg.ID
	}
	o.mu.Unlock()
	_ = o.encoder.ForceKeyframe()
	o.sendControl(monitorSwitchResultMsg{Type: "monitor_switch_result", ActiveMonitorID: msg.ID})
}

func (o *Orchestrator) sendMonitorList() {
	if !o.authenticated() {
		return
	}
	monitors, _ := desktop.ListMonitors()
	o.sendControl(monitorListMsg{
		Type:            "monitor_list",
		Monitors:        toMonitorJSON(monitors),
		ActiveMonitorID: o.activeMonitorID(),
	})
}

func (o *Orchestrator) handleInput(raw []byte) {
	if !o.authenticated() {
		slog.Debug("orchestrator: dropping input, not authenticated")
		return
	}
	var msg inputMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	monitorID := o.activeMonitorID()

	if msg.Mouse != nil {
		buttons := make(map[desktop.MouseButton]desktop.ButtonState)
		for name, pressed := range msg.Mouse.Buttons {
			btn, ok := parseMouseButton(name)
			if !ok || pressed == nil {
				continue
			}
			if *pressed {
				buttons[btn] = desktop.ButtonPressed
			} else {
				buttons[btn] = desktop.ButtonReleased
			}
		}
		_ = o.injector.Mouse(monitorID, desktop.MouseInput{
			X: msg.Mouse.X, Y: msg.Mouse.Y,
			Buttons:         buttons,
			WheelVertical:   msg.Mouse.WheelVertical,
			WheelHorizontal: msg.Mouse.WheelHorizontal,
		})
	}
	if msg.Keyboard != nil {
		_ = o.injector.Key(desktop.KeyInput{
			Scancode: msg.Keyboard.Scancode,
			Extended: msg.Keyboard.Extended,
			Down:     msg.Keyboard.Down,
		})
	}
	if msg.Special != nil && msg.Special.Action == "ctrl_alt_del" {
		if err := o.injector.Special(desktop.ActionCtrlAltDel); err != nil {
			slog.Warn("orchestrator: ctrl_alt_del failed", "error", err)
		}
	}
}

func (o *Orchestrator) handleSDPAnswer(raw []byte) {
	var msg sdpMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if err := o.rtc.AcceptAnswer(msg.SDP); err != nil {
		slog.Warn("orchestrator: accept_answer failed", "error", err)
	}
}

func (o *Orchestrator) handleRemoteCandidate(raw []byte) {
	var msg iceCandidateMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	mid := ""
	if msg.SDPMid != nil {
		mid = *msg.SDPMid
	}
	var mline uint16
	if msg.SDPMLineIndex != nil {
		mline = *msg.SDPMLineIndex
	}
	if err := o.rtc.AddRemoteCandidate(msg.Candidate, mid, mline); err != nil {
		slog.Warn("orchestrator: add_remote_candidate failed", "error", err)
	}
}

func (o *Orchestrator) handleControlMessage(raw []byte) {
	o.handleSignalingMessage(context.Background(), raw)
}

func (o *Orchestrator) handleSignalingDisconnected() {
	o.mu.Lock()
	o.active = nil
	o.state = StateNoSession
	o.mu.Unlock()
	o.stopFrameLoop()
	o.rtc.Reset()
}

func (o *Orchestrator) handleICEState(ctx context.Context, state string) {
	o.sendSignaling(iceStateMsg{Type: "ice_state", State: state})

	switch state {
	case "failed", "disconnected", "closed":
		o.mu.Lock()
		hasLease := o.active != nil
		o.mu.Unlock()
		if !hasLease {
			return
		}
		now := time.Now().UnixNano()
		last := o.lastReofferAt.Load()
		if time.Duration(now-last) < reofferDebounce {
			return
		}
		o.lastReofferAt.Store(now)
		if err := o.rtc.StartOffer(ctx, o.iceServers); err != nil {
			slog.Error("orchestrator: re-offer failed", "error", err)
		}
	}
}

// sendControl writes msg preferring the WebRTC control channel, falling
// back to the signaling socket when the channel is not open.
func (o *Orchestrator) sendControl(msg any) {
	data := mustMarshal(msg)
	if o.rtc.TrySendControl(data) {
		return
	}
	o.sendSignaling(msg)
}

func (o *Orchestrator) sendSignaling(msg any) {
	o.mu.Lock()
	sender := o.signaling
	o.mu.Unlock()
	if sender == nil {
		return
	}
	sender.Send(mustMarshal(msg))
}

// sendFrame implements the three-tier frame transport preference: VP8 over
// the video track, then the binary envelope over the frames channel, then
// a base64-JSON fallback over control/signaling. The video-track tier only
// applies to "vp8" payloads; a still-image fallback (format "image/png")
// skips straight to the envelope/base64 tiers since it isn't valid RTP/VP8.
func (o *Orchestrator) sendFrame(payload []byte, isKeyFrame bool, width, height int, format ...string) {
	fmtTag := "vp8"
	if len(format) > 0 && format[0] != "" {
		fmtTag = format[0]
	}
	if fmtTag == "vp8" && o.rtc.TrySendVideo(payload, isKeyFrame) {
		return
	}
	env, err := EncodeFrameEnvelope(FrameHeader{Width: width, Height: height, Format: fmtTag}, payload)
	if err == nil && o.rtc.TrySendFrame(env) {
		return
	}
	o.sendControl(frameFallbackMsg{
		Type: "frame", Width: width, Height: height, Format: fmtTag,
		Data: base64.StdEncoding.EncodeToString(payload),
	})
}

func (o *Orchestrator) authenticated() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state == StateAuthenticated
}

func (o *Orchestrator) activeMonitorID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return ""
	}
	return o.active.monitorID
}

func primaryMonitorID(monitors []desktop.MonitorInfo) string {
	for _, m := range monitors {
		if m.IsPrimary {
			return fmt.Sprintf("%d", m.Index)
		}
	}
	if len(monitors) > 0 {
		return fmt.Sprintf("%d", monitors[0].Index)
	}
	return "0"
}

func toMonitorJSON(monitors []desktop.MonitorInfo) []monitorJSON {
	out := make([]monitorJSON, 0, len(monitors))
	for _, m := range monitors {
		out = append(out, monitorJSON{
			ID: fmt.Sprintf("%d", m.Index), Name: m.Name,
			Width: m.Width, Height: m.Height, X: m.X, Y: m.Y, IsPrimary: m.IsPrimary,
		})
	}
	return out
}

func parseMouseButton(name string) (desktop.MouseButton, bool) {
	switch name {
	case "left":
		return desktop.MouseLeft, true
	case "right":
		return desktop.MouseRight, true
	case "middle":
		return desktop.MouseMiddle, true
	case "x1":
		return desktop.MouseX1, true
	case "x2":
		return desktop.MouseX2, true
	default:
		return 0, false
	}
}
