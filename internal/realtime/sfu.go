package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/kinderly/liveclass/internal/models"
)

var (
	ErrNotPresenter  = errors.New("only teachers can share their screen")
	ErrNoScreenShare = errors.New("no screen share in progress")
)

// Signal sends a signalling message back to the client that owns a peer connection.
type Signal func(event string, payload interface{})

const rtpMTU = 1500

var packetPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, rtpMTU)
		return &b
	},
}

// RecordingSink receives a copy of every relayed RTP packet. WriteRTP runs on the relay goroutine and must not block.
type RecordingSink interface {
	WriteRTP(kind webrtc.RTPCodecType, packet []byte)
}

// ScreenShareHandler is told when a classroom's screen share starts or stops.
type ScreenShareHandler func(classroomID uuid.UUID, active bool)

// TrackInfo is the codec of one shared track.
type TrackInfo struct {
	Kind      webrtc.RTPCodecType
	MimeType  string
	ClockRate uint32
}

// SFU relays a teacher's screen share to everyone else in the classroom.
// Each classroom has at most one presenter; viewers get their own peer connection.
type SFU struct {
	mu       sync.RWMutex
	shares   map[uuid.UUID]*share
	cfg      webrtc.Configuration
	log      *zap.Logger
	onScreen ScreenShareHandler
}

type share struct {
	mu          sync.RWMutex
	presenter   *webrtc.PeerConnection
	presenterID string
	tracks      []*relayTrack
	viewers     map[string]*webrtc.PeerConnection
	sink        RecordingSink
	log         *zap.Logger
}

type relayTrack struct {
	remote *webrtc.TrackRemote
	owner  *share

	mu   sync.Mutex
	outs []*webrtc.TrackLocalStaticRTP
}

func NewSFU(log *zap.Logger, iceURLs []string) *SFU {
	if log == nil {
		log = zap.NewNop()
	}
	return &SFU{
		shares: make(map[uuid.UUID]*share),
		cfg:    webrtc.Configuration{ICEServers: iceServers(iceURLs)},
		log:    log,
	}
}

func (s *SFU) SetScreenShareHandler(fn ScreenShareHandler) {
	s.mu.Lock()
	s.onScreen = fn
	s.mu.Unlock()
}

// CanPublish reports whether a role may share its screen with the class.
func CanPublish(role models.Role) bool {
	return models.ParticipantRoleFor(role) == models.ParticipantTeacher
}

func (s *SFU) notify(classroomID uuid.UUID, active bool) {
	s.mu.RLock()
	fn := s.onScreen
	s.mu.RUnlock()
	if fn != nil {
		fn(classroomID, active)
	}
}

func (s *SFU) lookup(classroomID uuid.UUID, create bool) *share {
	s.mu.RLock()
	sh := s.shares[classroomID]
	s.mu.RUnlock()
	if sh != nil || !create {
		return sh
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sh = s.shares[classroomID]; sh == nil {
		sh = &share{
			viewers: make(map[string]*webrtc.PeerConnection),
			log:     s.log.With(zap.String("classroom_id", classroomID.String())),
		}
		s.shares[classroomID] = sh
	}
	return sh
}

// newPeer builds a peer connection that trickles its ICE candidates to the client tagged with target.
// A MediaEngine cannot be shared between peer connections, so each gets its own.
func (s *SFU) newPeer(target string, signal Signal) (*webrtc.PeerConnection, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	pc, err := webrtc.NewAPI(webrtc.WithMediaEngine(m)).NewPeerConnection(s.cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		b, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		signal("webrtc_ice", map[string]interface{}{"target": target, "candidate": json.RawMessage(b)})
	})
	return pc, nil
}

func negotiate(pc *webrtc.PeerConnection, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set offer: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set answer: %w", err)
	}
	return answer, nil
}

func description(d webrtc.SessionDescription) map[string]interface{} {
	return map[string]interface{}{"type": d.Type.String(), "sdp": d.SDP}
}

// HandlePublisherOffer starts a screen share from a teacher's offer and signals the answer back.
// An offer from a new presenter replaces the current one.
func (s *SFU) HandlePublisherOffer(classroomID uuid.UUID, clientID string, role models.Role, offer webrtc.SessionDescription, signal Signal) error {
	if !CanPublish(role) {
		return ErrNotPresenter
	}
	sh := s.lookup(classroomID, true)

	pc, err := s.newPeer("publisher", signal)
	if err != nil {
		return err
	}
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		sh.addTrack(pc, remote)
	})

	// Installed before negotiating so that tracks arriving early are not dropped.
	sh.mu.Lock()
	previous := sh.presenter
	sh.presenter, sh.presenterID, sh.tracks = pc, clientID, nil
	sh.mu.Unlock()
	if previous != nil {
		_ = previous.Close()
	}

	answer, err := negotiate(pc, offer)
	if err != nil {
		sh.mu.Lock()
		if sh.presenter == pc {
			sh.presenter, sh.presenterID, sh.tracks = nil, "", nil
		}
		sh.mu.Unlock()
		_ = pc.Close()
		if previous != nil {
			s.notify(classroomID, false)
		}
		return err
	}

	s.notify(classroomID, true)
	signal("webrtc_publisher_answer", description(answer))
	return nil
}

// addTrack registers a track from the presenter pc, attaches it to current viewers and starts relaying.
// Tracks from a presenter that has since been replaced are ignored.
func (sh *share) addTrack(pc *webrtc.PeerConnection, remote *webrtc.TrackRemote) {
	rt := &relayTrack{remote: remote, owner: sh}
	sh.mu.Lock()
	if sh.presenter != pc {
		sh.mu.Unlock()
		return
	}
	sh.tracks = append(sh.tracks, rt)
	for id, viewer := range sh.viewers {
		if err := rt.attach(viewer); err != nil {
			sh.log.Warn("attach track to viewer failed", zap.String("client_id", id), zap.Error(err))
		}
	}
	sh.mu.Unlock()

	sh.log.Info("screen share track started",
		zap.String("kind", remote.Kind().String()),
		zap.String("codec", remote.Codec().MimeType))
	go rt.forward()
}

func (rt *relayTrack) attach(pc *webrtc.PeerConnection) error {
	out, err := webrtc.NewTrackLocalStaticRTP(rt.remote.Codec().RTPCodecCapability, rt.remote.ID(), rt.remote.StreamID())
	if err != nil {
		return err
	}
	if _, err := pc.AddTrack(out); err != nil {
		return err
	}
	rt.mu.Lock()
	rt.outs = append(rt.outs, out)
	rt.mu.Unlock()
	return nil
}

// forward copies packets from the presenter to every viewer and the recording sink until the track ends.
func (rt *relayTrack) forward() {
	kind := rt.remote.Kind()
	for {
		ptr := packetPool.Get().(*[]byte)
		buf := *ptr
		n, _, err := rt.remote.Read(buf)
		if err != nil {
			packetPool.Put(ptr)
			return
		}

		rt.mu.Lock()
		outs := append([]*webrtc.TrackLocalStaticRTP(nil), rt.outs...)
		rt.mu.Unlock()
		for _, out := range outs {
			_, _ = out.Write(buf[:n])
		}

		rt.owner.mu.RLock()
		sink := rt.owner.sink
		rt.owner.mu.RUnlock()
		if sink != nil {
			// the sink may hold on to the packet, so it gets its own copy
			sink.WriteRTP(kind, append([]byte(nil), buf[:n]...))
		}
		packetPool.Put(ptr)
	}
}

// HandleSubscribe opens a viewer connection for clientID and signals an offer for the current share.
func (s *SFU) HandleSubscribe(classroomID uuid.UUID, clientID string, signal Signal) error {
	sh := s.lookup(classroomID, false)
	if sh == nil {
		return ErrNoScreenShare
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.presenter == nil || len(sh.tracks) == 0 {
		return ErrNoScreenShare
	}

	pc, err := s.newPeer("subscriber", signal)
	if err != nil {
		return err
	}
	for _, rt := range sh.tracks {
		if err := rt.attach(pc); err != nil {
			sh.log.Warn("attach track to viewer failed", zap.String("client_id", clientID), zap.Error(err))
		}
	}
	offer, err := pc.CreateOffer(nil)
	if err == nil {
		err = pc.SetLocalDescription(offer)
	}
	if err != nil {
		_ = pc.Close()
		return fmt.Errorf("offer: %w", err)
	}
	if old := sh.viewers[clientID]; old != nil {
		_ = old.Close()
	}
	sh.viewers[clientID] = pc
	signal("webrtc_subscriber_offer", description(offer))
	return nil
}

func (s *SFU) viewer(classroomID uuid.UUID, clientID string) *webrtc.PeerConnection {
	sh := s.lookup(classroomID, false)
	if sh == nil {
		return nil
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.viewers[clientID]
}

func (s *SFU) presenter(classroomID uuid.UUID) *webrtc.PeerConnection {
	sh := s.lookup(classroomID, false)
	if sh == nil {
		return nil
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.presenter
}

// HandleSubscriberAnswer completes negotiation of a viewer connection.
func (s *SFU) HandleSubscriberAnswer(classroomID uuid.UUID, clientID string, answer webrtc.SessionDescription) error {
	pc := s.viewer(classroomID, clientID)
	if pc == nil {
		return ErrNoScreenShare
	}
	return pc.SetRemoteDescription(answer)
}

func (s *SFU) HandleSubscriberICE(classroomID uuid.UUID, clientID string, c webrtc.ICECandidateInit) error {
	if pc := s.viewer(classroomID, clientID); pc != nil {
		return pc.AddICECandidate(c)
	}
	return nil
}

func (s *SFU) HandlePublisherICE(classroomID uuid.UUID, _ string, c webrtc.ICECandidateInit) error {
	if pc := s.presenter(classroomID); pc != nil {
		return pc.AddICECandidate(c)
	}
	return nil
}

// UnregisterClient closes the viewer connection of a client that left.
func (s *SFU) UnregisterClient(classroomID uuid.UUID, clientID string) {
	sh := s.lookup(classroomID, false)
	if sh == nil {
		return
	}
	sh.mu.Lock()
	pc := sh.viewers[clientID]
	delete(sh.viewers, clientID)
	sh.mu.Unlock()
	if pc != nil {
		_ = pc.Close()
	}
}

// ClosePublisher stops the classroom's screen share.
func (s *SFU) ClosePublisher(classroomID uuid.UUID) {
	s.stopShare(classroomID, "")
}

// ClosePublisherOf stops the screen share only if clientID is presenting.
func (s *SFU) ClosePublisherOf(classroomID uuid.UUID, clientID string) {
	s.stopShare(classroomID, clientID)
}

func (s *SFU) stopShare(classroomID uuid.UUID, onlyClient string) {
	sh := s.lookup(classroomID, false)
	if sh == nil {
		return
	}
	sh.mu.Lock()
	pc := sh.presenter
	if pc == nil || (onlyClient != "" && sh.presenterID != onlyClient) {
		sh.mu.Unlock()
		return
	}
	sh.presenter, sh.presenterID, sh.tracks = nil, "", nil
	sh.mu.Unlock()
	_ = pc.Close()
	s.notify(classroomID, false)
}

// Drop closes every connection of a classroom and forgets it. Called when the classroom empties.
func (s *SFU) Drop(classroomID uuid.UUID) {
	s.mu.Lock()
	sh := s.shares[classroomID]
	delete(s.shares, classroomID)
	s.mu.Unlock()
	if sh == nil {
		return
	}
	sh.mu.Lock()
	presenter := sh.presenter
	viewers := sh.viewers
	sh.presenter, sh.tracks, sh.viewers = nil, nil, map[string]*webrtc.PeerConnection{}
	sh.mu.Unlock()
	for _, pc := range viewers {
		_ = pc.Close()
	}
	if presenter != nil {
		_ = presenter.Close()
		s.notify(classroomID, false)
	}
}

// Sharing reports whether the classroom has an active screen share.
func (s *SFU) Sharing(classroomID uuid.UUID) bool {
	return s.presenter(classroomID) != nil
}

// GetTrackInfo lists the codecs of the current share, nil when nothing is shared.
func (s *SFU) GetTrackInfo(classroomID uuid.UUID) []TrackInfo {
	sh := s.lookup(classroomID, false)
	if sh == nil {
		return nil
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	var out []TrackInfo
	for _, rt := range sh.tracks {
		c := rt.remote.Codec()
		out = append(out, TrackInfo{Kind: rt.remote.Kind(), MimeType: c.MimeType, ClockRate: c.ClockRate})
	}
	return out
}

// RegisterRecordingSink routes a copy of the classroom's share to sink, replacing any previous one.
func (s *SFU) RegisterRecordingSink(classroomID uuid.UUID, sink RecordingSink) {
	s.setSink(classroomID, sink)
}

func (s *SFU) UnregisterRecordingSink(classroomID uuid.UUID) {
	s.setSink(classroomID, nil)
}

func (s *SFU) setSink(classroomID uuid.UUID, sink RecordingSink) {
	sh := s.lookup(classroomID, false)
	if sh == nil {
		return
	}
	sh.mu.Lock()
	sh.sink = sink
	sh.mu.Unlock()
}

func iceServers(urls []string) []webrtc.ICEServer {
	var out []webrtc.ICEServer
	for _, u := range urls {
		if u != "" {
			out = append(out, webrtc.ICEServer{URLs: []string{u}})
		}
	}
	if len(out) == 0 {
		out = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	return out
}
