package recorder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/kinderly/liveclass/internal/realtime"
)

const (
	// Payload types in the SDP handed to ffmpeg; WriteRTP rewrites packets to match.
	payloadTypeVideo = 96
	payloadTypeAudio = 97
	// Default max recording duration (2 hours, longer than any school period).
	defaultMaxDurationSec = 7200
)

var (
	ErrNoTracks       = errors.New("no screen share tracks: start recording after the teacher shares")
	ErrAlreadyRunning = errors.New("recording already in progress")
	ErrNotRecording   = errors.New("no active recording")
)

// Tap is the part of the SFU the recorder needs (implemented by realtime.SFU).
type Tap interface {
	GetTrackInfo(classroomID uuid.UUID) []realtime.TrackInfo
	RegisterRecordingSink(classroomID uuid.UUID, sink realtime.RecordingSink)
	UnregisterRecordingSink(classroomID uuid.UUID)
}

// Result describes a finished recording file.
type Result struct {
	RecordingID uuid.UUID
	Path        string
	Duration    time.Duration
}

// session is an active recording of one classroom.
type session struct {
	recordingID uuid.UUID
	outputPath  string
	sdpPath     string
	startedAt   time.Time
	cmd         *exec.Cmd

	mu        sync.Mutex
	videoConn *net.UDPConn
	audioConn *net.UDPConn
}

// WriteRTP forwards a copy of the packet to ffmpeg with the payload type from the SDP.
func (s *session) WriteRTP(kind webrtc.RTPCodecType, packet []byte) {
	if len(packet) < 2 {
		return
	}
	pt := byte(payloadTypeVideo)
	if kind == webrtc.RTPCodecTypeAudio {
		pt = payloadTypeAudio
	}
	rewritten := make([]byte, len(packet))
	copy(rewritten, packet)
	rewritten[1] = (packet[1] & 0x80) | pt

	s.mu.Lock()
	defer s.mu.Unlock()
	conn := s.videoConn
	if kind == webrtc.RTPCodecTypeAudio {
		conn = s.audioConn
	}
	if conn != nil {
		_, _ = conn.Write(rewritten)
	}
}

func (s *session) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.videoConn != nil {
		_ = s.videoConn.Close()
		s.videoConn = nil
	}
	if s.audioConn != nil {
		_ = s.audioConn.Close()
		s.audioConn = nil
	}
}

// Service records a classroom's screen share by tapping SFU RTP into ffmpeg.
type Service struct {
	tap       Tap
	outputDir string
	maxDurSec int
	ffmpeg    string
	log       *zap.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*session
}

// NewService creates a recording service. outputDir "" means os.TempDir().
func NewService(tap Tap, outputDir string, log *zap.Logger) *Service {
	if outputDir == "" {
		outputDir = os.TempDir()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		tap:       tap,
		outputDir: outputDir,
		maxDurSec: defaultMaxDurationSec,
		ffmpeg:    "ffmpeg",
		log:       log,
		sessions:  make(map[uuid.UUID]*session),
	}
}

// SetMaxDuration sets the maximum recording duration in seconds (ffmpeg -t).
func (svc *Service) SetMaxDuration(sec int) { svc.maxDurSec = sec }

// codecFor maps a track MIME type to the SDP encoding name and clock rate.
func codecFor(kind webrtc.RTPCodecType, mime string) (codec, clock string) {
	switch strings.ToLower(mime) {
	case "video/vp8":
		return "VP8", "90000"
	case "video/vp9":
		return "VP9", "90000"
	case "video/h264":
		return "H264", "90000"
	case "audio/opus":
		return "opus", "48000"
	case "audio/pcmu":
		return "PCMU", "8000"
	}
	if kind == webrtc.RTPCodecTypeAudio {
		return "opus", "48000"
	}
	return "VP8", "90000"
}

// buildSDP describes the RTP streams ffmpeg receives on the loopback ports.
func buildSDP(tracks []realtime.TrackInfo, videoPort, audioPort int) string {
	var b strings.Builder
	b.WriteString("v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nc=IN IP4 127.0.0.1\r\nt=0 0\r\n")
	for _, t := range tracks {
		media, port, pt := "video", videoPort, payloadTypeVideo
		if t.Kind == webrtc.RTPCodecTypeAudio {
			media, port, pt = "audio", audioPort, payloadTypeAudio
		}
		codec, clock := codecFor(t.Kind, t.MimeType)
		fmt.Fprintf(&b, "m=%s %d RTP/AVP %d\r\na=rtpmap:%d %s/%s\r\n", media, port, pt, pt, codec, clock)
	}
	return b.String()
}

func freeLoopbackPort() (int, error) {
	l, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.LocalAddr().(*net.UDPAddr).Port, nil
}

func dialLoopback(port int) (*net.UDPConn, error) {
	return net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
}

// StartRecording starts recording the classroom's screen share into outputDir/recordings/{recording_id}.mp4.
// The teacher must already be sharing.
func (svc *Service) StartRecording(_ context.Context, classroomID, recordingID uuid.UUID) (string, error) {
	svc.mu.Lock()
	_, running := svc.sessions[classroomID]
	svc.mu.Unlock()
	if running {
		return "", ErrAlreadyRunning
	}
	tracks := svc.tap.GetTrackInfo(classroomID)
	if len(tracks) == 0 {
		return "", ErrNoTracks
	}

	videoPort, err := freeLoopbackPort()
	if err != nil {
		return "", fmt.Errorf("allocate video port: %w", err)
	}
	audioPort, err := freeLoopbackPort()
	if err != nil {
		return "", fmt.Errorf("allocate audio port: %w", err)
	}

	dir := filepath.Join(svc.outputDir, "recordings")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	s := &session{
		recordingID: recordingID,
		outputPath:  filepath.Join(dir, recordingID.String()+".mp4"),
		sdpPath:     filepath.Join(dir, recordingID.String()+".sdp"),
		startedAt:   time.Now(),
	}
	if err := os.WriteFile(s.sdpPath, []byte(buildSDP(tracks, videoPort, audioPort)), 0o600); err != nil {
		return "", fmt.Errorf("write sdp: %w", err)
	}

	// Not bound to the request context; StopRecording ends ffmpeg.
	s.cmd = exec.Command(svc.ffmpeg,
		"-protocol_whitelist", "file,udp,rtp",
		"-f", "sdp", "-i", s.sdpPath,
		"-c", "copy",
		"-t", fmt.Sprintf("%d", svc.maxDurSec),
		"-y", s.outputPath,
	)
	if err := s.cmd.Start(); err != nil {
		_ = os.Remove(s.sdpPath)
		return "", fmt.Errorf("start ffmpeg: %w", err)
	}
	if s.videoConn, err = dialLoopback(videoPort); err == nil {
		s.audioConn, err = dialLoopback(audioPort)
	}
	if err != nil {
		_ = s.cmd.Process.Kill()
		s.closeConns()
		_ = os.Remove(s.sdpPath)
		return "", fmt.Errorf("udp dial: %w", err)
	}

	svc.mu.Lock()
	if _, running := svc.sessions[classroomID]; running {
		svc.mu.Unlock()
		svc.finish(s)
		return "", ErrAlreadyRunning
	}
	svc.sessions[classroomID] = s
	svc.mu.Unlock()
	svc.tap.RegisterRecordingSink(classroomID, s)

	svc.log.Info("recording started", zap.String("classroom_id", classroomID.String()),
		zap.String("recording_id", recordingID.String()), zap.String("output", s.outputPath))
	return s.outputPath, nil
}

// StopRecording stops the classroom's recording and returns the finished file.
func (svc *Service) StopRecording(classroomID uuid.UUID) (Result, error) {
	svc.mu.Lock()
	s, ok := svc.sessions[classroomID]
	delete(svc.sessions, classroomID)
	svc.mu.Unlock()
	if !ok {
		return Result{}, ErrNotRecording
	}
	svc.tap.UnregisterRecordingSink(classroomID)
	svc.finish(s)
	res := Result{RecordingID: s.recordingID, Path: s.outputPath, Duration: time.Since(s.startedAt)}
	svc.log.Info("recording stopped", zap.String("classroom_id", classroomID.String()),
		zap.String("output", s.outputPath), zap.Duration("duration", res.Duration))
	return res, nil
}

// StopAll stops every recording (server shutdown). Files are left on disk.
func (svc *Service) StopAll() {
	svc.mu.Lock()
	ids := make([]uuid.UUID, 0, len(svc.sessions))
	for id := range svc.sessions {
		ids = append(ids, id)
	}
	svc.mu.Unlock()
	for _, id := range ids {
		_, _ = svc.StopRecording(id)
	}
}

// HasActiveRecording reports whether the classroom is being recorded.
func (svc *Service) HasActiveRecording(classroomID uuid.UUID) bool {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	_, ok := svc.sessions[classroomID]
	return ok
}

// finish closes the RTP sockets and asks ffmpeg to write the trailer, killing it after 10s.
func (svc *Service) finish(s *session) {
	s.closeConns()
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Signal(os.Interrupt)
		done := make(chan error, 1)
		go func() { done <- s.cmd.Wait() }()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			_ = s.cmd.Process.Kill()
		}
	}
	_ = os.Remove(s.sdpPath)
}
