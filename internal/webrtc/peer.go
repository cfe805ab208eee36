package webrtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"yardwatch/native/internal/domain"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	pion "github.com/pion/webrtc/v4"
)

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// Peer wraps a receive-only Pion PeerConnection for one camera.
type Peer struct {
	pc        *pion.PeerConnection
	cameraID  string
	trackOnce sync.Once
}

// NewPeer creates a PeerConnection that uses iceURLs (STUN/TURN) for
// connectivity candidates.
func NewPeer(iceURLs []string, cameraID string) (*Peer, error) {
	m := &pion.MediaEngine{}

	videoCodecs := []pion.RTPCodecParameters{
		{
			RTPCodecCapability: pion.RTPCodecCapability{
				MimeType:    pion.MimeTypeH264,
				ClockRate:   90000,
				SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			},
			PayloadType: 102,
		},
		{
			RTPCodecCapability: pion.RTPCodecCapability{
				MimeType:  pion.MimeTypeVP8,
				ClockRate: 90000,
			},
			PayloadType: 96,
		},
	}
	for _, codec := range videoCodecs {
		if err := m.RegisterCodec(codec, pion.RTPCodecTypeVideo); err != nil {
			return nil, fmt.Errorf("register %s: %w", codec.MimeType, err)
		}
	}

	i := &interceptor.Registry{}
	generatorFactory, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack generator: %w", err)
	}
	i.Add(generatorFactory)

	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
	)

	var servers []pion.ICEServer
	if len(iceURLs) > 0 {
		servers = append(servers, pion.ICEServer{URLs: iceURLs})
	}

	pc, err := api.NewPeerConnection(pion.Configuration{
		ICEServers:   servers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &Peer{
		pc:       pc,
		cameraID: cameraID,
	}

	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		log.Printf("[webrtc] %s ICE connection state: %s", cameraID, state.String())
	})
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		log.Printf("[webrtc] %s peer connection state: %s", cameraID, state.String())
	})

	return p, nil
}

// AddTransceivers adds the single recvonly video transceiver.
func (p *Peer) AddTransceivers() error {
	_, err := p.pc.AddTransceiverFromKind(pion.RTPCodecTypeVideo, pion.RTPTransceiverInit{
		Direction: pion.RTPTransceiverDirectionRecvonly,
	})
	if err != nil {
		return fmt.Errorf("add video transceiver: %w", err)
	}
	return nil
}

// SetOnTrack sets up the track handler. H264 is written to videoOut as an
// Annex-B elementary stream, other codecs as raw RTP payloads. onTrack fires
// once, for the first video track.
func (p *Peer) SetOnTrack(videoOut io.Writer, onTrack func()) {
	p.pc.OnTrack(func(track *pion.TrackRemote, receiver *pion.RTPReceiver) {
		codec := track.Codec()
		log.Printf("[webrtc] %s got track: kind=%s codec=%s pt=%d", p.cameraID, track.Kind(), codec.MimeType, codec.PayloadType)

		if track.Kind() != pion.RTPCodecTypeVideo {
			go drain(track)
			return
		}

		p.trackOnce.Do(func() {
			if onTrack != nil {
				onTrack()
			}
		})
		go p.readVideoTrack(track, videoOut)
	})
}

func drain(track *pion.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

func (p *Peer) readVideoTrack(track *pion.TrackRemote, w io.Writer) {
	isH264 := strings.EqualFold(track.Codec().MimeType, pion.MimeTypeH264)
	depack := NewH264Depacketizer()

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("[webrtc] %s video track read error: %v", p.cameraID, err)
			}
			return
		}

		if !isH264 {
			if _, err := w.Write(pkt.Payload); err != nil {
				log.Printf("[webrtc] %s render write error: %v", p.cameraID, err)
				return
			}
			continue
		}

		for _, nalu := range depack.Depacketize(pkt.SequenceNumber, pkt.Payload) {
			if len(nalu) == 0 {
				continue
			}
			if _, err := w.Write(append(annexBStartCode[:4:4], nalu...)); err != nil {
				log.Printf("[webrtc] %s render write error: %v", p.cameraID, err)
				return
			}
		}
	}
}

// CreateOffer creates an SDP offer, sets it as the local description and
// waits for ICE gathering so the returned SDP carries every candidate. The
// gateway has no trickle endpoint.
func (p *Peer) CreateOffer(ctx context.Context) (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}

	gathered := pion.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return "", fmt.Errorf("ice gathering: %w", ctx.Err())
	}

	local := p.pc.LocalDescription()
	if local == nil {
		return "", errors.New("local description missing after gathering")
	}
	log.Printf("[webrtc] %s local SDP offer set", p.cameraID)
	return local.SDP, nil
}

// SetRemoteDescription applies the gateway's SDP answer.
func (p *Peer) SetRemoteDescription(sdp domain.SDPPayload) error {
	if sdp.Type != "" && sdp.Type != pion.SDPTypeAnswer.String() {
		return fmt.Errorf("unexpected sdp type %q", sdp.Type)
	}

	answer := pion.SessionDescription{
		Type: pion.SDPTypeAnswer,
		SDP:  sdp.SDP,
	}
	if err := p.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	log.Printf("[webrtc] %s remote SDP answer set", p.cameraID)
	return nil
}

// Close shuts down the PeerConnection.
func (p *Peer) Close() {
	if p.pc != nil {
		if err := p.pc.Close(); err != nil {
			log.Printf("[webrtc] %s close: %v", p.cameraID, err)
		}
	}
}
