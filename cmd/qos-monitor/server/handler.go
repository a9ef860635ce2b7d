package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	qosinterceptor "github.com/thesyncim/rtpqos/pkg/rtpqos/interceptor"
)

// pcmuCodec is the only codec the monitor negotiates, so browsers send
// G.711 audio whose payload bytes the level meter understands.
var pcmuCodec = webrtc.RTPCodecParameters{
	RTPCodecCapability: webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypePCMU,
		ClockRate: 8000,
		Channels:  1,
	},
	PayloadType: 0,
}

// HandleOffer handles WebRTC offer requests from the browser.
// It creates a receive-only audio peer connection with the QoS interceptor
// and returns an answer.
func (s *Server) HandleOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Parse incoming offer
	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		s.log.WithError(err).Warn("failed to decode offer")
		http.Error(w, "Invalid offer", http.StatusBadRequest)
		return
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(pcmuCodec, webrtc.RTPCodecTypeAudio); err != nil {
		s.internalError(w, "failed to register codec", err)
		return
	}

	peerID := s.newPeerID()
	log := s.log.WithFields(logrus.Fields{"component": "offer", "peer": peerID})

	i := &interceptor.Registry{}
	qosFactory, err := qosinterceptor.NewQoSInterceptorFactory(
		qosinterceptor.WithAnalyzerConfig(s.cfg.Analyzer),
		qosinterceptor.WithStreamClockRate(true),
		qosinterceptor.WithFactoryStreamTimeout(s.cfg.StreamTimeout),
		qosinterceptor.WithMetrics(s.collector),
		qosinterceptor.WithLoggerFactory(newLogrusFactory(s.log, logrus.Fields{"component": "interceptor"})),
		qosinterceptor.WithFactoryOnReport(func(_ string, rep qosinterceptor.Report) {
			stored := NewStoredReport(peerID, rep, time.Now())
			s.reports.Add(stored)
			s.log.WithFields(logrus.Fields{
				"peer":    stored.Peer,
				"ssrc":    stored.SSRC,
				"trigger": stored.Trigger,
				"loss":    stored.Loss,
				"jitter":  stored.JitterMs,
				"error":   stored.Error,
			}).Info("stream report")
		}),
	)
	if err != nil {
		s.internalError(w, "failed to create QoS factory", err)
		return
	}
	i.Add(qosFactory)

	// Configure RTCP reports (Sender/Receiver reports) - required for WebRTC
	if err := webrtc.ConfigureRTCPReports(i); err != nil {
		s.internalError(w, "failed to configure RTCP reports", err)
		return
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
	)

	peerConnection, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{}, // Local testing
	})
	if err != nil {
		s.internalError(w, "failed to create peer connection", err)
		return
	}
	s.addPeer(peerID, peerConnection)

	if _, err = peerConnection.AddTransceiverFromKind(
		webrtc.RTPCodecTypeAudio,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly},
	); err != nil {
		s.dropPeer(peerID, peerConnection)
		s.internalError(w, "failed to add transceiver", err)
		return
	}

	peerConnection.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.WithFields(logrus.Fields{
			"codec": track.Codec().MimeType,
			"ssrc":  uint32(track.SSRC()),
		}).Info("receiving audio track")

		// Reading drives packets through the interceptor chain.
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := track.Read(buf); err != nil {
					log.WithError(err).Debug("track read ended")
					return
				}
			}
		}()
	})

	peerConnection.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.WithField("state", state.String()).Info("connection state changed")
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			// Closing the connection closes its interceptors, which report
			// every stream still open.
			s.dropPeer(peerID, peerConnection)
		}
	})

	if err := peerConnection.SetRemoteDescription(offer); err != nil {
		log.WithError(err).Warn("failed to set remote description")
		s.dropPeer(peerID, peerConnection)
		http.Error(w, "Invalid offer", http.StatusBadRequest)
		return
	}

	answer, err := peerConnection.CreateAnswer(nil)
	if err != nil {
		s.dropPeer(peerID, peerConnection)
		s.internalError(w, "failed to create answer", err)
		return
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConnection)
	if err := peerConnection.SetLocalDescription(answer); err != nil {
		s.dropPeer(peerID, peerConnection)
		s.internalError(w, "failed to set local description", err)
		return
	}

	// Wait for ICE gathering to complete
	select {
	case <-gatherComplete:
	case <-r.Context().Done():
		s.dropPeer(peerID, peerConnection)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(peerConnection.LocalDescription()); err != nil {
		log.WithError(err).Warn("failed to write answer")
		return
	}
	log.Info("answer sent, recording audio")
}

func (s *Server) dropPeer(id string, pc *webrtc.PeerConnection) {
	s.removePeer(id)
	go func() {
		// Close blocks until the interceptors are done; never run it on a
		// pion callback goroutine.
		if err := pc.Close(); err != nil {
			s.log.WithField("peer", id).WithError(err).Debug("peer close")
		}
	}()
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	s.log.WithError(err).Error(msg)
	http.Error(w, "Internal error", http.StatusInternalServerError)
}
