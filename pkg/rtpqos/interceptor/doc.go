/*
Package interceptor records received RTP streams in a Pion WebRTC stack and
reports loss, duplication, jitter and codec usage for each of them.

# Quick Start

Register the interceptor factory with your Pion WebRTC API:

	import (
	    "github.com/pion/interceptor"
	    "github.com/pion/webrtc/v4"
	    qosint "github.com/thesyncim/rtpqos/pkg/rtpqos/interceptor"
	)

	func setupPeerConnection() (*webrtc.PeerConnection, error) {
	    m := &webrtc.MediaEngine{}
	    if err := m.RegisterDefaultCodecs(); err != nil {
	        return nil, err
	    }

	    i := &interceptor.Registry{}
	    qosFactory, err := qosint.NewQoSInterceptorFactory(
	        qosint.WithStreamClockRate(true),
	        qosint.WithFactoryOnReport(func(id string, r qosint.Report) {
	            // store or print r.Stats
	        }),
	    )
	    if err != nil {
	        return nil, err
	    }
	    i.Add(qosFactory)

	    api := webrtc.NewAPI(
	        webrtc.WithMediaEngine(m),
	        webrtc.WithInterceptorRegistry(i),
	    )
	    return api.NewPeerConnection(webrtc.Configuration{})
	}

# How It Works

1. When a remote stream is bound (BindRemoteStream), the interceptor creates an
analyzer for it. The negotiated MIME type names the stream's payload type and,
with WithStreamClockRate, the negotiated clock rate converts RTP timestamps.

2. Every RTP packet read from the stream is parsed and appended to the stream's
capture, stamped with its arrival time.

3. The stream is analysed exactly once, on the first of: UnbindRemoteStream, an
RTCP BYE naming its SSRC, no packets for the stream timeout (5 seconds by
default), or Close. The resulting Report goes to the report callback and to
the metrics observer.

All analysis happens in memory; the capture of a stream is released once its
report has been published.
*/
package interceptor
