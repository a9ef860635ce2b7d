package server

// HTMLPage is the HTML content for the browser UI.
// It sends the microphone to the server and lists the stream reports.
const HTMLPage = `<!DOCTYPE html>
<html>
<head>
    <title>RTP QoS Monitor</title>
    <style>
        body { font-family: system-ui, sans-serif; margin: 2em auto; max-width: 960px; color: #222; }
        h1 { font-size: 1.6em; margin: 0 0 .2em; }
        p.hint { color: #777; margin-top: 0; }
        .controls button { font-size: 1em; padding: .6em 1.4em; border: 0; border-radius: 3px; color: #fff; background: #188038; cursor: pointer; }
        .controls button.stop { background: #c5221f; }
        .controls button:disabled { background: #bbb; cursor: default; }
        #status { margin: 1em 0; padding: .7em 1em; border-left: 4px solid #999; background: #f3f3f3; }
        #status.status-connecting { border-color: #1967d2; }
        #status.status-connected { border-color: #188038; }
        #status.status-error { border-color: #c5221f; }
        table.reports { width: 100%; border-collapse: collapse; font-size: .9em; }
        table.reports th { text-align: left; border-bottom: 2px solid #ccc; padding: .3em .5em; }
        table.reports td { border-bottom: 1px solid #eee; padding: .3em .5em; font-variant-numeric: tabular-nums; }
    </style>
</head>
<body>
    <h1>RTP QoS Monitor</h1>
    <p class="hint">Send your microphone as PCMU and get loss, jitter and level per stream</p>

    <section class="controls">
        <button id="startBtn" onclick="startCall()">Start Call</button>
        <button id="stopBtn" onclick="stopCall()" class="stop" disabled>Hang Up</button>
    </section>

    <div id="status" class="status-waiting">Status: Waiting to start</div>

    <table class="reports">
        <thead>
            <tr>
                <th>Peer</th><th>SSRC</th><th>Ended by</th><th>Packets</th><th>Loss</th>
                <th>Jitter (ms)</th><th>Level (dB)</th><th>Codecs</th><th>Quality</th>
            </tr>
        </thead>
        <tbody id="reports"></tbody>
    </table>

    <script>
        const $ = id => document.getElementById(id);
        let pc = null;
        let mic = null;

        function show(text, kind) {
            $('status').textContent = 'Status: ' + text;
            $('status').className = 'status-' + kind;
        }

        function cell(v) {
            return '<td>' + (v === undefined || v === null ? '' : v) + '</td>';
        }

        async function refreshReports() {
            let reports;
            try {
                reports = await (await fetch('/reports')).json();
            } catch (e) {
                console.warn('reports unavailable', e);
                return;
            }
            $('reports').innerHTML = (reports || []).map(r => '<tr>' +
                cell(r.peer) + cell(r.ssrc) + cell(r.trigger) +
                cell(r.error ? r.error : r.packets) +
                cell(r.error ? '' : (100 * r.loss).toFixed(2) + '%') +
                cell(r.error ? '' : r.jitter_ms.toFixed(2)) +
                cell(r.rms_level_db === undefined ? '' : r.rms_level_db.toFixed(1)) +
                cell((r.codecs || []).join(', ')) +
                cell(r.quality) + '</tr>').join('');
        }

        // The server answers once, so the offer must carry every candidate.
        function gathered(conn) {
            if (conn.iceGatheringState === 'complete') {
                return Promise.resolve();
            }
            return new Promise(resolve => {
                conn.addEventListener('icegatheringstatechange', () => {
                    if (conn.iceGatheringState === 'complete') {
                        resolve();
                    }
                });
            });
        }

        async function startCall() {
            $('startBtn').disabled = true;
            $('stopBtn').disabled = false;
            try {
                show('Opening microphone...', 'connecting');
                mic = await navigator.mediaDevices.getUserMedia({ audio: true, video: false });

                pc = new RTCPeerConnection();
                for (const track of mic.getAudioTracks()) {
                    pc.addTrack(track, mic);
                }
                pc.addEventListener('connectionstatechange', () => {
                    if (!pc) {
                        return;
                    }
                    if (pc.connectionState === 'connected') {
                        show('Connected, recording audio', 'connected');
                    } else if (pc.connectionState === 'failed') {
                        show('Connection failed', 'error');
                    }
                });

                await pc.setLocalDescription(await pc.createOffer());
                await gathered(pc);

                show('Negotiating...', 'connecting');
                const res = await fetch('/offer', {
                    method: 'POST',
                    headers: { 'Content-Type': 'application/json' },
                    body: JSON.stringify(pc.localDescription)
                });
                if (res.status !== 200) {
                    throw new Error('offer rejected with HTTP ' + res.status);
                }
                await pc.setRemoteDescription(await res.json());
            } catch (e) {
                console.error('call setup failed', e);
                stopCall();
                show(e.message, 'error');
            }
        }

        function stopCall() {
            if (pc !== null) {
                pc.close();
                pc = null;
            }
            if (mic !== null) {
                mic.getTracks().forEach(t => t.stop());
                mic = null;
            }
            $('startBtn').disabled = false;
            $('stopBtn').disabled = true;
            show('Call ended, waiting for report', 'closed');
        }

        refreshReports();
        setInterval(refreshReports, 2000);
    </script>
</body>
</html>`
