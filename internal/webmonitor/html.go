package webmonitor

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Seat Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <link rel="stylesheet" href="/assets/monitor.css">
    <style>
        body { margin: 0; font-family: sans-serif; background: #111; color: #eee; }
        .header { display: flex; justify-content: space-between; align-items: center; padding: 12px 20px; background: #1b1b1b; }
        .title { font-size: 20px; font-weight: bold; }
        .badge { padding: 4px 10px; border-radius: 10px; background: #444; font-size: 13px; }
        .badge.live { background: #1d6b2a; }
        .grid { display: grid; grid-template-columns: 3fr 1fr; gap: 16px; padding: 16px 20px; }
        .panel { background: #1b1b1b; border-radius: 8px; padding: 12px; }
        #stream { width: 100%; height: auto; display: block; background: #000; }
        table { width: 100%; border-collapse: collapse; font-size: 14px; }
        td, th { padding: 6px 4px; border-bottom: 1px solid #333; text-align: left; }
        .occupied { color: #5aa0ff; font-weight: bold; }
        .idle { color: #6fd36f; }
        .meta { font-size: 13px; color: #aaa; margin-top: 8px; }
        button { background: #333; color: #eee; border: 1px solid #555; border-radius: 4px; padding: 6px 12px; cursor: pointer; }
    </style>
</head>
<body>
    <div class="header">
        <div class="title">Seat Monitor</div>
        <span class="badge" id="status-badge">Waiting for frames...</span>
    </div>
    <div class="grid">
        <div class="panel">
            <img id="stream" src="/stream" alt="Annotated live stream">
            <div class="meta" id="frame-meta">frame -</div>
        </div>
        <div class="panel">
            <h3>Chairs</h3>
            <table>
                <thead><tr><th>#</th><th>State</th><th>Streak</th></tr></thead>
                <tbody id="chairs"></tbody>
            </table>
            <div class="meta" id="session-meta"></div>
            <h3>Recording</h3>
            <button id="btn-record" type="button">Start</button>
            <div class="meta" id="recording-meta">idle</div>
        </div>
    </div>
    <script>
        const chairsEl = document.getElementById('chairs');
        const badge = document.getElementById('status-badge');
        const frameMeta = document.getElementById('frame-meta');
        const sessionMeta = document.getElementById('session-meta');
        const recordBtn = document.getElementById('btn-record');
        const recordingMeta = document.getElementById('recording-meta');
        let recording = false;

        function renderChairs(chairs) {
            chairsEl.innerHTML = '';
            for (const c of chairs) {
                const tr = document.createElement('tr');
                const cls = c.occupied ? 'occupied' : 'idle';
                tr.innerHTML = '<td>' + c.index + '</td><td class="' + cls + '">' +
                    (c.occupied ? 'occupied' : 'free') + '</td><td>' + c.count + '</td>';
                chairsEl.appendChild(tr);
            }
        }

        const events = new EventSource('/api/occupancy/stream');
        events.onmessage = (e) => {
            const ev = JSON.parse(e.data);
            badge.textContent = ev.occupied.length + ' occupied';
            badge.className = 'badge live';
            frameMeta.textContent = 'frame ' + ev.frame_number + ' at ' + ev.timestamp.toFixed(2) +
                's, ' + ev.people + ' people';
            renderChairs(ev.chairs);
        };
        events.onerror = () => {
            badge.textContent = 'Disconnected';
            badge.className = 'badge';
        };

        const status = new EventSource('/api/status/stream');
        status.onmessage = (e) => {
            const st = JSON.parse(e.data);
            sessionMeta.textContent = 'session ' + (st.monitor.session_id || '-') + ', ' +
                st.monitor.frames_processed + ' frames, ' + st.monitor.current_fps.toFixed(1) + ' fps';
            if (st.recording) {
                recording = st.recording.recording;
                recordBtn.textContent = recording ? 'Stop' : 'Start';
                recordingMeta.textContent = recording
                    ? st.recording.frame_count + ' frames, ' + st.recording.bytes_written + ' bytes'
                    : (st.recording.filename || 'idle');
            }
        };

        recordBtn.onclick = async () => {
            const path = recording ? '/api/recording/stop' : '/api/recording/start';
            const resp = await fetch(path, { method: 'POST' });
            const body = await resp.json();
            if (!resp.ok) {
                recordingMeta.textContent = body.error;
                return;
            }
            recording = !recording;
            recordBtn.textContent = recording ? 'Stop' : 'Start';
            recordingMeta.textContent = body.file || '';
        };
    </script>
</body>
</html>
`
