package server

import (
	"net/http"
	"os"
)

const fallbackPage = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>Security Dashboard</title>
    <style>
        body { background: #111; color: #eee; font-family: sans-serif; margin: 2em; }
        img { border: 1px solid #444; max-width: 100%; }
        pre { background: #222; padding: 1em; }
    </style>
</head>
<body>
    <h1>Security Dashboard</h1>
    <img src="/video_feed" alt="live stream">
    <h2>Stats</h2>
    <pre id="stats">connecting...</pre>
    <script>
        const proto = location.protocol === "https:" ? "wss" : "ws";
        const ws = new WebSocket(proto + "://" + location.host + "/ws");
        ws.onmessage = (ev) => {
            const msg = JSON.parse(ev.data);
            if (msg.data) {
                document.getElementById("stats").textContent = JSON.stringify(msg.data, null, 2);
            }
        };
    </script>
</body>
</html>`

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	if info, err := os.Stat(s.opts.TemplatePath); err == nil && !info.IsDir() {
		http.ServeFile(w, r, s.opts.TemplatePath)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(fallbackPage))
}
