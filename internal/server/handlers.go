// Package server exposes HTTP handlers, including socket upgrades, health
// checks, and the built-in test page.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebSocketHandler upgrades the request with the configured codec and
// hands the connection to the pumps. The upgrader rejects non-GET requests,
// missing upgrade headers and disallowed origins itself.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. Socket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r)
	if err != nil {
		s.log.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("socket upgrade failed")
		return
	}

	s.serve(conn)
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "roomhub server is running!")
}

// Check is the status of one dependency.
type Check struct {
	Status  string `json:"status"` // "pass" or "fail"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status      string           `json:"status"` // "healthy" or "degraded"
	Connections int              `json:"connections"`
	Rooms       int              `json:"rooms"`
	Checks      map[string]Check `json:"checks"`
	Timestamp   string           `json:"timestamp"`
}

// Healthz pings every dependency and reports live hub counts.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	allHealthy := true

	for name, p := range s.pingers() {
		start := time.Now()
		if err := p.Ping(ctx); err != nil {
			checks[name] = Check{Status: "fail", Message: "connection failed"}
			allHealthy = false
			continue
		}
		checks[name] = Check{Status: "pass", Latency: time.Since(start).String()}
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status:      status,
		Connections: s.registry.Count(),
		Rooms:       s.rooms.RoomCount(),
		Checks:      checks,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	})
}

// TestPageHandler serves an HTML page for trying rooms from a browser: it
// connects to /ws, joins a room and sends chat messages.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		s.log.Debug().Err(err).Msg("error writing HTML response")
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>roomhub Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"], input[type="number"] { padding: 5px; margin-right: 10px; }
        #messageInput { width: 300px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>roomhub Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="number" id="roomId" value="1" min="1" title="room id">
        <input type="number" id="userId" value="1" min="1" title="user id">
        <input type="text" id="username" value="guest" title="username">
        <select id="role">
            <option value="user">user</option>
            <option value="moderator">moderator</option>
        </select>
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>

    <div style="margin-top: 10px">
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addLine(text, color) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            el.style.color = color || 'gray';
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function render(ev) {
            switch (ev.type) {
            case 'chat_message':
                addLine('#' + ev.id + ' ' + ev.username + ': ' + ev.message, 'green');
                break;
            case 'joined':
                addLine('joined room ' + ev.room_id + ' (' + ev.member_count + ' members)');
                break;
            case 'user_joined':
            case 'user_left':
                addLine(ev.username + ' ' + ev.type.replace('user_', '') + ' (' + ev.member_count + ' members)');
                break;
            case 'error':
                addLine('error: ' + ev.error, 'red');
                break;
            default:
                addLine(JSON.stringify(ev));
            }
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');

            ws.onopen = function() {
                updateStatus(true);
                ws.send(JSON.stringify({
                    type: 'join',
                    room_id: Number(document.getElementById('roomId').value),
                    user_id: Number(document.getElementById('userId').value),
                    username: document.getElementById('username').value,
                    role: document.getElementById('role').value
                }));
            };
            ws.onmessage = function(event) { render(JSON.parse(event.data)); };
            ws.onclose = function() {
                addLine('Connection closed');
                updateStatus(false);
                ws = null;
            };
            ws.onerror = function() { addLine('Connection error', 'red'); };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function sendMessage() {
            const message = messageInput.value.trim();
            if (message && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({
                    type: 'chat_message',
                    room_id: Number(document.getElementById('roomId').value),
                    message: message
                }));
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
