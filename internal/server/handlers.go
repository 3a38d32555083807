package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func newUpgrader(policy *originPolicy) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     policy.check,
	}
}

// webSocketHandler upgrades the request, creates a Client and registers it
// with the hub, which launches the pump goroutines.
func webSocketHandler(hub *Hub, upgrader *websocket.Upgrader, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("WebSocket upgrade failed", zap.Error(err), zap.String("remote", c.Request.RemoteAddr))
			return
		}

		client := NewClient(conn, hub, c.Request.RemoteAddr)
		if err := hub.Register(client); err != nil {
			log.Warn("Rejecting connection", zap.Error(err))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			_ = conn.Close()
		}
	}
}

// healthHandler responds with a plain text message indicating the server is running.
func healthHandler(c *gin.Context) {
	c.String(http.StatusOK, "Chat relay is running!")
}

// testPageHandler serves an HTML page for trying the websocket protocol by hand.
func testPageHandler(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(testPageHTML))
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Chat Relay Test</title>
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
        input[type="text"] { width: 180px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        button:disabled { background-color: #999; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Chat Relay Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>
    <div id="online">Online: -</div>

    <div>
        <input type="text" id="userInput" placeholder="Your user id">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div style="margin-top: 10px">
        <input type="text" id="peerInput" placeholder="Chat with..." disabled>
        <button id="chatButton" onclick="openChat()" disabled>Open chat</button>
        <button id="historyButton" onclick="loadHistory()" disabled>History</button>
    </div>
    <div style="margin-top: 10px">
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        let me = '';
        let peer = '';
        const messagesDiv = document.getElementById('messages');
        const statusDiv = document.getElementById('status');
        const onlineDiv = document.getElementById('online');
        const controls = ['peerInput', 'chatButton', 'historyButton', 'messageInput', 'sendButton'];

        function addLine(text, color) {
            const line = document.createElement('div');
            line.style.margin = '5px 0';
            line.style.color = color || 'gray';
            line.textContent = text;
            messagesDiv.appendChild(line);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected as ' + me : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            controls.forEach(id => document.getElementById(id).disabled = !connected);
            document.getElementById('connectButton').textContent = connected ? 'Disconnect' : 'Connect';
        }

        function send(frame) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify(frame));
            }
        }

        function handle(event) {
            switch (event.type) {
            case 'online_users':
                onlineDiv.textContent = 'Online: ' + event.users.join(', ');
                break;
            case 'receive_message':
                addLine(event.message.senderId + ': ' + event.message.message,
                    event.message.senderId === me ? 'blue' : 'green');
                break;
            case 'history':
                addLine('--- history (' + event.messages.length + ') ---');
                event.messages.forEach(m => addLine(m.senderId + ': ' + m.message, 'black'));
                break;
            case 'error':
                addLine('Error: ' + event.error, 'red');
                break;
            }
        }

        function connect() {
            me = document.getElementById('userInput').value.trim();
            if (!me) {
                addLine('Enter a user id first', 'red');
                return;
            }
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');

            ws.onopen = function() {
                send({ type: 'join', userId: me });
                updateStatus(true);
            };
            ws.onmessage = function(event) {
                event.data.split('\n').forEach(line => handle(JSON.parse(line)));
            };
            ws.onclose = function() {
                addLine('Connection closed');
                updateStatus(false);
                ws = null;
            };
            ws.onerror = function() {
                addLine('Connection error', 'red');
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function openChat() {
            peer = document.getElementById('peerInput').value.trim();
            if (peer) {
                send({ type: 'join_chat', senderId: me, receiverId: peer });
                addLine('Chatting with ' + peer);
            }
        }

        function loadHistory() {
            if (peer) {
                send({ type: 'history', senderId: me, receiverId: peer });
            }
        }

        function sendMessage() {
            const input = document.getElementById('messageInput');
            const text = input.value.trim();
            if (text && peer) {
                send({ type: 'send_message', senderId: me, receiverId: peer, message: text });
                input.value = '';
            }
        }

        document.getElementById('messageInput').addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
