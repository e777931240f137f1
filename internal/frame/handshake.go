package frame

import (
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/Tyrowin/roomhub/internal/apperr"
)

// acceptGUID is the fixed GUID the protocol appends to the client key.
const acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// AcceptKey computes the Sec-WebSocket-Accept token for a client key.
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(acceptGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// PerformHandshake parses a raw upgrade request header block and returns
// the literal 101 response to write back.
func PerformHandshake(rawRequestHeader []byte) ([]byte, error) {
	header, err := parseRequestHeader(string(rawRequestHeader))
	if err != nil {
		return nil, err
	}
	return handshakeResponse(header)
}

func parseRequestHeader(raw string) (http.Header, error) {
	lines := strings.Split(raw, "\n")
	requestLine := strings.Fields(strings.TrimSuffix(lines[0], "\r"))
	if len(requestLine) != 3 || !strings.HasPrefix(requestLine[2], "HTTP/") {
		return nil, apperr.Protocol("malformed request line")
	}
	if requestLine[0] != http.MethodGet {
		return nil, apperr.Protocol("upgrade requires GET, got %s", requestLine[0])
	}

	header := make(http.Header)
	for _, line := range lines[1:] {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, apperr.Protocol("malformed header line %q", line)
		}
		header.Add(textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(name)), strings.TrimSpace(value))
	}
	return header, nil
}

func handshakeResponse(header http.Header) ([]byte, error) {
	key := strings.TrimSpace(header.Get("Sec-WebSocket-Key"))
	if key == "" {
		return nil, apperr.Protocol("missing Sec-WebSocket-Key header")
	}
	if decoded, err := base64.StdEncoding.DecodeString(key); err != nil || len(decoded) != 16 {
		return nil, apperr.Protocol("malformed Sec-WebSocket-Key header")
	}

	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + AcceptKey(key) + "\r\n\r\n"
	return []byte(resp), nil
}

// headerHasToken reports whether a comma separated header contains token,
// case-insensitively.
func headerHasToken(header http.Header, name, token string) bool {
	for _, value := range header.Values(name) {
		for _, part := range strings.Split(value, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
