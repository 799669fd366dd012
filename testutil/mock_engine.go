package testutil

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MockRequest is one request received by MockEngineServer.
type MockRequest struct {
	Type string
	Data map[string]interface{}
}

type mockFailure struct {
	code    int
	comment string
}

// MockEngineServer simulates a recording engine daemon speaking the engine
// WebSocket protocol. With AutoAdvance set it also plays the engine's part:
// a start command is followed by preparing/recording events and a stop
// command by stopping/idle and a completion.
type MockEngineServer struct {
	server *httptest.Server

	mu          sync.Mutex
	conn        *websocket.Conn
	handshakes  int
	requests    []MockRequest
	failures    map[string]mockFailure
	silent      map[string]bool
	password    string
	state       string
	outputPath  string
	outputDir   string
	recordings  int
	codecs      []map[string]interface{}
	resolutions []map[string]interface{}
	bitrate     int
	frameRates  []int
	autoAdvance bool

	// writeMu serializes frames written by responses and pushes.
	writeMu sync.Mutex
}

var engineUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewMockEngine starts a mock engine on a loopback port.
func NewMockEngine() *MockEngineServer {
	m := &MockEngineServer{
		failures:  make(map[string]mockFailure),
		silent:    make(map[string]bool),
		state:     "idle",
		outputDir: "/out",
		codecs: []map[string]interface{}{
			{"mimeType": "video/avc", "displayName": "AVC"},
			{"mimeType": "video/hevc", "displayName": "HEVC"},
		},
		resolutions: []map[string]interface{}{
			{"width": 3840, "height": 2160},
			{"width": 1920, "height": 1080},
		},
		bitrate: 8_000_000,
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handleWebSocket))
	return m
}

// URL returns the ws:// address of the server.
func (m *MockEngineServer) URL() string {
	return "ws" + strings.TrimPrefix(m.server.URL, "http")
}

// Close shuts the server and any live connection down.
func (m *MockEngineServer) Close() {
	m.DropConnection()
	m.server.Close()
}

// SetPassword makes the next handshakes require authentication.
func (m *MockEngineServer) SetPassword(password string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.password = password
}

// SetAutoAdvance toggles the scripted engine behaviour.
func (m *MockEngineServer) SetAutoAdvance(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoAdvance = on
}

// SetState sets the answer to GetRecordingState.
func (m *MockEngineServer) SetState(state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
}

// SetOutputPath sets the answer to GetOutputFilePath.
func (m *MockEngineServer) SetOutputPath(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputPath = path
}

// SetFrameRates makes the engine answer GetSupportedFrameRates. Without it
// the request is unknown to the engine.
func (m *MockEngineServer) SetFrameRates(rates ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frameRates = rates
}

// FailRequest makes every request of requestType fail with code.
func (m *MockEngineServer) FailRequest(requestType string, code int, comment string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[requestType] = mockFailure{code: code, comment: comment}
}

// IgnoreRequest makes the engine never answer requestType.
func (m *MockEngineServer) IgnoreRequest(requestType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.silent[requestType] = true
}

// Requests returns every request received so far.
func (m *MockEngineServer) Requests() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockRequest(nil), m.requests...)
}

// RequestCount counts requests of requestType.
func (m *MockEngineServer) RequestCount(requestType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if r.Type == requestType {
			n++
		}
	}
	return n
}

// Handshakes returns the number of completed handshakes.
func (m *MockEngineServer) Handshakes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handshakes
}

// Connected reports whether a client is currently identified.
func (m *MockEngineServer) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// DropConnection closes the live connection without a close frame.
func (m *MockEngineServer) DropConnection() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// CloseWithCode sends a close frame with code and drops the connection.
func (m *MockEngineServer) CloseWithCode(code int, text string) {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn == nil {
		return
	}
	m.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
	m.writeMu.Unlock()
	_ = conn.Close()
}

// PushState sends a RecordingStateChanged event.
func (m *MockEngineServer) PushState(state string) error {
	return m.pushEvent("RecordingStateChanged", map[string]interface{}{"state": state})
}

// PushComplete sends a RecordingComplete event.
func (m *MockEngineServer) PushComplete(path string) error {
	return m.pushEvent("RecordingComplete", map[string]interface{}{"outputPath": path})
}

// PushError sends a RecordingError event.
func (m *MockEngineServer) PushError(message string) error {
	return m.pushEvent("RecordingError", map[string]interface{}{"message": message})
}

func (m *MockEngineServer) pushEvent(eventType string, data map[string]interface{}) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("no client connected")
	}
	return m.write(conn, map[string]interface{}{
		"op": 5,
		"d": map[string]interface{}{
			"eventType": eventType,
			"eventData": data,
		},
	})
}

func (m *MockEngineServer) write(conn *websocket.Conn, frame interface{}) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(frame)
}

func mockAuth(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	secretB64 := base64.StdEncoding.EncodeToString(secret[:])
	auth := sha256.Sum256([]byte(secretB64 + challenge))
	return base64.StdEncoding.EncodeToString(auth[:])
}

// handleWebSocket manages one WebSocket connection
func (m *MockEngineServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := engineUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() {
		m.mu.Lock()
		if m.conn == conn {
			m.conn = nil
		}
		m.mu.Unlock()
		_ = conn.Close()
	}()

	m.mu.Lock()
	password := m.password
	m.mu.Unlock()

	hello := map[string]interface{}{"engineVersion": "1.4.0", "rpcVersion": 1}
	const salt, challenge = "mock-salt", "mock-challenge"
	if password != "" {
		hello["authentication"] = map[string]interface{}{"challenge": challenge, "salt": salt}
	}
	if err := m.write(conn, map[string]interface{}{"op": 0, "d": hello}); err != nil {
		return
	}

	var identify struct {
		Op int `json:"op"`
		D  struct {
			RPCVersion     int    `json:"rpcVersion"`
			Authentication string `json:"authentication"`
		} `json:"d"`
	}
	if err := conn.ReadJSON(&identify); err != nil || identify.Op != 1 {
		return
	}
	if password != "" && identify.D.Authentication != mockAuth(password, salt, challenge) {
		m.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(4008, "authentication failed"), time.Now().Add(time.Second))
		m.writeMu.Unlock()
		return
	}
	// Registered before Identified goes out so pushes work as soon as the
	// client returns from Connect.
	m.mu.Lock()
	m.conn = conn
	m.handshakes++
	m.mu.Unlock()
	if err := m.write(conn, map[string]interface{}{"op": 2, "d": map[string]interface{}{"negotiatedRpcVersion": 1}}); err != nil {
		return
	}

	for {
		var msg struct {
			Op int `json:"op"`
			D  struct {
				RequestType string                 `json:"requestType"`
				RequestID   string                 `json:"requestId"`
				RequestData map[string]interface{} `json:"requestData"`
			} `json:"d"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Op != 6 {
			continue
		}
		m.handleRequest(conn, msg.D.RequestType, msg.D.RequestID, msg.D.RequestData)
	}
}

func (m *MockEngineServer) handleRequest(conn *websocket.Conn, requestType, requestID string, data map[string]interface{}) {
	m.mu.Lock()
	m.requests = append(m.requests, MockRequest{Type: requestType, Data: data})
	if m.silent[requestType] {
		m.mu.Unlock()
		return
	}
	failure, failing := m.failures[requestType]

	status := map[string]interface{}{"result": true, "code": 100}
	var respData interface{}
	var script func()

	switch {
	case failing:
		status = map[string]interface{}{"result": false, "code": failure.code, "comment": failure.comment}
	case requestType == "StartRecording":
		if m.autoAdvance {
			m.state = "recording"
			m.outputPath = ""
			script = func() {
				_ = m.PushState("preparing")
				_ = m.PushState("recording")
			}
		}
	case requestType == "StopRecording":
		if m.autoAdvance && m.state == "recording" {
			m.recordings++
			path := fmt.Sprintf("%s/capture-%d.mp4", m.outputDir, m.recordings)
			m.state = "idle"
			m.outputPath = path
			script = func() {
				_ = m.PushState("stopping")
				_ = m.PushState("idle")
				_ = m.PushComplete(path)
			}
		}
	case requestType == "StopService":
	case requestType == "GetRecordingState":
		respData = map[string]interface{}{"state": m.state}
	case requestType == "GetOutputFilePath":
		respData = map[string]interface{}{"outputPath": m.outputPath}
	case requestType == "GetAvailableCodecs":
		respData = map[string]interface{}{"codecs": m.codecs}
	case requestType == "GetOptimalResolutions":
		respData = map[string]interface{}{"resolutions": m.resolutions}
	case requestType == "GetRecommendedBitrate":
		respData = map[string]interface{}{"bitrate": m.bitrate}
	case requestType == "GetSupportedFrameRates" && m.frameRates != nil:
		respData = map[string]interface{}{"frameRates": m.frameRates}
	default:
		status = map[string]interface{}{"result": false, "code": 204, "comment": "unknown request type"}
	}
	m.mu.Unlock()

	d := map[string]interface{}{
		"requestType":   requestType,
		"requestId":     requestID,
		"requestStatus": status,
	}
	if respData != nil {
		d["responseData"] = respData
	}
	if err := m.write(conn, map[string]interface{}{"op": 7, "d": d}); err != nil {
		return
	}
	if script != nil {
		script()
	}
}

