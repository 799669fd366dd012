// Package enginews talks to a recording engine daemon over WebSocket. The
// protocol is a small request/response/event scheme: the engine greets with
// Hello, the client Identifies (answering an auth challenge when asked), and
// from then on requests are correlated by id while events are pushed.
package enginews

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// OpCodes for the WebSocket protocol
const (
	OpHello           = 0
	OpIdentify        = 1
	OpIdentified      = 2
	OpEvent           = 5
	OpRequest         = 6
	OpRequestResponse = 7
)

// RPCVersion is the protocol revision this client speaks.
const RPCVersion = 1

// Close codes sent by the engine.
const (
	CloseAuthFailed       = 4008
	CloseSessionTakenOver = 4009 // another controller identified
)

// Request status codes
const (
	StatusSuccess        = 100
	StatusUnknownRequest = 204
)

// Request types
const (
	RequestStartRecording         = "StartRecording"
	RequestStopRecording          = "StopRecording"
	RequestStopService            = "StopService"
	RequestGetRecordingState      = "GetRecordingState"
	RequestGetOutputFilePath      = "GetOutputFilePath"
	RequestGetAvailableCodecs     = "GetAvailableCodecs"
	RequestGetOptimalResolutions  = "GetOptimalResolutions"
	RequestGetRecommendedBitrate  = "GetRecommendedBitrate"
	RequestGetSupportedFrameRates = "GetSupportedFrameRates"
)

// Event types
const (
	EventRecordingStateChanged = "RecordingStateChanged"
	EventRecordingComplete     = "RecordingComplete"
	EventRecordingError        = "RecordingError"
)

// Message is the envelope of every frame.
type Message struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type HelloData struct {
	EngineVersion  string `json:"engineVersion"`
	RPCVersion     int    `json:"rpcVersion"`
	Authentication *struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication,omitempty"`
}

type IdentifyData struct {
	RPCVersion     int    `json:"rpcVersion"`
	Authentication string `json:"authentication,omitempty"`
}

type Request struct {
	RequestType string      `json:"requestType"`
	RequestID   string      `json:"requestId"`
	RequestData interface{} `json:"requestData,omitempty"`
}

type RequestStatus struct {
	Result  bool   `json:"result"`
	Code    int    `json:"code"`
	Comment string `json:"comment,omitempty"`
}

type Response struct {
	RequestType   string          `json:"requestType"`
	RequestID     string          `json:"requestId"`
	RequestStatus RequestStatus   `json:"requestStatus"`
	ResponseData  json.RawMessage `json:"responseData,omitempty"`
}

type Event struct {
	EventType string          `json:"eventType"`
	EventData json.RawMessage `json:"eventData,omitempty"`
}

func newMessage(op int, d interface{}) (Message, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return Message{}, err
	}
	return Message{Op: op, D: raw}, nil
}

// AuthResponse answers a Hello challenge:
// base64(sha256(base64(sha256(password + salt)) + challenge)).
func AuthResponse(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	secretB64 := base64.StdEncoding.EncodeToString(secret[:])
	auth := sha256.Sum256([]byte(secretB64 + challenge))
	return base64.StdEncoding.EncodeToString(auth[:])
}

var (
	ErrNotConnected     = errors.New("not connected to engine")
	ErrAlreadyConnected = errors.New("already connected to engine")
	ErrDisconnected     = errors.New("engine connection lost")
	ErrRequestTimeout   = errors.New("engine request timeout")
	ErrAuthRequired     = errors.New("engine requires a password")
	ErrHandshake        = errors.New("engine handshake failed")
)

// RequestError is a request the engine answered with a failure status.
type RequestError struct {
	RequestType string
	Code        int
	Comment     string
}

func (e *RequestError) Error() string {
	if e.Code == StatusUnknownRequest {
		return fmt.Sprintf("engine does not support request %s (code %d)", e.RequestType, e.Code)
	}
	return fmt.Sprintf("engine rejected %s (code %d): %s", e.RequestType, e.Code, e.Comment)
}

// Unsupported reports whether the engine did not know the request type.
func (e *RequestError) Unsupported() bool {
	return e.Code == StatusUnknownRequest
}
