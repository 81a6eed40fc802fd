// Package bridge connects browser pages to widget sessions over WebSocket.
// Every page renders bubbles and plays media on behalf of one session; it
// reports media and recognition events back as inbound frames.
package bridge

import (
	"github.com/normanking/cortextalk/internal/capability"
	"github.com/normanking/cortextalk/internal/dictation"
)

// Inbound frame types
const (
	FrameHello             = "hello"
	FrameSend              = "send"
	FrameInput             = "input"
	FrameMedia             = "media"
	FrameVisibility        = "visibility"
	FrameDictationToggle   = "dictation.toggle"
	FrameRecognitionStart  = "recognition.start"
	FrameRecognitionResult = "recognition.result"
	FrameRecognitionEnd    = "recognition.end"
	FrameRecognitionError  = "recognition.error"
	FrameLogs              = "logs"
)

// Outbound frame types besides the bus view events
const (
	FrameReady            = "ready"
	FrameVideoPlay        = "video.play"
	FrameVideoPause       = "video.pause"
	FrameVideoRewind      = "video.rewind"
	FrameVideoActive      = "video.active"
	FrameAudioPlay        = "audio.play"
	FrameAudioStop        = "audio.stop"
	FrameRecognitionBegin = "recognition.start"
	FrameRecognitionHalt  = "recognition.stop"
	FrameLogHistory       = "logs"
)

// audioTargetPrefix prefixes a clip ID in the target of audio media frames.
const audioTargetPrefix = "audio:"

// inbound is the union of every frame a page sends.
type inbound struct {
	Type string `json:"type"`

	// hello
	Capabilities capability.Hello `json:"capabilities"`

	// send, input
	Value string `json:"value"`

	// media
	Target string `json:"target"`
	Event  string `json:"event"`
	Error  string `json:"error"`

	// visibility
	Hidden bool `json:"hidden"`

	// recognition.result
	ResultIndex int                `json:"resultIndex"`
	Results     []dictation.Result `json:"results"`

	// logs
	Limit int `json:"limit"`
}

// frame builds an outbound frame from its type and fields.
func frame(frameType string, data map[string]any) map[string]any {
	out := make(map[string]any, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out["type"] = frameType
	return out
}
