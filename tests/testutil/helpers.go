package testutil

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ChatRecord is one record the mock chat server streams back.
type ChatRecord struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// ChatServerOptions shapes how the mock server writes its reply.
type ChatServerOptions struct {
	ChunkSize int             // bytes per flushed write; 0 writes everything at once
	Delay     time.Duration   // pause between chunks
	Gate      <-chan struct{} // if set, the reply waits until the gate is closed
	Status    int             // non-zero overrides 200
	Raw       string          // if set, streamed verbatim instead of Records
	Records   []ChatRecord
}

// MockChatServer is a chat endpoint that streams NDJSON replies
type MockChatServer struct {
	*httptest.Server

	requests atomic.Int32
	mu       sync.Mutex
	messages []string
	started  chan struct{}
	once     sync.Once
}

// Requests returns how many turns the server has received.
func (s *MockChatServer) Requests() int {
	return int(s.requests.Load())
}

// Messages returns the user messages received, in order.
func (s *MockChatServer) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.messages))
	copy(out, s.messages)
	return out
}

// Started is closed when the first request arrives.
func (s *MockChatServer) Started() <-chan struct{} {
	return s.started
}

// URL of the chat endpoint.
func (s *MockChatServer) ChatURL() string {
	return s.Server.URL + "/chat"
}

// CreateMockChatServer creates a mock chat server for testing
func CreateMockChatServer(t *testing.T, opts ChatServerOptions) *MockChatServer {
	t.Helper()

	body := opts.Raw
	if body == "" {
		for _, rec := range opts.Records {
			line, err := json.Marshal(rec)
			if err != nil {
				t.Fatalf("marshal record: %v", err)
			}
			body += string(line) + "\n"
		}
	}

	srv := &MockChatServer{started: make(chan struct{})}
	srv.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		var req struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		srv.requests.Add(1)
		srv.mu.Lock()
		srv.messages = append(srv.messages, req.Message)
		srv.mu.Unlock()
		srv.once.Do(func() { close(srv.started) })

		if opts.Status != 0 && opts.Status != http.StatusOK {
			w.WriteHeader(opts.Status)
			return
		}

		if opts.Gate != nil {
			select {
			case <-opts.Gate:
			case <-r.Context().Done():
				return
			}
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)

		size := opts.ChunkSize
		if size <= 0 {
			size = len(body)
		}
		for start := 0; start < len(body); start += size {
			end := start + size
			if end > len(body) {
				end = len(body)
			}
			w.Write([]byte(body[start:end]))
			if flusher != nil {
				flusher.Flush()
			}
			if opts.Delay > 0 {
				time.Sleep(opts.Delay)
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// GenerateWAV encodes mono 16-bit PCM samples in [-1, 1] as a WAV file.
func GenerateWAV(t *testing.T, samples []float64, sampleRate int) []byte {
	t.Helper()

	const bitsPerSample = 16
	channels := 1
	dataSize := len(samples) * channels * bitsPerSample / 8

	buf := make([]byte, 44+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*channels*bitsPerSample/8))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(channels*bitsPerSample/8))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(buf[44+i*2:], uint16(int16(s*32767)))
	}
	return buf
}

// GenerateTestAudio generates silent WAV audio with the specified duration
func GenerateTestAudio(t *testing.T, duration time.Duration) []byte {
	t.Helper()
	sampleRate := 16000
	return GenerateWAV(t, make([]float64, int(duration.Seconds()*float64(sampleRate))), sampleRate)
}

// GenerateToneAudio generates a sine tone WAV at freq Hz.
func GenerateToneAudio(t *testing.T, duration time.Duration, freq, amplitude float64) []byte {
	t.Helper()
	sampleRate := 16000
	n := int(duration.Seconds() * float64(sampleRate))
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return GenerateWAV(t, samples, sampleRate)
}

// Base64 encodes audio the way the chat server embeds it in audio records.
func Base64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
