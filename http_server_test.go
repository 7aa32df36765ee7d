package scopeplot

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

func startTestServer(t *testing.T, content string, chunkSize int) (*WaveformCapture, string) {
	t.Helper()

	capture, err := LoadReader(context.Background(), "record_0.csv", strings.NewReader(content), LoadOptions{})
	if err != nil {
		t.Fatalf("LoadReader() error = %v", err)
	}

	// We deliberately do not call Run() to avoid binding to a fixed port.
	s := NewHttpServer(capture, DefaultPlotOptions(), "127.0.0.1", 0)
	if chunkSize > 0 {
		s.chunkSize = chunkSize
	}

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return capture, srv.URL
}

// readWebsocketMessages dials /ws2 and decodes every message until the
// server closes the connection.
func readWebsocketMessages(t *testing.T, baseURL string) []WSMessage {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(baseURL, "http")+"/ws2", nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer c.Close(websocket.StatusNormalClosure, "")

	var messages []WSMessage
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				t.Fatalf("unexpected websocket error: %v", err)
			}
			return messages
		}

		if typ != websocket.MessageBinary {
			t.Fatalf("expected binary message, got %v", typ)
		}

		msg, err := DecodeWSMessage(data)
		if err != nil {
			t.Fatalf("DecodeWSMessage() error = %v", err)
		}
		messages = append(messages, msg)
	}
}

const testCaptureContent = "sampling rate [Sa/s]: 1 \nTime,Ch1\n0,0.5\n1,1.5\n2,2.5\n3,3.5\n4,4.5\n"

func TestHTTPServer_Metadata(t *testing.T) {
	capture, baseURL := startTestServer(t, testCaptureContent, 0)

	resp, err := http.Get(baseURL + "/metadata")
	if err != nil {
		t.Fatalf("GET /metadata failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q", ct)
	}

	var m Metadata
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("failed to decode metadata: %v", err)
	}

	if m.Source != "record_0.csv" || m.HeaderRowCount != 2 || m.NumSamples != 5 {
		t.Fatalf("unexpected metadata: %+v", m)
	}
	if m.SamplePeriod != capture.SamplePeriod() || m.Duration != 4 {
		t.Fatalf("unexpected timing: period=%v duration=%v", m.SamplePeriod, m.Duration)
	}
	if m.HeaderFields["sampling rate [Sa/s]"] != "1" {
		t.Fatalf("unexpected header fields: %v", m.HeaderFields)
	}
	if m.PlotLabels.Title != "record_0.csv" || m.PlotLabels.XLabel != "Time [s]" {
		t.Fatalf("unexpected labels: %+v", m.PlotLabels)
	}
}

func TestHTTPServer_Plot(t *testing.T) {
	_, baseURL := startTestServer(t, testCaptureContent, 0)

	tests := []struct {
		path        string
		contentType string
		marker      string
	}{
		{"/plot.svg", "image/svg+xml", "<svg"},
		{"/plot.png", "image/png", "\x89PNG"},
		{"/plot.pdf", "application/pdf", "%PDF"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(baseURL + tt.path)
			if err != nil {
				t.Fatalf("GET %s failed: %v", tt.path, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want 200", resp.StatusCode)
			}
			if ct := resp.Header.Get("Content-Type"); ct != tt.contentType {
				t.Fatalf("Content-Type = %q, want %q", ct, tt.contentType)
			}

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				t.Fatalf("failed to read body: %v", err)
			}
			if !strings.Contains(string(body), tt.marker) {
				t.Fatalf("body does not contain %q: %.20q", tt.marker, body)
			}
		})
	}
}

func TestHTTPServer_Index(t *testing.T) {
	_, baseURL := startTestServer(t, testCaptureContent, 0)

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Get(baseURL + "/")
	if err != nil {
		t.Fatalf("GET / failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/plot.svg" {
		t.Fatalf("expected redirect to /plot.svg, got %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}

	resp, err = client.Get(baseURL + "/nothing-here")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHTTPServer_WebSocket(t *testing.T) {
	capture, baseURL := startTestServer(t, testCaptureContent, 2)

	messages := readWebsocketMessages(t, baseURL)

	// METADATA, three DATA chunks of at most 2 samples, STREAM_END.
	if len(messages) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(messages))
	}

	metadata, ok := messages[0].Payload.(Metadata)
	if !ok {
		t.Fatalf("first message is %T, want Metadata", messages[0].Payload)
	}
	if metadata.NumSamples != 5 {
		t.Fatalf("NumSamples = %d, want 5", metadata.NumSamples)
	}

	var times, amplitudes []float64
	for i, msg := range messages[1:4] {
		data, ok := msg.Payload.(DataMessage)
		if !ok {
			t.Fatalf("message %d is %T, want DataMessage", i+1, msg.Payload)
		}
		if int(data.Offset) != len(times) {
			t.Fatalf("Offset = %d, want %d", data.Offset, len(times))
		}
		times = append(times, data.Times...)
		amplitudes = append(amplitudes, data.Amplitudes...)
	}

	if !reflect.DeepEqual(times, capture.Times()) || !reflect.DeepEqual(amplitudes, capture.Amplitudes()) {
		t.Fatalf("streamed samples differ: %v %v", times, amplitudes)
	}

	end, ok := messages[4].Payload.(StreamEndMessage)
	if !ok {
		t.Fatalf("last message is %T, want StreamEndMessage", messages[4].Payload)
	}
	if end.Error {
		t.Fatalf("stream ended with error: %s", end.Msg)
	}
}

func TestHTTPServer_Run(t *testing.T) {
	capture, err := LoadReader(context.Background(), "mem", strings.NewReader("0,1\n1,2\n"), LoadOptions{})
	if err != nil {
		t.Fatalf("LoadReader() error = %v", err)
	}

	// Find a free port.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	s := NewHttpServer(capture, DefaultPlotOptions(), "127.0.0.1", uint16(port))
	if s.Addr() != "127.0.0.1:"+strconv.Itoa(port) {
		t.Fatalf("Addr() = %q", s.Addr())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + s.Addr() + "/metadata")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never came up: %v", err)
	}
	resp.Body.Close()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
