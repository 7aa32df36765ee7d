package scopeplot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
)

// Number of samples per DATA message on /ws2.
const defaultChunkSize = 4096

var plotContentTypes = map[string]string{
	"svg": "image/svg+xml",
	"png": "image/png",
	"pdf": "application/pdf",
}

// HttpServer shows a capture in the browser. It renders the chart on demand
// and streams the raw samples over a websocket for other tools.
type HttpServer struct {
	capture     *WaveformCapture
	plotOptions PlotOptions
	metadata    Metadata
	host        string
	port        uint16
	chunkSize   int
	mux         *http.ServeMux
	logger      logrus.FieldLogger

	// Open the chart in a browser once listening. Only honoured by prod
	// builds.
	OpenBrowser bool
}

func NewHttpServer(capture *WaveformCapture, plotOptions PlotOptions, host string, port uint16) *HttpServer {
	s := &HttpServer{
		capture:     capture,
		plotOptions: plotOptions,
		metadata:    NewMetadata(capture, plotOptions),
		host:        host,
		port:        port,
		chunkSize:   defaultChunkSize,
		mux:         http.NewServeMux(),
		logger:      logrus.WithField("tag", "HttpServer"),
	}

	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/plot.svg", s.handlePlot)
	s.mux.HandleFunc("/plot.png", s.handlePlot)
	s.mux.HandleFunc("/plot.pdf", s.handlePlot)
	s.mux.HandleFunc("/metadata", s.handleMetadata)
	s.mux.HandleFunc("/ws2", s.handleWebSocket)

	return s
}

// Handler exposes the routes, mostly for tests.
func (s *HttpServer) Handler() http.Handler {
	return s.mux
}

func (s *HttpServer) handleIndex(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/" {
		http.NotFound(w, req)
		return
	}

	http.Redirect(w, req, "/plot.svg", http.StatusFound)
}

func (s *HttpServer) handlePlot(w http.ResponseWriter, req *http.Request) {
	format := strings.TrimPrefix(req.URL.Path, "/plot.")
	contentType, ok := plotContentTypes[format]
	if !ok {
		http.NotFound(w, req)
		return
	}

	// Render into memory first so a failure still produces a clean 500.
	var buf bytes.Buffer
	if err := WritePlot(&buf, s.capture, s.plotOptions, format); err != nil {
		s.logger.WithError(err).WithField("format", format).Error("failed to render plot")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(buf.Bytes())
}

func (s *HttpServer) handleMetadata(w http.ResponseWriter, req *http.Request) {
	data, err := json.Marshal(s.metadata)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Add("Content-Type", "application/json")
	w.Write(data)
}

// handleWebSocket sends METADATA, the samples as DATA messages and finally
// STREAM_END, then closes the connection.
func (s *HttpServer) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	c, err := websocket.Accept(w, req, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.WithError(err).Warn("failed to accept new websocket connection")
		return
	}

	ctx := c.CloseRead(req.Context()) // We only write.

	messages := make([]WSMessage, 0, s.capture.Len()/s.chunkSize+2)
	messages = append(messages, WSMessage{
		Header:  EnvelopeHeader{Version: ProtocolVersion, Type: MessageTypeMetadata},
		Payload: s.metadata,
	})
	for _, dataMsg := range SplitDataMessages(s.capture, s.chunkSize) {
		messages = append(messages, WSMessage{
			Header:  EnvelopeHeader{Version: ProtocolVersion, Type: MessageTypeData},
			Payload: dataMsg,
		})
	}
	messages = append(messages, WSMessage{
		Header:  EnvelopeHeader{Version: ProtocolVersion, Type: MessageTypeStreamEnd},
		Payload: StreamEndMessage{Msg: fmt.Sprintf("%d samples sent", s.capture.Len())},
	})

	for _, msg := range messages {
		buf, err := EncodeWSMessage(msg)
		if err != nil {
			s.logger.WithError(err).Error("failed to encode websocket message")
			c.Close(websocket.StatusInternalError, "encoding failed")
			return
		}

		if err := c.Write(ctx, websocket.MessageBinary, buf); err != nil {
			s.logger.WithError(err).Warn("websocket write failed and closed")
			return
		}
	}

	c.Close(websocket.StatusNormalClosure, "")
}

func (s *HttpServer) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(int(s.port)))
}

// Run serves until ctx is cancelled.
func (s *HttpServer) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("cannot listen on %s: %w", s.Addr(), err)
	}

	server := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	url := fmt.Sprintf("http://%s", listener.Addr().String())
	s.logger.Infof("starting HTTP server at %s", url)
	if s.OpenBrowser {
		openBrowser(url)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}

		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
