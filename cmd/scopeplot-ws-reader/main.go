package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"

	"github.com/cactusdynamics/scopeplot"
	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
)

// Config holds the configuration for the WS reader
type Config struct {
	ServerURL string
	Output    io.Writer
	Logger    logrus.FieldLogger
}

// WSReader reads a capture from the scopeplot /ws2 endpoint and writes it
// out as CSV.
type WSReader struct {
	config    Config
	csvWriter *csv.Writer

	metadata scopeplot.Metadata
}

func NewWSReader(config Config) *WSReader {
	return &WSReader{
		config:    config,
		csvWriter: csv.NewWriter(config.Output),
	}
}

// Metadata returns the METADATA message received, if any.
func (w *WSReader) Metadata() scopeplot.Metadata {
	return w.metadata
}

// Connect establishes the websocket connection and processes messages until
// the stream ends.
func (w *WSReader) Connect(ctx context.Context) error {
	u, err := url.Parse(w.config.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws2"

	w.config.Logger.WithField("url", u.String()).Info("connecting to websocket")

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to websocket: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Captures can be large.
	conn.SetReadLimit(64 << 20)

	if err := w.csvWriter.Write([]string{"index", "time", "amplitude"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for {
		_, messageData, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				w.config.Logger.Info("connection closed normally")
				break
			}
			w.config.Logger.WithError(err).Error("error reading message")
			w.csvWriter.Flush()
			return fmt.Errorf("stream interrupted: %w", err)
		}

		if err := w.processMessage(messageData); err != nil {
			if err == io.EOF {
				w.config.Logger.Info("stream ended")
				break
			}
			w.config.Logger.WithError(err).Error("error processing message")
		}
	}

	w.csvWriter.Flush()
	return w.csvWriter.Error()
}

func (w *WSReader) processMessage(messageData []byte) error {
	msg, err := scopeplot.DecodeWSMessage(messageData)
	if err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}

	switch msg.Header.Type {
	case scopeplot.MessageTypeData:
		dataMsg, ok := msg.Payload.(scopeplot.DataMessage)
		if !ok {
			return fmt.Errorf("invalid DATA message payload type: %T", msg.Payload)
		}
		return w.processDataMessage(dataMsg)

	case scopeplot.MessageTypeMetadata:
		metadata, ok := msg.Payload.(scopeplot.Metadata)
		if !ok {
			return fmt.Errorf("invalid METADATA message payload type: %T", msg.Payload)
		}
		w.metadata = metadata
		w.config.Logger.WithFields(logrus.Fields{
			"source":  metadata.Source,
			"samples": metadata.NumSamples,
		}).Debug("received metadata")

	case scopeplot.MessageTypeStreamEnd:
		streamEnd, ok := msg.Payload.(scopeplot.StreamEndMessage)
		if !ok {
			return fmt.Errorf("invalid STREAM_END message payload type: %T", msg.Payload)
		}
		if streamEnd.Error {
			w.config.Logger.WithField("message", streamEnd.Msg).Error("stream ended with error")
		} else {
			w.config.Logger.WithField("message", streamEnd.Msg).Info("stream ended successfully")
		}
		return io.EOF

	default:
		w.config.Logger.Warnf("unknown message type 0x%02x", msg.Header.Type)
	}

	return nil
}

func (w *WSReader) processDataMessage(dataMsg scopeplot.DataMessage) error {
	for i := 0; i < len(dataMsg.Times); i++ {
		row := []string{
			strconv.FormatUint(uint64(dataMsg.Offset)+uint64(i), 10),
			strconv.FormatFloat(dataMsg.Times[i], 'g', -1, 64),
			strconv.FormatFloat(dataMsg.Amplitudes[i], 'g', -1, 64),
		}
		if err := w.csvWriter.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	w.csvWriter.Flush()
	return w.csvWriter.Error()
}

type Options struct {
	URL   string `short:"u" long:"url" default:"http://localhost:5274" description:"URL of the scopeplot server"`
	Debug bool   `short:"d" long:"debug" description:"Verbose logging"`
}

func main() {
	var opts Options
	if _, err := flags.Parse(&opts); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if opts.Debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	reader := NewWSReader(Config{
		ServerURL: opts.URL,
		Output:    os.Stdout,
		Logger:    logger.WithField("tag", "WSReader"),
	})
	if err := reader.Connect(context.Background()); err != nil {
		logger.WithError(err).Error("failed to read capture")
		os.Exit(1)
	}
}
