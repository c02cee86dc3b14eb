// Package io provides a file-journal event backend. Every published event is
// appended to a JSON-lines file; subscribers tail the file, so the journal
// doubles as a durable, grep-able record of everything the engine emitted.
package io

import (
	"bufio"
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/procflow/internal/engine/jsoncodec"
	"github.com/drblury/procflow/transport"
)

// TransportName is the name used to register this backend.
const TransportName = "io"

// DefaultJournalPath is used when cfg.JournalPath is empty.
const DefaultJournalPath = "procflow_events.log"

// pollInterval is how long the tailer sleeps at end of journal before
// checking for new lines.
const pollInterval = 50 * time.Millisecond

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(path string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return &Publisher{path: path, logger: logger}, nil
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(path string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return &Subscriber{path: path, logger: logger, done: make(chan struct{})}, nil
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.IOCapabilities)
}

// Build creates a journal sink appending to cfg.JournalPath.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Sink, error) {
	path := cfg.JournalPath
	if path == "" {
		path = DefaultJournalPath
	}

	pub, err := PublisherFactory(path, logger)
	if err != nil {
		return transport.Sink{}, err
	}

	sub, err := SubscriberFactory(path, logger)
	if err != nil {
		return transport.Sink{}, err
	}

	return transport.Sink{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// Capabilities returns the capabilities of this backend.
func Capabilities() transport.Capabilities {
	return transport.IOCapabilities
}

// journalLine is one persisted event in the JSON-lines file.
type journalLine struct {
	UUID     string            `json:"uuid"`
	Metadata map[string]string `json:"metadata"`
	Payload  []byte            `json:"payload"`
	Topic    string            `json:"topic"`
}

// Publisher appends events to the journal file.
type Publisher struct {
	path   string
	logger watermill.LoggerAdapter
	mu     sync.Mutex
}

// Publish appends one line per message. The file is opened per call so the
// journal can be rotated out from under a long-lived process.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := os.OpenFile(p.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, msg := range messages {
		line := journalLine{
			UUID:     msg.UUID,
			Metadata: msg.Metadata,
			Payload:  msg.Payload,
			Topic:    topic,
		}

		b, err := jsoncodec.Marshal(line)
		if err != nil {
			return err
		}

		if _, err := f.Write(append(b, '\n')); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op; the file is not held open between publishes.
func (p *Publisher) Close() error {
	return nil
}

// Subscriber tails the journal file and delivers lines matching the topic.
type Subscriber struct {
	path   string
	logger watermill.LoggerAdapter

	closeOnce sync.Once
	done      chan struct{}
}

// Subscribe reads the journal from the beginning and then follows appends
// until ctx is cancelled. Historic events are replayed, which is the point
// of a journal.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	out := make(chan *message.Message)

	go func() {
		defer close(out)

		f, err := os.OpenFile(s.path, os.O_RDONLY|os.O_CREATE, 0o600)
		if err != nil {
			s.logger.Error("open event journal", err, nil)
			return
		}
		defer f.Close()

		var lastPos int64
		reader := bufio.NewReader(f)

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			default:
				line, err := reader.ReadBytes('\n')
				if err != nil {
					if err == io.EOF {
						if !s.waitForMore(f, reader, &lastPos) {
							return
						}
						continue
					}
					s.logger.Error("read event journal", err, nil)
					return
				}

				currentPos, _ := f.Seek(0, io.SeekCurrent)
				lastPos = currentPos - int64(reader.Buffered())

				if !s.deliver(ctx, out, line, topic) {
					return
				}
			}
		}
	}()

	return out, nil
}

// Close stops every tail goroutine. Safe to call more than once.
func (s *Subscriber) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// waitForMore parks the tailer at end of journal, then re-seeks to the last
// fully consumed position so a partially written line is re-read whole.
func (s *Subscriber) waitForMore(f *os.File, reader *bufio.Reader, lastPos *int64) bool {
	currentPos, _ := f.Seek(0, io.SeekCurrent)
	currentPos -= int64(reader.Buffered())

	if currentPos > *lastPos {
		*lastPos = currentPos
	}

	time.Sleep(pollInterval)

	if _, err := f.Seek(*lastPos, io.SeekStart); err != nil {
		s.logger.Error("seek event journal", err, nil)
		return false
	}
	reader.Reset(f)
	return true
}

func (s *Subscriber) deliver(ctx context.Context, out chan<- *message.Message, raw []byte, topic string) bool {
	var line journalLine
	if err := jsoncodec.Unmarshal(raw, &line); err != nil {
		s.logger.Error("decode journal line", err, nil)
		return true
	}

	if line.Topic != topic {
		return true
	}

	msg := message.NewMessage(line.UUID, line.Payload)
	msg.Metadata = line.Metadata

	select {
	case out <- msg:
		select {
		case <-msg.Acked():
		case <-msg.Nacked():
			s.logger.Debug("journal event nacked", watermill.LogFields{"uuid": msg.UUID})
		case <-ctx.Done():
			return false
		case <-s.done:
			return false
		}
	case <-ctx.Done():
		return false
	case <-s.done:
		return false
	}
	return true
}
