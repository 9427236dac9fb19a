package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultLogFile = "./leaguebot.log"
	opsQueueSize   = 256
)

// stderr receives the service's own setup problems.
var stderr io.Writer = os.Stderr

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Ops     OpsConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// OpsConfig mirrors records at or above MinLevel into an operations
// channel, at most RatePerSec per second.
type OpsConfig struct {
	Enabled    bool
	ChannelID  string
	MinLevel   string
	RatePerSec int
}

// Sender posts a plain text line to a channel on the messaging platform.
type Sender interface {
	SendMessage(ctx context.Context, channelID, body string) (string, error)
}

// Service owns the log outputs. Loggers it hands out pick up every Apply.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu   sync.Mutex
	file *os.File
	ops  opsState

	sender    Sender
	opsQueue  chan opsItem
	opsOnce   sync.Once
	opsCancel context.CancelFunc
	opsWG     sync.WaitGroup
}

// opsState is the ops sink routing, guarded by Service.mu.
type opsState struct {
	channelID string
	limiter   *rate.Limiter
	minLevel  Level
}

type opsItem struct {
	channelID string
	msg       string
}

// New creates the logging service, applies cfg and returns the root Logger.
// sender may be nil; the ops sink then stays silent.
func New(cfg Config, sender Sender) (*Service, Logger) {
	setGlobals()
	s := &Service{sender: sender, opsQueue: make(chan opsItem, opsQueueSize)}
	s.Apply(cfg)
	return s, s.Logger()
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// Close stops the ops sink and closes the log file.
func (s *Service) Close() error {
	s.mu.Lock()
	f, cancel := s.file, s.opsCancel
	s.file, s.opsCancel = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.opsWG.Wait()
	}
	if f == nil {
		return nil
	}
	return f.Close()
}

// Apply rebuilds outputs and levels from cfg. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rps := max(cfg.Ops.RatePerSec, 1)
	s.ops = opsState{
		channelID: strings.TrimSpace(cfg.Ops.ChannelID),
		limiter:   rate.NewLimiter(rate.Limit(rps), rps),
		minLevel:  parseLevel(cfg.Ops.MinLevel, LevelWarn),
	}

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, consoleWriter())
	}
	if cfg.File.Enabled {
		if w := s.openFile(cfg.File.Path); w != nil {
			writers = append(writers, w)
		}
	}
	if cfg.Ops.Enabled {
		s.startOps()
		writers = append(writers, &opsWriter{svc: s})
		if s.ops.channelID == "" {
			fmt.Fprintln(stderr, "logx: ops sink enabled but platform.ops_channel is empty")
		}
	}
	if len(writers) == 0 {
		writers = append(writers, consoleWriter())
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(cfg.Level, LevelInfo)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

// openFile opens path for appending; s.mu must be held.
func (s *Service) openFile(path string) io.Writer {
	if path = strings.TrimSpace(path); path == "" {
		path = defaultLogFile
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(stderr, "logx: open log file %q: %v\n", path, err)
		return nil
	}
	s.file = f
	return zerolog.SyncWriter(f)
}

func (s *Service) startOps() {
	s.opsOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.opsCancel = cancel
		s.opsWG.Add(1)
		go func() {
			defer s.opsWG.Done()
			s.opsWorker(ctx)
		}()
	})
}

// consoleWriter prints the caller as recorded, already shortened by write.
func consoleWriter() io.Writer {
	return zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: timeFormat,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}
