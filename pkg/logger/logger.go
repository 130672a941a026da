package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options tunes the process logger. The zero value logs JSON to stdout.
type Options struct {
	// File, when set, duplicates every record into a size-rotated file.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	sinkMu sync.Mutex
	sink   *lumberjack.Logger
)

// New returns a production-friendly structured logger.
// No business logic should depend on logging implementation details.
func New(appEnv string, opts ...Options) *slog.Logger {
	level := slog.LevelInfo
	if appEnv == "local" || appEnv == "dev" {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stdout
	if len(opts) > 0 && opts[0].File != "" {
		o := opts[0]
		lj := &lumberjack.Logger{
			Filename:   o.File,
			MaxSize:    orDefault(o.MaxSizeMB, 100),
			MaxBackups: orDefault(o.MaxBackups, 5),
			MaxAge:     orDefault(o.MaxAgeDays, 14),
			Compress:   true,
		}
		sinkMu.Lock()
		sink = lj
		sinkMu.Unlock()
		w = io.MultiWriter(os.Stdout, lj)
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}

// ShutdownFlush closes the rotating file sink, if one was opened.
func ShutdownFlush(ctx context.Context, timeout time.Duration) error {
	sinkMu.Lock()
	lj := sink
	sink = nil
	sinkMu.Unlock()
	if lj == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- lj.Close() }()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case err := <-done:
		return err
	case <-t.C:
		return context.DeadlineExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}
