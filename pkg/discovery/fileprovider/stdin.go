package fileprovider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/Semior001/hroxy/pkg/discovery"
)

// Stdin discovers routing rules from standard input.
type Stdin struct {
	// Reader is the source of configuration data.
	// Defaults to os.Stdin if not specified.
	Reader io.Reader

	once  sync.Once
	rules []discovery.Rule
	err   error
}

// Name returns the name of the provider.
func (s *Stdin) Name() string {
	return "stdin"
}

// Events sends a single event when the provider is created.
// Since stdin can only be read once, this provider will only emit one event.
func (s *Stdin) Events(ctx context.Context) <-chan string {
	res := make(chan string, 1)
	res <- s.Name()

	go func() {
		<-ctx.Done()
		close(res)
	}()

	return res
}

// Rules parses stdin on the first call and returns the same rules afterwards.
func (s *Stdin) Rules(ctx context.Context) ([]discovery.Rule, error) {
	s.once.Do(func() {
		reader := s.Reader
		if reader == nil {
			reader = os.Stdin
		}

		if s.rules, s.err = Parse(reader); s.err != nil {
			s.err = fmt.Errorf("parse stdin: %w", s.err)
			return
		}

		slog.DebugContext(ctx, "parsed configuration from stdin", slog.Int("rules", len(s.rules)))
	})

	return append([]discovery.Rule(nil), s.rules...), s.err
}
