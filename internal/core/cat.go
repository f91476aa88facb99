package core

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cryophile/cryophile/internal/cryoerr"
)

// openRetryDelay is how long Read waits before retrying a not-found
// (ENOENT) chunk-open failure (the producer side may not have hard-linked
// the next chunk into place yet).
const openRetryDelay = 50 * time.Millisecond

// maxOpenRetries bounds how many times Read retries opening a chunk before
// giving up and surfacing the underlying error.
const maxOpenRetries = 200

// Cat is a streaming read source that concatenates a sequence of chunk
// files fed to it by path, in order, over an internal channel. Unlike
// Split's filesystem discovery, Cat is driven: a producer goroutine (the
// restore orchestrator walking a FragmentQueue/IntervalSet) pushes chunk
// paths on Paths() as they become contiguous, and a nil path signals EOF.
type Cat struct {
	paths      chan *string
	file       *os.File
	pos        int64
	tot        int64
	markFailed bool
	log        logrus.FieldLogger
}

// NewCat constructs a Cat whose internal path channel buffers 64 entries.
func NewCat(log logrus.FieldLogger) *Cat {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Cat{
		paths: make(chan *string, 64),
		log:   log,
	}
}

// Paths returns the channel the producer feeds chunk paths into. Send a
// path for each chunk in order; send nil (or call Close) once to signal
// end of stream.
func (c *Cat) Paths() chan<- *string {
	return c.paths
}

// Close signals end of stream to Read by enqueueing a nil path. The
// channel itself is never closed, so a second call does not panic; it
// queues another nil sentinel.
func (c *Cat) Close() {
	c.paths <- nil
}

// Written returns the cumulative number of bytes read out so far.
func (c *Cat) Written() int64 {
	return c.tot
}

func (c *Cat) clear() {
	if c.file != nil {
		_ = c.file.Close()
	}
	c.file = nil
	c.pos = 0
}

// openWithRetry opens path, retrying on ENOENT up to maxOpenRetries times:
// the producer may have enqueued the path slightly before the hard-link
// handoff from the freeze/thaw directory completed.
func (c *Cat) openWithRetry(path string) (*os.File, error) {
	var lastErr error
	for attempt := 0; attempt < maxOpenRetries; attempt++ {
		f, err := os.Open(path)
		if err == nil {
			return f, nil
		}
		lastErr = err
		if !errors.Is(err, os.ErrNotExist) {
			break
		}
		time.Sleep(openRetryDelay)
	}
	return nil, lastErr
}

// Read implements io.Reader. When no chunk is currently open, it blocks on
// the paths channel: a nil path yields io.EOF, a non-nil path is opened
// (retrying transient not-found) and read from until exhausted, at which
// point the file is cleared so the next Read call pulls the next path.
func (c *Cat) Read(buf []byte) (int, error) {
	if c.markFailed {
		return 0, cryoerr.New(cryoerr.KindInvalidInput, "cat.read", errors.New("cat is marked failed"))
	}

	if c.file == nil {
		path, ok := <-c.paths
		if !ok || path == nil {
			c.clear()
			return 0, io.EOF
		}

		f, err := c.openWithRetry(*path)
		if err != nil {
			c.markFailed = true
			wrapped := cryoerr.New(cryoerr.KindNotFound, "open "+*path, err)
			c.log.WithError(wrapped).Error("cat: failed to open chunk")
			return 0, wrapped
		}
		c.file = f
		c.pos = 0
		c.log.WithField("path", *path).Trace("cat: opened chunk")
	}

	n, err := c.file.Read(buf)
	c.pos += int64(n)
	c.tot += int64(n)

	if err == io.EOF {
		c.clear()
		if n > 0 {
			return n, nil
		}
		return c.Read(buf)
	}
	if err != nil {
		c.markFailed = true
		return n, cryoerr.New(cryoerr.KindInvalidInput, "cat.read", err)
	}

	return n, nil
}
