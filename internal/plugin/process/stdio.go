package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/kiorg/kiorg/pkg/plugin"
)

const (
	// outboundQueue is how many encoded frames may wait for the writer.
	outboundQueue = 64

	readChunk = 32 << 10
)

// StdioLauncher starts plugins that speak the line-framed protocol on their
// standard input and output. Standard error is forwarded to logger.
func StdioLauncher(logger hclog.Logger) Launcher {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return func(path string) (Transport, error) {
		return startStdio(path, logger)
	}
}

type stdioTransport struct {
	cmd    *exec.Cmd
	logger hclog.Logger

	out      chan []byte
	stop     chan struct{}
	stopOnce sync.Once

	mu  sync.Mutex
	dec *plugin.Decoder[plugin.Response]

	done    chan struct{}
	waitErr error
}

func startStdio(path string, logger hclog.Logger) (*stdioTransport, error) {
	cmd := exec.Command(path)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start plugin: %w", err)
	}

	t := &stdioTransport{
		cmd:    cmd,
		logger: logger,
		out:    make(chan []byte, outboundQueue),
		stop:   make(chan struct{}),
		dec:    plugin.NewResponseDecoder(),
		done:   make(chan struct{}),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go t.readStdout(stdout, &readers)
	go t.readStderr(stderr, &readers)
	go t.write(stdin)

	// Wait must not run before the pipes are drained, otherwise the tail of
	// the plugin's output can be lost.
	go func() {
		readers.Wait()
		t.waitErr = cmd.Wait()
		close(t.done)
	}()

	return t, nil
}

func (t *stdioTransport) Send(id plugin.CallID, cmd plugin.Command) error {
	frame, err := plugin.EncodeRequest(id, cmd)
	if err != nil {
		return err
	}

	select {
	case <-t.stop:
		return ErrShutdown
	case <-t.done:
		return ErrExited
	default:
	}

	select {
	case t.out <- frame:
		return nil
	default:
		return ErrBackpressure
	}
}

func (t *stdioTransport) Receive() ([]plugin.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var responses []plugin.Response
	for {
		resp, err := t.dec.Next()
		if errors.Is(err, plugin.ErrNeedMoreData) {
			return responses, nil
		}
		if err != nil {
			return responses, err
		}
		responses = append(responses, resp)
	}
}

func (t *stdioTransport) Exited() (bool, error) {
	select {
	case <-t.done:
		return true, t.waitErr
	default:
		return false, nil
	}
}

func (t *stdioTransport) Pid() int {
	if t.cmd.Process == nil {
		return 0
	}
	return t.cmd.Process.Pid
}

func (t *stdioTransport) Close(grace time.Duration) error {
	// Closing stdin is the polite request to exit.
	t.stopOnce.Do(func() { close(t.stop) })

	select {
	case <-t.done:
		return nil
	case <-time.After(grace):
	}

	if err := t.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill plugin: %w", err)
	}

	select {
	case <-t.done:
	case <-time.After(grace):
		t.logger.Debug("plugin output still open after kill")
	}
	return nil
}

func (t *stdioTransport) write(stdin io.WriteCloser) {
	defer stdin.Close()

	for {
		select {
		case <-t.stop:
			return
		case frame := <-t.out:
			if _, err := stdin.Write(frame); err != nil {
				t.logger.Debug("failed to write to plugin", "error", err)
				return
			}
		}
	}
}

func (t *stdioTransport) readStdout(r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()

	chunk := make([]byte, readChunk)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			t.mu.Lock()
			t.dec.Feed(chunk[:n])
			t.mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				t.logger.Debug("plugin stdout read failed", "error", err)
			}
			return
		}
	}
}

func (t *stdioTransport) readStderr(r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line = strings.TrimRight(line, "\r\n"); line != "" {
			t.logger.Debug("plugin stderr", "line", line)
		}
		if err != nil {
			return
		}
	}
}
