// Package uart exposes a host transport as a virtual serial port: a PTY pair
// whose slave end a terminal program opens while the stack reads and writes
// the master end through ring buffers.
package uart

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/blectl/internal/groutine"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// LineFunc receives one received line without its terminator.
type LineFunc func(line string)

// Options configures Open.
type Options struct {
	RxCap         int `default:"4096"`
	TxCap         int `default:"16384"`
	PollTimeoutMs int `default:"50"`
	// MaxLine bounds a pending unterminated line; longer input is discarded.
	MaxLine int `default:"512"`
	Logger  *logrus.Logger
	OnError func(err error)
}

// Stats are the port counters.
type Stats struct {
	RxQueued     int
	TxQueued     int
	RxBytes      uint64
	TxBytes      uint64
	RxDropped    uint64
	TxDropped    uint64
	LinesDropped uint64
}

// Port is one open virtual UART.
type Port struct {
	opts   Options
	log    *logrus.Entry
	master *os.File
	slave  *os.File
	name   string

	rx *ringbuffer.RingBuffer
	tx *ringbuffer.RingBuffer

	onLine   atomic.Value // LineFunc
	rxNotify chan struct{}
	errOnce  sync.Once

	cancel context.CancelFunc
	group  groutine.Group
	closed atomic.Bool

	rxBytes, txBytes, rxDropped, txDropped, linesDropped atomic.Uint64
}

var discard = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// Open creates the PTY pair and starts the port loops.
func Open(opts Options) (*Port, error) {
	defaults.SetDefaults(&opts)
	logger := opts.Logger
	if logger == nil {
		logger = discard
	}

	master, slave, err := openPTY()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Port{
		opts:     opts,
		log:      logger.WithField("tty", slave.Name()),
		master:   master,
		slave:    slave,
		name:     slave.Name(),
		rx:       ringbuffer.New(opts.RxCap),
		tx:       ringbuffer.New(opts.TxCap),
		rxNotify: make(chan struct{}, 1),
		cancel:   cancel,
	}

	p.group.Go(ctx, "uart-rx", p.rxLoop)
	p.group.Go(ctx, "uart-tx", p.txLoop)
	p.group.Go(ctx, "uart-lines", p.lineLoop)

	p.log.Debug("UART opened")
	return p, nil
}

func openPTY() (*os.File, *os.File, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("open pty: %w", err)
	}
	cleanup := func(cause error) (*os.File, *os.File, error) {
		_ = master.Close()
		_ = slave.Close()
		return nil, nil, cause
	}
	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		return cleanup(fmt.Errorf("set %s raw: %w", slave.Name(), err))
	}
	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		return cleanup(fmt.Errorf("set %s nonblocking: %w", slave.Name(), err))
	}
	return master, slave, nil
}

// TTYName is the path of the slave device.
func (p *Port) TTYName() string { return p.name }

// Slave returns the slave end, for tests and in-process clients.
func (p *Port) Slave() *os.File { return p.slave }

// OnLine registers fn for received lines; nil unregisters.
func (p *Port) OnLine(fn LineFunc) {
	p.onLine.Store(fn)
	select {
	case p.rxNotify <- struct{}{}:
	default:
	}
}

// Write queues data for the slave. Bytes that do not fit are dropped and
// counted.
func (p *Port) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}
	n, err := p.tx.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		return n, err
	}
	if n < len(data) {
		p.txDropped.Add(uint64(len(data) - n))
		p.log.WithField("dropped", len(data)-n).Warn("UART tx buffer full")
	}
	return n, nil
}

// Printf formats a line and queues it with a CRLF terminator.
func (p *Port) Printf(format string, args ...any) {
	_, _ = p.Write([]byte(fmt.Sprintf(format, args...) + "\r\n"))
}

func (p *Port) Stats() Stats {
	return Stats{
		RxQueued:     p.rx.Length(),
		TxQueued:     p.tx.Length(),
		RxBytes:      p.rxBytes.Load(),
		TxBytes:      p.txBytes.Load(),
		RxDropped:    p.rxDropped.Load(),
		TxDropped:    p.txDropped.Load(),
		LinesDropped: p.linesDropped.Load(),
	}
}

func (p *Port) fail(err error) {
	p.log.WithError(err).Warn("UART loop stopped")
	if p.opts.OnError != nil {
		p.errOnce.Do(func() { p.opts.OnError(err) })
	}
}

func (p *Port) poll(events int16) bool {
	fds := []unix.PollFd{{Fd: int32(p.master.Fd()), Events: events}}
	n, err := unix.Poll(fds, p.opts.PollTimeoutMs)
	if err != nil && !errors.Is(err, syscall.EINTR) {
		p.log.WithError(err).Debug("UART poll failed")
	}
	return n > 0
}

func (p *Port) rxLoop(ctx context.Context) {
	buf := make([]byte, 1024)
	for ctx.Err() == nil {
		if !p.poll(unix.POLLIN) {
			continue
		}
		n, err := p.master.Read(buf)
		if n > 0 {
			w, _ := p.rx.Write(buf[:n])
			p.rxBytes.Add(uint64(w))
			if w < n {
				p.rxDropped.Add(uint64(n - w))
			}
			select {
			case p.rxNotify <- struct{}{}:
			default:
			}
		}
		switch {
		case err == nil, errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
		case errors.Is(err, syscall.EBADF), errors.Is(err, io.EOF), errors.Is(err, os.ErrClosed):
			return
		default:
			p.fail(fmt.Errorf("uart rx: %w", err))
			return
		}
	}
}

func (p *Port) txLoop(ctx context.Context) {
	buf := make([]byte, 1024)
	for ctx.Err() == nil {
		if p.tx.IsEmpty() {
			time.Sleep(time.Duration(p.opts.PollTimeoutMs) * time.Millisecond / 5)
			continue
		}
		n, err := p.tx.TryRead(buf)
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			continue
		}
		for off := 0; off < n && ctx.Err() == nil; {
			w, err := p.master.Write(buf[off:n])
			off += w
			p.txBytes.Add(uint64(w))
			switch {
			case err == nil, errors.Is(err, syscall.EINTR):
			case errors.Is(err, syscall.EAGAIN):
				p.poll(unix.POLLOUT)
			case errors.Is(err, syscall.EBADF), errors.Is(err, os.ErrClosed):
				return
			default:
				p.fail(fmt.Errorf("uart tx: %w", err))
				return
			}
		}
	}
}

// lineLoop splits received bytes on CR or LF and hands complete non-empty
// lines to the callback.
func (p *Port) lineLoop(ctx context.Context) {
	var pending []byte
	tmp := make([]byte, 256)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.rxNotify:
		}
		fn, _ := p.onLine.Load().(LineFunc)
		if fn == nil {
			continue
		}
		for {
			n, _ := p.rx.TryRead(tmp)
			if n == 0 {
				break
			}
			pending = append(pending, tmp[:n]...)
			for {
				i := bytes.IndexAny(pending, "\r\n")
				if i < 0 {
					break
				}
				line := string(pending[:i])
				pending = pending[i+1:]
				if line != "" {
					p.deliver(fn, line)
				}
			}
			if len(pending) > p.opts.MaxLine {
				p.linesDropped.Add(1)
				pending = pending[:0]
			}
		}
	}
}

func (p *Port) deliver(fn LineFunc, line string) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithField("panic", r).Error("UART line handler panicked")
		}
	}()
	fn(line)
}

// Close stops the loops and closes both ends. It is idempotent.
func (p *Port) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()
	p.group.Wait()
	errM := p.master.Close()
	errS := p.slave.Close()
	p.log.Debug("UART closed")
	return errors.Join(errM, errS)
}
