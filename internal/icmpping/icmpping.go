// Package icmpping wraps the operating-system ICMP echo utility. It
// shells out to the platform `ping` binary rather than opening a raw
// ICMP socket, which requires elevated privileges this process should
// not assume. Probes are bounded to one concurrent invocation per target
// host.
package icmpping

import (
	"context"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"
)

// Prober issues bounded, serialized ICMP probes per target host.
type Prober struct {
	mu       sync.Mutex
	inFlight map[string]chan struct{}

	// run executes the probe command; overridable in tests so they don't
	// depend on a real ping(8) binary or network reachability.
	run func(ctx context.Context, host string, timeout time.Duration) error
}

// NewProber creates a Prober that shells out to the platform ping binary.
func NewProber() *Prober {
	return &Prober{
		inFlight: make(map[string]chan struct{}),
		run:      runPing,
	}
}

func runPing(ctx context.Context, host string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "ping", pingArgs(host, timeout)...)
	return cmd.Run()
}

// Ping sends one ICMP echo to host and reports whether a reply arrived
// within timeout. If a probe to the same host is already in flight, this
// call waits for it to finish before issuing its own.
func (p *Prober) Ping(ctx context.Context, host string, timeout time.Duration) bool {
	p.acquire(host)
	defer p.release(host)

	err := p.run(ctx, host, timeout)
	return err == nil
}

func (p *Prober) acquire(host string) {
	p.mu.Lock()
	ch, busy := p.inFlight[host]
	if !busy {
		ch = make(chan struct{})
		p.inFlight[host] = ch
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	<-ch
	p.acquire(host)
}

func (p *Prober) release(host string) {
	p.mu.Lock()
	ch := p.inFlight[host]
	delete(p.inFlight, host)
	p.mu.Unlock()
	close(ch)
}

// pingArgs builds the platform-appropriate single-probe ping invocation.
func pingArgs(host string, timeout time.Duration) []string {
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	switch runtime.GOOS {
	case "darwin":
		return []string{"-c", "1", "-W", strconv.Itoa(secs * 1000), host}
	case "windows":
		return []string{"-n", "1", "-w", strconv.Itoa(secs * 1000), host}
	default: // linux and other POSIX ping(8) implementations
		return []string{"-c", "1", "-W", strconv.Itoa(secs), host}
	}
}
