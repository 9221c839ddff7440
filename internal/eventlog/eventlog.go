// Package eventlog writes the per-process operational log:
// "outputfile_seed_<port>.txt" or "outputfile_peer_<port>.txt", plain
// text, one event per line, wall-clock timestamped, created/appended in
// the working directory.
//
// A single goroutine owns the file handle; every other goroutine submits
// events over a buffered channel so logging never races the writer.
package eventlog

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Kind names one recorded event type.
type Kind string

const (
	KindRegisterRequest  Kind = "REGISTER_REQUEST"
	KindRegisterProposal Kind = "REGISTER_PROPOSAL"
	KindRegisterVote     Kind = "REGISTER_VOTE"
	KindRegisterCommit   Kind = "REGISTER_COMMIT"
	KindDeadReport       Kind = "DEAD_REPORT"
	KindDeadVote         Kind = "DEAD_VOTE"
	KindDeadConfirmed    Kind = "DEAD_CONFIRMED"
	KindGossipFirstSeen  Kind = "GOSSIP received (first time)"
	KindSuspectInitiated Kind = "SUSPECT_INITIATED"
	KindShutdown         Kind = "SHUTDOWN"

	// Not part of the core protocol event set, but useful for operators
	// debugging overlay churn.
	KindSeedLinkUp       Kind = "SEED_LINK_UP"
	KindSeedLinkDown     Kind = "SEED_LINK_DOWN"
	KindNeighborAdded    Kind = "NEIGHBOR_ADDED"
	KindNeighborRemoved  Kind = "NEIGHBOR_REMOVED"
	KindSuspectCleared   Kind = "SUSPECT_CLEARED"
)

// Event is one line to be appended to the log.
type Event struct {
	Kind   Kind
	Fields map[string]string
}

// Logger owns a single output file and serializes writes to it through a
// buffered channel.
type Logger struct {
	ch     chan Event
	done   chan struct{}
	wg     sync.WaitGroup
	closeOnce sync.Once
}

// Open creates/appends the named log file and starts its writer goroutine.
// path is conventionally "outputfile_seed_<port>.txt" or
// "outputfile_peer_<port>.txt".
func Open(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}

	l := &Logger{
		ch:   make(chan Event, 256),
		done: make(chan struct{}),
	}

	l.wg.Add(1)
	go l.run(f)
	return l, nil
}

func (l *Logger) run(f *os.File) {
	defer l.wg.Done()
	defer f.Close()

	w := bufio.NewWriter(f)
	defer w.Flush()

	flushTicker := time.NewTicker(500 * time.Millisecond)
	defer flushTicker.Stop()

	for {
		select {
		case ev, ok := <-l.ch:
			if !ok {
				w.Flush()
				return
			}
			fmt.Fprintln(w, formatLine(ev))
		case <-flushTicker.C:
			w.Flush()
		case <-l.done:
			// Drain remaining buffered events before exiting.
			for {
				select {
				case ev := <-l.ch:
					fmt.Fprintln(w, formatLine(ev))
				default:
					w.Flush()
					return
				}
			}
		}
	}
}

func formatLine(ev Event) string {
	var b strings.Builder
	b.WriteString(time.Now().Format(time.RFC3339Nano))
	b.WriteString(" | ")
	b.WriteString(string(ev.Kind))

	if len(ev.Fields) > 0 {
		keys := make([]string, 0, len(ev.Fields))
		for k := range ev.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " | %s=%s", k, ev.Fields[k])
		}
	}
	return b.String()
}

// Log submits an event for asynchronous append. Never blocks the caller
// beyond the channel buffer; a full buffer drops the event rather than
// stall protocol logic — logging is best-effort and must never break the
// protocol path.
func (l *Logger) Log(kind Kind, fields map[string]string) {
	select {
	case l.ch <- Event{Kind: kind, Fields: fields}:
	default:
	}
}

// Close flushes and stops the writer goroutine, waiting for it to finish.
func (l *Logger) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
}
