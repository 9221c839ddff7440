// Package nodeconfig loads the optional protocol-timing tuning file: a
// struct of durations with compiled-in defaults, overridable by an
// optional TOML file. Absence of the file is not an error.
package nodeconfig

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds every tunable timing constant the overlay uses.
type Config struct {
	Seed      SeedTuning      `toml:"seed"`
	Peer      PeerTuning      `toml:"peer"`
	Transport TransportTuning `toml:"transport"`
}

// SeedTuning controls the membership consensus timers.
type SeedTuning struct {
	ProposalTimeout   Duration `toml:"proposal_timeout"`
	ReportWindow      Duration `toml:"report_window"`
	MinDeathReports   int      `toml:"min_death_reports"`
}

// PeerTuning controls gossip cadence and liveness timers.
type PeerTuning struct {
	GossipInterval     Duration `toml:"gossip_interval"`
	MaxOriginated      int      `toml:"max_originated"`
	PingInterval       Duration `toml:"ping_interval"`
	PingTimeout        Duration `toml:"ping_timeout"`
	ICMPTimeout        Duration `toml:"icmp_timeout"`
	SuspectTimeout     Duration `toml:"suspect_timeout"`
	SeedConfirmTimeout Duration `toml:"seed_confirm_timeout"`
	MinNeighbors       int      `toml:"min_neighbors"`
}

// TransportTuning controls connection-layer retry behavior.
type TransportTuning struct {
	DialRetries     int      `toml:"dial_retries"`
	DialBackoff     Duration `toml:"dial_backoff"`
	ViolationWindow Duration `toml:"violation_window"`
	MaxViolations   int      `toml:"max_violations"`
}

// Duration wraps time.Duration so the TOML file can use human strings
// ("3s", "500ms") the way BurntSushi/toml parses them when given a
// TextUnmarshaler.
type Duration struct{ time.Duration }

// UnmarshalText implements encoding.TextUnmarshaler for TOML string values.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// Default returns the compiled-in protocol timing defaults.
func Default() Config {
	return Config{
		Seed: SeedTuning{
			ProposalTimeout: Duration{3 * time.Second},
			ReportWindow:    Duration{10 * time.Second},
			MinDeathReports: 2,
		},
		Peer: PeerTuning{
			GossipInterval:     Duration{5 * time.Second},
			MaxOriginated:      10,
			PingInterval:       Duration{13 * time.Second},
			PingTimeout:        Duration{4 * time.Second},
			ICMPTimeout:        Duration{2 * time.Second},
			SuspectTimeout:     Duration{3 * time.Second},
			SeedConfirmTimeout: Duration{10 * time.Second},
			MinNeighbors:       1,
		},
		Transport: TransportTuning{
			DialRetries:     5,
			DialBackoff:     Duration{1 * time.Second},
			ViolationWindow: Duration{10 * time.Second},
			MaxViolations:   3,
		},
	}
}

// Load reads an optional TOML tuning file, overlaying it onto Default().
// A missing file is not an error — the defaults apply as-is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode tuning file %s: %w", path, err)
	}
	return cfg, nil
}
