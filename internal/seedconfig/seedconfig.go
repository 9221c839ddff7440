// Package seedconfig reads the static seed-address configuration file:
// one "<host>,<port>" record per line, no header, read once at startup.
// Record order is the canonical seed ordering used to resolve concurrent
// register/death proposal conflicts: the proposer earlier in file order
// wins (see Index and internal/seed's Core.proposerPrecedes).
package seedconfig

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/driftmesh/overlay/internal/domain"
)

// Load parses a config.csv file into an ordered list of seed identities.
func Load(path string) ([]domain.NodeID, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed config %s: %w", path, err)
	}
	defer f.Close()

	var seeds []domain.NodeID
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ",", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("seed config %s line %d: expected <host>,<port>, got %q", path, lineNo, line)
		}
		host := strings.TrimSpace(parts[0])
		port, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("seed config %s line %d: bad port: %w", path, lineNo, err)
		}
		seeds = append(seeds, domain.NodeID{Host: host, Port: port})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read seed config %s: %w", path, err)
	}
	if len(seeds) == 0 {
		return nil, domain.ErrEmptySeedList
	}
	return seeds, nil
}

// Index returns the position of id within the canonical seed order, used
// for deterministic tie-breaking between concurrent proposals. Returns -1
// if id is not a configured seed.
func Index(seeds []domain.NodeID, id domain.NodeID) int {
	for i, s := range seeds {
		if s == id {
			return i
		}
	}
	return -1
}
