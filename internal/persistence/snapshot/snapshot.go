package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

type Header struct {
	Version int    `json:"version"`
	CityID  string `json:"city_id"`
	Tick    uint64 `json:"tick"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	Seed          int64 `json:"seed"`
	TickRate      int   `json:"tick_rate_hz"`
	DayTicks      int   `json:"day_ticks"`
	Rows          int   `json:"rows"`
	Cols          int   `json:"cols"`
	CoverageBonus int   `json:"coverage_bonus"`

	SnapshotEveryTicks int          `json:"snapshot_every_ticks,omitempty"`
	RateLimits         RateLimitsV1 `json:"rate_limits,omitempty"`

	Buildings []BuildingV1 `json:"buildings"`
	Players   []PlayerV1   `json:"players"`

	Counters CountersV1 `json:"counters"`
}

type RateLimitsV1 struct {
	PlaceWindowTicks  int `json:"place_window_ticks,omitempty"`
	PlaceMax          int `json:"place_max,omitempty"`
	RemoveWindowTicks int `json:"remove_window_ticks,omitempty"`
	RemoveMax         int `json:"remove_max,omitempty"`
	SayWindowTicks    int `json:"say_window_ticks,omitempty"`
	SayMax            int `json:"say_max,omitempty"`
}

type BuildingV1 struct {
	ID         string `json:"id"`
	Type       string `json:"building_type"`
	Anchor     [2]int `json:"anchor"` // [row, col]
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	BaseCharm  int    `json:"base_charm"`
	Owner      string `json:"owner,omitempty"`
	PlacedTick uint64 `json:"placed_tick"`
}

type PlayerV1 struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Placed int    `json:"placed"`
}

type CountersV1 struct {
	NextPlayer   uint64 `json:"next_player"`
	NextBuilding uint64 `json:"next_building"`
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	// A plain-JSON header line first, so tooling can identify a snapshot
	// without decoding the gob body.
	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Skip the header line; the gob body repeats it.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// Latest returns the highest-tick snapshot under dir, or "" if none exist.
func Latest(dir string) string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		base := strings.TrimSuffix(name, ".snap.zst")
		tick, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}
