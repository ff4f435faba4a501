package world

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"charmcity.ai/internal/protocol"
	"charmcity.ai/internal/sim/catalogs"
	"charmcity.ai/internal/sim/city"
)

func testCatalogs() *catalogs.Catalogs {
	defs := map[string]catalogs.BuildingDef{
		"HOUSE":  {ID: "HOUSE", Category: "RESIDENTIAL", Width: 1, Height: 1, BaseCharm: 3},
		"SHOP":   {ID: "SHOP", Category: "COMMERCIAL", Width: 2, Height: 2, BaseCharm: 4},
		"PARK":   {ID: "PARK", Category: "CIVIC", Width: 3, Height: 3, BaseCharm: 5},
		"STATUE": {ID: "STATUE", Category: "DECOR", Width: 1, Height: 1, BaseCharm: 2},
	}
	ids := make([]string, 0, len(defs))
	for id := range defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	idx := make(map[string]uint16, len(ids))
	for i, id := range ids {
		idx[id] = uint16(i)
	}
	return &catalogs.Catalogs{Buildings: catalogs.BuildingCatalog{
		Palette:       ids,
		Index:         idx,
		Defs:          defs,
		PaletteDigest: "test-palette",
		DefsDigest:    "test-defs",
	}}
}

func testConfig() WorldConfig {
	return WorldConfig{
		ID:            "testcity",
		TickRateHz:    5,
		DayTicks:      100,
		Rows:          20,
		Cols:          20,
		CoverageBonus: 1,
		Seed:          42,
		RateLimits: RateLimitConfig{
			PlaceWindowTicks:  50,
			PlaceMax:          10,
			RemoveWindowTicks: 50,
			RemoveMax:         10,
			SayWindowTicks:    50,
			SayMax:            5,
		},
	}
}

func newTestWorld(t *testing.T, cfg WorldConfig) *World {
	t.Helper()
	w, err := New(cfg, testCatalogs())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

func joinOne(t *testing.T, w *World, name string, out chan []byte) JoinResponse {
	t.Helper()
	resp := make(chan JoinResponse, 1)
	w.StepOnce([]JoinRequest{{Name: name, Out: out, Resp: resp}}, nil, nil)
	select {
	case r := <-resp:
		return r
	default:
		t.Fatalf("no join response for %q", name)
		return JoinResponse{}
	}
}

func actEnv(playerID string, tick uint64, insts ...protocol.InstantReq) ActionEnvelope {
	return ActionEnvelope{PlayerID: playerID, Act: protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		Tick:            tick,
		PlayerID:        playerID,
		Instants:        insts,
	}}
}

func readState(t *testing.T, out chan []byte) protocol.StateMsg {
	t.Helper()
	select {
	case b := <-out:
		var msg protocol.StateMsg
		if err := json.Unmarshal(b, &msg); err != nil {
			t.Fatalf("decode state: %v", err)
		}
		return msg
	default:
		t.Fatalf("no STATE message on channel")
		return protocol.StateMsg{}
	}
}

func findEvent(events []protocol.Event, typ string) (protocol.Event, bool) {
	for _, e := range events {
		if e["type"] == typ {
			return e, true
		}
	}
	return nil, false
}

func resultFor(t *testing.T, events []protocol.Event, actionID string) protocol.Event {
	t.Helper()
	for _, e := range events {
		if e["type"] == "ACTION_RESULT" && e["action_id"] == actionID {
			return e
		}
	}
	t.Fatalf("no ACTION_RESULT for %q in %v", actionID, events)
	return nil
}

func TestJoin_WelcomeCarriesMapParams(t *testing.T) {
	w := newTestWorld(t, testConfig())
	resp := joinOne(t, w, "alice", nil)

	if resp.Welcome.PlayerID != "P1" {
		t.Fatalf("player id = %q, want P1", resp.Welcome.PlayerID)
	}
	if resp.Welcome.ResumeToken == "" {
		t.Fatalf("empty resume token")
	}
	mp := resp.Welcome.MapParams
	if mp.Rows != 20 || mp.Cols != 20 || mp.TickRateHz != 5 || mp.CoverageBonus != 1 {
		t.Fatalf("map params %+v", mp)
	}
	if len(resp.Catalogs) != 2 {
		t.Fatalf("catalog parts = %d, want 2", len(resp.Catalogs))
	}
}

func TestPlace_AppearsInStateWithCharm(t *testing.T) {
	w := newTestWorld(t, testConfig())
	out := make(chan []byte, 8)
	joinOne(t, w, "alice", out)
	<-out // state for the join tick

	tick := w.CurrentTick()
	w.StepOnce(nil, nil, []ActionEnvelope{actEnv("P1", tick, protocol.InstantReq{
		ID: "a1", Type: "PLACE_BUILDING", BuildingType: "PARK", Anchor: [2]int{10, 10},
	})})

	st := readState(t, out)
	res := resultFor(t, st.Events, "a1")
	if res["ok"] != true {
		t.Fatalf("place failed: %v", res)
	}
	if _, ok := findEvent(st.Events, "BUILDING_PLACED"); !ok {
		t.Fatalf("no BUILDING_PLACED event: %v", st.Events)
	}
	if st.World.Buildings != 1 || st.World.CharmTotal != 5 {
		t.Fatalf("world after place: %+v", st.World)
	}
	if len(st.Buildings) != 1 {
		t.Fatalf("building list len %d", len(st.Buildings))
	}
	b := st.Buildings[0]
	if b.ID != "B1" || b.Type != "PARK" || b.Anchor != [2]int{10, 10} || b.Charm != 5 {
		t.Fatalf("observed building %+v", b)
	}
}

func TestPlace_RejectsUnknownTypeAndOverlap(t *testing.T) {
	w := newTestWorld(t, testConfig())
	out := make(chan []byte, 8)
	joinOne(t, w, "alice", out)
	<-out

	tick := w.CurrentTick()
	w.StepOnce(nil, nil, []ActionEnvelope{actEnv("P1", tick,
		protocol.InstantReq{ID: "a1", Type: "PLACE_BUILDING", BuildingType: "CASTLE", Anchor: [2]int{5, 5}},
		protocol.InstantReq{ID: "a2", Type: "PLACE_BUILDING", BuildingType: "HOUSE", Anchor: [2]int{5, 5}},
		protocol.InstantReq{ID: "a3", Type: "PLACE_BUILDING", BuildingType: "HOUSE", Anchor: [2]int{5, 5}},
	)})

	st := readState(t, out)
	if code := resultFor(t, st.Events, "a1")["code"]; code != protocol.ErrBadRequest {
		t.Fatalf("unknown type code = %v", code)
	}
	if res := resultFor(t, st.Events, "a2"); res["ok"] != true {
		t.Fatalf("first house should place: %v", res)
	}
	if code := resultFor(t, st.Events, "a3")["code"]; code != protocol.ErrBlocked {
		t.Fatalf("overlap code = %v", code)
	}
}

func TestRemove_OnlyOwnerMayRemove(t *testing.T) {
	w := newTestWorld(t, testConfig())
	aliceOut := make(chan []byte, 8)
	bobOut := make(chan []byte, 8)
	joinOne(t, w, "alice", aliceOut)
	<-aliceOut
	joinOne(t, w, "bob", bobOut)
	<-aliceOut
	<-bobOut

	tick := w.CurrentTick()
	w.StepOnce(nil, nil, []ActionEnvelope{actEnv("P1", tick, protocol.InstantReq{
		ID: "a1", Type: "PLACE_BUILDING", BuildingType: "SHOP", Anchor: [2]int{6, 6},
	})})
	<-aliceOut
	<-bobOut

	// Bob removes by pos, Alice removes by id afterwards.
	tick = w.CurrentTick()
	w.StepOnce(nil, nil, []ActionEnvelope{
		actEnv("P2", tick, protocol.InstantReq{ID: "b1", Type: "REMOVE_BUILDING", Pos: [2]int{5, 5}}),
		actEnv("P1", tick, protocol.InstantReq{ID: "a2", Type: "REMOVE_BUILDING", BuildingID: "B1"}),
	})

	aliceState := readState(t, aliceOut)
	bobState := readState(t, bobOut)
	if code := resultFor(t, bobState.Events, "b1")["code"]; code != protocol.ErrNoPermission {
		t.Fatalf("bob remove code = %v", code)
	}
	if res := resultFor(t, aliceState.Events, "a2"); res["ok"] != true {
		t.Fatalf("owner remove failed: %v", res)
	}
	if aliceState.World.Buildings != 0 {
		t.Fatalf("buildings left: %d", aliceState.World.Buildings)
	}
}

func TestRemove_InvalidTarget(t *testing.T) {
	w := newTestWorld(t, testConfig())
	out := make(chan []byte, 8)
	joinOne(t, w, "alice", out)
	<-out

	tick := w.CurrentTick()
	w.StepOnce(nil, nil, []ActionEnvelope{actEnv("P1", tick, protocol.InstantReq{
		ID: "a1", Type: "REMOVE_BUILDING", Pos: [2]int{3, 3},
	})})

	st := readState(t, out)
	if code := resultFor(t, st.Events, "a1")["code"]; code != protocol.ErrInvalidTarget {
		t.Fatalf("code = %v", code)
	}
}

func TestAct_StaleTickRejected(t *testing.T) {
	w := newTestWorld(t, testConfig())
	out := make(chan []byte, 8)
	joinOne(t, w, "alice", out)
	<-out

	// Advance a few empty ticks so tick 0 falls outside the window.
	for i := 0; i < 5; i++ {
		w.StepOnce(nil, nil, nil)
		<-out
	}

	w.StepOnce(nil, nil, []ActionEnvelope{actEnv("P1", 0, protocol.InstantReq{
		ID: "a1", Type: "PLACE_BUILDING", BuildingType: "HOUSE", Anchor: [2]int{1, 1},
	})})

	st := readState(t, out)
	if code := resultFor(t, st.Events, "a1")["code"]; code != protocol.ErrStale {
		t.Fatalf("code = %v", code)
	}
	if st.World.Buildings != 0 {
		t.Fatalf("stale act placed a building")
	}
}

func TestPlace_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimits.PlaceMax = 2
	w := newTestWorld(t, cfg)
	out := make(chan []byte, 8)
	joinOne(t, w, "alice", out)
	<-out

	tick := w.CurrentTick()
	insts := []protocol.InstantReq{
		{ID: "a1", Type: "PLACE_BUILDING", BuildingType: "HOUSE", Anchor: [2]int{1, 1}},
		{ID: "a2", Type: "PLACE_BUILDING", BuildingType: "HOUSE", Anchor: [2]int{2, 2}},
		{ID: "a3", Type: "PLACE_BUILDING", BuildingType: "HOUSE", Anchor: [2]int{3, 3}},
	}
	w.StepOnce(nil, nil, []ActionEnvelope{actEnv("P1", tick, insts...)})

	st := readState(t, out)
	if res := resultFor(t, st.Events, "a2"); res["ok"] != true {
		t.Fatalf("second place should pass: %v", res)
	}
	if code := resultFor(t, st.Events, "a3")["code"]; code != protocol.ErrRateLimit {
		t.Fatalf("third place code = %v", code)
	}
}

func TestQuery_ReportsCoverage(t *testing.T) {
	w := newTestWorld(t, testConfig())
	out := make(chan []byte, 8)
	joinOne(t, w, "alice", out)
	<-out

	tick := w.CurrentTick()
	w.StepOnce(nil, nil, []ActionEnvelope{actEnv("P1", tick,
		protocol.InstantReq{ID: "a1", Type: "PLACE_BUILDING", BuildingType: "PARK", Anchor: [2]int{10, 10}},
		protocol.InstantReq{ID: "a2", Type: "PLACE_BUILDING", BuildingType: "HOUSE", Anchor: [2]int{12, 10}},
	)})
	<-out

	tick = w.CurrentTick()
	w.StepOnce(nil, nil, []ActionEnvelope{actEnv("P1", tick, protocol.InstantReq{
		ID: "q1", Type: "QUERY_BUILDING", BuildingID: "B1",
	})})

	st := readState(t, out)
	info, ok := findEvent(st.Events, "BUILDING_INFO")
	if !ok {
		t.Fatalf("no BUILDING_INFO: %v", st.Events)
	}
	if info["building_id"] != "B1" || info["building_type"] != "PARK" {
		t.Fatalf("info %v", info)
	}
	// The park covers the house's anchor, so charm is base 5 + 1.
	if charm, _ := info["charm"].(float64); charm != 6 {
		t.Fatalf("charm = %v", info["charm"])
	}
	covered, _ := info["covered"].([]interface{})
	if len(covered) != 1 || covered[0] != "B2" {
		t.Fatalf("covered = %v", info["covered"])
	}
}

func TestSay_Broadcast(t *testing.T) {
	w := newTestWorld(t, testConfig())
	aliceOut := make(chan []byte, 8)
	bobOut := make(chan []byte, 8)
	joinOne(t, w, "alice", aliceOut)
	<-aliceOut
	joinOne(t, w, "bob", bobOut)
	<-aliceOut
	<-bobOut

	tick := w.CurrentTick()
	w.StepOnce(nil, nil, []ActionEnvelope{actEnv("P1", tick, protocol.InstantReq{
		ID: "s1", Type: "SAY", Text: "hello city",
	})})

	<-aliceOut
	bobState := readState(t, bobOut)
	chat, ok := findEvent(bobState.Events, "CHAT")
	if !ok {
		t.Fatalf("bob got no CHAT: %v", bobState.Events)
	}
	if chat["from"] != "P1" || chat["text"] != "hello city" {
		t.Fatalf("chat %v", chat)
	}
}

func TestStepOnce_DeterministicDigests(t *testing.T) {
	run := func() []string {
		w := newTestWorld(t, testConfig())
		var digests []string
		resp := make(chan JoinResponse, 1)
		_, d := w.StepOnce([]JoinRequest{{Name: "alice", Resp: resp}}, nil, nil)
		<-resp
		digests = append(digests, d)

		script := [][2]int{{3, 3}, {7, 7}, {11, 3}}
		for i, anchor := range script {
			tick := w.CurrentTick()
			_, d := w.StepOnce(nil, nil, []ActionEnvelope{actEnv("P1", tick, protocol.InstantReq{
				ID: "a" + string(rune('1'+i)), Type: "PLACE_BUILDING", BuildingType: "SHOP", Anchor: anchor,
			})})
			digests = append(digests, d)
		}
		return digests
	}

	first := run()
	second := run()
	if len(first) != len(second) {
		t.Fatalf("digest counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("digest diverged at step %d: %s vs %s", i, first[i], second[i])
		}
	}
}

func TestSnapshot_RoundTripRestoresDigest(t *testing.T) {
	w := newTestWorld(t, testConfig())
	resp := make(chan JoinResponse, 1)
	w.StepOnce([]JoinRequest{{Name: "alice", Resp: resp}}, nil, nil)
	<-resp

	tick := w.CurrentTick()
	w.StepOnce(nil, nil, []ActionEnvelope{actEnv("P1", tick,
		protocol.InstantReq{ID: "a1", Type: "PLACE_BUILDING", BuildingType: "PARK", Anchor: [2]int{10, 10}},
		protocol.InstantReq{ID: "a2", Type: "PLACE_BUILDING", BuildingType: "HOUSE", Anchor: [2]int{12, 10}},
	)})

	snapTick := w.CurrentTick()
	snap := w.ExportSnapshot(snapTick)
	if snap.Counters.NextBuilding != 2 || snap.Counters.NextPlayer != 1 {
		t.Fatalf("counters %+v", snap.Counters)
	}

	restored := newTestWorld(t, testConfig())
	if err := restored.ImportSnapshot(snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	if restored.CurrentTick() != snapTick {
		t.Fatalf("restored tick %d, want %d", restored.CurrentTick(), snapTick)
	}
	if got, want := restored.stateDigest(snapTick), w.stateDigest(snapTick); got != want {
		t.Fatalf("digest mismatch after restore:\n got %s\nwant %s", got, want)
	}

	// New placements continue the id sequence instead of reusing B1/B2.
	b, err := restored.grid.Place(city.Coord{Row: 0, Col: 0}, city.Descriptor{Type: "STATUE", Width: 1, Height: 1, BaseCharm: 2}, "P1", snapTick)
	if err != nil {
		t.Fatalf("place after restore: %v", err)
	}
	if b.ID != "B3" {
		t.Fatalf("id after restore = %s, want B3", b.ID)
	}
}

func TestImportSnapshot_RejectsMismatchedMap(t *testing.T) {
	w := newTestWorld(t, testConfig())
	snap := w.ExportSnapshot(0)
	snap.Rows = 99

	other := newTestWorld(t, testConfig())
	if err := other.ImportSnapshot(snap); err == nil {
		t.Fatalf("expected map size mismatch error")
	}
}

func TestMetrics_PublishedAtStepEnd(t *testing.T) {
	w := newTestWorld(t, testConfig())
	if got := w.Metrics(); got != (WorldMetrics{}) {
		t.Fatalf("metrics before first step = %+v", got)
	}

	joinOne(t, w, "alice", nil)
	tick := w.CurrentTick()
	w.StepOnce(nil, nil, []ActionEnvelope{actEnv("P1", tick, protocol.InstantReq{
		ID: "a1", Type: "PLACE_BUILDING", BuildingType: "PARK", Anchor: [2]int{10, 10},
	})})

	m := w.Metrics()
	if m.Tick != 2 || m.Players != 1 || m.Buildings != 1 || m.CharmTotal != 5 {
		t.Fatalf("metrics after place = %+v", m)
	}
}

func TestMetrics_SampledWhileLoopRuns(t *testing.T) {
	cfg := testConfig()
	cfg.TickRateHz = 200
	w := newTestWorld(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	for i := 0; i < 3; i++ {
		w.Join() <- JoinRequest{Name: "bot"}
	}

	// Hammer Metrics from another goroutine while the loop steps.
	done := make(chan struct{})
	go func() {
		defer close(done)
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if w.Metrics().Players == 3 {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	<-done

	if got := w.Metrics().Players; got != 3 {
		t.Fatalf("players = %d, want 3", got)
	}
}

func TestSay_TruncatesOnRuneBoundary(t *testing.T) {
	w := newTestWorld(t, testConfig())
	out := make(chan []byte, 8)
	joinOne(t, w, "alice", out)
	<-out

	// 239 ascii bytes then a two-byte rune straddling the limit.
	long := strings.Repeat("x", 239) + "é"
	tick := w.CurrentTick()
	w.StepOnce(nil, nil, []ActionEnvelope{actEnv("P1", tick, protocol.InstantReq{
		ID: "s1", Type: "SAY", Text: long,
	})})

	st := readState(t, out)
	chat, ok := findEvent(st.Events, "CHAT")
	if !ok {
		t.Fatalf("no CHAT: %v", st.Events)
	}
	text, _ := chat["text"].(string)
	if !utf8.ValidString(text) {
		t.Fatalf("truncated text is not valid utf-8: %q", text)
	}
	if len(text) != 239 {
		t.Fatalf("truncated to %d bytes, want 239", len(text))
	}
}
