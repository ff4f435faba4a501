package world

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"charmcity.ai/internal/persistence/snapshot"
	"charmcity.ai/internal/protocol"
	"charmcity.ai/internal/sim/catalogs"
	"charmcity.ai/internal/sim/city"
)

type WorldConfig struct {
	ID            string
	TickRateHz    int
	DayTicks      int
	Rows          int
	Cols          int
	CoverageBonus int
	Seed          int64

	SnapshotEveryTicks int
	RateLimits         RateLimitConfig
}

type RateLimitConfig struct {
	PlaceWindowTicks  int
	PlaceMax          int
	RemoveWindowTicks int
	RemoveMax         int
	SayWindowTicks    int
	SayMax            int
}

type JoinRequest struct {
	Name string
	Out  chan []byte
	Resp chan JoinResponse
}

type AttachRequest struct {
	ResumeToken string
	Out         chan []byte
	Resp        chan JoinResponse
}

type JoinResponse struct {
	Welcome  protocol.WelcomeMsg
	Catalogs []protocol.CatalogMsg
}

type ActionEnvelope struct {
	PlayerID string
	Act      protocol.ActMsg
}

type RecordedJoin struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
}

// World is a single-threaded authoritative simulation.
// All state must be accessed only from the world loop goroutine.
type World struct {
	cfg      WorldConfig
	catalogs *catalogs.Catalogs

	tick atomic.Uint64

	grid *city.Grid

	players map[string]*Player
	clients map[string]*clientState

	inbox   chan ActionEnvelope
	join    chan JoinRequest
	attach  chan AttachRequest
	leave   chan string
	snapReq chan chan snapResult
	stop    chan struct{}

	nextPlayerNum atomic.Uint64

	// Optional loggers (may be nil). Implemented in internal/persistence/*.
	tickLogger  TickLogger
	auditLogger AuditLogger

	// Optional snapshot sink (may be nil). Snapshot writing is off-thread.
	snapshotSink chan<- snapshot.SnapshotV1

	// Point-in-time WorldMetrics, published at the end of each step.
	metrics atomic.Value
}

type snapResult struct {
	tick uint64
	err  error
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

type TickLogEntry struct {
	Tick    uint64           `json:"tick"`
	Joins   []RecordedJoin   `json:"joins,omitempty"`
	Leaves  []string         `json:"leaves,omitempty"`
	Actions []RecordedAction `json:"actions,omitempty"`
	Digest  string           `json:"digest"`
}

type RecordedAction struct {
	PlayerID string          `json:"player_id"`
	Act      protocol.ActMsg `json:"act"`
}

type AuditEntry struct {
	Tick       uint64 `json:"tick"`
	Actor      string `json:"actor"`
	Action     string `json:"action"` // "PLACE" or "REMOVE"
	BuildingID string `json:"building_id"`
	Type       string `json:"building_type"`
	Anchor     [2]int `json:"anchor"`
	Charm      int    `json:"charm_total"`
	Reason     string `json:"reason,omitempty"`
}

type clientState struct {
	Out chan []byte
}

func New(cfg WorldConfig, cats *catalogs.Catalogs) (*World, error) {
	if cfg.TickRateHz <= 0 {
		return nil, fmt.Errorf("tick rate must be positive, got %d", cfg.TickRateHz)
	}
	if cfg.Rows <= 0 || cfg.Cols <= 0 {
		return nil, fmt.Errorf("map size %dx%d", cfg.Rows, cfg.Cols)
	}
	if cfg.CoverageBonus < 0 {
		return nil, fmt.Errorf("coverage bonus %d", cfg.CoverageBonus)
	}
	w := &World{
		cfg:      cfg,
		catalogs: cats,
		grid:     city.NewGrid(cfg.Rows, cfg.Cols, cfg.CoverageBonus),
		players:  map[string]*Player{},
		clients:  map[string]*clientState{},
		inbox:    make(chan ActionEnvelope, 1024),
		join:     make(chan JoinRequest, 64),
		attach:   make(chan AttachRequest, 64),
		leave:    make(chan string, 64),
		snapReq:  make(chan chan snapResult, 4),
		stop:     make(chan struct{}),
	}
	return w, nil
}

func (w *World) SetTickLogger(l TickLogger)                    { w.tickLogger = l }
func (w *World) SetAuditLogger(l AuditLogger)                  { w.auditLogger = l }
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { w.snapshotSink = ch }

func (w *World) Inbox() chan<- ActionEnvelope { return w.inbox }
func (w *World) Join() chan<- JoinRequest     { return w.join }
func (w *World) Attach() chan<- AttachRequest { return w.attach }
func (w *World) Leave() chan<- string         { return w.leave }

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingActions []ActionEnvelope
	var pendingJoins []JoinRequest
	var pendingLeaves []string

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.join:
			pendingJoins = append(pendingJoins, req)
		case req := <-w.attach:
			w.handleAttach(req)
		case id := <-w.leave:
			pendingLeaves = append(pendingLeaves, id)
		case env := <-w.inbox:
			pendingActions = append(pendingActions, env)
		case resp := <-w.snapReq:
			w.handleSnapshotRequest(resp)
		case <-ticker.C:
			w.step(pendingJoins, pendingLeaves, pendingActions)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingActions = pendingActions[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// RequestSnapshot asks the loop to push a snapshot to the sink out of band.
func (w *World) RequestSnapshot(ctx context.Context) (uint64, error) {
	resp := make(chan snapResult, 1)
	select {
	case w.snapReq <- resp:
	case <-ctx.Done():
		return w.tick.Load(), ctx.Err()
	}
	select {
	case r := <-resp:
		return r.tick, r.err
	case <-ctx.Done():
		return w.tick.Load(), ctx.Err()
	}
}

func (w *World) handleSnapshotRequest(resp chan snapResult) {
	nowTick := w.tick.Load()
	if w.snapshotSink == nil {
		resp <- snapResult{tick: nowTick, err: fmt.Errorf("no snapshot sink configured")}
		return
	}
	snap := w.ExportSnapshot(nowTick)
	select {
	case w.snapshotSink <- snap:
		resp <- snapResult{tick: nowTick}
	default:
		resp <- snapResult{tick: nowTick, err: fmt.Errorf("snapshot sink busy")}
	}
}

func (w *World) joinPlayer(name string, out chan []byte) JoinResponse {
	if name == "" {
		name = "player"
	}

	idNum := w.nextPlayerNum.Add(1)
	playerID := fmt.Sprintf("P%d", idNum)

	p := &Player{
		ID:   playerID,
		Name: name,
	}
	p.initDefaults()
	w.players[playerID] = p
	if out != nil {
		w.clients[playerID] = &clientState{Out: out}
	}

	token := fmt.Sprintf("resume_%s_%d", w.cfg.ID, time.Now().UnixNano())
	p.ResumeToken = token

	return JoinResponse{Welcome: w.welcomeFor(p), Catalogs: w.catalogMsgs()}
}

func (w *World) welcomeFor(p *Player) protocol.WelcomeMsg {
	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		PlayerID:        p.ID,
		ResumeToken:     p.ResumeToken,
		MapParams: protocol.MapParams{
			TickRateHz:    w.cfg.TickRateHz,
			Rows:          w.cfg.Rows,
			Cols:          w.cfg.Cols,
			CoverageBonus: w.cfg.CoverageBonus,
			DayTicks:      w.cfg.DayTicks,
			Seed:          w.cfg.Seed,
		},
		Catalogs: protocol.CatalogDigests{
			BuildingPalette: protocol.DigestRef{
				Digest: w.catalogs.Buildings.PaletteDigest,
				Count:  len(w.catalogs.Buildings.Palette),
			},
			BuildingDefs: w.catalogs.Buildings.DefsDigest,
		},
	}
}

func (w *World) catalogMsgs() []protocol.CatalogMsg {
	return []protocol.CatalogMsg{
		{
			Type:            protocol.TypeCatalog,
			ProtocolVersion: protocol.Version,
			Name:            "building_palette",
			Digest:          w.catalogs.Buildings.PaletteDigest,
			Part:            1,
			TotalParts:      1,
			Data:            w.catalogs.Buildings.Palette,
		},
		{
			Type:            protocol.TypeCatalog,
			ProtocolVersion: protocol.Version,
			Name:            "building_defs",
			Digest:          w.catalogs.Buildings.DefsDigest,
			Part:            1,
			TotalParts:      1,
			Data:            w.catalogs.Buildings.Defs,
		},
	}
}

func (w *World) handleAttach(req AttachRequest) {
	token := strings.TrimSpace(req.ResumeToken)
	if token == "" || req.Out == nil {
		if req.Resp != nil {
			req.Resp <- JoinResponse{}
		}
		return
	}

	// Find player deterministically by iterating sorted ids.
	ids := make([]string, 0, len(w.players))
	for id := range w.players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var p *Player
	for _, id := range ids {
		pp := w.players[id]
		if pp != nil && pp.ResumeToken == token {
			p = pp
			break
		}
	}
	if p == nil {
		if req.Resp != nil {
			req.Resp <- JoinResponse{}
		}
		return
	}

	// Attach client; rotate the token on successful resume.
	w.clients[p.ID] = &clientState{Out: req.Out}
	p.ResumeToken = fmt.Sprintf("resume_%s_%d", w.cfg.ID, time.Now().UnixNano())

	if req.Resp != nil {
		req.Resp <- JoinResponse{Welcome: w.welcomeFor(p), Catalogs: w.catalogMsgs()}
	}
}

func (w *World) handleLeave(playerID string) {
	delete(w.clients, playerID)
}

func (w *World) step(joins []JoinRequest, leaves []string, actions []ActionEnvelope) {
	started := time.Now()
	nowTick := w.tick.Load()

	// Apply leaves and joins deterministically at tick boundary.
	recordedLeaves := make([]string, 0, len(leaves))
	for _, id := range leaves {
		if _, ok := w.players[id]; ok {
			w.handleLeave(id)
			recordedLeaves = append(recordedLeaves, id)
		}
	}
	recordedJoins := make([]RecordedJoin, 0, len(joins))
	for _, req := range joins {
		resp := w.joinPlayer(req.Name, req.Out)
		if req.Resp != nil {
			req.Resp <- resp
		}
		recordedJoins = append(recordedJoins, RecordedJoin{PlayerID: resp.Welcome.PlayerID, Name: req.Name})
	}

	// Apply actions in server receive order (the inbox order).
	recorded := make([]RecordedAction, 0, len(actions))
	for _, env := range actions {
		p := w.players[env.PlayerID]
		if p == nil {
			continue
		}
		env.Act.PlayerID = env.PlayerID // trust session identity
		recorded = append(recorded, RecordedAction{PlayerID: env.PlayerID, Act: env.Act})
		w.applyAct(p, env.Act, nowTick)
	}

	// Build + send STATE for each connected player.
	for id, p := range w.players {
		cl := w.clients[id]
		if cl == nil {
			p.Events = nil
			continue
		}
		b, err := w.encodeState(p, nowTick)
		if err != nil {
			continue
		}
		sendLatest(cl.Out, b)
	}

	digest := w.stateDigest(nowTick)
	if w.tickLogger != nil {
		_ = w.tickLogger.WriteTick(TickLogEntry{Tick: nowTick, Joins: recordedJoins, Leaves: recordedLeaves, Actions: recorded, Digest: digest})
	}

	if w.snapshotSink != nil && w.cfg.SnapshotEveryTicks > 0 && nowTick != 0 && nowTick%uint64(w.cfg.SnapshotEveryTicks) == 0 {
		snap := w.ExportSnapshot(nowTick)
		select {
		case w.snapshotSink <- snap:
		default:
			// Drop snapshot if sink is backed up.
		}
	}

	w.metrics.Store(WorldMetrics{
		Tick:       nowTick + 1,
		Players:    len(w.players),
		Clients:    len(w.clients),
		Buildings:  w.grid.Count(),
		CharmTotal: w.grid.CharmTotal(),
		StepMS:     float64(time.Since(started).Microseconds()) / 1000.0,
		QueueDepths: QueueDepths{
			Inbox: len(w.inbox),
			Join:  len(w.join),
			Leave: len(w.leave),
		},
	})
	w.tick.Add(1)
}

// StepOnce advances the world by a single tick using the same ordering
// semantics as the server loop. Intended for deterministic replays/tests.
func (w *World) StepOnce(joins []JoinRequest, leaves []string, actions []ActionEnvelope) (tick uint64, digest string) {
	tick = w.tick.Load()
	w.step(joins, leaves, actions)
	return tick, w.stateDigest(tick)
}

// WorldMetrics is a thread-safe read-only view of key runtime signals.
// It is updated from the world loop goroutine and read from HTTP
// handlers/tests.
type WorldMetrics struct {
	Tick       uint64  `json:"tick"`
	Players    int     `json:"players"`
	Clients    int     `json:"clients"`
	Buildings  int     `json:"buildings"`
	CharmTotal int     `json:"charm_total"`
	StepMS     float64 `json:"step_ms"`

	QueueDepths QueueDepths `json:"queue_depths"`
}

type QueueDepths struct {
	Inbox int `json:"inbox"`
	Join  int `json:"join"`
	Leave int `json:"leave"`
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	v := w.metrics.Load()
	if v == nil {
		return WorldMetrics{}
	}
	m, ok := v.(WorldMetrics)
	if !ok {
		return WorldMetrics{}
	}
	return m
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
