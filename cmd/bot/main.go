package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"

	"charmcity.ai/internal/protocol"
)

// bot is a demo client that joins a city and places, removes, and chats at
// random. Useful for smoke-testing a running server.
func main() {
	var (
		url  = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name = flag.String("name", "bot", "player name")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		PlayerName:      *name,
		MaxQueue:        8,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	b := &bot{logger: logger, rng: rand.New(rand.NewSource(1))}

	for {
		select {
		case <-stop:
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			b.playerID = w.PlayerID
			b.rows = w.MapParams.Rows
			b.cols = w.MapParams.Cols
			b.rng = rand.New(rand.NewSource(w.MapParams.Seed))
			logger.Printf("WELCOME player_id=%s map=%dx%d seed=%d", w.PlayerID, w.MapParams.Rows, w.MapParams.Cols, w.MapParams.Seed)

		case protocol.TypeCatalog:
			var c protocol.CatalogMsg
			if err := json.Unmarshal(msg, &c); err != nil {
				continue
			}
			if c.Name == "building_palette" {
				if pal, ok := c.Data.([]interface{}); ok {
					b.palette = b.palette[:0]
					for _, v := range pal {
						if s, ok := v.(string); ok {
							b.palette = append(b.palette, s)
						}
					}
				}
			}

		case protocol.TypeState:
			var st protocol.StateMsg
			if err := json.Unmarshal(msg, &st); err != nil {
				continue
			}
			b.handleState(conn, &st)
		}
	}
}

type bot struct {
	logger   *log.Logger
	rng      *rand.Rand
	playerID string
	rows     int
	cols     int
	palette  []string

	mine []string
}

func (b *bot) handleState(conn *websocket.Conn, st *protocol.StateMsg) {
	for _, e := range st.Events {
		if e["type"] == "ACTION_RESULT" && e["ok"] == true {
			if id, ok := e["detail"].(string); ok && len(id) > 1 && id[0] == 'B' {
				b.mine = append(b.mine, id)
			}
		}
	}

	// Place a random building every ~5 seconds.
	if st.Tick%25 == 0 && len(b.palette) > 0 && b.rows > 0 {
		typ := b.palette[b.rng.Intn(len(b.palette))]
		anchor := [2]int{b.rng.Intn(b.rows), b.rng.Intn(b.cols)}
		act := protocol.ActMsg{
			Type:            protocol.TypeAct,
			ProtocolVersion: protocol.Version,
			Tick:            st.Tick,
			PlayerID:        b.playerID,
			Instants: []protocol.InstantReq{
				{ID: fmt.Sprintf("I_place_%d", st.Tick), Type: "PLACE_BUILDING", BuildingType: typ, Anchor: anchor},
			},
		}
		_ = conn.WriteJSON(act)
	}

	// Occasionally tear one of ours down again.
	if st.Tick%120 == 60 && len(b.mine) > 0 {
		id := b.mine[0]
		b.mine = b.mine[1:]
		act := protocol.ActMsg{
			Type:            protocol.TypeAct,
			ProtocolVersion: protocol.Version,
			Tick:            st.Tick,
			PlayerID:        b.playerID,
			Instants: []protocol.InstantReq{
				{ID: fmt.Sprintf("I_remove_%d", st.Tick), Type: "REMOVE_BUILDING", BuildingID: id},
			},
		}
		_ = conn.WriteJSON(act)
	}

	if st.Tick%100 == 0 {
		act := protocol.ActMsg{
			Type:            protocol.TypeAct,
			ProtocolVersion: protocol.Version,
			Tick:            st.Tick,
			PlayerID:        b.playerID,
			Instants: []protocol.InstantReq{
				{ID: fmt.Sprintf("I_say_%d", st.Tick), Type: "SAY", Text: fmt.Sprintf("tick=%d charm=%d", st.Tick, st.World.CharmTotal)},
			},
		}
		_ = conn.WriteJSON(act)
	}
}
