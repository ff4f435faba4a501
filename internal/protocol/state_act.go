package protocol

// STATE (server -> client): full map view, sent every tick.
type StateMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	PlayerID        string `json:"player_id"`

	World     WorldState    `json:"world"`
	Buildings []BuildingObs `json:"buildings"`
	Events    []Event       `json:"events"`
}

type WorldState struct {
	TimeOfDay  float64 `json:"time_of_day"` // 0..1
	Buildings  int     `json:"buildings"`
	CharmTotal int     `json:"charm_total"`
}

type BuildingObs struct {
	ID     string `json:"id"`
	Type   string `json:"building_type"`
	Anchor [2]int `json:"anchor"` // [row, col]
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Owner  string `json:"owner,omitempty"`

	Charm        int `json:"charm"`
	CoveredCount int `json:"covered_count"`
}

type Event map[string]interface{}

// ACT (client -> server)
type ActMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Tick            uint64       `json:"tick"`
	PlayerID        string       `json:"player_id"`
	Instants        []InstantReq `json:"instants,omitempty"`
}

type InstantReq struct {
	ID   string `json:"id"`
	Type string `json:"type"` // "PLACE_BUILDING","REMOVE_BUILDING","QUERY_BUILDING","SAY"

	BuildingType string `json:"building_type,omitempty"`
	Anchor       [2]int `json:"anchor,omitempty"` // [row, col]
	Pos          [2]int `json:"pos,omitempty"`    // any cell of the target building
	BuildingID   string `json:"building_id,omitempty"`

	Text string `json:"text,omitempty"`
}
