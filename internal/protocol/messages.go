package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	PlayerName      string     `json:"player_name"`
	MaxQueue        int        `json:"max_queue,omitempty"`
	Auth            *HelloAuth `json:"auth,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	PlayerID        string         `json:"player_id"`
	ResumeToken     string         `json:"resume_token"`
	MapParams       MapParams      `json:"map_params"`
	Catalogs        CatalogDigests `json:"catalogs"`
}

type MapParams struct {
	TickRateHz    int   `json:"tick_rate_hz"`
	Rows          int   `json:"rows"`
	Cols          int   `json:"cols"`
	CoverageBonus int   `json:"coverage_bonus"`
	DayTicks      int   `json:"day_ticks"`
	Seed          int64 `json:"seed"`
}

type CatalogDigests struct {
	BuildingPalette DigestRef `json:"building_palette"`
	BuildingDefs    string    `json:"building_defs_digest"`
	TuningDigest    string    `json:"tuning_digest,omitempty"`
}

type DigestRef struct {
	Digest string `json:"digest"`
	Count  int    `json:"count"`
}

// CATALOG (server -> client): one catalog, sent whole in a single part.
type CatalogMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Name            string      `json:"name"`   // e.g. "building_palette"
	Digest          string      `json:"digest"` // sha256 hex
	Part            int         `json:"part"`
	TotalParts      int         `json:"total_parts"`
	Data            interface{} `json:"data"`
}
