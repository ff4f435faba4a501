package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

type Catalogs struct {
	Buildings BuildingCatalog
}

type BuildingCatalog struct {
	Palette       []string
	Index         map[string]uint16
	Defs          map[string]BuildingDef
	PaletteDigest string
	DefsDigest    string
}

type BuildingDef struct {
	ID        string `json:"id"`
	Category  string `json:"category"` // "RESIDENTIAL","COMMERCIAL","CIVIC","DECOR"
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	BaseCharm int    `json:"base_charm"`
}

// Area is the footprint cell count; the detection radius derives from it.
func (d BuildingDef) Area() int { return d.Width * d.Height }

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadBuildings(filepath.Join(configDir, "buildings.json"), &c.Buildings); err != nil {
		return nil, err
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadBuildings(path string, out *BuildingCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.DefsDigest = sha256Hex(raw)

	var defs []BuildingDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("buildings.json: %w", err)
	}
	out.Defs = map[string]BuildingDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("buildings.json: empty id")
		}
		if d.Width <= 0 || d.Height <= 0 {
			return fmt.Errorf("buildings.json: %s: bad footprint %dx%d", d.ID, d.Width, d.Height)
		}
		if _, dup := out.Defs[d.ID]; dup {
			return fmt.Errorf("buildings.json: duplicate id %s", d.ID)
		}
		out.Defs[d.ID] = d
	}

	ids := make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out.Palette = ids
	out.Index = make(map[string]uint16, len(ids))
	for i, id := range ids {
		out.Index[id] = uint16(i)
	}
	palJSON, _ := json.Marshal(ids)
	out.PaletteDigest = sha256Hex(palJSON)
	return nil
}
