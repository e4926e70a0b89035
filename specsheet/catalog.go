package specsheet

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrCatalogNotFound is returned by LoadCatalog when the catalog file is missing.
var ErrCatalogNotFound = errors.New("specsheet: catalog file not found")

// Entry maps a set of part numbers and part names to one specification file
// in the cache directory.
type Entry struct {
	File        string   `json:"file" yaml:"file"`
	PartNumbers []string `json:"part_numbers,omitempty" yaml:"part_numbers"`
	PartNames   []string `json:"part_names,omitempty" yaml:"part_names"`
	Description string   `json:"description,omitempty" yaml:"description"`
}

// catalogFile is the on-disk YAML layout.
type catalogFile struct {
	Entries []Entry `yaml:"entries"`
}

// Catalog is an immutable lookup table from exact part numbers and part
// names to cache file names. Keys are compared after trimming surrounding
// whitespace; case is significant.
type Catalog struct {
	byNumber map[string]string
	byName   map[string]string
	entries  []Entry
}

// builtin lists the specification sheets shipped with every cache directory.
var builtin = []Entry{
	{File: "enphase_iq8plus_spec.pdf", PartNumbers: []string{"IQ8PLUS-72-2-US", "IQ8PLUS-72-M-US"}, PartNames: []string{"Enphase IQ8+ Microinverter"}, Description: "Enphase IQ8+ microinverter"},
	{File: "enphase_iq8m_spec.pdf", PartNumbers: []string{"IQ8M-72-2-US", "IQ8M-72-M-US"}, PartNames: []string{"Enphase IQ8M Microinverter"}, Description: "Enphase IQ8M microinverter"},
	{File: "enphase_iq_combiner_5_spec.pdf", PartNumbers: []string{"X-IQ-AM1-240-5", "X-IQ-AM1-240-5C"}, PartNames: []string{"IQ Combiner 5"}, Description: "Enphase IQ Combiner 5/5C"},
	{File: "solaredge_se7600h_spec.pdf", PartNumbers: []string{"SE7600H-US", "SE7600H-USRGM"}, PartNames: []string{"SolarEdge Home Wave Inverter"}, Description: "SolarEdge SE7600H HD-Wave inverter"},
	{File: "solaredge_s440_spec.pdf", PartNumbers: []string{"S440"}, PartNames: []string{"SolarEdge Power Optimizer"}, Description: "SolarEdge S440 power optimizer"},
	{File: "qcells_qpeak_duo_blk_mlg10_spec.pdf", PartNumbers: []string{"Q.PEAK DUO BLK ML-G10+ 400", "Q.PEAK DUO BLK ML-G10+ 405"}, PartNames: []string{"Q.PEAK DUO BLK ML-G10+"}, Description: "Qcells Q.PEAK DUO BLK ML-G10+ module"},
	{File: "rec_alpha_pure_r_spec.pdf", PartNumbers: []string{"REC410AA PURE-R", "REC420AA PURE-R"}, PartNames: []string{"REC Alpha Pure-R"}, Description: "REC Alpha Pure-R module"},
	{File: "ironridge_xr100_spec.pdf", PartNumbers: []string{"XR-100-168B", "XR-100-204B", "XR100"}, PartNames: []string{"IronRidge XR100 Rail"}, Description: "IronRidge XR100 rail"},
	{File: "ironridge_flashfoot2_spec.pdf", PartNumbers: []string{"FF2-02-B1", "FF2-02-M1"}, PartNames: []string{"FlashFoot2"}, Description: "IronRidge FlashFoot2 attachment"},
	{File: "unirac_sm_light_spec.pdf", PartNumbers: []string{"315168M", "SM-LIGHT"}, PartNames: []string{"SolarMount Light Rail"}, Description: "Unirac SolarMount light rail"},
	{File: "tesla_powerwall_3_spec.pdf", PartNumbers: []string{"1707000-XX-Y"}, PartNames: []string{"Tesla Powerwall 3"}, Description: "Tesla Powerwall 3"},
	{File: "eaton_dg222urb_spec.pdf", PartNumbers: []string{"DG222URB"}, PartNames: []string{"AC Disconnect 60A"}, Description: "Eaton DG222URB fusible disconnect"},
}

// DefaultCatalog returns a catalog holding only the built-in entries.
func DefaultCatalog() *Catalog {
	return NewCatalog(builtin...)
}

// NewCatalog builds a catalog from entries. Later entries override earlier
// ones for the same key. Entries without a file are ignored.
func NewCatalog(entries ...Entry) *Catalog {
	c := &Catalog{
		byNumber: make(map[string]string),
		byName:   make(map[string]string),
	}
	for _, e := range entries {
		file := strings.TrimSpace(e.File)
		if file == "" {
			continue
		}
		for _, pn := range e.PartNumbers {
			if k := strings.TrimSpace(pn); k != "" {
				c.byNumber[k] = file
			}
		}
		for _, n := range e.PartNames {
			if k := strings.TrimSpace(n); k != "" {
				c.byName[k] = file
			}
		}
		e.File = file
		e.PartNumbers = append([]string(nil), e.PartNumbers...)
		e.PartNames = append([]string(nil), e.PartNames...)
		c.entries = append(c.entries, e)
	}
	return c
}

// LoadCatalog merges the built-in table with the YAML catalog at path.
// File entries take precedence. An empty path yields DefaultCatalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrCatalogNotFound, path)
		}
		return nil, fmt.Errorf("specsheet: read catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("specsheet: parse catalog %s: %w", path, err)
	}
	all := make([]Entry, 0, len(builtin)+len(f.Entries))
	all = append(all, builtin...)
	all = append(all, f.Entries...)
	return NewCatalog(all...), nil
}

// ByPartNumber returns the file mapped to the exact part number.
func (c *Catalog) ByPartNumber(pn string) (string, bool) {
	k := strings.TrimSpace(pn)
	if k == "" {
		return "", false
	}
	f, ok := c.byNumber[k]
	return f, ok
}

// ByPartName returns the file mapped to the exact part name.
func (c *Catalog) ByPartName(name string) (string, bool) {
	k := strings.TrimSpace(name)
	if k == "" {
		return "", false
	}
	f, ok := c.byName[k]
	return f, ok
}

// Len returns the number of distinct keys.
func (c *Catalog) Len() int { return len(c.byNumber) + len(c.byName) }

// Entries returns a copy of the catalog entries sorted by file name.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	for i, e := range c.entries {
		e.PartNumbers = append([]string(nil), e.PartNumbers...)
		e.PartNames = append([]string(nil), e.PartNames...)
		out[i] = e
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].File < out[j].File })
	return out
}
