package occurrence

import (
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/BearBump/TrackSync/internal/models"
	"github.com/pkg/errors"
	"go.yaml.in/yaml/v4"
)

// Entry describes one SSW occurrence code.
type Entry struct {
	Code        string `yaml:"code"`
	Description string `yaml:"description"`
	Type        string `yaml:"type"`
	Process     string `yaml:"process"`
}

// Catalog is read-only after construction and safe to share between workers.
type Catalog struct {
	byCode  map[string]Entry
	byMatch []Entry // longest description first
}

var (
	suffixRe = regexp.MustCompile(`\s*\(.*?\)\s*\.?$`)
	wordRe   = regexp.MustCompile(`[\p{L}\p{N}]+`)
)

var stopWords = map[string]struct{}{
	"DE": {}, "DA": {}, "DO": {}, "PARA": {}, "COM": {}, "SEM": {},
	"POR": {}, "AO": {}, "A": {}, "O": {}, "E": {},
}

func New(entries []Entry) (*Catalog, error) {
	c := &Catalog{byCode: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		k := normalizeCode(e.Code)
		if k == "" {
			return nil, errors.Errorf("occurrence %q: empty code", e.Description)
		}
		if _, dup := c.byCode[k]; dup {
			return nil, errors.Errorf("occurrence code %s: duplicate", e.Code)
		}
		e.Code = k
		c.byCode[k] = e
		c.byMatch = append(c.byMatch, e)
	}
	sort.SliceStable(c.byMatch, func(i, j int) bool {
		return len(c.byMatch[i].Description) > len(c.byMatch[j].Description)
	})
	return c, nil
}

// Default returns the SSW table used by the owning API seed.
func Default() *Catalog {
	c, err := New(defaultEntries)
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads a YAML list of entries.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read occurrence catalog")
	}
	var entries []Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrap(err, "unmarshal occurrence catalog")
	}
	return New(entries)
}

func (c *Catalog) Len() int { return len(c.byCode) }

// Lookup finds an entry by code; "01" and "1" are the same code.
func (c *Catalog) Lookup(code string) (Entry, bool) {
	e, ok := c.byCode[normalizeCode(code)]
	return e, ok
}

// minSharedKeywords guards the keyword fallback: one common word such as
// "ENTREGA" must not assign a code that may close the shipment.
const minSharedKeywords = 2

// Match picks the entry whose description best matches free status text.
func (c *Catalog) Match(text string) (Entry, bool) {
	clean := strings.ToUpper(strings.TrimSpace(suffixRe.ReplaceAllString(text, "")))
	if clean == "" {
		return Entry{}, false
	}
	keywords := keywordSet(clean)

	var best Entry
	bestScore := 0
	for _, e := range c.byMatch {
		desc := strings.ToUpper(e.Description)
		score := 0
		switch {
		case strings.Contains(clean, desc):
			score = len(desc) * 100
		case strings.Contains(desc, clean):
			score = len(clean) * 100
		default:
			shared := 0
			for w := range keywordSet(desc) {
				if _, ok := keywords[w]; ok {
					shared++
					score += len(w)
				}
			}
			if shared < minSharedKeywords {
				score = 0
			}
		}
		if score > bestScore {
			best, bestScore = e, score
		}
	}
	return best, bestScore > 0
}

// StatusFor maps an entry to the canonical status reported to the owning API.
// Process wins over type.
func StatusFor(e Entry) string {
	typ := strings.ToLower(e.Type)
	process := strings.ToLower(e.Process)
	switch {
	case process == "entrega", process == "finalizadora":
		return models.TrackingStatusDelivered
	case process == "devolução":
		return models.TrackingStatusReturned
	case typ == "baixa":
		return models.TrackingStatusCancelled
	case typ == "préentrega":
		return models.TrackingStatusOutForDelivery
	case strings.Contains(typ, "pendência"):
		if process == "reentrega" {
			return models.TrackingStatusFailedDelivery
		}
		return models.TrackingStatusHeld
	default:
		return models.TrackingStatusInTransit
	}
}

// IsFinal reports whether the occurrence closes the shipment on the owning side.
func IsFinal(e Entry) bool {
	switch strings.ToLower(e.Type) {
	case "entrega", "baixa", "préentrega":
		return true
	}
	return false
}

func normalizeCode(code string) string {
	code = strings.TrimSpace(code)
	trimmed := strings.TrimLeft(code, "0")
	if trimmed == "" && code != "" {
		return "0"
	}
	return trimmed
}

func keywordSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range wordRe.FindAllString(s, -1) {
		if _, stop := stopWords[w]; stop {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

var defaultEntries = []Entry{
	{Code: "1", Description: "mercadoria entregue", Type: "entrega", Process: "entrega"},
	{Code: "2", Description: "mercadoria pre-entregue (mobile)", Type: "préentrega", Process: "entrega"},
	{Code: "3", Description: "mercadoria devolvida ao remetente", Type: "entrega", Process: "devolução"},
	{Code: "11", Description: "local de entrega fechado/ausente", Type: "pendência cliente", Process: "entrega"},
	{Code: "31", Description: "primeira tentativa de entrega", Type: "pendência cliente", Process: "reentrega"},
	{Code: "37", Description: "entrega realizada com ressalva", Type: "pendência transportadora", Process: "entrega"},
	{Code: "80", Description: "mercadoria recebida para transporte", Type: "informativa", Process: "operacional"},
	{Code: "82", Description: "saida de unidade", Type: "informativa", Process: "operacional"},
	{Code: "84", Description: "chegada na unidade", Type: "informativa", Process: "operacional"},
	{Code: "85", Description: "saida para entrega", Type: "informativa", Process: "operacional"},
	{Code: "99", Description: "ctrc baixado/cancelado", Type: "baixa", Process: "geral"},
}
