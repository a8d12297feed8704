package extractor

import (
	"bytes"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/BearBump/TrackSync/internal/integrations/carrier"
	"github.com/BearBump/TrackSync/internal/models"
	"github.com/BearBump/TrackSync/internal/occurrence"
	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"
)

// DateTimeLayout is how SSW prints event time: "20/11/25" followed by "14:30".
const DateTimeLayout = "02/01/06 15:04"

const cellSelector = "p.tdb"

// BRT is the carrier's wall clock. Brazil dropped DST in 2019.
var BRT = time.FixedZone("BRT", -3*60*60)

var (
	// SSW glues the date to the UF ("SP20/11/25"), so \b does not work here.
	unitRe   = regexp.MustCompile(`(?:^|\D)(\d{4})(?:\D|$)`)
	dateRe   = regexp.MustCompile(`(?:^|[^\d/])(\d{2}/\d{2}/\d{2})(?:[^\d/]|$)`)
	timeRe   = regexp.MustCompile(`\d{2}:\d{2}`)
	spaceRe  = regexp.MustCompile(`\s+`)
	splitRe  = regexp.MustCompile(`\s{2,}`)
	codeRe   = regexp.MustCompile(`(?:^|\s)(\d{1,3})\.?$`)
	suffixRe = regexp.MustCompile(`\s*\(.*?\)\s*\.?$`)
)

type Extractor struct {
	catalog *occurrence.Catalog
	loc     *time.Location
}

// New builds an extractor; catalog may be nil, then rows without a code token
// keep an empty occurrence code.
func New(catalog *occurrence.Catalog, loc *time.Location) *Extractor {
	if loc == nil {
		loc = BRT
	}
	return &Extractor{catalog: catalog, loc: loc}
}

// Parse turns an SSW result page into events in document order. A row that
// does not carry a dd/mm/yy date is skipped; a page with no usable row at all is
// carrier.ErrMalformedPage.
func (e *Extractor) Parse(page carrier.RawPage) ([]models.TrackingEvent, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, errors.Wrapf(carrier.ErrMalformedPage, "parse html: %v", err)
	}
	// <br> separates location/date from time inside one cell.
	doc.Find("br").ReplaceWithHtml("\n")

	rows := tableRows(doc)
	if len(rows) == 0 {
		rows = flatRows(doc)
	}
	if len(rows) == 0 {
		return nil, errors.Wrap(carrier.ErrMalformedPage, "no event rows")
	}

	events := make([]models.TrackingEvent, 0, len(rows))
	for i, cells := range rows {
		ev, ok := e.parseRow(cells)
		if !ok {
			slog.Warn("skip ssw row without date",
				"shipment", page.Shipment.String(), "row", i, "raw", strings.Join(cells, " | "))
			continue
		}
		ev.Seq = len(events)
		events = append(events, ev)
	}
	if len(events) == 0 {
		return nil, errors.Wrapf(carrier.ErrMalformedPage, "%d rows, none with %q date", len(rows), DateTimeLayout)
	}
	return events, nil
}

// tableRows returns innermost <tr> elements holding at least three cells.
func tableRows(doc *goquery.Document) [][]string {
	var rows [][]string
	doc.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		if tr.Find("tr").Length() > 0 {
			return
		}
		cells := texts(tr.Find(cellSelector))
		if len(cells) >= 3 {
			rows = append(rows, cells[:3])
		}
	})
	return rows
}

// flatRows reads p.tdb cells in groups of three: unit, location+date, status.
func flatRows(doc *goquery.Document) [][]string {
	cells := texts(doc.Find(cellSelector))
	var rows [][]string
	for i := 0; i+2 < len(cells); i += 3 {
		rows = append(rows, cells[i:i+3])
	}
	return rows
}

func texts(sel *goquery.Selection) []string {
	out := make([]string, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, s.Text())
	})
	return out
}

func (e *Extractor) parseRow(cells []string) (models.TrackingEvent, bool) {
	unitCell, whereCell, statusCell := cells[0], cells[1], cells[2]

	m := dateRe.FindStringSubmatchIndex(whereCell)
	if m == nil {
		return models.TrackingEvent{}, false
	}
	dateStart, dateEnd := m[2], m[3]
	clock := timeRe.FindString(whereCell[dateEnd:])
	if clock == "" {
		return models.TrackingEvent{}, false
	}
	at, err := time.ParseInLocation(DateTimeLayout, whereCell[dateStart:dateEnd]+" "+clock, e.loc)
	if err != nil {
		return models.TrackingEvent{}, false
	}

	status, code, description := e.splitStatus(statusCell)

	return models.TrackingEvent{
		OccurrenceCode: code,
		Status:         status,
		Description:    description,
		Location:       location(whereCell[:dateStart]),
		Unit:           unit(unitCell),
		OccurredAt:     at,
		RawData:        strings.Join(cells, " | "),
	}, true
}

// unit returns the 4-digit facility code, or "" when the cell holds none.
func unit(cell string) string {
	if m := unitRe.FindStringSubmatch(cell); m != nil {
		return m[1]
	}
	return ""
}

func location(s string) string {
	s = strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
	return strings.TrimSpace(strings.TrimSuffix(s, "/"))
}

// splitStatus separates "MERCADORIA ENTREGUE  01" into status text and code.
// Without a trailing code token the catalog text match decides the code.
func (e *Extractor) splitStatus(cell string) (status, code, description string) {
	line := strings.TrimSpace(strings.NewReplacer("\n", " ", "\t", " ", "\r", " ").Replace(cell))
	description = line

	if m := codeRe.FindStringSubmatchIndex(line); m != nil {
		code = line[m[2]:m[3]]
		line = strings.TrimSpace(line[:m[0]])
	}
	status = strings.TrimSpace(splitRe.Split(line, 2)[0])
	status = strings.TrimSpace(suffixRe.ReplaceAllString(status, ""))
	status = spaceRe.ReplaceAllString(status, " ")
	if status == "" {
		status = spaceRe.ReplaceAllString(description, " ")
	}

	if code == "" && e.catalog != nil {
		if entry, ok := e.catalog.Match(status); ok {
			code = entry.Code
		}
	}
	return status, code, description
}
