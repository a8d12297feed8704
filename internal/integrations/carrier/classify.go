package carrier

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

type PageKind int

const (
	PageFound PageKind = iota
	PageNotFound
	PageMalformed
)

func (k PageKind) String() string {
	switch k {
	case PageFound:
		return "found"
	case PageNotFound:
		return "not_found"
	default:
		return "malformed"
	}
}

type Classification struct {
	Kind PageKind
	// Reason holds the marker that decided the classification.
	Reason string
}

// SSW answers HTTP 200 for both hits and misses, so the body decides.
var notFoundMarkers = []string{
	"nenhum documento localizado",
	"nenhuma nota fiscal",
	"não localizad",
	"nao localizad",
	"não encontrad",
	"nao encontrad",
}

// eventSelector is the SSW event cell; the shared stylesheet also names .tdb,
// so only real elements count.
const eventSelector = "p.tdb"

func Classify(body []byte) Classification {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Classification{Kind: PageMalformed, Reason: "empty body"}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(trimmed))
	if err != nil {
		return Classification{Kind: PageMalformed, Reason: "unparsable html"}
	}
	if doc.Find(eventSelector).Length() == 0 {
		low := strings.ToLower(doc.Text())
		for _, m := range notFoundMarkers {
			if strings.Contains(low, m) {
				return Classification{Kind: PageNotFound, Reason: m}
			}
		}
		return Classification{Kind: PageMalformed, Reason: "no event markup"}
	}
	return Classification{Kind: PageFound}
}
