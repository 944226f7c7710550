package habblive

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"path"
	"regexp"
	"strings"

	"habblive-backend/internal/catalog"
	"habblive-backend/internal/components/htmlutil"
	"habblive-backend/internal/components/restyutil"
	"habblive-backend/internal/components/telemetry"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
)

const report_extractor_extract = "extractor.extract"

const (
	// badgeRegionSelector matches the containers profiles render badges in.
	badgeRegionSelector = ".badges, #badges"
	// badgeLabelSelector matches the captions shown next to a badge.
	badgeLabelSelector = ".notice-inside"
)

var styleUrlRegex = regexp.MustCompile(`url\(\s*['"]?([^'")]+)['"]?\s*\)`)

// Extractor recognizes the badges of a catalog on a profile page.
//
// Three heuristics run independently and their results are unioned, so a
// change to the profile layout that breaks one of them still leaves the
// others working.
type Extractor struct {
	catalog catalog.Catalog
	// receives pages on which nothing was recognized, may be nil
	diagnostics restyutil.InstrumentOutput
	tel         telemetry.API
	parse       func(r io.Reader) (*goquery.Document, error)
}

func NewExtractor(c catalog.Catalog, diagnostics restyutil.InstrumentOutput, tel telemetry.API) Extractor {
	return Extractor{
		catalog:     c,
		diagnostics: diagnostics,
		tel:         telemetry.NewScopedAPI("habblive", tel),
		parse:       goquery.NewDocumentFromReader,
	}
}

// Extract never fails: markup that cannot be parsed is only scanned as raw text.
func (e Extractor) Extract(markup []byte) catalog.Set {
	sets := []catalog.Set{rawBadges(markup, e.catalog)}

	parse := e.parse
	if parse == nil {
		parse = goquery.NewDocumentFromReader
	}
	doc, err := parse(bytes.NewReader(markup))
	if err != nil {
		e.tel.ReportWarning(
			report_extractor_extract,
			fmt.Errorf("parse markup, falling back to raw scan: %w", err),
		)
	} else {
		sets = append(
			sets,
			structuralBadges(doc, e.catalog),
			labelBadges(doc, e.catalog),
		)
	}

	found := catalog.Union(sets...)
	if len(found) == 0 && e.diagnostics != nil {
		id := uuid.NewString() + ".html"
		e.diagnostics.Write(id, string(markup))
		e.tel.ReportDebug("no badges recognized, markup dumped", id)
	}
	return found
}

// structuralBadges reads the file names of the badge images inside the badge
// regions, ex. <div class="badges"><img src="/c_images/album1584/EV25DEZ01.gif"></div>
func structuralBadges(doc *goquery.Document, c catalog.Catalog) catalog.Set {
	found := catalog.Set{}
	add := func(ref string) {
		id, ok := badgeFromImagePath(ref, c)
		if ok {
			found.Add(id)
		}
	}

	doc.Find(badgeRegionSelector).Each(func(_ int, region *goquery.Selection) {
		region.Find("img").Each(func(_ int, img *goquery.Selection) {
			for _, attr := range []string{"src", "data-src"} {
				if ref, ok := img.Attr(attr); ok {
					add(ref)
				}
			}
		})
		region.Find("[style]").AddSelection(region.Filter("[style]")).Each(func(_ int, s *goquery.Selection) {
			for _, groups := range styleUrlRegex.FindAllStringSubmatch(s.AttrOr("style", ""), -1) {
				add(groups[1])
			}
		})
	})
	return found
}

func badgeFromImagePath(ref string, c catalog.Catalog) (catalog.BadgeID, bool) {
	ref = strings.TrimSpace(ref)
	if parsed, err := url.Parse(ref); err == nil {
		ref = parsed.Path
	}
	stem := path.Base(ref)
	stem = strings.TrimSuffix(stem, path.Ext(stem))
	return c.Match(stem)
}

// labelBadges reads badge captions whose whole text is a badge id.
func labelBadges(doc *goquery.Document, c catalog.Catalog) catalog.Set {
	found := catalog.Set{}
	doc.Find(badgeLabelSelector).Each(func(_ int, s *goquery.Selection) {
		id, ok := c.Match(htmlutil.SelectionText(s))
		if ok {
			found.Add(id)
		}
	})
	return found
}

// rawBadges scans the markup as plain text, independent of its structure.
func rawBadges(markup []byte, c catalog.Catalog) catalog.Set {
	found := catalog.Set{}
	for _, match := range c.Pattern().FindAll(markup, -1) {
		id, ok := c.Match(string(match))
		if ok {
			found.Add(id)
		}
	}
	return found
}
