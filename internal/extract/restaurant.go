// Package extract holds the default page extractor for restaurant sites.
//
// Each page yields a flat record of named fields. Every value carries a
// confidence in [0,1] and the method that produced it; structured data
// (schema.org JSON-LD) outranks explicit links, which outrank page metadata
// and free text.
package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/alvmarrod/menu-weaver/internal/storage"
)

// Field names produced by the restaurant extractor
const (
	FieldName            = "name"
	FieldPhone           = "phone"
	FieldEmail           = "email"
	FieldAddress         = "address"
	FieldCuisine         = "cuisine"
	FieldPriceRange      = "price_range"
	FieldOpeningHours    = "opening_hours"
	FieldMenuURL         = "menu_url"
	FieldReservations    = "reservations"
	FieldDescription     = "description"
	FieldSocialInstagram = "social_instagram"
	FieldSocialFacebook  = "social_facebook"
	FieldSocialTikTok    = "social_tiktok"
)

// Extraction methods recorded on each FieldValue
const (
	MethodJSONLD          = "jsonld"
	MethodTelLink         = "tel_link"
	MethodMailtoLink      = "mailto_link"
	MethodOpenGraph       = "og_meta"
	MethodTitle           = "title"
	MethodMetaDescription = "meta_description"
	MethodMenuLink        = "menu_link"
	MethodSocialLink      = "social_link"
	MethodTextPattern     = "text_pattern"
)

const (
	confidenceJSONLD      = 0.9
	confidenceContactLink = 0.8
	confidenceSocial      = 0.7
	confidenceOpenGraph   = 0.6
	confidenceMeta        = 0.5
	confidenceTitle       = 0.4
	confidenceText        = 0.4
)

// ErrEmptyContent is returned for pages with no content to extract from
var ErrEmptyContent = errors.New("empty page content")

// restaurantTypes are the schema.org types describing the venue itself
var restaurantTypes = map[string]bool{
	"restaurant":         true,
	"foodestablishment":  true,
	"localbusiness":      true,
	"cafeorcoffeeshop":   true,
	"barorpub":           true,
	"bakery":             true,
	"fastfoodrestaurant": true,
}

// socialHosts maps a registrable host to the field its profile link fills
var socialHosts = map[string]string{
	"instagram.com": FieldSocialInstagram,
	"facebook.com":  FieldSocialFacebook,
	"fb.com":        FieldSocialFacebook,
	"tiktok.com":    FieldSocialTikTok,
}

var (
	phonePattern = regexp.MustCompile(`\+?\(?\d[\d\s().-]{6,}\d`)
	menuPattern  = regexp.MustCompile(`(?i)\b(menu|menus|carta|speisekarte|carte)\b`)
	spaceRun     = regexp.MustCompile(`\s+`)
)

// Restaurant extracts venue details from restaurant web pages
type Restaurant struct {
	now func() time.Time
}

// NewRestaurant creates the default restaurant extractor
func NewRestaurant() *Restaurant {
	return &Restaurant{now: time.Now}
}

// Extract parses one page. Fields missing from the page are simply absent from the record.
func (r *Restaurant) Extract(content []byte, pageURL string) (storage.PageRecord, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return storage.PageRecord{}, ErrEmptyContent
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return storage.PageRecord{}, fmt.Errorf("failed to parse HTML: %w", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return storage.PageRecord{}, fmt.Errorf("invalid page URL %q: %w", pageURL, err)
	}

	rec := record{fields: make(map[string]storage.FieldValue)}

	r.extractJSONLD(doc, base, &rec)
	r.extractLinks(doc, base, &rec)
	r.extractMeta(doc, &rec)
	r.extractText(doc, &rec)

	return storage.PageRecord{
		SourceURL:   pageURL,
		Fields:      rec.fields,
		ExtractedAt: r.now(),
	}, nil
}

// record keeps the most confident value per field within one page
type record struct {
	fields map[string]storage.FieldValue
}

func (rec *record) set(name, value string, confidence float64, method string) {
	value = strings.TrimSpace(spaceRun.ReplaceAllString(value, " "))
	if value == "" {
		return
	}
	if current, ok := rec.fields[name]; ok && current.Confidence >= confidence {
		return
	}
	rec.fields[name] = storage.FieldValue{Value: value, Confidence: confidence, Method: method}
}

func (r *Restaurant) extractJSONLD(doc *goquery.Document, base *url.URL, rec *record) {
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var data any
		if err := json.Unmarshal([]byte(s.Text()), &data); err != nil {
			return
		}
		for _, entity := range entities(data) {
			if isRestaurant(entity["@type"]) {
				applyEntity(entity, base, rec)
			}
		}
	})
}

// entities flattens a JSON-LD document (object, array or @graph) into its objects
func entities(data any) []map[string]any {
	switch v := data.(type) {
	case []any:
		var out []map[string]any
		for _, item := range v {
			out = append(out, entities(item)...)
		}
		return out
	case map[string]any:
		out := []map[string]any{v}
		if graph, ok := v["@graph"]; ok {
			out = append(out, entities(graph)...)
		}
		return out
	}
	return nil
}

func isRestaurant(t any) bool {
	for _, name := range stringsOf(t) {
		name = strings.TrimPrefix(name, "http://schema.org/")
		name = strings.TrimPrefix(name, "https://schema.org/")
		if restaurantTypes[strings.ToLower(name)] {
			return true
		}
	}
	return false
}

func applyEntity(e map[string]any, base *url.URL, rec *record) {
	rec.set(FieldName, stringOf(e["name"]), confidenceJSONLD, MethodJSONLD)
	rec.set(FieldPhone, stringOf(e["telephone"]), confidenceJSONLD, MethodJSONLD)
	rec.set(FieldEmail, strings.TrimPrefix(stringOf(e["email"]), "mailto:"), confidenceJSONLD, MethodJSONLD)
	rec.set(FieldAddress, addressOf(e["address"]), confidenceJSONLD, MethodJSONLD)
	rec.set(FieldCuisine, strings.Join(stringsOf(e["servesCuisine"]), ", "), confidenceJSONLD, MethodJSONLD)
	rec.set(FieldPriceRange, stringOf(e["priceRange"]), confidenceJSONLD, MethodJSONLD)
	rec.set(FieldDescription, stringOf(e["description"]), confidenceJSONLD, MethodJSONLD)

	hours := strings.Join(stringsOf(e["openingHours"]), "; ")
	if hours == "" {
		hours = openingHoursSpec(e["openingHoursSpecification"])
	}
	rec.set(FieldOpeningHours, hours, confidenceJSONLD, MethodJSONLD)

	menu := e["hasMenu"]
	if menu == nil {
		menu = e["menu"]
	}
	if m, ok := menu.(map[string]any); ok {
		menu = m["url"]
	}
	rec.set(FieldMenuURL, resolve(base, stringOf(menu)), confidenceJSONLD, MethodJSONLD)

	switch v := e["acceptsReservations"].(type) {
	case bool:
		rec.set(FieldReservations, fmt.Sprint(v), confidenceJSONLD, MethodJSONLD)
	case string:
		if strings.HasPrefix(v, "http") || strings.HasPrefix(v, "/") {
			v = resolve(base, v)
		}
		rec.set(FieldReservations, v, confidenceJSONLD, MethodJSONLD)
	}
}

func addressOf(v any) string {
	switch a := v.(type) {
	case string:
		return a
	case []any:
		if len(a) > 0 {
			return addressOf(a[0])
		}
	case map[string]any:
		var parts []string
		for _, key := range []string{"streetAddress", "addressLocality", "addressRegion", "postalCode", "addressCountry"} {
			part := stringOf(a[key])
			if c, ok := a[key].(map[string]any); ok {
				part = stringOf(c["name"])
			}
			if part != "" {
				parts = append(parts, part)
			}
		}
		return strings.Join(parts, ", ")
	}
	return ""
}

func openingHoursSpec(v any) string {
	var specs []string
	for _, e := range entities(v) {
		days := stringsOf(e["dayOfWeek"])
		for i, d := range days {
			d = strings.TrimPrefix(d, "http://schema.org/")
			days[i] = strings.TrimPrefix(d, "https://schema.org/")
		}
		opens, closes := stringOf(e["opens"]), stringOf(e["closes"])
		if len(days) == 0 || opens == "" || closes == "" {
			continue
		}
		specs = append(specs, fmt.Sprintf("%s %s-%s", strings.Join(days, ","), opens, closes))
	}
	return strings.Join(specs, "; ")
}

func (r *Restaurant) extractLinks(doc *goquery.Document, base *url.URL, rec *record) {
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		lower := strings.ToLower(href)

		switch {
		case strings.HasPrefix(lower, "tel:"):
			phone, err := url.PathUnescape(href[len("tel:"):])
			if err != nil {
				phone = href[len("tel:"):]
			}
			rec.set(FieldPhone, phone, confidenceContactLink, MethodTelLink)
			return
		case strings.HasPrefix(lower, "mailto:"):
			email, _, _ := strings.Cut(href[len("mailto:"):], "?")
			rec.set(FieldEmail, email, confidenceContactLink, MethodMailtoLink)
			return
		}

		abs := resolve(base, href)
		if abs == "" {
			return
		}
		u, err := url.Parse(abs)
		if err != nil {
			return
		}

		host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		host = strings.TrimPrefix(host, "m.")
		if field, ok := socialHosts[host]; ok {
			if strings.Trim(u.Path, "/") != "" {
				rec.set(field, abs, confidenceSocial, MethodSocialLink)
			}
			return
		}

		if menuPattern.MatchString(s.Text()) || menuPattern.MatchString(u.Path) {
			rec.set(FieldMenuURL, abs, confidenceMeta, MethodMenuLink)
		}
	})
}

func (r *Restaurant) extractMeta(doc *goquery.Document, rec *record) {
	if site, ok := doc.Find(`meta[property="og:site_name"]`).Attr("content"); ok {
		rec.set(FieldName, site, confidenceOpenGraph, MethodOpenGraph)
	}
	rec.set(FieldName, doc.Find("title").First().Text(), confidenceTitle, MethodTitle)

	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		rec.set(FieldDescription, desc, confidenceMeta, MethodMetaDescription)
	}
}

// extractText looks for a phone number in the visible text
func (r *Restaurant) extractText(doc *goquery.Document, rec *record) {
	if _, ok := rec.fields[FieldPhone]; ok {
		return
	}

	body := doc.Find("body").Clone()
	body.Find("script, style, noscript").Remove()

	for _, match := range phonePattern.FindAllString(body.Text(), -1) {
		if digits := countDigits(match); digits >= 9 && digits <= 15 {
			rec.set(FieldPhone, match, confidenceText, MethodTextPattern)
			return
		}
	}
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") {
		return ""
	}
	u, err := base.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	u.Fragment = ""
	return u.String()
}

func stringOf(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return fmt.Sprint(s)
	case []any:
		if len(s) > 0 {
			return stringOf(s[0])
		}
	}
	return ""
}

func stringsOf(v any) []string {
	switch s := v.(type) {
	case string:
		return []string{s}
	case []any:
		var out []string
		for _, item := range s {
			if str := stringOf(item); str != "" {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
