// Package services contains the business logic of the PRS referral service:
// the email-harvest ingestion pipeline and the task workflow engine.
package services

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ropable/prs/pkg/apperrors"
	"github.com/ropable/prs/pkg/models"
)

// dueDateLayout is the DD-Mon-YY format used by the referring authority.
const dueDateLayout = "02-Jan-06"

// ReferralPackage is the normalized form of one vendor application package.
// Missing optional fields stay zero-valued; only a document that is not
// well-formed XML fails to parse.
type ReferralPackage struct {
	XMLName         xml.Name         `xml:"APPLICATION"`
	Reference       string           `xml:"WAPC_APPLICATION_NO"`
	ApplicationType string           `xml:"APP_TYPE"`
	Description     string           `xml:"DEVELOPMENT_DESCRIPTION"`
	Address         string           `xml:"LOCATION"`
	LocalGovernment string           `xml:"LOCAL_GOVERNMENT"`
	ZoneText        string           `xml:"MRSZONE_TEXT"`
	DueDate         string           `xml:"DUE_DATE"`
	Addresses       []PackageAddress `xml:"ADDRESS_DETAIL>DOP_ADDRESS_TYPE"`
}

// PackageAddress is one address entry from the package. The source may
// contain a single DOP_ADDRESS_TYPE element or many; decoding into a slice
// normalizes both shapes, so downstream code never branches on shape.
type PackageAddress struct {
	Longitude        string `xml:"LONGITUDE"`
	Latitude         string `xml:"LATITUDE"`
	PIN              string `xml:"PIN"`
	NumberFrom       string `xml:"NUMBER_FROM"`
	NumberFromSuffix string `xml:"NUMBER_FROM_SUFFIX"`
	StreetName       string `xml:"STREET_NAME"`
	StreetSuffix     string `xml:"STREET_SUFFIX"`
	Suburb           string `xml:"SUBURB"`
	Postcode         string `xml:"POSTCODE"`
}

// ParsePackage parses one raw application.xml document.
func ParsePackage(data []byte) (*ReferralPackage, error) {
	pkg := &ReferralPackage{}
	if err := xml.Unmarshal(data, pkg); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrParse, err)
	}
	pkg.Reference = strings.TrimSpace(pkg.Reference)
	return pkg, nil
}

// ParsedDueDate returns the package due date, or ErrParse if absent or not in
// DD-Mon-YY form. Callers substitute the task type's target turnaround.
func (p *ReferralPackage) ParsedDueDate() (time.Time, error) {
	if p.DueDate == "" {
		return time.Time{}, fmt.Errorf("due date absent: %w", apperrors.ErrParse)
	}
	due, err := time.Parse(dueDateLayout, p.DueDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("due date %q: %w", p.DueDate, apperrors.ErrParse)
	}
	return due, nil
}

// ZoneTriggerTokens splits the zone text on commas and trims whitespace.
func (p *ReferralPackage) ZoneTriggerTokens() []string {
	if p.ZoneText == "" {
		return nil
	}
	var tokens []string
	for _, tok := range strings.Split(p.ZoneText, ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// Point returns the address coordinates, or ErrGeometry if either ordinate
// is absent or unparseable.
func (a *PackageAddress) Point() (models.Point, error) {
	x, errX := strconv.ParseFloat(strings.TrimSpace(a.Longitude), 64)
	y, errY := strconv.ParseFloat(strings.TrimSpace(a.Latitude), 64)
	if errX != nil || errY != nil {
		return models.Point{}, fmt.Errorf("long/lat (%q, %q): %w", a.Longitude, a.Latitude, apperrors.ErrGeometry)
	}
	return models.Point{X: x, Y: y}, nil
}

// HouseNumber parses NUMBER_FROM, tolerating non-numeric text by stripping
// to leading digits. Returns nil when no digits are present.
func (a *PackageAddress) HouseNumber() *int {
	digits := strings.TrimLeftFunc(strings.TrimSpace(a.NumberFrom), func(r rune) bool {
		return r < '0' || r > '9'
	})
	end := 0
	for end < len(digits) && digits[end] >= '0' && digits[end] <= '9' {
		end++
	}
	if end == 0 {
		return nil
	}
	n, err := strconv.Atoi(digits[:end])
	if err != nil {
		return nil
	}
	return &n
}
