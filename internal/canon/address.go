package canon

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	rePunct = regexp.MustCompile(`[^A-Za-z0-9\s]`)
	reZip   = regexp.MustCompile(`^\d{5}(-?\d{4})?$`)
)

// Components is a postal address split the way the provider expects it.
type Components struct {
	Street string `json:"street"`
	City   string `json:"city"`
	County string `json:"county,omitempty"`
	State  string `json:"state"`
	Zip    string `json:"zip_code"`
}

// Line2 renders "CITY, ST ZIP" as used by the provider's address2 parameter.
func (c Components) Line2() string {
	tail := strings.TrimSpace(strings.TrimSpace(c.State) + " " + strings.TrimSpace(c.Zip))
	city := strings.TrimSpace(c.City)
	switch {
	case city == "":
		return tail
	case tail == "":
		return city
	}
	return city + ", " + tail
}

func (c Components) OneLine() string {
	street := strings.TrimSpace(c.Street)
	l2 := c.Line2()
	if l2 == "" {
		return street
	}
	return street + ", " + l2
}

// ParseOneLine splits "street, city, ST zip". Input with fewer than three
// comma-separated parts keeps everything in Street.
func ParseOneLine(address string) Components {
	parts := strings.Split(address, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	// "street, unit, city, ST zip"
	if len(parts) >= 4 && hasUnitPrefix(parts[1]) {
		parts = append([]string{parts[0] + " " + parts[1]}, parts[2:]...)
	}
	if len(parts) < 3 {
		return Components{Street: strings.TrimSpace(address)}
	}
	out := Components{Street: parts[0], City: parts[1]}
	fields := strings.Fields(parts[len(parts)-1])
	// "street, city, county, ST zip"
	if len(parts) >= 4 {
		out.County = parts[2]
	}
	if len(fields) > 0 {
		out.State = fields[0]
	}
	if len(fields) > 1 {
		out.Zip = fields[1]
	}
	// "street, city, ST, zip"
	if len(parts) == 4 && len(fields) == 1 && reZip.MatchString(fields[0]) && !strings.Contains(parts[2], " ") {
		out.County = ""
		out.State = parts[2]
		out.Zip = fields[0]
	}
	return out
}

// Canonicalize normalizes an address and computes a parcel key. Unit and
// suite are dropped; use UnitKey where units must stay apart.
func Canonicalize(line1, city, state, zip string) (normLine1, normCity, normState, normZip, propertyKey string) {
	n1 := strings.TrimSpace(strings.ToUpper(norm.NFKC.String(line1)))
	n1 = stripUnit(n1)
	n1 = rePunct.ReplaceAllString(n1, " ")
	n1 = abbreviateSuffix(n1)

	c := collapseSpaces(rePunct.ReplaceAllString(strings.ToUpper(strings.TrimSpace(norm.NFKC.String(city))), " "))
	st := strings.ToUpper(strings.TrimSpace(state))
	if len(st) > 2 {
		st = stateAbbrev(st)
	}
	z := trimZIP(zip)

	if n1 == "" && c == "" && st == "" && z == "" {
		return "", "", "", "", ""
	}
	key := strings.ToLower(n1 + "|" + c + "|" + st + "|" + z)
	return n1, c, st, z, key
}

// UnitKey is the property key extended with a normalized "UNIT x" token
// when the street line names one, so units of one building stay distinct.
func UnitKey(c Components) string {
	_, _, _, _, pk := Canonicalize(c.Street, c.City, c.State, c.Zip)
	if pk == "" {
		return ""
	}
	if u := Unit(c.Street); u != "" {
		return pk + "|" + strings.ToLower(u)
	}
	return pk
}

// Key parses a one-line address and returns its UnitKey. Two spellings of
// the same unit share a key.
func Key(oneLine string) string {
	return UnitKey(ParseOneLine(oneLine))
}

// Unit returns the normalized "UNIT x" designator of a street line, or "".
// APT 2B, #2B, Suite 2-B and Unit 2b all yield "UNIT 2B".
func Unit(line1 string) string {
	_, unit := splitUnit(strings.ToUpper(norm.NFKC.String(line1)))
	id := strings.Join(strings.Fields(rePunct.ReplaceAllString(unit, " ")), "")
	if id == "" {
		return ""
	}
	return "UNIT " + id
}

// Normalize returns the canonical one-line rendering of an address, unit
// included.
func Normalize(c Components) string {
	l1, city, st, zip, _ := Canonicalize(c.Street, c.City, c.State, c.Zip)
	if u := Unit(c.Street); u != "" && l1 != "" {
		l1 += " " + u
	}
	return Components{Street: l1, City: city, State: st, Zip: zip}.OneLine()
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func trimZIP(z string) string {
	z = strings.TrimSpace(z)
	if len(z) >= 5 {
		return z[:5]
	}
	return z
}

var unitDesignators = []string{" APT ", " APARTMENT ", " UNIT ", " STE ", " SUITE ", " #"}

func stripUnit(s string) string {
	base, _ := splitUnit(s)
	return base
}

// splitUnit cuts s at the first unit designator and returns the street
// part and the text following the designator.
func splitUnit(s string) (base, unit string) {
	up := " " + strings.TrimSpace(s) + " "
	cut, rest := len(up), len(up)
	for _, t := range unitDesignators {
		if i := strings.Index(up, t); i >= 0 && i < cut {
			cut, rest = i, i+len(t)
		}
	}
	if cut == len(up) {
		return strings.TrimSpace(up), ""
	}
	return strings.TrimSpace(up[:cut]), strings.TrimSpace(up[rest:])
}

func hasUnitPrefix(part string) bool {
	up := " " + strings.ToUpper(strings.TrimSpace(part)) + " "
	for _, t := range unitDesignators {
		if strings.HasPrefix(up, t) {
			return true
		}
	}
	return false
}

var suffixes = map[string]string{
	"STREET":    "ST",
	"ROAD":      "RD",
	"AVENUE":    "AVE",
	"BOULEVARD": "BLVD",
	"DRIVE":     "DR",
	"LANE":      "LN",
	"COURT":     "CT",
	"CIRCLE":    "CIR",
	"TERRACE":   "TER",
	"PLACE":     "PL",
	"PARKWAY":   "PKWY",
	"HIGHWAY":   "HWY",
}

var directions = map[string]string{
	"NORTH": "N", "SOUTH": "S", "EAST": "E", "WEST": "W",
	"NORTHEAST": "NE", "NORTHWEST": "NW", "SOUTHEAST": "SE", "SOUTHWEST": "SW",
}

// abbreviateSuffix applies USPS-style abbreviations token by token; the
// leading house number is never rewritten.
func abbreviateSuffix(s string) string {
	toks := strings.Fields(s)
	for i, t := range toks {
		if i == 0 {
			continue
		}
		if v, ok := suffixes[t]; ok {
			toks[i] = v
			continue
		}
		if v, ok := directions[t]; ok {
			toks[i] = v
		}
	}
	return strings.Join(toks, " ")
}

func stateAbbrev(s string) string {
	m := map[string]string{
		"ALABAMA": "AL", "ALASKA": "AK", "ARIZONA": "AZ", "ARKANSAS": "AR", "CALIFORNIA": "CA", "COLORADO": "CO", "CONNECTICUT": "CT", "DELAWARE": "DE", "DISTRICT OF COLUMBIA": "DC", "FLORIDA": "FL", "GEORGIA": "GA", "HAWAII": "HI", "IDAHO": "ID", "ILLINOIS": "IL", "INDIANA": "IN", "IOWA": "IA", "KANSAS": "KS", "KENTUCKY": "KY", "LOUISIANA": "LA", "MAINE": "ME", "MARYLAND": "MD", "MASSACHUSETTS": "MA", "MICHIGAN": "MI", "MINNESOTA": "MN", "MISSISSIPPI": "MS", "MISSOURI": "MO", "MONTANA": "MT", "NEBRASKA": "NE", "NEVADA": "NV", "NEW HAMPSHIRE": "NH", "NEW JERSEY": "NJ", "NEW MEXICO": "NM", "NEW YORK": "NY", "NORTH CAROLINA": "NC", "NORTH DAKOTA": "ND", "OHIO": "OH", "OKLAHOMA": "OK", "OREGON": "OR", "PENNSYLVANIA": "PA", "RHODE ISLAND": "RI", "SOUTH CAROLINA": "SC", "SOUTH DAKOTA": "SD", "TENNESSEE": "TN", "TEXAS": "TX", "UTAH": "UT", "VERMONT": "VT", "VIRGINIA": "VA", "WASHINGTON": "WA", "WEST VIRGINIA": "WV", "WISCONSIN": "WI", "WYOMING": "WY",
	}
	if v, ok := m[s]; ok {
		return v
	}
	return s
}
