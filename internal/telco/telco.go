// Package telco holds the Bangladeshi operator catalogue shared by request
// validation and the offer catalogue.
package telco

import "strings"

// Operator describes one mobile network reachable through the provider.
type Operator struct {
	Code string
	Name string
}

// Operators maps provider recharge operator codes to operator details.
var Operators = map[string]Operator{
	"1": {Code: "1", Name: "Grameenphone"},
	"2": {Code: "2", Name: "Banglalink"},
	"3": {Code: "3", Name: "Robi"},
	"4": {Code: "4", Name: "Airtel"},
	"5": {Code: "5", Name: "Teletalk"},
}

// NumberTypes maps provider number-type codes to display names.
var NumberTypes = map[string]string{
	"1": "Prepaid",
	"2": "Postpaid",
	"3": "Skitto",
}

// OfferTypes maps provider offer-type codes to display names. Unknown codes
// fall through to the raw value.
var OfferTypes = map[string]string{
	"I": "Internet",
	"M": "Minutes",
	"S": "SMS",
	"C": "Combo",
	"R": "Call Rate",
}

// OfferGroupOperators maps the offer-pack grouping keys to recharge
// operator codes.
var OfferGroupOperators = map[string]string{
	"GP": "1",
	"BL": "2",
	"RB": "3",
	"AR": "4",
	"TL": "5",
}

// OperatorName resolves a recharge operator code to a display name, or ""
// when unknown.
func OperatorName(code string) string {
	if op, ok := Operators[code]; ok {
		return op.Name
	}
	return ""
}

// OperatorNameForGroup resolves an offer-pack group key (GP, BL, ...) to a
// display name, falling back to the group key itself.
func OperatorNameForGroup(group string) string {
	if code, ok := OfferGroupOperators[group]; ok {
		if name := OperatorName(code); name != "" {
			return name
		}
	}
	return group
}

// OfferTypeName resolves an offer-type code to a display name, falling back
// to the raw code.
func OfferTypeName(code string) string {
	if name, ok := OfferTypes[code]; ok {
		return name
	}
	return code
}

// ValidPhone reports whether phone is a local-format Bangladeshi mobile
// number: exactly 11 digits starting with 01. Separators are stripped
// before checking.
func ValidPhone(phone string) bool {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	cleaned := digits.String()
	return len(cleaned) == 11 && strings.HasPrefix(cleaned, "01")
}
