package notify

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nyaruka/phonenumbers"

	"github.com/rajchinnag/Death-Switch/internal/model"
)

// NormalizePhone canonicalizes a phone number to E.164. Numbers without an
// international prefix are read as national numbers of countryCode (a
// calling code such as "91"). Numbers that no numbering plan allocates are
// rejected.
func NormalizePhone(raw, countryCode string) (string, error) {
	region := "ZZ"
	if cc, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(countryCode), "+")); err == nil {
		region = phonenumbers.GetRegionCodeForCountryCode(cc)
	}
	num, err := phonenumbers.Parse(strings.TrimSpace(raw), region)
	if err != nil {
		return "", fmt.Errorf("%w: phone %q: %v", model.ErrValidation, raw, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("%w: phone %q is not a valid international number", model.ErrValidation, raw)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
