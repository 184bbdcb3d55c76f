package taxes

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var oneHundred = decimal.NewFromInt(100)

func (s *Service) validate(t Tax) error {
	if strings.TrimSpace(t.Code) == "" {
		return errors.New("tax code is required")
	}
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("tax name is required")
	}
	if t.RatePercent.IsNegative() || t.RatePercent.GreaterThan(oneHundred) {
		return errors.New("tax rate must be between 0 and 100")
	}
	return nil
}
