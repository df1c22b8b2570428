package provider

import (
	"fmt"
	"strconv"
	"strings"
)

// minorToDecimal форматирует сумму в минорных единицах как десятичную строку
// провайдера с двумя знаками: 2499 → "24.99".
func minorToDecimal(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// decimalToMinor парсит десятичную строку провайдера в минорные единицы.
// Допускает не больше двух знаков после точки; отрицательные и пустые
// значения отвергает.
func decimalToMinor(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(value, "-") {
		return 0, fmt.Errorf("negative amount %q", value)
	}

	whole, frac, hasFrac := strings.Cut(value, ".")
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", value, err)
	}

	var cents int64
	if hasFrac {
		if len(frac) == 0 || len(frac) > 2 {
			return 0, fmt.Errorf("amount %q has unsupported precision", value)
		}
		if len(frac) == 1 {
			frac += "0"
		}
		cents, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse amount %q: %w", value, err)
		}
	}

	return units*100 + cents, nil
}
