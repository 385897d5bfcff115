package ingest

import (
	"math"
	"strconv"
	"strings"
)

// atoiOr nunca falla: un valor vacío o inválido devuelve def.
func atoiOr(value string, def int) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return def
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		// fuera de rango int(f) no está definido.
		if f, ferr := strconv.ParseFloat(value, 64); ferr == nil && !math.IsNaN(f) && f >= math.MinInt && f < math.MaxInt {
			return int(f)
		}
		return def
	}
	return n
}

// digitsOnly conserva sólo los dígitos; "carrying 12 raiders" -> "12".
func digitsOnly(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
