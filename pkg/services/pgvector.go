package services

import (
	"fmt"
	"strconv"
	"strings"
)

// VectorLiteral renders a vector in the pgvector text format, suitable for a
// `$n::vector` cast.
func VectorLiteral(vector []float32) string {
	var builder strings.Builder
	builder.WriteByte('[')
	for i, v := range vector {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String()
}

// ParseVector decodes the pgvector text format back into a slice.
func ParseVector(text string) ([]float32, error) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "[") || !strings.HasSuffix(trimmed, "]") {
		return nil, fmt.Errorf("malformed vector literal %q", truncate(trimmed, 40))
	}
	inner := strings.TrimSpace(trimmed[1 : len(trimmed)-1])
	if inner == "" {
		return nil, nil
	}
	parts := strings.Split(inner, ",")
	vector := make([]float32, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("malformed vector component %d: %w", i, err)
		}
		vector[i] = float32(v)
	}
	return vector, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
