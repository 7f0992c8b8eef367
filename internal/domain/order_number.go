package domain

import (
	"fmt"
	"regexp"
	"time"
)

const orderNumberDateLayout = "20060102"

var orderNumberPattern = regexp.MustCompile(`^ORD-\d{8}-\d{4,}$`)

// FormatOrderNumber renders ORD-YYYYMMDD-NNNN for the UTC day of at.
func FormatOrderNumber(at time.Time, seq int64) string {
	return fmt.Sprintf("ORD-%s-%04d", at.UTC().Format(orderNumberDateLayout), seq)
}

// OrderNumberDay is the sequence scope for at.
func OrderNumberDay(at time.Time) string {
	return at.UTC().Format(orderNumberDateLayout)
}

func IsValidOrderNumber(s string) bool {
	return orderNumberPattern.MatchString(s)
}
