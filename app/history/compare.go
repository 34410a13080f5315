package history

import (
	"crypto/sha256"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Same-Writer/multi-site-scraper/app/listing"
)

// diffField compares one tracked field of the stored snapshot with the
// current record and returns the Change when they differ.
func diffField(field string, prev, cur listing.Record, at time.Time) (Change, bool) {
	prevValue, prevList, isList := prev.Field(field)
	curValue, curList, _ := cur.Field(field)

	change := Change{Field: field, At: at}

	switch {
	case isList:
		if hashList(prevList) == hashList(curList) {
			return Change{}, false
		}
		change.Previous = strings.Join(prevList, ", ")
		change.Current = strings.Join(curList, ", ")
	case isPriceField(field):
		if normalizePrice(prevValue).Equal(normalizePrice(curValue)) {
			return Change{}, false
		}
		change.Previous = strings.TrimSpace(prevValue)
		change.Current = strings.TrimSpace(curValue)
	default:
		prevValue, curValue = strings.TrimSpace(prevValue), strings.TrimSpace(curValue)
		if prevValue == curValue {
			return Change{}, false
		}
		change.Previous = prevValue
		change.Current = curValue
	}

	return change, true
}

func isPriceField(field string) bool {
	return strings.Contains(strings.ToLower(field), "price")
}

// normalizePrice reduces a rendered price to its numeric value. A price
// without digits is zero.
func normalizePrice(raw string) decimal.Decimal {
	d, ok := listing.ParsePrice(raw)
	if !ok {
		return decimal.Zero
	}
	return d
}

// hashList is order sensitive. NUL separates items so ["a,b"] and ["a","b"]
// hash differently.
func hashList(items []string) [sha256.Size]byte {
	return sha256.Sum256([]byte(strings.Join(items, "\x00")))
}
