package store

import (
	"reflect"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// normalize runs a filter or patch through the BSON codec so its values have
// the same representation as stored rows (ids as strings, times as DateTime).
func normalize(m map[string]interface{}) (Row, error) {
	if len(m) == 0 {
		return Row{}, nil
	}
	return Encode(Row(m))
}

// Matches reports whether row satisfies the normalized filter.
func Matches(row Row, filter Row) bool {
	if row == nil {
		return false
	}
	for k, want := range filter {
		got, ok := row[k]
		if !ok {
			if want == nil {
				continue
			}
			return false
		}
		if !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// MatchesFilter normalizes filter and checks row against it.
func MatchesFilter(row Row, filter Filter) bool {
	nf, err := normalize(filter)
	if err != nil {
		return false
	}
	return Matches(row, nf)
}

func valuesEqual(a, b interface{}) bool {
	if c, ok := compareValues(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// compareValues orders scalars of the same family. ok is false when the values
// are not comparable.
func compareValues(a, b interface{}) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case primitive.DateTime:
		y, ok := b.(primitive.DateTime)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if x == y {
			return 0, true
		}
		if !x {
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

// sortRows orders rows stably; missing values sort first.
func sortRows(rows []Row, order []Order) {
	if len(order) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range order {
			a, aok := rows[i][o.Field]
			b, bok := rows[j][o.Field]
			var c int
			switch {
			case !aok && !bok:
				c = 0
			case !aok:
				c = -1
			case !bok:
				c = 1
			default:
				c, _ = compareValues(a, b)
			}
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}
