// Package search implements the filter/sort/paginate utility the tracking
// store delegates to after building its in-scope entity list. The filter
// grammar is AND-joined comparisons over qualified keys such as
// "attributes.name", "metrics.loss", "params.lr" and "tags.stage".
package search

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Spencerx/mlflow/internal/entities"
)

// Item exposes an entity's searchable fields. Get resolves a qualified key
// and reports whether the entity has a value for it; values are either
// strings or float64s.
type Item interface {
	Get(key string) (interface{}, bool)
}

type Comparison struct {
	Key   string
	Op    string
	Value interface{} // string or float64
}

type OrderBy struct {
	Key       string
	Ascending bool
}

func invalid(format string, args ...interface{}) error {
	return entities.NewError(entities.ErrorCodeInvalidParameterValue, format, args...)
}

// Filter returns the items matching every comparison in filterString. An
// empty filter matches everything.
func Filter[T Item](items []T, filterString string) ([]T, error) {
	comparisons, err := ParseFilter(filterString)
	if err != nil {
		return nil, err
	}
	if len(comparisons) == 0 {
		return items, nil
	}
	matched := make([]T, 0, len(items))
	for _, item := range items {
		ok, err := matches(item, comparisons)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, item)
		}
	}
	return matched, nil
}

func matches(item Item, comparisons []Comparison) (bool, error) {
	for _, c := range comparisons {
		value, ok := item.Get(c.Key)
		if !ok {
			return false, nil
		}
		match, err := compare(value, c)
		if err != nil {
			return false, err
		}
		if !match {
			return false, nil
		}
	}
	return true, nil
}

func compare(value interface{}, c Comparison) (bool, error) {
	switch v := value.(type) {
	case float64:
		want, ok := toFloat(c.Value)
		if !ok {
			return false, invalid("Expected a numeric value for key %q in filter", c.Key)
		}
		switch c.Op {
		case "=":
			return v == want, nil
		case "!=":
			return v != want, nil
		case "<":
			return v < want, nil
		case "<=":
			return v <= want, nil
		case ">":
			return v > want, nil
		case ">=":
			return v >= want, nil
		}
		return false, invalid("Operator %q is not supported for numeric key %q", c.Op, c.Key)
	case string:
		want, ok := c.Value.(string)
		if !ok {
			return false, invalid("Expected a quoted string value for key %q in filter", c.Key)
		}
		switch c.Op {
		case "=":
			return v == want, nil
		case "!=":
			return v != want, nil
		case "LIKE":
			return likeMatch(v, want, false)
		case "ILIKE":
			return likeMatch(v, want, true)
		case "<", "<=", ">", ">=":
			return false, invalid("Operator %q is not supported for string key %q", c.Op, c.Key)
		}
	}
	return false, invalid("Unsupported comparison for key %q", c.Key)
}

func likeMatch(value, pattern string, caseInsensitive bool) (bool, error) {
	parts := strings.Split(pattern, "%")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	expr := "^" + strings.Join(parts, ".*") + "$"
	if caseInsensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return false, invalid("Invalid LIKE pattern %q", pattern)
	}
	return re.MatchString(value), nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// Sort orders items in place by the given clauses, e.g.
// "creation_time DESC". Entities missing a sort key order after those that
// have it; ties retain their prior relative order, so callers get a stable
// primary-id tie-break by appending the id key as the last clause.
func Sort[T Item](items []T, orderBy []string) error {
	clauses, err := ParseOrderBy(orderBy)
	if err != nil {
		return err
	}
	if len(clauses) == 0 {
		return nil
	}
	sort.SliceStable(items, func(i, j int) bool {
		for _, clause := range clauses {
			a, aok := items[i].Get(clause.Key)
			b, bok := items[j].Get(clause.Key)
			if !aok && !bok {
				continue
			}
			if aok != bok {
				return aok
			}
			cmp := compareValues(a, b)
			if cmp == 0 {
				continue
			}
			if clause.Ascending {
				return cmp < 0
			}
			return cmp > 0
		}
		return false
	})
	return nil
}

func compareValues(a, b interface{}) int {
	af, aIsNum := a.(float64)
	bf, bIsNum := b.(float64)
	if aIsNum && bIsNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	as := fmt.Sprintf("%v", a)
	bs := fmt.Sprintf("%v", b)
	return strings.Compare(as, bs)
}

// ParseOrderBy parses "key [ASC|DESC]" clauses; the direction defaults to
// ascending.
func ParseOrderBy(orderBy []string) ([]OrderBy, error) {
	clauses := make([]OrderBy, 0, len(orderBy))
	for _, raw := range orderBy {
		fields := strings.Fields(raw)
		switch len(fields) {
		case 1:
			clauses = append(clauses, OrderBy{Key: normalizeKey(fields[0]), Ascending: true})
		case 2:
			switch strings.ToUpper(fields[1]) {
			case "ASC":
				clauses = append(clauses, OrderBy{Key: normalizeKey(fields[0]), Ascending: true})
			case "DESC":
				clauses = append(clauses, OrderBy{Key: normalizeKey(fields[0]), Ascending: false})
			default:
				return nil, invalid("Invalid ordering direction %q in order_by clause %q", fields[1], raw)
			}
		default:
			return nil, invalid("Invalid order_by clause %q", raw)
		}
	}
	return clauses, nil
}

func normalizeKey(key string) string {
	key = strings.Trim(key, "`\"")
	if !strings.Contains(key, ".") {
		return "attributes." + key
	}
	return key
}
