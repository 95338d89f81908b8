package normalize

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// items returns the elements of the array at path, or of the root when path
// is empty.
func items(raw []byte, path string) ([]gjson.Result, error) {
	res := gjson.ParseBytes(raw)
	if path != "" {
		res = res.Get(path)
	}
	if !res.Exists() {
		return nil, fmt.Errorf("missing field %q", path)
	}
	if !res.IsArray() {
		return nil, fmt.Errorf("field %q is not an array", path)
	}
	return res.Array(), nil
}

func countWhere(list []gjson.Result, field string, match func(gjson.Result) bool) int {
	n := 0
	for _, item := range list {
		if match(item.Get(field)) {
			n++
		}
	}
	return n
}

func equals(want string) func(gjson.Result) bool {
	return func(v gjson.Result) bool {
		return v.String() == want
	}
}

func isTrue(v gjson.Result) bool {
	return v.Bool()
}

// groupBy counts items by the string value at field; missing values are
// counted under "unknown".
func groupBy(list []gjson.Result, field string) map[string]int {
	out := make(map[string]int)
	for _, item := range list {
		v := item.Get(field).String()
		if v == "" {
			v = "unknown"
		}
		out[v]++
	}
	return out
}

func maxInt(list []gjson.Result, field string) int64 {
	var best int64
	for _, item := range list {
		if v := item.Get(field).Int(); v > best {
			best = v
		}
	}
	return best
}
