package shape

// maxLevels is the deepest container level kept below the root. Lists of
// scalars are leaves and do not count.
const maxLevels = 2

// flatten collapses containers nested deeper than maxLevels. With dotted set,
// a deep object under an object is merged into its parent as "field.sub" keys;
// otherwise, and always under a list, it becomes the list of its leaf values.
// Deep lists concatenate into one list of scalars.
func flatten(v any, dotted bool) any {
	return flattenAt(v, 0, dotted)
}

func flattenAt(v any, level int, dotted bool) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		var deep []string
		for k, c := range t {
			switch {
			case isLeaf(c):
				out[k] = c
			case level+1 <= maxLevels:
				out[k] = flattenAt(c, level+1, dotted)
			default:
				deep = append(deep, k)
			}
		}
		// Direct fields win over dotted keys with the same name.
		for _, k := range sortedSubset(t, deep) {
			c := t[k]
			if m, ok := c.(map[string]any); ok && dotted {
				mergeDotted(out, k, m)
				continue
			}
			out[k] = scalars(c)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, c := range t {
			switch {
			case isLeaf(c):
				out[i] = c
			case level+1 <= maxLevels:
				out[i] = flattenAt(c, level+1, dotted)
			default:
				out[i] = scalars(c)
			}
		}
		return out
	}
	return v
}

func mergeDotted(dst map[string]any, prefix string, m map[string]any) {
	for _, k := range sortedKeys(m) {
		key := prefix + "." + k
		c := m[k]
		if sub, ok := c.(map[string]any); ok && !isLeaf(c) {
			mergeDotted(dst, key, sub)
			continue
		}
		if _, taken := dst[key]; taken {
			continue
		}
		if isLeaf(c) {
			dst[key] = c
		} else {
			dst[key] = scalars(c)
		}
	}
}

// isLeaf reports whether v needs no flattening: a scalar, an empty container,
// or a list holding only scalars.
func isLeaf(v any) bool {
	switch t := v.(type) {
	case map[string]any:
		return len(t) == 0
	case []any:
		for _, c := range t {
			switch c.(type) {
			case map[string]any, []any:
				return false
			}
		}
		return true
	}
	return true
}

// scalars collects the leaf values of v depth-first, object fields in key order.
func scalars(v any) []any {
	out := []any{}
	var walk func(any)
	walk = func(v any) {
		switch t := v.(type) {
		case map[string]any:
			for _, k := range sortedKeys(t) {
				walk(t[k])
			}
		case []any:
			for _, c := range t {
				walk(c)
			}
		default:
			out = append(out, v)
		}
	}
	walk(v)
	return out
}

func sortedSubset(m map[string]any, keys []string) []string {
	sub := make(map[string]any, len(keys))
	for _, k := range keys {
		sub[k] = m[k]
	}
	return sortedKeys(sub)
}
