package catalog

import (
	"strings"
)

// trigrams returns the distinct character trigrams of s, padded with boundary markers.
func trigrams(s string) []string {
	r := []rune("$" + s + "$")
	if len(r) < 3 {
		return []string{string(r)}
	}
	seen := make(map[string]struct{}, len(r))
	out := make([]string, 0, len(r)-2)
	for i := 0; i+3 <= len(r); i++ {
		g := string(r[i : i+3])
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}

// dice is the Sørensen–Dice coefficient given a shared trigram count.
func dice(shared, a, b int) float64 {
	if a+b == 0 {
		return 0
	}
	return 2 * float64(shared) / float64(a+b)
}

// jaccardTokens calculates Jaccard similarity between the word sets of two names.
func jaccardTokens(a, b string) float64 {
	ta, tb := strings.Fields(a), strings.Fields(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(ta))
	for _, t := range ta {
		setA[t] = true
	}
	setB := make(map[string]bool, len(tb))
	for _, t := range tb {
		setB[t] = true
	}
	intersection := 0
	for t := range setA {
		if setB[t] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// editSimilarity returns 1 - levenshtein/maxLen, or 0 when the distance exceeds
// maxDist. Lengths that differ by more than maxDist short-circuit.
func editSimilarity(a, b string, maxDist int) float64 {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	if abs(la-lb) > maxDist {
		return 0
	}

	prev := make([]int, lb+1)
	cur := make([]int, lb+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		cur[0] = i
		rowMin := cur[0]
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
			rowMin = min(rowMin, cur[j])
		}
		if rowMin > maxDist {
			return 0
		}
		prev, cur = cur, prev
	}
	d := prev[lb]
	if d > maxDist {
		return 0
	}
	return 1 - float64(d)/float64(longest)
}

// prefixScore rewards queries that are a word-aligned prefix of the name.
func prefixScore(q, name string) float64 {
	if len(q) < 3 || len(q) >= len(name) || !strings.HasPrefix(name, q) {
		return 0
	}
	if name[len(q)] != ' ' {
		return 0
	}
	return 0.5 + 0.49*float64(len([]rune(q)))/float64(len([]rune(name)))
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
