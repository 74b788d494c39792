package util

import "strings"

// ParseBool понимает значения формы: true/1/yes/on/да. Всё остальное — false.
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on", "y", "да":
		return true
	}
	return false
}

// SplitText режет текст на куски не длиннее max рун, стараясь резать по переводу строки.
func SplitText(s string, max int) []string {
	if max <= 0 {
		return []string{s}
	}
	var out []string
	r := []rune(s)
	for len(r) > max {
		cut := max
		for i := max; i > max/2; i-- {
			if r[i-1] == '\n' {
				cut = i
				break
			}
		}
		out = append(out, strings.TrimRight(string(r[:cut]), "\n"))
		r = r[cut:]
	}
	if len(r) > 0 || len(out) == 0 {
		out = append(out, strings.TrimRight(string(r), "\n"))
	}
	return out
}
