package view

import (
	"fmt"
	"strconv"
	"strings"
)

// Page describes the window a list fetch returned. End is exclusive.
type Page struct {
	Start int
	End   int
	Total int
}

// ParseContentRange parses "<unit> <first>-<last>/<total>" and the
// "<unit> */<total>" form used for empty windows.
func ParseContentRange(header string) (Page, error) {
	_, spec, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok {
		return Page{}, fmt.Errorf("malformed content-range %q", header)
	}
	window, totalStr, ok := strings.Cut(spec, "/")
	if !ok {
		return Page{}, fmt.Errorf("malformed content-range %q", header)
	}
	total, err := strconv.Atoi(totalStr)
	if err != nil || total < 0 {
		return Page{}, fmt.Errorf("malformed content-range total %q", header)
	}
	if window == "*" {
		return Page{Total: total}, nil
	}
	firstStr, lastStr, ok := strings.Cut(window, "-")
	if !ok {
		return Page{}, fmt.Errorf("malformed content-range %q", header)
	}
	first, err1 := strconv.Atoi(firstStr)
	last, err2 := strconv.Atoi(lastStr)
	if err1 != nil || err2 != nil || first < 0 || last < first {
		return Page{}, fmt.Errorf("malformed content-range window %q", header)
	}
	return Page{Start: first, End: last + 1, Total: total}, nil
}
