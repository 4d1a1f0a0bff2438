package proxy

import "strconv"

func parseUnixSeconds(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
