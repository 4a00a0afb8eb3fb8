package util

import (
	"log"
	"os"
	"strconv"
)

var debug uint64 = level()

func level() uint64 {
	s := os.Getenv("OSFS_DEBUG")
	if s == "" {
		return 0
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func DPrintf(lvl uint64, format string, a ...interface{}) {
	if lvl <= debug {
		log.Printf(format, a...)
	}
}

func Min(n uint64, m uint64) uint64 {
	if n < m {
		return n
	}
	return m
}

func RoundUp(n uint64, sz uint64) uint64 {
	return (n + sz - 1) / sz
}
