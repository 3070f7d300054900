//go:build !linux

package bkt

import "os"

func adviseRandom(*os.File) error { return nil }
