//go:build !debug
// +build !debug

package utils

const defaultLevel = "info"
