//go:build !gpudisplay_debug

package gpudisplay

const debugAssertions = false
