//go:build !windows

package main

// ANSI status lines work as is outside the Windows console.
func enableTerminalStatus() {}
