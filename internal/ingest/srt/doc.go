// Package srt receives transport streams over SRT (Secure Reliable
// Transport), either as a listener accepting publish connections (Server)
// or as a caller pulling from a remote listener (Caller). Received bytes are
// fed to the ingest registry.
package srt
