package container

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func frame(tag streamTag, payload string) []byte {
	header := make([]byte, frameHeaderLen)
	header[0] = byte(tag)
	binary.BigEndian.PutUint32(header[4:8], uint32(len(payload)))
	return append(header, []byte(payload)...)
}

func TestDemuxSplitsStdoutAndStderr(t *testing.T) {
	var wire bytes.Buffer
	wire.Write(frame(tagStdout, "hello\n"))
	wire.Write(frame(tagStderr, "warn\n"))

	var stdout, stderr bytes.Buffer
	if err := demux(&wire, &stdout, &stderr); err != nil {
		t.Fatalf("demux: %v", err)
	}
	if stdout.String() != "hello\n" {
		t.Errorf("stdout = %q, want %q", stdout.String(), "hello\n")
	}
	if stderr.String() != "warn\n" {
		t.Errorf("stderr = %q, want %q", stderr.String(), "warn\n")
	}
}

func TestDemuxInterleavesMultipleFrames(t *testing.T) {
	var wire bytes.Buffer
	wire.Write(frame(tagStdout, "a"))
	wire.Write(frame(tagStdout, "b"))
	wire.Write(frame(tagStderr, "c"))
	wire.Write(frame(tagStdout, "d"))

	var stdout, stderr bytes.Buffer
	if err := demux(&wire, &stdout, &stderr); err != nil {
		t.Fatalf("demux: %v", err)
	}
	if stdout.String() != "abd" {
		t.Errorf("stdout = %q, want %q", stdout.String(), "abd")
	}
	if stderr.String() != "c" {
		t.Errorf("stderr = %q, want %q", stderr.String(), "c")
	}
}

func TestDemuxStopsOnShortHeader(t *testing.T) {
	var wire bytes.Buffer
	wire.Write(frame(tagStdout, "ok"))
	wire.Write([]byte{1, 0, 0}) // 3 stray bytes, not a full header

	var stdout, stderr bytes.Buffer
	if err := demux(&wire, &stdout, &stderr); err != nil {
		t.Fatalf("demux: %v", err)
	}
	if stdout.String() != "ok" {
		t.Errorf("stdout = %q, want %q", stdout.String(), "ok")
	}
}

func TestDemuxStopsOnTruncatedPayload(t *testing.T) {
	header := make([]byte, frameHeaderLen)
	header[0] = byte(tagStdout)
	binary.BigEndian.PutUint32(header[4:8], 100) // claims 100 bytes

	var wire bytes.Buffer
	wire.Write(header)
	wire.WriteString("short") // far fewer than 100 bytes actually follow

	var stdout, stderr bytes.Buffer
	if err := demux(&wire, &stdout, &stderr); err != nil {
		t.Fatalf("demux: %v", err)
	}
	if stdout.Len() != 0 {
		t.Errorf("stdout should be empty after a truncated frame, got %q", stdout.String())
	}
}

func TestDemuxEmptyStream(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := demux(&bytes.Buffer{}, &stdout, &stderr); err != nil {
		t.Fatalf("demux: %v", err)
	}
	if stdout.Len() != 0 || stderr.Len() != 0 {
		t.Fatal("expected both buffers empty for an empty stream")
	}
}
