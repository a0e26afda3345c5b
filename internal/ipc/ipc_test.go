package ipc

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRoundTrip(t *testing.T) {
	// Unix socket paths are length limited, keep it short.
	dir, err := os.MkdirTemp("", "vl")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "c.sock")

	srv, err := Listen(path)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx, func(req Request) Response {
			switch req.Cmd {
			case CmdFlush:
				return Response{OK: true}
			case CmdStatus:
				st, _ := json.Marshal(map[string]int{"pending": 2})
				return Response{OK: true, Status: st}
			default:
				return Response{Error: "unknown command " + req.Cmd}
			}
		})
	}()

	resp, err := SendCommand(path, CmdFlush)
	if err != nil || !resp.OK {
		t.Fatalf("flush: resp=%+v err=%v", resp, err)
	}

	resp, err = SendCommand(path, CmdStatus)
	if err != nil {
		t.Fatal(err)
	}
	var st map[string]int
	if err := json.Unmarshal(resp.Status, &st); err != nil || st["pending"] != 2 {
		t.Errorf("status = %s (%v)", resp.Status, err)
	}

	resp, err = SendCommand(path, "reboot")
	if err != nil {
		t.Fatal(err)
	}
	if resp.OK || resp.Error == "" {
		t.Errorf("unknown command resp = %+v", resp)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("socket file left behind")
	}
}

func TestSendCommand_NotRunning(t *testing.T) {
	if _, err := SendCommand(filepath.Join(t.TempDir(), "none.sock"), CmdStatus); err == nil {
		t.Error("expected error when no sender is listening")
	}
}
