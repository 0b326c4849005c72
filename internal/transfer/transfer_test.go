package transfer

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/prusa3d/connect-sdk-go/internal/eventqueue"
)

func TestStartCopiesAllBytesAndFinishes(t *testing.T) {
	events := eventqueue.New(100)
	mgr := NewManager(0, events, nil, nil)

	src := bytes.NewReader(bytes.Repeat([]byte{'x'}, 1000))
	var dst bytes.Buffer

	tr, err := mgr.Start(context.Background(), "sdcard", "model.gcode", Upload, 1000, src, &dst)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for tr.State() != StateFinished && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if tr.State() != StateFinished {
		t.Fatalf("expected FINISHED, got %s", tr.State())
	}
	if dst.Len() != 1000 {
		t.Fatalf("expected 1000 bytes copied, got %d", dst.Len())
	}
}

func TestStartRejectsSecondTransferOnSameStorage(t *testing.T) {
	events := eventqueue.New(100)
	mgr := NewManager(0, events, nil, nil)

	src1 := bytes.NewReader(bytes.Repeat([]byte{'x'}, 10_000_000))
	var dst1 bytes.Buffer
	_, err := mgr.Start(context.Background(), "sdcard", "a.gcode", Upload, 10_000_000, src1, &dst1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	src2 := bytes.NewReader([]byte("y"))
	var dst2 bytes.Buffer
	_, err = mgr.Start(context.Background(), "sdcard", "b.gcode", Upload, 1, src2, &dst2)
	if err == nil {
		t.Fatal("expected ErrStorageBusy for second transfer on same storage")
	}
	var busy *ErrStorageBusy
	if !(err != nil && (func() bool { busy, _ = err.(*ErrStorageBusy); return busy != nil })()) {
		t.Fatalf("expected ErrStorageBusy, got %v", err)
	}
}

func TestCancelAbortsTransfer(t *testing.T) {
	events := eventqueue.New(100)
	mgr := NewManager(0, events, nil, nil)

	src := bytes.NewReader(bytes.Repeat([]byte{'x'}, 100_000_000))
	var dst bytes.Buffer
	tr, err := mgr.Start(context.Background(), "sdcard", "big.gcode", Download, 100_000_000, src, &dst)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tr.Cancel()

	deadline := time.Now().Add(2 * time.Second)
	for (tr.State() == StatePending || tr.State() == StateActive) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if tr.State() != StateAborted {
		t.Fatalf("expected ABORTED, got %s", tr.State())
	}
}

func TestIndependentStoragesRunConcurrently(t *testing.T) {
	events := eventqueue.New(100)
	mgr := NewManager(0, events, nil, nil)

	src1 := bytes.NewReader([]byte("abc"))
	var dst1 bytes.Buffer
	_, err := mgr.Start(context.Background(), "sdcard", "a.gcode", Upload, 3, src1, &dst1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	src2 := bytes.NewReader([]byte("def"))
	var dst2 bytes.Buffer
	_, err = mgr.Start(context.Background(), "usb", "b.gcode", Upload, 3, src2, &dst2)
	if err != nil {
		t.Fatalf("expected independent storage to start, got error: %v", err)
	}
}
