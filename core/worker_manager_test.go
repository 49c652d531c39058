package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeFakeWorkerScript writes a shell script standing in for the worker
// binary. It ignores the -language flag it is invoked with and either
// sleeps until signalled or exits immediately, depending on sleep.
func writeFakeWorkerScript(t *testing.T, sleep bool) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-worker.sh")
	body := "#!/bin/sh\nexit 0\n"
	if sleep {
		body = "#!/bin/sh\ntrap 'exit 0' TERM\nsleep 30 &\nwait $!\n"
	}
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write fake worker script: %v", err)
	}
	return path
}

func TestWorkerManagerStartAndStop(t *testing.T) {
	manager := NewWorkerManager(writeFakeWorkerScript(t, true))
	manager.GraceDelay = 2 * time.Second

	if err := manager.StartWorker("python"); err != nil {
		t.Fatalf("StartWorker: %v", err)
	}
	status := manager.Status()
	if status["python"] != "running" {
		t.Errorf("status[python] = %q, want running", status["python"])
	}
	if status["java"] != "not_started" {
		t.Errorf("status[java] = %q, want not_started", status["java"])
	}

	manager.StopWorker("python")
	status = manager.Status()
	if status["python"] != "not_started" {
		t.Errorf("status[python] after stop = %q, want not_started", status["python"])
	}
}

func TestWorkerManagerRejectsUnsupportedLanguage(t *testing.T) {
	manager := NewWorkerManager(writeFakeWorkerScript(t, true))
	if err := manager.StartWorker("brainfuck"); err == nil {
		t.Error("expected an error starting a worker for an unsupported language")
	}
}

func TestWorkerManagerMonitorRestartsDeadWorker(t *testing.T) {
	dir := t.TempDir()
	counterPath := filepath.Join(dir, "starts")
	scriptPath := filepath.Join(dir, "fake-worker.sh")
	// Each invocation appends one byte to counterPath, then exits
	// immediately, so repeated restarts grow the file.
	body := "#!/bin/sh\nprintf x >> " + counterPath + "\nexit 0\n"
	if err := os.WriteFile(scriptPath, []byte(body), 0o755); err != nil {
		t.Fatalf("write fake worker script: %v", err)
	}

	manager := NewWorkerManager(scriptPath)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := manager.StartWorker("python"); err != nil {
		t.Fatalf("StartWorker: %v", err)
	}

	done := make(chan struct{})
	go func() {
		manager.Monitor(ctx)
		close(done)
	}()
	<-done

	data, err := os.ReadFile(counterPath)
	if err != nil {
		t.Fatalf("read counter file: %v", err)
	}
	if len(data) < 2 {
		t.Errorf("worker restarted %d time(s), want at least 2 within the monitor window", len(data))
	}
}
