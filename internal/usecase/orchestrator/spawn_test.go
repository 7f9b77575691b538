package orchestrator

import (
	"bufio"
	"context"
	"runtime"
	"testing"
	"time"

	"cartpilot/internal/domain"
)

// shSpawner builds an ExecSpawner that runs a shell script instead of the
// real worker binary. The appended --use-session arguments land in $0/$1 and
// are ignored by the scripts.
func shSpawner(script string) *ExecSpawner {
	return &ExecSpawner{Command: "/bin/sh", Args: []string{"-c", script}}
}

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

func TestExecSpawner_MergedOutputAndExitCode(t *testing.T) {
	skipOnWindows(t)

	s := shSpawner("echo out-line; echo err-line >&2")
	handle, err := s.Spawn(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	var lines []string
	scanner := bufio.NewScanner(handle.Output())
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if code := handle.Wait(); code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want stdout and stderr merged: %v", len(lines), lines)
	}
}

func TestExecSpawner_NonZeroExit(t *testing.T) {
	skipOnWindows(t)

	handle, err := shSpawner("exit 3").Spawn(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if code := handle.Wait(); code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
}

func TestExecSpawner_WaitIsIdempotent(t *testing.T) {
	skipOnWindows(t)

	handle, err := shSpawner("exit 7").Spawn(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	first := handle.Wait()
	second := handle.Wait()
	if first != 7 || second != 7 {
		t.Errorf("Wait codes = %d, %d; want 7 both times", first, second)
	}
}

func TestExecSpawner_Terminate(t *testing.T) {
	skipOnWindows(t)

	handle, err := shSpawner("sleep 30").Spawn(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if handle.PID() <= 0 {
		t.Errorf("PID = %d, want a real pid", handle.PID())
	}

	if err := handle.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	done := make(chan int, 1)
	go func() { done <- handle.Wait() }()
	select {
	case code := <-done:
		if code == 0 {
			t.Errorf("exit code = %d, want non-zero after SIGTERM", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit after Terminate")
	}
}

func TestExecSpawner_WorkerOutlivesCallerContext(t *testing.T) {
	skipOnWindows(t)

	ctx, cancel := context.WithCancel(context.Background())
	handle, err := shSpawner("sleep 30").Spawn(ctx, "alice")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	// The caller's context ends the way a returning HTTP handler's does.
	cancel()

	exited := make(chan int, 1)
	go func() { exited <- handle.Wait() }()
	select {
	case code := <-exited:
		t.Fatalf("worker exited with code %d after caller context cancel, want it still running", code)
	case <-time.After(500 * time.Millisecond):
	}

	if err := handle.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit after Terminate")
	}
}

func TestExecSpawner_MissingBinary(t *testing.T) {
	s := &ExecSpawner{Command: "/nonexistent/worker"}
	_, err := s.Spawn(context.Background(), "alice")
	if err == nil {
		t.Fatal("expected spawn error for missing binary")
	}
}

// End-to-end through the launcher with real processes.
func TestLauncher_RealWorkerLifecycle(t *testing.T) {
	skipOnWindows(t)

	reg := newMemRegistry("alice", "bob")
	tracker := NewTracker()
	logs := NewLogHub(200)
	l := NewLauncher(LauncherConfig{StopTimeout: 2 * time.Second},
		shSpawner("echo starting; echo done"), tracker, logs, reg, nil, testLogger())

	if _, err := l.StartOne(context.Background(), "alice"); err != nil {
		t.Fatalf("StartOne: %v", err)
	}
	waitForState(t, tracker, "alice", domain.SessionFinished)

	recs := logs.Drain("alice", 0)
	if len(recs) != 2 {
		t.Fatalf("got %d log records, want 2: %v", len(recs), recs)
	}
}

func TestLauncher_WorkerSurvivesStartContextCancel(t *testing.T) {
	skipOnWindows(t)

	reg := newMemRegistry("alice")
	tracker := NewTracker()
	logs := NewLogHub(200)
	l := NewLauncher(LauncherConfig{StopTimeout: 5 * time.Second},
		shSpawner("echo running; sleep 30"), tracker, logs, reg, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := l.StartOne(ctx, "alice"); err != nil {
		t.Fatalf("StartOne: %v", err)
	}
	waitForState(t, tracker, "alice", domain.SessionRunning)

	// The start request's context ends; the worker must keep running.
	cancel()
	time.Sleep(300 * time.Millisecond)

	if !tracker.IsRunning("alice") {
		t.Fatalf("state = %s after start context cancel, want running", tracker.State("alice"))
	}

	if err := l.StopOne(context.Background(), "alice"); err != nil {
		t.Fatalf("StopOne: %v", err)
	}
}

func TestLauncher_RealWorkerStop(t *testing.T) {
	skipOnWindows(t)

	reg := newMemRegistry("alice")
	tracker := NewTracker()
	logs := NewLogHub(200)
	l := NewLauncher(LauncherConfig{StopTimeout: 5 * time.Second},
		shSpawner("echo running; sleep 30"), tracker, logs, reg, nil, testLogger())

	if _, err := l.StartOne(context.Background(), "alice"); err != nil {
		t.Fatalf("StartOne: %v", err)
	}
	waitForState(t, tracker, "alice", domain.SessionRunning)

	start := time.Now()
	if err := l.StopOne(context.Background(), "alice"); err != nil {
		t.Fatalf("StopOne: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("stop took %v, want prompt SIGTERM exit", elapsed)
	}
	if tracker.State("alice") != domain.SessionStopped {
		t.Errorf("state = %s, want stopped", tracker.State("alice"))
	}
}
