package radio

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

// startTrapped runs a shell that installs trap for SIGTERM, creates a ready
// file and then idles.
func startTrapped(t *testing.T, r ExecRunner, trap string) *execProcess {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	ready := filepath.Join(t.TempDir(), "ready")
	script := "trap '" + trap + "' TERM; touch \"$0\"; while :; do sleep 0.05; done"
	proc, err := r.Start(context.Background(), "sh", "-c", script, ready)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	p := proc.(*execProcess)
	t.Cleanup(func() { _ = p.cmd.Process.Kill() })

	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, err := os.Stat(ready); err == nil {
			return p
		}
		if time.Now().After(deadline) {
			t.Fatal("shell never became ready")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func waitStatus(t *testing.T, p *execProcess) syscall.WaitStatus {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("process did not exit")
	}
	ws, ok := p.cmd.ProcessState.Sys().(syscall.WaitStatus)
	if !ok {
		t.Skip("wait status unavailable on this platform")
	}
	return ws
}

func TestExecProcess_StopSendsTERMFirst(t *testing.T) {
	p := startTrapped(t, ExecRunner{StopGrace: 10 * time.Second}, "exit 0")

	start := time.Now()
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Stop took %s, process should have exited on SIGTERM", elapsed)
	}
	ws := waitStatus(t, p)
	if ws.Signaled() {
		t.Errorf("process killed by %v, want clean exit from its TERM handler", ws.Signal())
	}
	if ws.ExitStatus() != 0 {
		t.Errorf("exit status = %d, want 0", ws.ExitStatus())
	}
}

func TestExecProcess_StopKillsAfterGrace(t *testing.T) {
	p := startTrapped(t, ExecRunner{StopGrace: 100 * time.Millisecond}, "")

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	ws := waitStatus(t, p)
	if !ws.Signaled() || ws.Signal() != syscall.SIGKILL {
		t.Errorf("wait status = %v, want SIGKILL after grace", ws)
	}
	if err := p.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestExecProcess_StopAfterExit(t *testing.T) {
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true not available")
	}
	proc, err := ExecRunner{}.Start(context.Background(), "true")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-proc.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("true did not exit")
	}
	if err := proc.Stop(); err != nil {
		t.Errorf("Stop after exit: %v", err)
	}
}
