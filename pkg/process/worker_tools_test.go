package process

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestFileToolWriteReadList(t *testing.T) {
	root := t.TempDir()
	tool := &FileTool{Root: root}
	ctx := context.Background()

	writeArgs, _ := json.Marshal(fileArgs{Action: "write", Path: "notes/a.txt", Content: "hello"})
	if _, err := tool.Call(ctx, writeArgs); err != nil {
		t.Fatalf("write: %v", err)
	}

	readArgs, _ := json.Marshal(fileArgs{Action: "read", Path: "notes/a.txt"})
	out, err := tool.Call(ctx, readArgs)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var readOut struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(out), &readOut); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if readOut.Content != "hello" {
		t.Fatalf("content = %q, want %q", readOut.Content, "hello")
	}

	listArgs, _ := json.Marshal(fileArgs{Action: "list", Path: "notes"})
	if _, err := tool.Call(ctx, listArgs); err != nil {
		t.Fatalf("list: %v", err)
	}
}

func TestFileToolRejectsEscapingPath(t *testing.T) {
	root := t.TempDir()
	tool := &FileTool{Root: root}
	if _, err := tool.resolve("../../etc/passwd"); err == nil {
		t.Fatal("expected path escaping the sandbox to be rejected")
	}
}

func TestFileToolDelete(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "gone.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	tool := &FileTool{Root: root}
	deleteArgs, _ := json.Marshal(fileArgs{Action: "delete", Path: "gone.txt"})
	if _, err := tool.Call(context.Background(), deleteArgs); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected file to be removed")
	}
}

func TestShellToolCapturesOutput(t *testing.T) {
	tool := &ShellTool{WorkDir: t.TempDir()}
	args, _ := json.Marshal(shellArgs{Command: "echo hi"})
	out, err := tool.Call(context.Background(), args)
	if err != nil {
		t.Fatalf("shell call: %v", err)
	}
	var result struct {
		Stdout   string `json:"stdout"`
		ExitCode int    `json:"exit_code"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", result.ExitCode)
	}
}

func TestShellToolNonZeroExit(t *testing.T) {
	tool := &ShellTool{WorkDir: t.TempDir()}
	args, _ := json.Marshal(shellArgs{Command: "exit 3"})
	out, err := tool.Call(context.Background(), args)
	if err != nil {
		t.Fatalf("shell call: %v", err)
	}
	var result struct {
		ExitCode int `json:"exit_code"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", result.ExitCode)
	}
}

func TestExecToolRunsWithoutShell(t *testing.T) {
	tool := &ExecTool{WorkDir: t.TempDir()}
	args, _ := json.Marshal(execArgs{Command: "echo", Args: []string{"hi"}})
	out, err := tool.Call(context.Background(), args)
	if err != nil {
		t.Fatalf("exec call: %v", err)
	}
	var result struct {
		Stdout string `json:"stdout"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.Stdout != "hi\n" {
		t.Fatalf("stdout = %q, want %q", result.Stdout, "hi\n")
	}
}

func TestStripTags(t *testing.T) {
	got := stripTags("<html><body><p>Hello <b>world</b></p></body></html>")
	if got != "Hello world" {
		t.Fatalf("stripTags = %q, want %q", got, "Hello world")
	}
}
