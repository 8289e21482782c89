package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadRemoteMessage(t *testing.T) {
	in := strings.NewReader(`{"messageId":"m1","data":{"kind":"chat_typing","payload":"{}"}}`)
	msg, err := readRemoteMessage(in, "-")
	if err != nil {
		t.Fatal(err)
	}
	if msg.MessageID != "m1" || msg.Data["kind"] != "chat_typing" {
		t.Errorf("msg = %+v", msg)
	}

	path := filepath.Join(t.TempDir(), "push.json")
	if err := os.WriteFile(path, []byte(`{"messageId":"m2"}`), 0600); err != nil {
		t.Fatal(err)
	}
	if msg, err := readRemoteMessage(nil, path); err != nil || msg.MessageID != "m2" {
		t.Errorf("from file = %+v, %v", msg, err)
	}

	if _, err := readRemoteMessage(strings.NewReader(`{"data":{}}`), "-"); err == nil {
		t.Error("expected error for missing messageId")
	}
	if _, err := readRemoteMessage(strings.NewReader(`not json`), "-"); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestPrint(t *testing.T) {
	human := func(w io.Writer) { _, _ = io.WriteString(w, "human\n") }

	var buf bytes.Buffer
	if err := (&globals{json: true}).print(&buf, map[string]int{"n": 1}, human); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"n": 1`) {
		t.Errorf("json output = %q", buf.String())
	}

	buf.Reset()
	if err := (&globals{}).print(&buf, nil, human); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "human\n" {
		t.Errorf("human output = %q", buf.String())
	}
}

func TestCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{
		{"state"},
		{"app-state", "set"},
		{"push", "deliver"},
		{"connect", "add"},
		{"invite", "create"},
		{"invite", "delete"},
		{"refresh", "chat"},
		{"contacts", "sync"},
		{"send"},
		{"draft"},
		{"profile", "show"},
		{"profile", "update"},
		{"watch"},
		{"config", "set-default-user"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Errorf("command %v not found: %v", path, err)
		}
	}
}

func TestAppStateSetRequiresArg(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"app-state", "set", "--socket", "/nonexistent.sock"})
	root.SetOut(new(bytes.Buffer))
	if err := root.Execute(); err == nil {
		t.Error("expected argument error")
	}
}

func TestProfileUpdate(t *testing.T) {
	if _, err := profileUpdate("", "", ""); err == nil {
		t.Error("expected error for empty update")
	}

	req, err := profileUpdate("Ada", "", "")
	if err != nil || req.Name != "Ada" || req.Photo != nil {
		t.Errorf("name only = %+v, %v", req, err)
	}

	path := filepath.Join(t.TempDir(), "me.png")
	if err := os.WriteFile(path, []byte("\x89PNG\r\n\x1a\n"), 0600); err != nil {
		t.Fatal(err)
	}
	req, err = profileUpdate("", "", path)
	if err != nil {
		t.Fatal(err)
	}
	if req.PhotoFilename != "me.png" || len(req.Photo) != 8 {
		t.Errorf("photo = %q (%d bytes)", req.PhotoFilename, len(req.Photo))
	}

	if _, err := profileUpdate("", "", filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("expected error for missing photo file")
	}
}
