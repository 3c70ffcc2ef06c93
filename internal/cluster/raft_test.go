package cluster

import (
	"log/slog"
	"testing"

	"github.com/hashicorp/go-hclog"
)

func newTestAdapter() *hcLoggerAdapter {
	return &hcLoggerAdapter{logger: slog.Default()}
}

func TestHCLoggerAdapterLogLevels(t *testing.T) {
	l := newTestAdapter()
	levels := []hclog.Level{hclog.Trace, hclog.Debug, hclog.Info, hclog.Warn, hclog.Error, hclog.NoLevel}
	for _, lvl := range levels {
		l.Log(lvl, "msg", "k", "v")
	}
}

func TestHCLoggerAdapterLeafMethods(t *testing.T) {
	l := newTestAdapter()
	l.Trace("trace")
	l.Debug("debug")
	l.Info("info")
	l.Warn("warn")
	l.Error("error")

	if l.IsTrace() {
		t.Fatal("expected IsTrace false")
	}
	if l.IsDebug() {
		t.Fatal("expected IsDebug false")
	}
	if !l.IsInfo() {
		t.Fatal("expected IsInfo true")
	}
	if !l.IsWarn() {
		t.Fatal("expected IsWarn true")
	}
	if !l.IsError() {
		t.Fatal("expected IsError true")
	}
}

func TestHCLoggerAdapterInterfaceMethods(t *testing.T) {
	l := newTestAdapter()
	if l.ImpliedArgs() != nil {
		t.Fatal("expected nil implied args")
	}
	if l.With("a", "b") != l {
		t.Fatal("expected With to return the same adapter")
	}
	if l.Name() != "raft" {
		t.Fatalf("expected name 'raft', got %q", l.Name())
	}
	if l.Named("other") != l {
		t.Fatal("expected Named to return the same adapter")
	}
	if l.ResetNamed("other") != l {
		t.Fatal("expected ResetNamed to return the same adapter")
	}
	l.SetLevel(hclog.Debug)
	if l.GetLevel() != hclog.Info {
		t.Fatalf("expected GetLevel Info, got %v", l.GetLevel())
	}
	if l.StandardLogger(nil) != nil {
		t.Fatal("expected nil standard logger")
	}
	if l.StandardWriter(nil) != nil {
		t.Fatal("expected nil standard writer")
	}
}

func TestHCLoggerAdapterImplementsInterface(t *testing.T) {
	var _ hclog.Logger = newTestAdapter()
}

func TestRaftConfigZeroValueDefaults(t *testing.T) {
	var cfg RaftConfig
	if cfg.Bootstrap {
		t.Fatal("expected Bootstrap to default to false")
	}
	if cfg.Logger != nil {
		t.Fatal("expected Logger to default to nil, filled in by NewRaftBoundary")
	}
}

func TestNewRaftBoundaryRequiresDataDir(t *testing.T) {
	_, err := NewRaftBoundary(RaftConfig{NodeID: "n1", BindAddr: "127.0.0.1:0"}, func(op byte, key, value []byte) error {
		return nil
	})
	if err == nil {
		t.Fatal("expected an error when DataDir is empty")
	}
}
