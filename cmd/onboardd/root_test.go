package main

import (
	"strings"
	"testing"
)

func TestRootRegistersCommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "devidp"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("expected %s command, got %v %v", name, cmd, err)
		}
	}
	devidp, _, _ := root.Find([]string{"devidp"})
	if devidp.Flags().Lookup("embedded-redis") == nil {
		t.Fatal("expected --embedded-redis flag")
	}
}

func TestDevIDPRefusesProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")

	root := newRootCmd()
	root.SetArgs([]string{"devidp", "--embedded-redis"})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "production") {
		t.Fatalf("expected production refusal, got %v", err)
	}
}

func TestInvalidConfigStopsStartup(t *testing.T) {
	t.Setenv("SESSION_STORE", "memcached")

	root := newRootCmd()
	root.SetArgs([]string{"serve"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected config error")
	}
}
