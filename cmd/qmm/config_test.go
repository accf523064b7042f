package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
ai_core_num: 6
block_num: 12
seed: 42
server_address: 0.0.0.0:9000
launch_rate: 2.5
`)
	c, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.LogLevel != "debug" || c.ServerAddress != "0.0.0.0:9000" {
		t.Fatalf("unexpected strings: %+v", c)
	}
	if c.AICoreNum == nil || *c.AICoreNum != 6 || c.BlockNum == nil || *c.BlockNum != 12 {
		t.Fatalf("unexpected device fields: %+v", c)
	}
	if c.Seed == nil || *c.Seed != 42 || c.LaunchRate == nil || *c.LaunchRate != 2.5 {
		t.Fatalf("unexpected launch fields: %+v", c)
	}
	if c.MemoryLimit != nil || c.MaxRuns != nil {
		t.Fatalf("unset fields should stay nil: %+v", c)
	}
}

func TestLoadConfigMissingAndEmpty(t *testing.T) {
	c, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil || c != (Config{}) {
		t.Fatalf("missing file: %+v, %v", c, err)
	}
	c, err = LoadConfig(writeConfig(t, ""))
	if err != nil || c != (Config{}) {
		t.Fatalf("empty file: %+v, %v", c, err)
	}
	c, err = LoadConfig("")
	if err != nil || c != (Config{}) {
		t.Fatalf("no path: %+v, %v", c, err)
	}
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	if _, err := LoadConfig(writeConfig(t, "block_nums: 3\n")); err == nil {
		t.Fatal("expected unknown key to fail")
	}
}

func TestApplyDeviceConfigFlagsWin(t *testing.T) {
	cores, blocks := int64(6), int64(12)
	c := Config{AICoreNum: &cores, BlockNum: &blocks}

	run := func(args ...string) {
		t.Helper()
		aiCoreNum, memoryLimit, blockNum = 0, 0, 0
		cmd := &cli.Command{
			Name:  "t",
			Flags: append(deviceFlags(), launchFlags()...),
			Action: func(ctx context.Context, cmd *cli.Command) error {
				applyDeviceConfig(cmd, c)
				return nil
			},
		}
		if err := cmd.Run(context.Background(), append([]string{"t"}, args...)); err != nil {
			t.Fatal(err)
		}
	}

	run()
	if aiCoreNum != 6 || blockNum != 12 || memoryLimit != 0 {
		t.Fatalf("config not applied: cores=%d blocks=%d mem=%d", aiCoreNum, blockNum, memoryLimit)
	}
	run("--cores", "2", "--block-num", "3")
	if aiCoreNum != 2 || blockNum != 3 {
		t.Fatalf("flags should override config: cores=%d blocks=%d", aiCoreNum, blockNum)
	}
}
