package services

import (
	"strings"
	"testing"
)

func TestSafetyGateBlocks(t *testing.T) {
	gate, err := NewSafetyGate(nil)
	if err != nil {
		t.Fatalf("NewSafetyGate: %v", err)
	}

	tests := []struct {
		text string
		rule string
	}{
		{"rm -rf /", "rm-root"},
		{"rm -fr /*", "rm-root"},
		{"sudo rm -r -f /", "rm-root"},
		{"rm --recursive --force /etc", "rm-root"},
		{"cd /tmp && rm -rf ~", "rm-root"},
		{"/bin/sh -c rm -Rf /usr/", "rm-root"},
		{"python3 -c import shutil; shutil.rmtree('/')", "python-rmtree-root"},
		{`node -e require('fs').rmSync("/", { recursive: true, force: true })`, "node-rm-root"},
		{"mkfs.ext4 /dev/sda1", "mkfs"},
		{"dd if=/dev/zero of=/dev/sda bs=1M", "disk-write"},
		{"cat /dev/urandom > /dev/nvme0n1", "disk-redirect"},
		{"shutdown -h now", "power"},
		{"echo bye; reboot", "power"},
		{"sudo poweroff", "power"},
		{"init 0", "init-runlevel"},
		{"systemctl reboot", "systemctl-power"},
		{":(){ :|:& };:", "fork-bomb"},
		{"chmod -R 777 /", "chmod-root"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			v := gate.Check(tt.text)
			if v.Allowed {
				t.Fatalf("Check(%q) allowed", tt.text)
			}
			if v.Rule != tt.rule {
				t.Errorf("rule = %q, want %q", v.Rule, tt.rule)
			}
			if !strings.HasPrefix(v.ViolationMessage(), SafetyViolationPrefix) {
				t.Errorf("message = %q", v.ViolationMessage())
			}
		})
	}
}

func TestSafetyGateAllows(t *testing.T) {
	gate, err := NewSafetyGate(nil)
	if err != nil {
		t.Fatalf("NewSafetyGate: %v", err)
	}

	allowed := []string{
		"echo hi",
		"rm -rf ./build",
		"rm -rf /tmp/work",
		"rm /etc/hosts.bak",
		"ls -la /",
		"python3 -c print('system shutdown scheduled')",
		"echo reboot-required",
		"grep -r halt docs/",
		"shutil.rmtree('/tmp/x')",
		"chmod -R 755 ./dist",
		"dd if=/dev/zero of=./disk.img bs=1M count=1",
	}
	for _, text := range allowed {
		if v := gate.Check(text); !v.Allowed {
			t.Errorf("Check(%q) blocked by %s", text, v.Rule)
		}
	}
}

func TestSafetyGateCustomPatterns(t *testing.T) {
	gate, err := NewSafetyGate([]string{`\bcurl\b`})
	if err != nil {
		t.Fatalf("NewSafetyGate: %v", err)
	}
	if v := gate.Check("curl http://example.com"); v.Allowed || v.Rule != "custom-0" {
		t.Errorf("custom pattern verdict = %+v", v)
	}

	if _, err := NewSafetyGate([]string{"("}); err == nil {
		t.Error("invalid pattern accepted")
	}
}
