package startup

import (
	"fmt"
	"os"
	"path/filepath"
)

// InstallService writes a systemd unit for fansync. Meant for the RPi-class
// hosts the gateway bridge usually runs on.
func InstallService(execPath, configPath, unitPath string) error {
	workdir := filepath.Dir(execPath)

	unit := fmt.Sprintf(`[Unit]
Description=Fan parameter sync service
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
WorkingDirectory=%s
ExecStart=%s -config-file %s
Restart=on-failure
RestartSec=5s

[Install]
WantedBy=multi-user.target
`, workdir, execPath, configPath)

	return os.WriteFile(unitPath, []byte(unit), 0644)
}
