// config_reload.go implements debounced configuration hot reload.
// It detects material changes and hands the new config to the callback.
package watcher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/faultsys/alertrelay/internal/config"
	log "github.com/sirupsen/logrus"
)

func (w *Watcher) stopConfigReloadTimer() {
	w.configReloadMu.Lock()
	if w.configReloadTimer != nil {
		w.configReloadTimer.Stop()
		w.configReloadTimer = nil
	}
	w.configReloadMu.Unlock()
}

func (w *Watcher) scheduleConfigReload() {
	w.configReloadMu.Lock()
	defer w.configReloadMu.Unlock()
	if w.configReloadTimer != nil {
		w.configReloadTimer.Stop()
	}
	w.configReloadTimer = time.AfterFunc(configReloadDebounce, func() {
		w.configReloadMu.Lock()
		w.configReloadTimer = nil
		w.configReloadMu.Unlock()
		w.reloadConfigIfChanged()
	})
}

func fileHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (w *Watcher) reloadConfigIfChanged() {
	data, err := os.ReadFile(w.configPath)
	if err != nil {
		log.Errorf("failed to read config file for hash check: %v", err)
		return
	}
	if len(data) == 0 {
		log.Debugf("ignoring empty config file write event")
		return
	}
	sum := sha256.Sum256(data)
	newHash := hex.EncodeToString(sum[:])

	w.configMu.RLock()
	currentHash := w.lastConfigHash
	w.configMu.RUnlock()

	if currentHash != "" && currentHash == newHash {
		log.Debugf("config file content unchanged (hash match), skipping reload")
		return
	}
	log.Infof("config file changed, reloading: %s", w.configPath)
	if w.reloadConfig() {
		w.configMu.Lock()
		w.lastConfigHash = newHash
		w.configMu.Unlock()
	}
}

func (w *Watcher) reloadConfig() bool {
	newConfig, errLoadConfig := w.load(w.configPath)
	if errLoadConfig != nil {
		log.Errorf("failed to reload config: %v", errLoadConfig)
		return false
	}

	w.configMu.Lock()
	oldConfig := w.config
	w.config = newConfig
	w.configMu.Unlock()

	if oldConfig != nil {
		details := buildConfigChangeDetails(oldConfig, newConfig)
		if len(details) > 0 {
			log.Debugf("config changes detected:")
			for _, d := range details {
				log.Debugf("  %s", d)
			}
		} else {
			log.Debugf("no material config field changes detected")
		}
		if restart := restartRequiredFields(oldConfig, newConfig); len(restart) > 0 {
			log.Warnf("config fields changed that only take effect after restart: %v", restart)
		}
	}

	if w.reloadCallback != nil {
		w.reloadCallback(oldConfig, newConfig)
	}
	log.Infof("config successfully reloaded")
	return true
}

// buildConfigChangeDetails lists hot-reloadable fields whose value changed.
func buildConfigChangeDetails(oldCfg, newCfg *config.Config) []string {
	var details []string
	add := func(name string, oldVal, newVal any) {
		if oldVal != newVal {
			details = append(details, fmt.Sprintf("%s: %v -> %v", name, oldVal, newVal))
		}
	}
	add("debug", oldCfg.Debug, newCfg.Debug)
	add("logging-to-file", oldCfg.LoggingToFile, newCfg.LoggingToFile)
	add("logs-max-total-size-mb", oldCfg.LogsMaxTotalSizeMB, newCfg.LogsMaxTotalSizeMB)
	return details
}

// restartRequiredFields lists changed fields that the running relay cannot
// apply: sockets are bound and sessions were built with the old values.
func restartRequiredFields(oldCfg, newCfg *config.Config) []string {
	var fields []string
	if oldCfg.Server != newCfg.Server {
		fields = append(fields, "server")
	}
	if oldCfg.Upstream != newCfg.Upstream {
		fields = append(fields, "upstream")
	}
	if oldCfg.Session != newCfg.Session {
		fields = append(fields, "session")
	}
	if oldCfg.Limits != newCfg.Limits {
		fields = append(fields, "limits")
	}
	if oldCfg.Admin != newCfg.Admin {
		fields = append(fields, "admin")
	}
	return fields
}
