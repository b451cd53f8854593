package agent

import (
	"context"
	"errors"
)

// ErrRadioDisabled is returned by RestartAP when radio bring-up is off.
var ErrRadioDisabled = errors.New("radio bring-up disabled")

// ResyncClock runs one SNTP exchange now. It is used by the resync job and
// by the MQTT clock/sync command.
func (a *Agent) ResyncClock(ctx context.Context) error {
	return a.syncer.Sync(ctx)
}

// RestartAP stops and starts hostapd. The new process lives as long as the
// agent, not ctx; ctx only bounds the wait for a concurrent restart.
func (a *Agent) RestartAP(ctx context.Context) error {
	if a.config.Radio.Disabled {
		return ErrRadioDisabled
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	a.apMu.Lock()
	defer a.apMu.Unlock()

	a.logger.Info("restarting access point", "ssid", a.config.Site.APSSID)
	if err := a.ap.Stop(); err != nil {
		a.logger.Warn("access point stop before restart", "error", err)
	}
	return a.ap.Start(a.ctx)
}
