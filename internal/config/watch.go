package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// WatchSalons loads salons.yaml, passes it to onUpdate and then polls the
// file every interval in the background until ctx is done. The initial load
// error is returned; later bad edits are logged and the previous catalog
// stays in effect.
//
// A change is applied once the file content hashes the same on two
// consecutive polls, so editors that write in several steps trigger a single
// reload. Touching the file without changing its content is a no-op.
func WatchSalons(ctx context.Context, path string, interval time.Duration, logger *zerolog.Logger, onUpdate func(*SalonsConfig) error) error {
	if path == "" {
		path = DefaultSalonsPath
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "salons_watch").Logger()
	}

	w := &salonsWatcher{path: path, logger: l, onUpdate: onUpdate}
	if err := w.init(); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.poll()
			}
		}
	}()
	return nil
}

type salonsWatcher struct {
	path     string
	logger   zerolog.Logger
	onUpdate func(*SalonsConfig) error

	lastMod time.Time
	applied string // hash of the catalog in effect
	pending string // hash seen on the previous poll, not applied yet
}

func (w *salonsWatcher) init() error {
	info, err := os.Stat(w.path)
	if err != nil {
		return fmt.Errorf("stat salons config: %w", err)
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("read salons config: %w", err)
	}
	cfg, err := ParseSalonsConfig(data)
	if err != nil {
		return err
	}
	if w.onUpdate != nil {
		if err := w.onUpdate(cfg); err != nil {
			return err
		}
	}
	w.lastMod = info.ModTime()
	w.applied = contentHash(data)
	w.logger.Info().Int("orgs", len(cfg.Orgs)).Str("sha", w.applied).Msg("salons config loaded")
	return nil
}

// poll reports whether a new catalog was applied.
func (w *salonsWatcher) poll() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Debug().Err(err).Str("path", w.path).Msg("salons config stat failed")
		return false
	}
	if info.ModTime().Equal(w.lastMod) {
		return false
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Debug().Err(err).Str("path", w.path).Msg("salons config read failed")
		return false
	}

	sum := contentHash(data)
	if sum == w.applied {
		w.lastMod, w.pending = info.ModTime(), ""
		w.logger.Debug().Str("sha", sum).Msg("salons config touched, content unchanged")
		return false
	}
	if sum != w.pending {
		w.pending = sum
		return false
	}

	w.lastMod, w.pending = info.ModTime(), ""
	cfg, err := ParseSalonsConfig(data)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", w.path).Str("sha", sum).Msg("salons config rejected, keeping previous")
		return false
	}
	if w.onUpdate != nil {
		if err := w.onUpdate(cfg); err != nil {
			// retried on the next polls
			w.lastMod = time.Time{}
			w.logger.Error().Err(err).Str("sha", sum).Msg("apply salons config")
			return false
		}
	}
	w.applied = sum
	w.logger.Info().Int("orgs", len(cfg.Orgs)).Str("sha", sum).Msg("salons config reloaded")
	return true
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
