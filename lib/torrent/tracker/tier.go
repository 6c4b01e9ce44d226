package tracker

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TierConfig bounds how tracker re-announce intervals are clamped.
type TierConfig struct {
	DefaultInterval time.Duration `yaml:"default_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Timeout         time.Duration `yaml:"timeout"`
}

func (c TierConfig) applyDefaults() TierConfig {
	if c.DefaultInterval == 0 {
		c.DefaultInterval = 30 * time.Minute
	}
	if c.MaxInterval == 0 {
		c.MaxInterval = 2 * time.Hour
	}
	if c.Timeout == 0 {
		c.Timeout = 15 * time.Second
	}
	return c
}

// TierManager announces to a BEP-12 announce-list: a list of tiers, each a
// list of equally-preferred tracker URLs. Within a tier, trackers are tried
// in order until one succeeds; the tracker that responds is moved to the
// front of its tier for next time. Tiers themselves are tried in order and
// are never reordered.
type TierManager struct {
	config TierConfig
	tiers  [][]Client
	logger *zap.SugaredLogger
}

// NewTierManager builds a TierManager from an announce URL and an optional
// BEP-12 announce-list (a list of tiers, each a list of URL strings). If
// announceList is empty, announce is treated as the sole tier.
func NewTierManager(config TierConfig, announce string, announceList [][]string, logger *zap.SugaredLogger) (*TierManager, error) {
	config = config.applyDefaults()

	rawTiers := announceList
	if len(rawTiers) == 0 && announce != "" {
		rawTiers = [][]string{{announce}}
	}

	var tiers [][]Client
	for _, rawTier := range rawTiers {
		var tier []Client
		for _, u := range rawTier {
			c, err := newClientForURL(u, config.Timeout)
			if err != nil {
				logger.Warnw("skipping unsupported tracker url", "url", u, "error", err)
				continue
			}
			tier = append(tier, c)
		}
		if len(tier) > 0 {
			tiers = append(tiers, tier)
		}
	}
	if len(tiers) == 0 {
		return nil, fmt.Errorf("tracker: no usable tracker urls")
	}

	return &TierManager{config: config, tiers: tiers, logger: logger}, nil
}

func newClientForURL(raw string, timeout time.Duration) (Client, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse tracker url: %s", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return NewHTTPClient(raw, timeout), nil
	case "udp":
		return NewUDPClient(u.Host, timeout), nil
	default:
		return nil, fmt.Errorf("unsupported tracker scheme %q", u.Scheme)
	}
}

// Announce tries each tier in order, and within a tier each tracker in
// order, returning the first successful response. On success the
// responding tracker is moved to the front of its tier, per BEP-12.
func (m *TierManager) Announce(req AnnounceRequest) (*AnnounceResponse, error) {
	var lastErr error
	for _, tier := range m.tiers {
		for i, c := range tier {
			resp, err := c.Announce(req)
			if err != nil {
				lastErr = err
				m.logger.Debugw("tracker announce failed", "scheme", c.Scheme(), "error", err)
				continue
			}
			if resp.Interval == 0 {
				resp.Interval = m.config.DefaultInterval
			}
			if resp.Interval > m.config.MaxInterval {
				resp.Interval = m.config.DefaultInterval
			}
			if i > 0 {
				copy(tier[1:i+1], tier[0:i])
				tier[0] = c
			}
			return resp, nil
		}
	}
	return nil, fmt.Errorf("tracker: all tiers failed, last error: %s", lastErr)
}
