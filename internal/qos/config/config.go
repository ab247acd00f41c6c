// Package config loads the QoS subsystem's configuration keys from the host
// engine's flat configuration map: defaults first, then every present key is
// parsed and all malformed values are reported together.
package config

import (
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/xerrors"
)

const (
	KeyTaggingInterval     = "plugins.streaming.qosreporter.tagginginterval"
	KeyAggregationInterval = "plugins.streaming.qosreporter.aggregationinterval"
	KeyAdjustmentInterval  = "plugins.streaming.qosmanager.adjustmentinterval"

	DefaultTaggingInterval     = 7
	DefaultAggregationInterval = 1000 * time.Millisecond
)

// ErrConfigurationMissing is returned by Load when a required key is
// present in the map but cannot be parsed into its expected type.
var ErrConfigurationMissing = xerrors.New("required configuration key missing or malformed")

// Config holds the defaults and per-job overrides read from the engine's
// global/job configuration.
type Config struct {
	// TaggingInterval is the number of records between tag emissions.
	TaggingInterval int

	// AggregationInterval is the wall-clock period a forwarder batches
	// samples over before flushing a report.
	AggregationInterval time.Duration

	// AdjustmentInterval paces the manager's violation sweep and bounds how
	// long a sample counts as active for path enumeration. No per-constraint
	// sequence logger is driven by it: the manager runs the violation finder
	// without one.
	AdjustmentInterval time.Duration
}

// RawValues is the subset of the host engine's configuration map this
// package reads; keys absent from the map fall back to the documented
// defaults (tagging interval 7, aggregation interval 1000ms) rather than
// being treated as ErrConfigurationMissing.
type RawValues map[string]string

// Load parses raw into a Config, applying defaults for absent keys and
// aggregating every malformed value into a single error via multierror
// rather than failing on the first one.
func Load(raw RawValues) (Config, error) {
	cfg := Config{
		TaggingInterval:     DefaultTaggingInterval,
		AggregationInterval: DefaultAggregationInterval,
		AdjustmentInterval:  DefaultAggregationInterval,
	}

	var errs error
	if v, ok := raw[KeyTaggingInterval]; ok {
		if n, err := parseInt(v); err != nil {
			errs = multierror.Append(errs, xerrors.Errorf("%s: %w: %v", KeyTaggingInterval, ErrConfigurationMissing, err))
		} else {
			cfg.TaggingInterval = n
		}
	}
	if v, ok := raw[KeyAggregationInterval]; ok {
		if n, err := parseInt(v); err != nil {
			errs = multierror.Append(errs, xerrors.Errorf("%s: %w: %v", KeyAggregationInterval, ErrConfigurationMissing, err))
		} else {
			cfg.AggregationInterval = time.Duration(n) * time.Millisecond
		}
	}
	if v, ok := raw[KeyAdjustmentInterval]; ok {
		if n, err := parseInt(v); err != nil {
			errs = multierror.Append(errs, xerrors.Errorf("%s: %w: %v", KeyAdjustmentInterval, ErrConfigurationMissing, err))
		} else {
			cfg.AdjustmentInterval = time.Duration(n) * time.Millisecond
		}
	}
	return cfg, errs
}

func parseInt(s string) (int, error) { return strconv.Atoi(s) }
