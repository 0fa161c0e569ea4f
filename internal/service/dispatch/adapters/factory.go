package adapters

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/davidleathers/number-provisioning-gateway/internal/domain/provider"
	"github.com/davidleathers/number-provisioning-gateway/internal/infrastructure/config"
	"github.com/davidleathers/number-provisioning-gateway/internal/service/dispatch"
)

var (
	_ dispatch.Adapter = (*TwilioAdapter)(nil)
	_ dispatch.Adapter = (*BandwidthAdapter)(nil)
	_ dispatch.Adapter = (*VonageAdapter)(nil)
	_ dispatch.Adapter = (*ExotelAdapter)(nil)
	_ dispatch.Adapter = (*AirtelAdapter)(nil)
)

// New constructs the adapter implementation registered for the
// descriptor's provider id.
func New(desc *provider.Descriptor, logger *zap.Logger) (dispatch.Adapter, error) {
	if desc == nil {
		return nil, fmt.Errorf("descriptor is required")
	}

	switch desc.ID {
	case "twilio":
		return NewTwilioAdapter(desc, logger)
	case "bandwidth":
		return NewBandwidthAdapter(desc, logger)
	case "vonage":
		return NewVonageAdapter(desc, logger)
	case "exotel":
		return NewExotelAdapter(desc, logger)
	case "airtel":
		return NewAirtelAdapter(desc, logger)
	default:
		return nil, fmt.Errorf("no adapter implementation for provider %q", desc.ID)
	}
}

// Build instantiates an adapter for every enabled carrier in the
// configuration. Disabled entries are skipped with a log line so an
// operator can tell why a carrier is absent from the registry.
func Build(cfgs []config.ProviderConfig, logger *zap.Logger) ([]dispatch.Adapter, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	adapters := make([]dispatch.Adapter, 0, len(cfgs))
	for _, pc := range cfgs {
		if !pc.Enabled {
			logger.Info("skipping disabled provider", zap.String("provider_id", pc.ID))
			continue
		}

		desc, err := pc.Descriptor()
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", pc.ID, err)
		}

		adapter, err := New(desc, logger)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, adapter)
	}
	return adapters, nil
}
