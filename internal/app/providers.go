package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/partitura-music/payments/internal/provider"
)

// buildProviderRegistry собирает реестр платёжных адаптеров. Песочница
// регистрируется всегда; PayPal добавляется при наличии учётных данных и
// становится провайдером по умолчанию.
func buildProviderRegistry(cfg Config, logger *log.Entry) *provider.Registry {
	registry := provider.NewRegistry()
	registry.Register(provider.NewSandbox())

	if cfg.PayPalClientID != "" && cfg.PayPalClientSecret != "" {
		paypal := provider.NewPayPal(provider.PayPalConfig{
			BaseURL:      cfg.PayPalBaseURL,
			ClientID:     cfg.PayPalClientID,
			ClientSecret: cfg.PayPalClientSecret,
			BrandName:    cfg.PayPalBrandName,
			ReturnURL:    cfg.PayPalReturnURL,
			CancelURL:    cfg.PayPalCancelURL,
		}, logger.WithField("component", "provider-paypal"))
		registry.Register(paypal)
		if err := registry.SetDefault(paypal.Name()); err != nil {
			logger.WithError(err).Warn("failed to set paypal as default provider")
		}
	}

	logger.WithField("providers", registry.Names()).Info("provider registry initialized")
	return registry
}
