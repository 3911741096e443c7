package providers

import (
	"hazard-alert-service/internal/config"
	"hazard-alert-service/internal/dispatch"
	"hazard-alert-service/internal/logging"
	"hazard-alert-service/internal/models"
	"hazard-alert-service/pkg/email"
	"hazard-alert-service/pkg/sms"
	"hazard-alert-service/pkg/telegram"
)

// Build returns a guarded transport for every channel whose provider is
// configured. Channels left out fail permanently at dispatch time.
func Build(cfg config.Config, logger *logging.Logger) map[models.ChannelKind]dispatch.Transport {
	out := make(map[models.ChannelKind]dispatch.Transport)
	guard := func(name string, perSec float64, t dispatch.Transport) dispatch.Transport {
		return Guard(t, GuardConfig{
			Name:        name,
			RatePerSec:  perSec,
			MaxFailures: cfg.Breaker.MaxFailures,
			OpenTimeout: cfg.Breaker.OpenTimeout,
		}, logger)
	}

	if cfg.Email.SMTPServer != "" {
		sender := email.New(cfg.Email.SMTPServer, cfg.Email.SMTPPort, cfg.Email.Username, cfg.Email.Password, cfg.Email.FromAddr, cfg.Email.FromName)
		out[models.ChannelEmail] = guard("email", cfg.Email.RateLimit, Email{Mailer: sender})
	} else {
		logger.Warnf("Email provider not configured")
	}

	if cfg.SMS.AccountSID != "" && cfg.SMS.AuthToken != "" {
		phone := sms.New(cfg.SMS.AccountSID, cfg.SMS.AuthToken, cfg.SMS.FromNumber)
		// SMS and voice share one Twilio account, but fail independently.
		out[models.ChannelSMS] = guard("sms", cfg.SMS.RateLimit, SMS{Phone: phone})
		out[models.ChannelVoice] = guard("voice", cfg.SMS.RateLimit, Voice{Phone: phone})
	} else {
		logger.Warnf("Twilio provider not configured, sms and voice disabled")
	}

	if cfg.Telegram.BotToken != "" {
		out[models.ChannelPush] = guard("push", cfg.Telegram.RateLimit, Push{Messenger: telegram.New(cfg.Telegram.BotToken)})
	} else {
		logger.Warnf("Telegram provider not configured, push disabled")
	}

	return out
}
