package email

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/notifier/internal/audit/masking"
	"github.com/smallbiznis/notifier/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewFromConfig),
)

// NewFromConfig picks the transport named by EMAIL_PROVIDER and wraps real
// transports in a circuit breaker.
func NewFromConfig(cfg config.Config, log *zap.Logger) (Provider, error) {
	log = log.Named("providers.email")
	emailCfg := cfg.Email

	var base Provider
	switch strings.ToLower(strings.TrimSpace(emailCfg.Provider)) {
	case "smtp":
		base = NewSMTP(Config{
			Host:     emailCfg.SMTPHost,
			Port:     emailCfg.SMTPPort,
			Username: emailCfg.SMTPUsername,
			Password: emailCfg.SMTPPassword,
			From:     emailCfg.SMTPFrom,
		})
		log.Info("email provider configured",
			zap.String("provider", "smtp"),
			zap.String("host", emailCfg.SMTPHost),
			zap.String("username", masking.MaskSecret(emailCfg.SMTPUsername)),
		)
	case "ses":
		ses, err := NewSES(context.Background(), SESConfig{
			Region:    emailCfg.SESRegion,
			FromEmail: emailCfg.SESFrom,
		}, log)
		if err != nil {
			return nil, err
		}
		base = ses
		log.Info("email provider configured", zap.String("provider", "ses"), zap.String("region", emailCfg.SESRegion))
	case "log", "":
		return NewLogProvider(log), nil
	case "noop":
		return &NoOpProvider{}, nil
	default:
		return nil, fmt.Errorf("unsupported email provider %q", emailCfg.Provider)
	}

	breaker := NewCircuitBreaker(BreakerConfig{
		Name:            base.Name(),
		MaxFailures:     emailCfg.BreakerMaxFailures,
		RecoveryTimeout: emailCfg.BreakerRecoveryTimeout,
	}, log)
	return NewProtectedProvider(base, breaker), nil
}
