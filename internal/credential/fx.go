package credential

import (
	"github.com/smallbiznis/seatbroker/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("credential",
	fx.Provide(func(cfg config.Config) (Cipher, error) {
		return NewAESCipher(cfg.Membership.CredentialSecret)
	}),
)
