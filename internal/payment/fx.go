package payment

import (
	"github.com/classbill/classbill/internal/lock"
	paymentdomain "github.com/classbill/classbill/internal/payment/domain"
	"github.com/classbill/classbill/internal/payment/service"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(func(client *redis.Client) paymentdomain.InvoiceLocker {
		if client == nil {
			return lock.NewLocalLocker()
		}
		return lock.NewLocker(client)
	}),
	fx.Provide(service.NewService),
)
