package notification

import (
	"github.com/smallbiznis/notifier/internal/config"
	"github.com/smallbiznis/notifier/internal/notification/dispatch"
	"github.com/smallbiznis/notifier/internal/notification/render"
	"github.com/smallbiznis/notifier/internal/notification/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("notification",
	fx.Provide(repository.Provide),
	fx.Provide(NewRenderer),
	dispatch.Module,
)

func NewRenderer(cfg config.Config) (*render.Renderer, error) {
	return render.NewRenderer(cfg.BaseURL, cfg.ProductName)
}
