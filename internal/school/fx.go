package school

import (
	"github.com/classbill/classbill/internal/school/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("school",
	fx.Provide(repository.NewStudentLookup),
)
