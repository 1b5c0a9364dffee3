package queries

import (
	"context"
	"log/slog"
	"strings"

	"ledgerflow/contexts/finance-core/ledger-service/domain/entities"
	domainerrors "ledgerflow/contexts/finance-core/ledger-service/domain/errors"
	"ledgerflow/contexts/finance-core/ledger-service/ports"
)

type GetReadViewUseCase struct {
	ReadViews ports.ReadViewStore
	Logger    *slog.Logger
}

func (u GetReadViewUseCase) Execute(ctx context.Context, tenantID string, viewName string, key string) (entities.ReadView, error) {
	if strings.TrimSpace(tenantID) == "" {
		return entities.ReadView{}, domainerrors.ErrMissingTenant
	}
	view, err := entities.ParseViewName(viewName)
	if err != nil {
		return entities.ReadView{}, err
	}
	if strings.TrimSpace(key) == "" {
		key = entities.TenantWideViewKey
	}
	return u.ReadViews.GetReadView(ctx, tenantID, view, key)
}
