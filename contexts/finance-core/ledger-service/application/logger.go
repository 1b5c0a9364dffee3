package application

import (
	"log/slog"

	"ledgerflow/contexts/finance-core/ledger-service/ports"
)

// Module is the log attribute identifying this bounded context.
const Module = "finance-core/ledger-service"

func ResolveLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

func ResolveObserver(observer ports.PipelineObserver) ports.PipelineObserver {
	if observer == nil {
		return nopObserver{}
	}
	return observer
}

type nopObserver struct{}

func (nopObserver) ObserveIdempotency(string) {}
func (nopObserver) ObserveOutbox(string)      {}
func (nopObserver) ObserveJob(string)         {}
func (nopObserver) ObserveAuditVerify(string) {}
