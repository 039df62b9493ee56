package service

import (
	"errors"
	"net/http"

	"connectrpc.com/connect"

	"github.com/mmynk/duoledger/internal/auth"
	"github.com/mmynk/duoledger/internal/models"
	"github.com/mmynk/duoledger/internal/storage"
	"github.com/mmynk/duoledger/internal/wire"
)

// NewLedgerServiceHandler builds an HTTP handler for every LedgerService
// procedure. It returns the path on which to mount the handler and the handler
// itself.
func NewLedgerServiceHandler(svc *LedgerService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = wire.HandlerOptions(opts...)
	mux := http.NewServeMux()
	mux.Handle(wire.LedgerListProcedure, connect.NewUnaryHandler(wire.LedgerListProcedure, svc.List, opts...))
	mux.Handle(wire.LedgerInsertProcedure, connect.NewUnaryHandler(wire.LedgerInsertProcedure, svc.Insert, opts...))
	mux.Handle(wire.LedgerUpdateProcedure, connect.NewUnaryHandler(wire.LedgerUpdateProcedure, svc.Update, opts...))
	mux.Handle(wire.LedgerDeleteProcedure, connect.NewUnaryHandler(wire.LedgerDeleteProcedure, svc.Delete, opts...))
	mux.Handle(wire.LedgerDeleteWhereProcedure, connect.NewUnaryHandler(wire.LedgerDeleteWhereProcedure, svc.DeleteWhere, opts...))
	mux.Handle(wire.LedgerWatchProcedure, connect.NewServerStreamHandler(wire.LedgerWatchProcedure, svc.Watch, opts...))
	return "/" + wire.LedgerServiceName + "/", mux
}

// NewAuthServiceHandler builds an HTTP handler for every AuthService procedure.
func NewAuthServiceHandler(svc *AuthService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = wire.HandlerOptions(opts...)
	mux := http.NewServeMux()
	mux.Handle(wire.AuthRequestLinkProcedure, connect.NewUnaryHandler(wire.AuthRequestLinkProcedure, svc.RequestLink, opts...))
	mux.Handle(wire.AuthVerifyProcedure, connect.NewUnaryHandler(wire.AuthVerifyProcedure, svc.Verify, opts...))
	mux.Handle(wire.AuthSessionProcedure, connect.NewUnaryHandler(wire.AuthSessionProcedure, svc.Session, opts...))
	mux.Handle(wire.AuthSignOutProcedure, connect.NewUnaryHandler(wire.AuthSignOutProcedure, svc.SignOut, opts...))
	return "/" + wire.AuthServiceName + "/", mux
}

// connectError maps domain errors to Connect codes.
func connectError(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, storage.ErrInvalidColumn), errors.Is(err, models.ErrInvalidExpense):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, auth.ErrUnauthorized):
		return connect.NewError(connect.CodePermissionDenied, err)
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrMissingToken):
		return connect.NewError(connect.CodeUnauthenticated, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}
