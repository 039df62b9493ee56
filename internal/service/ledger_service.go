package service

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"connectrpc.com/connect"

	"github.com/mmynk/duoledger/internal/middleware"
	"github.com/mmynk/duoledger/internal/storage"
	"github.com/mmynk/duoledger/internal/wire"
)

// watchBuffer is how many changes a slow Watch client may fall behind before
// its pending changes are collapsed into one resync.
const watchBuffer = 64

var errMissingID = errors.New("expense id is required")

// LedgerService implements the LedgerService RPC interface over a storage.Store.
type LedgerService struct {
	store  storage.Store
	logger *slog.Logger
}

// NewLedgerService creates a new LedgerService with the given storage backend.
func NewLedgerService(store storage.Store, logger *slog.Logger) *LedgerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerService{store: store, logger: logger}
}

// List returns every expense. An empty order means newest first.
func (s *LedgerService) List(ctx context.Context, req *connect.Request[wire.ListRequest]) (*connect.Response[wire.ListResponse], error) {
	order := req.Msg.Order
	if order.Column == "" {
		order = storage.NewestFirst
	}

	expenses, err := s.store.ListExpenses(ctx, order)
	if err != nil {
		s.logger.Error("List failed", "error", err)
		return nil, connectError(err)
	}
	return connect.NewResponse(&wire.ListResponse{Expenses: expenses}), nil
}

// Insert stores a new expense owned by the caller's identity.
func (s *LedgerService) Insert(ctx context.Context, req *connect.Request[wire.InsertRequest]) (*connect.Response[wire.InsertResponse], error) {
	fields := req.Msg.Fields
	if err := fields.Validate(); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	owner := middleware.GetIdentity(ctx)
	if err := s.store.InsertExpense(ctx, fields, owner); err != nil {
		s.logger.Error("Insert failed", "owner", owner, "error", err)
		return nil, connectError(err)
	}

	s.logger.Info("Expense added", "owner", owner, "kind", fields.Kind, "payer", fields.Payer)
	return connect.NewResponse(&wire.InsertResponse{}), nil
}

// Update replaces the mutable fields of an expense.
func (s *LedgerService) Update(ctx context.Context, req *connect.Request[wire.UpdateRequest]) (*connect.Response[wire.UpdateResponse], error) {
	if req.Msg.ID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errMissingID)
	}
	if err := req.Msg.Fields.Validate(); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	if err := s.store.UpdateExpense(ctx, req.Msg.ID, req.Msg.Fields); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error("Update failed", "id", req.Msg.ID, "error", err)
		}
		return nil, connectError(err)
	}

	s.logger.Info("Expense updated", "id", req.Msg.ID, "identity", middleware.GetIdentity(ctx))
	return connect.NewResponse(&wire.UpdateResponse{}), nil
}

// Delete removes one expense. Deleting a missing expense succeeds.
func (s *LedgerService) Delete(ctx context.Context, req *connect.Request[wire.DeleteRequest]) (*connect.Response[wire.DeleteResponse], error) {
	if req.Msg.ID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errMissingID)
	}

	if err := s.store.DeleteExpense(ctx, req.Msg.ID); err != nil {
		s.logger.Error("Delete failed", "id", req.Msg.ID, "error", err)
		return nil, connectError(err)
	}

	s.logger.Info("Expense deleted", "id", req.Msg.ID, "identity", middleware.GetIdentity(ctx))
	return connect.NewResponse(&wire.DeleteResponse{}), nil
}

// DeleteWhere removes every expense matching the predicate.
func (s *LedgerService) DeleteWhere(ctx context.Context, req *connect.Request[wire.DeleteWhereRequest]) (*connect.Response[wire.DeleteWhereResponse], error) {
	pred := req.Msg.Predicate
	if !storage.ValidColumn(pred.Column) {
		return nil, connect.NewError(connect.CodeInvalidArgument, storage.ErrInvalidColumn)
	}

	if err := s.store.DeleteWhere(ctx, pred); err != nil {
		s.logger.Error("DeleteWhere failed", "column", pred.Column, "error", err)
		return nil, connectError(err)
	}

	s.logger.Info("Expenses cleared", "identity", middleware.GetIdentity(ctx))
	return connect.NewResponse(&wire.DeleteWhereResponse{}), nil
}

// Watch streams change notifications until the client goes away. The first
// message is a ready marker sent once the subscription is in place. When the
// client falls behind, the backlog is replaced by a single update without an
// ID, which tells the client to resynchronize.
func (s *LedgerService) Watch(ctx context.Context, req *connect.Request[wire.WatchRequest], stream *connect.ServerStream[wire.WatchResponse]) error {
	mask := req.Msg.Mask
	if mask == 0 {
		mask = storage.AllEvents
	}

	changes := make(chan storage.Change, watchBuffer)
	var overflowed atomic.Bool
	sub, err := s.store.Subscribe(ctx, mask, func(c storage.Change) {
		select {
		case changes <- c:
		default:
			overflowed.Store(true)
		}
	})
	if err != nil {
		s.logger.Error("Watch subscribe failed", "error", err)
		return connectError(err)
	}
	defer sub.Close()

	if err := stream.Send(&wire.WatchResponse{Ready: true}); err != nil {
		return err
	}

	identity := middleware.GetIdentity(ctx)
	s.logger.Info("Watch started", "identity", identity, "mask", mask)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Watch ended", "identity", identity)
			return nil
		case c := <-changes:
			if overflowed.Swap(false) {
				s.logger.Warn("Watch client fell behind, sending resync", "identity", identity)
				c = storage.Change{Event: storage.EventUpdate}
			}
			if err := stream.Send(&wire.WatchResponse{Change: c}); err != nil {
				return err
			}
		}
	}
}
