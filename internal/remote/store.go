// Package remote implements storage.Store and auth.Backend over the server's
// Connect services, so the client components run unchanged against a remote
// ledger.
package remote

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"connectrpc.com/connect"

	"github.com/mmynk/duoledger/internal/middleware"
	"github.com/mmynk/duoledger/internal/models"
	"github.com/mmynk/duoledger/internal/storage"
	"github.com/mmynk/duoledger/internal/wire"
)

// Ensure Store implements storage.Store
var _ storage.Store = (*Store)(nil)

const reconnectDelay = time.Second

// Store is a storage.Store backed by the LedgerService.
type Store struct {
	list        *connect.Client[wire.ListRequest, wire.ListResponse]
	insert      *connect.Client[wire.InsertRequest, wire.InsertResponse]
	update      *connect.Client[wire.UpdateRequest, wire.UpdateResponse]
	del         *connect.Client[wire.DeleteRequest, wire.DeleteResponse]
	deleteWhere *connect.Client[wire.DeleteWhereRequest, wire.DeleteWhereResponse]
	watch       *connect.Client[wire.WatchRequest, wire.WatchResponse]
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type options struct {
	httpClient connect.HTTPClient
	token      func() string
	logger     *slog.Logger
	client     []connect.ClientOption
}

// Option configures a Store or an AuthBackend.
type Option func(*options)

// WithHTTPClient sets the HTTP client. Defaults to http.DefaultClient.
func WithHTTPClient(c connect.HTTPClient) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithTokenSource attaches the bearer token returned by token to every call.
func WithTokenSource(token func() string) Option {
	return func(o *options) {
		o.token = token
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClientOptions adds Connect client options such as interceptors.
func WithClientOptions(opts ...connect.ClientOption) Option {
	return func(o *options) {
		o.client = append(o.client, opts...)
	}
}

func buildOptions(opts []Option) options {
	o := options{httpClient: http.DefaultClient, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.token != nil {
		o.client = append(o.client, connect.WithInterceptors(middleware.BearerToken(o.token)))
	}
	return o
}

// New creates a Store talking to the server at baseURL.
func New(baseURL string, opts ...Option) *Store {
	o := buildOptions(opts)
	baseURL = strings.TrimRight(baseURL, "/")
	copts := wire.ClientOptions(o.client...)

	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		list:        connect.NewClient[wire.ListRequest, wire.ListResponse](o.httpClient, baseURL+wire.LedgerListProcedure, copts...),
		insert:      connect.NewClient[wire.InsertRequest, wire.InsertResponse](o.httpClient, baseURL+wire.LedgerInsertProcedure, copts...),
		update:      connect.NewClient[wire.UpdateRequest, wire.UpdateResponse](o.httpClient, baseURL+wire.LedgerUpdateProcedure, copts...),
		del:         connect.NewClient[wire.DeleteRequest, wire.DeleteResponse](o.httpClient, baseURL+wire.LedgerDeleteProcedure, copts...),
		deleteWhere: connect.NewClient[wire.DeleteWhereRequest, wire.DeleteWhereResponse](o.httpClient, baseURL+wire.LedgerDeleteWhereProcedure, copts...),
		watch:       connect.NewClient[wire.WatchRequest, wire.WatchResponse](o.httpClient, baseURL+wire.LedgerWatchProcedure, copts...),
		logger:      o.logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// ListExpenses returns every expense in the given order.
func (s *Store) ListExpenses(ctx context.Context, order storage.Order) ([]models.Expense, error) {
	resp, err := s.list.CallUnary(ctx, connect.NewRequest(&wire.ListRequest{Order: order}))
	if err != nil {
		return nil, storeError("list", err)
	}
	return resp.Msg.Expenses, nil
}

// InsertExpense stores a new expense. The server records the caller's session
// identity as the owner, so owner is not sent.
func (s *Store) InsertExpense(ctx context.Context, fields models.ExpenseFields, _ string) error {
	_, err := s.insert.CallUnary(ctx, connect.NewRequest(&wire.InsertRequest{Fields: fields}))
	return storeError("insert", err)
}

// UpdateExpense replaces the mutable fields of an existing expense.
func (s *Store) UpdateExpense(ctx context.Context, id string, fields models.ExpenseFields) error {
	_, err := s.update.CallUnary(ctx, connect.NewRequest(&wire.UpdateRequest{ID: id, Fields: fields}))
	return storeError("update", err)
}

// DeleteExpense removes one expense.
func (s *Store) DeleteExpense(ctx context.Context, id string) error {
	_, err := s.del.CallUnary(ctx, connect.NewRequest(&wire.DeleteRequest{ID: id}))
	return storeError("delete", err)
}

// DeleteWhere removes every expense matching the predicate.
func (s *Store) DeleteWhere(ctx context.Context, pred storage.Predicate) error {
	_, err := s.deleteWhere.CallUnary(ctx, connect.NewRequest(&wire.DeleteWhereRequest{Predicate: pred}))
	return storeError("delete_where", err)
}

// Subscribe opens a Watch stream and returns once the server confirms the
// subscription. If the stream later drops, it is reopened in the background
// and handler receives an update without an ID so the caller resynchronizes.
func (s *Store) Subscribe(ctx context.Context, mask storage.EventMask, handler storage.ChangeHandler) (storage.Subscription, error) {
	if handler == nil {
		return nil, storage.Wrap("subscribe", errors.New("nil handler"))
	}

	subCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)

	stream, err := s.openWatch(subCtx, mask)
	if err != nil {
		stop()
		cancel()
		return nil, storeError("subscribe", err)
	}

	sub := &watchSub{cancel: func() { stop(); cancel() }}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.follow(subCtx, mask, stream, handler)
	}()
	return sub, nil
}

// openWatch starts a Watch stream and waits for its ready marker.
func (s *Store) openWatch(ctx context.Context, mask storage.EventMask) (*connect.ServerStreamForClient[wire.WatchResponse], error) {
	stream, err := s.watch.CallServerStream(ctx, connect.NewRequest(&wire.WatchRequest{Mask: mask}))
	if err != nil {
		return nil, err
	}
	if !stream.Receive() {
		err := stream.Err()
		stream.Close()
		if err == nil {
			err = errors.New("watch stream closed before ready")
		}
		return nil, err
	}
	if !stream.Msg().Ready {
		stream.Close()
		return nil, errors.New("watch stream did not start with a ready marker")
	}
	return stream, nil
}

// follow delivers stream messages to handler, reconnecting until ctx ends.
func (s *Store) follow(ctx context.Context, mask storage.EventMask, stream *connect.ServerStreamForClient[wire.WatchResponse], handler storage.ChangeHandler) {
	for {
		for stream.Receive() {
			if msg := stream.Msg(); !msg.Ready {
				handler(msg.Change)
			}
		}
		err := stream.Err()
		stream.Close()
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("Watch stream ended", "error", err, "retry_in", reconnectDelay)

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
			stream, err = s.openWatch(ctx, mask)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("Watch reconnect failed", "error", err)
		}
		s.logger.Info("Watch stream reconnected")
		handler(storage.Change{Event: storage.EventUpdate})
	}
}

// Close ends every open subscription and waits for them to stop.
func (s *Store) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

type watchSub struct {
	once   sync.Once
	cancel func()
}

// Close cancels the Watch stream. It does not wait for the stream goroutine.
func (w *watchSub) Close() error {
	w.once.Do(w.cancel)
	return nil
}
