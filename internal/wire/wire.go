// Package wire defines the RPC procedures and messages shared by the server
// and its clients. Messages are plain structs carried as JSON.
package wire

import (
	"github.com/mmynk/duoledger/internal/models"
	"github.com/mmynk/duoledger/internal/storage"
)

const (
	// LedgerServiceName is the fully-qualified name of the ledger service.
	LedgerServiceName = "duoledger.v1.LedgerService"
	// AuthServiceName is the fully-qualified name of the auth service.
	AuthServiceName = "duoledger.v1.AuthService"
)

// Ledger procedures.
const (
	LedgerListProcedure        = "/" + LedgerServiceName + "/List"
	LedgerInsertProcedure      = "/" + LedgerServiceName + "/Insert"
	LedgerUpdateProcedure      = "/" + LedgerServiceName + "/Update"
	LedgerDeleteProcedure      = "/" + LedgerServiceName + "/Delete"
	LedgerDeleteWhereProcedure = "/" + LedgerServiceName + "/DeleteWhere"
	LedgerWatchProcedure       = "/" + LedgerServiceName + "/Watch"
)

// Auth procedures.
const (
	AuthRequestLinkProcedure = "/" + AuthServiceName + "/RequestLink"
	AuthVerifyProcedure      = "/" + AuthServiceName + "/Verify"
	AuthSessionProcedure     = "/" + AuthServiceName + "/Session"
	AuthSignOutProcedure     = "/" + AuthServiceName + "/SignOut"
)

type ListRequest struct {
	Order storage.Order `json:"order"`
}

type ListResponse struct {
	Expenses []models.Expense `json:"expenses"`
}

type InsertRequest struct {
	Fields models.ExpenseFields `json:"fields"`
}

type InsertResponse struct{}

type UpdateRequest struct {
	ID     string               `json:"id"`
	Fields models.ExpenseFields `json:"fields"`
}

type UpdateResponse struct{}

type DeleteRequest struct {
	ID string `json:"id"`
}

type DeleteResponse struct{}

type DeleteWhereRequest struct {
	Predicate storage.Predicate `json:"predicate"`
}

type DeleteWhereResponse struct{}

// WatchRequest opens a change stream. A zero mask selects every event.
type WatchRequest struct {
	Mask storage.EventMask `json:"mask"`
}

// WatchResponse is one message of the change stream. The first message has
// Ready set and no change; it is sent once the server-side subscription exists.
type WatchResponse struct {
	Ready  bool           `json:"ready,omitempty"`
	Change storage.Change `json:"change"`
}

type RequestLinkRequest struct {
	Identity string `json:"identity"`
	Redirect string `json:"redirect"`
}

type RequestLinkResponse struct{}

type VerifyRequest struct {
	Token string `json:"token"`
}

type VerifyResponse struct {
	Session models.Session `json:"session"`
}

type SessionRequest struct {
	Token string `json:"token"`
}

type SessionResponse struct {
	Session models.Session `json:"session"`
}

type SignOutRequest struct {
	Token string `json:"token"`
}

type SignOutResponse struct{}
