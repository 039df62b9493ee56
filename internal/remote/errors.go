package remote

import (
	"errors"
	"fmt"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/duoledger/internal/auth"
	"github.com/mmynk/duoledger/internal/models"
	"github.com/mmynk/duoledger/internal/storage"
)

// storeError maps a failed ledger call back to the storage error types.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch connect.CodeOf(err) {
	case connect.CodeNotFound:
		err = fmt.Errorf("%w: %v", storage.ErrNotFound, err)
	case connect.CodeInvalidArgument:
		if strings.Contains(connectMessage(err), storage.ErrInvalidColumn.Error()) {
			err = fmt.Errorf("%w: %v", storage.ErrInvalidColumn, err)
		} else {
			err = fmt.Errorf("%w: %v", models.ErrInvalidExpense, err)
		}
	case connect.CodeUnauthenticated:
		err = fmt.Errorf("%w: %v", auth.ErrInvalidToken, err)
	case connect.CodePermissionDenied:
		err = fmt.Errorf("%w: %v", auth.ErrUnauthorized, err)
	}
	return storage.Wrap(op, err)
}

// authError maps a failed auth call back to the auth sentinels.
func authError(err error) error {
	if err == nil {
		return nil
	}
	switch connect.CodeOf(err) {
	case connect.CodePermissionDenied:
		return fmt.Errorf("%w: %v", auth.ErrUnauthorized, err)
	case connect.CodeUnauthenticated:
		return fmt.Errorf("%w: %v", auth.ErrInvalidToken, err)
	}
	return err
}

func connectMessage(err error) string {
	var connectErr *connect.Error
	if errors.As(err, &connectErr) {
		return connectErr.Message()
	}
	return ""
}
