package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// InternalAdapter is the typed persistence layer used by every Auth
// operation. It runs hooks, applies the field schema, assigns ids and keeps
// sessions consistent between the database and secondary storage.
type InternalAdapter struct {
	db          Adapter
	schema      *Schema
	secondary   SecondaryStorage
	ids         IDGenerator
	fallbackIDs IDGenerator
	hooks       Hooks
	clock       clockwork.Clock
	logger      *slog.Logger
	session     SessionOptions
	cleanup     bool
	indexLocks  keyLocks
}

func newInternalAdapter(opts *Options, schema *Schema) *InternalAdapter {
	return &InternalAdapter{
		db:          newSchemaAdapter(schema, opts.Database),
		schema:      schema,
		secondary:   opts.SecondaryStorage,
		ids:         opts.IDs,
		fallbackIDs: ULIDGenerator(),
		hooks:       opts.Hooks,
		clock:       opts.Clock,
		logger:      opts.Logger.With("component", "internal-adapter"),
		session:     opts.Session,
		cleanup:     !opts.Verification.DisableCleanup,
	}
}

// =============================================================================
// Generic writes
// =============================================================================

func (ia *InternalAdapter) create(ctx context.Context, model string, data Record) (Record, error) {
	hooks := ia.hooks.forModel(model)
	data, err := runBefore(ctx, hooks.BeforeCreate, data)
	if err != nil {
		return nil, err
	}
	parsed, err := ia.schema.ParseInput(model, data, ActionCreate, false)
	if err != nil {
		return nil, err
	}
	if _, ok := parsed["id"]; !ok {
		if id := ia.ids.NewID(model); id != "" {
			parsed["id"] = id
		}
	}
	rec, err := ia.db.Create(ctx, model, parsed)
	if err != nil {
		return nil, internalError(fmt.Sprintf("failed to create %s", model), err)
	}
	runAfter(ctx, ia.logger, hooks.AfterCreate, rec)
	return rec, nil
}

func (ia *InternalAdapter) update(ctx context.Context, model string, where []Where, data Record) (Record, error) {
	hooks := ia.hooks.forModel(model)
	data, err := runBefore(ctx, hooks.BeforeUpdate, data)
	if err != nil {
		return nil, err
	}
	parsed, err := ia.schema.ParseInput(model, data, ActionUpdate, false)
	if err != nil {
		return nil, err
	}
	rec, err := ia.db.Update(ctx, model, where, parsed)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, NewNotFoundError(model+"_not_found", model+" not found")
	}
	if err != nil {
		return nil, internalError(fmt.Sprintf("failed to update %s", model), err)
	}
	runAfter(ctx, ia.logger, hooks.AfterUpdate, rec)
	return rec, nil
}

func (ia *InternalAdapter) findOne(ctx context.Context, model string, where ...Where) (Record, error) {
	rec, err := ia.db.FindOne(ctx, model, where)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, NewNotFoundError(model+"_not_found", model+" not found")
	}
	if err != nil {
		return nil, internalError(fmt.Sprintf("failed to find %s", model), err)
	}
	return rec, nil
}

// remove deletes one record, running the delete hooks of its model.
func (ia *InternalAdapter) remove(ctx context.Context, model string, rec Record) error {
	hooks := ia.hooks.forModel(model)
	if _, err := runBefore(ctx, hooks.BeforeDelete, rec); err != nil {
		return err
	}
	if err := ia.db.Delete(ctx, model, []Where{Eq("id", rec["id"])}); err != nil && !errors.Is(err, ErrRecordNotFound) {
		return internalError(fmt.Sprintf("failed to delete %s", model), err)
	}
	runAfter(ctx, ia.logger, hooks.AfterDelete, rec)
	return nil
}

// =============================================================================
// Users
// =============================================================================

func (ia *InternalAdapter) CreateUser(ctx context.Context, data Record) (*User, error) {
	rec, err := ia.create(ctx, ModelUser, data)
	if err != nil {
		return nil, err
	}
	return UserFromRecord(rec), nil
}

func (ia *InternalAdapter) FindUserByID(ctx context.Context, id string) (*User, error) {
	rec, err := ia.findOne(ctx, ModelUser, Eq("id", id))
	if err != nil {
		return nil, err
	}
	return UserFromRecord(rec), nil
}

func (ia *InternalAdapter) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	rec, err := ia.findOne(ctx, ModelUser, Eq("email", strings.ToLower(strings.TrimSpace(email))))
	if err != nil {
		return nil, err
	}
	return UserFromRecord(rec), nil
}

// FindUserWithAccounts returns the user owning email and all its accounts.
func (ia *InternalAdapter) FindUserWithAccounts(ctx context.Context, email string) (*User, []*Account, error) {
	user, err := ia.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, nil, err
	}
	accounts, err := ia.FindAccounts(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, accounts, nil
}

func (ia *InternalAdapter) ListUsers(ctx context.Context, query FindManyQuery) ([]*User, error) {
	recs, err := ia.db.FindMany(ctx, ModelUser, query)
	if err != nil {
		return nil, internalError("failed to list users", err)
	}
	users := make([]*User, len(recs))
	for i, rec := range recs {
		users[i] = UserFromRecord(rec)
	}
	return users, nil
}

func (ia *InternalAdapter) CountUsers(ctx context.Context, where []Where) (int64, error) {
	n, err := ia.db.Count(ctx, ModelUser, where)
	if err != nil {
		return 0, internalError("failed to count users", err)
	}
	return n, nil
}

// UpdateUser writes data and refreshes the user copy held by sessions in
// secondary storage.
func (ia *InternalAdapter) UpdateUser(ctx context.Context, userID string, data Record) (*User, error) {
	rec, err := ia.update(ctx, ModelUser, []Where{Eq("id", userID)}, data)
	if err != nil {
		return nil, err
	}
	user := UserFromRecord(rec)
	if err := ia.refreshSessionUser(ctx, user); err != nil {
		ia.logger.Warn("failed to refresh user in cached sessions", "userId", userID, "error", err)
	}
	return user, nil
}

// DeleteUser removes the user with its sessions and accounts.
func (ia *InternalAdapter) DeleteUser(ctx context.Context, userID string) error {
	rec, err := ia.findOne(ctx, ModelUser, Eq("id", userID))
	if err != nil {
		return err
	}
	if err := ia.DeleteSessions(ctx, userID); err != nil {
		return err
	}
	if _, err := ia.db.DeleteMany(ctx, ModelAccount, []Where{Eq("userId", userID)}); err != nil {
		return internalError("failed to delete accounts", err)
	}
	return ia.remove(ctx, ModelUser, rec)
}

// =============================================================================
// Accounts
// =============================================================================

func (ia *InternalAdapter) CreateAccount(ctx context.Context, data Record) (*Account, error) {
	rec, err := ia.create(ctx, ModelAccount, data)
	if err != nil {
		return nil, err
	}
	return AccountFromRecord(rec), nil
}

// CreateOAuthUser creates a user and its first provider account.
func (ia *InternalAdapter) CreateOAuthUser(ctx context.Context, user Record, account Record) (*User, *Account, error) {
	u, err := ia.CreateUser(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	account = account.Clone()
	account["userId"] = u.ID
	acc, err := ia.CreateAccount(ctx, account)
	if err != nil {
		return nil, nil, err
	}
	return u, acc, nil
}

func (ia *InternalAdapter) FindAccounts(ctx context.Context, userID string) ([]*Account, error) {
	recs, err := ia.db.FindMany(ctx, ModelAccount, FindManyQuery{
		Where:  []Where{Eq("userId", userID)},
		SortBy: &SortBy{Field: "createdAt"},
	})
	if err != nil {
		return nil, internalError("failed to list accounts", err)
	}
	accounts := make([]*Account, len(recs))
	for i, rec := range recs {
		accounts[i] = AccountFromRecord(rec)
	}
	return accounts, nil
}

// FindAccountByProvider looks up the account of a provider identity.
func (ia *InternalAdapter) FindAccountByProvider(ctx context.Context, providerID, accountID string) (*Account, error) {
	rec, err := ia.findOne(ctx, ModelAccount, Eq("providerId", providerID), Eq("accountId", accountID))
	if err != nil {
		return nil, err
	}
	return AccountFromRecord(rec), nil
}

func (ia *InternalAdapter) FindCredentialAccount(ctx context.Context, userID string) (*Account, error) {
	rec, err := ia.findOne(ctx, ModelAccount, Eq("userId", userID), Eq("providerId", CredentialProviderID))
	if err != nil {
		return nil, err
	}
	return AccountFromRecord(rec), nil
}

func (ia *InternalAdapter) UpdateAccount(ctx context.Context, id string, data Record) (*Account, error) {
	rec, err := ia.update(ctx, ModelAccount, []Where{Eq("id", id)}, data)
	if err != nil {
		return nil, err
	}
	return AccountFromRecord(rec), nil
}

// UpdatePassword replaces the hash on the user's credential account.
func (ia *InternalAdapter) UpdatePassword(ctx context.Context, userID, hash string) error {
	data, err := ia.schema.ParseInput(ModelAccount, Record{"password": hash}, ActionUpdate, false)
	if err != nil {
		return err
	}
	n, err := ia.db.UpdateMany(ctx, ModelAccount, []Where{Eq("userId", userID), Eq("providerId", CredentialProviderID)}, data)
	if err != nil {
		return internalError("failed to update password", err)
	}
	if n == 0 {
		return NewNotFoundError(CodeCredentialAccountNotFound, "credential account not found")
	}
	return nil
}

func (ia *InternalAdapter) DeleteAccount(ctx context.Context, id string) error {
	rec, err := ia.findOne(ctx, ModelAccount, Eq("id", id))
	if err != nil {
		return err
	}
	return ia.remove(ctx, ModelAccount, rec)
}

// =============================================================================
// Verification
// =============================================================================

func (ia *InternalAdapter) CreateVerification(ctx context.Context, identifier, value string, expiresAt time.Time) (*Verification, error) {
	rec, err := ia.create(ctx, ModelVerification, Record{
		"identifier": identifier,
		"value":      value,
		"expiresAt":  expiresAt,
	})
	if err != nil {
		return nil, err
	}
	return VerificationFromRecord(rec), nil
}

// FindVerification returns the newest unexpired record for identifier.
// Expired records met on the way are deleted unless cleanup is disabled.
func (ia *InternalAdapter) FindVerification(ctx context.Context, identifier string) (*Verification, error) {
	recs, err := ia.db.FindMany(ctx, ModelVerification, FindManyQuery{
		Where:  []Where{Eq("identifier", identifier)},
		SortBy: &SortBy{Field: "createdAt", Desc: true},
	})
	if err != nil {
		return nil, internalError("failed to find verification", err)
	}
	now := ia.clock.Now()
	var latest *Verification
	for i, rec := range recs {
		v := VerificationFromRecord(rec)
		expired := !now.Before(v.ExpiresAt)
		if i == 0 && !expired {
			latest = v
			continue
		}
		if expired && ia.cleanup {
			if _, err := ia.db.DeleteMany(ctx, ModelVerification, []Where{Eq("id", v.ID)}); err != nil {
				ia.logger.Warn("failed to delete expired verification", "id", v.ID, "error", err)
			}
		}
	}
	if latest == nil {
		return nil, NewNotFoundError(CodeInvalidToken, "verification not found or expired")
	}
	return latest, nil
}

// ConsumeVerification finds and deletes the record for identifier. Only one
// of several concurrent consumers succeeds.
func (ia *InternalAdapter) ConsumeVerification(ctx context.Context, identifier string) (*Verification, error) {
	v, err := ia.FindVerification(ctx, identifier)
	if err != nil {
		return nil, err
	}
	n, err := ia.db.DeleteMany(ctx, ModelVerification, []Where{Eq("id", v.ID)})
	if err != nil {
		return nil, internalError("failed to delete verification", err)
	}
	if n == 0 {
		return nil, NewNotFoundError(CodeInvalidToken, "verification already used")
	}
	return v, nil
}

func (ia *InternalAdapter) DeleteVerificationByIdentifier(ctx context.Context, identifier string) error {
	if _, err := ia.db.DeleteMany(ctx, ModelVerification, []Where{Eq("identifier", identifier)}); err != nil {
		return internalError("failed to delete verification", err)
	}
	return nil
}
