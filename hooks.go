package authcore

import (
	"context"
	"log/slog"
)

// BeforeHook runs before a write. It may return a replacement set of fields
// (merged over the pending data), or proceed=false to veto the write.
type BeforeHook func(ctx context.Context, data Record) (replacement Record, proceed bool, err error)

// AfterHook observes a completed write.
type AfterHook func(ctx context.Context, rec Record)

// EntityHooks are the ordered hook chains of one model.
type EntityHooks struct {
	BeforeCreate []BeforeHook
	AfterCreate  []AfterHook
	BeforeUpdate []BeforeHook
	AfterUpdate  []AfterHook
	BeforeDelete []BeforeHook
	AfterDelete  []AfterHook
}

// Hooks groups the per model hook chains applied by the internal adapter.
type Hooks struct {
	User         EntityHooks
	Session      EntityHooks
	Account      EntityHooks
	Verification EntityHooks
}

func (h *Hooks) forModel(model string) EntityHooks {
	switch model {
	case ModelUser:
		return h.User
	case ModelSession:
		return h.Session
	case ModelAccount:
		return h.Account
	case ModelVerification:
		return h.Verification
	}
	return EntityHooks{}
}

// runBefore threads data through the chain. The first veto or error stops it.
func runBefore(ctx context.Context, hooks []BeforeHook, data Record) (Record, error) {
	for _, hook := range hooks {
		replacement, proceed, err := hook(ctx, data.Clone())
		if err != nil {
			return nil, err
		}
		if !proceed {
			return nil, NewValidationError(CodeHookVetoed, "operation rejected", "")
		}
		if replacement != nil {
			merged := data.Clone()
			for k, v := range replacement {
				merged[k] = v
			}
			data = merged
		}
	}
	return data, nil
}

func runAfter(ctx context.Context, logger *slog.Logger, hooks []AfterHook, rec Record) {
	for _, hook := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("after hook panicked", "panic", r)
				}
			}()
			hook(ctx, rec.Clone())
		}()
	}
}
